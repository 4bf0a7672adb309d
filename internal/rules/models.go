package rules

import (
	"strings"

	"github.com/examgrid/examgrid/internal/exam"
)

// PartialTable is the three-tier fractional-credit table for MCMA questions.
// Tiers are keyed by how many correct options were selected relative to the
// size of the correct set; see scoring for the tier selection rule.
type PartialTable struct {
	OneOutOfTwo    float64 `json:"one_out_of_two"`
	TwoOutOfThree  float64 `json:"two_out_of_three"`
	ThreeOutOfFour float64 `json:"three_out_of_four"`
}

// MarkingRule is a persisted marking policy owned by admin tooling.
// Optional dimensions (standard/subject/section/type) narrow the rule;
// empty/zero means "any".
type MarkingRule struct {
	ID       string
	Stream   string
	Standard string            // "" = any
	Subject  string            // "" = any
	Section  int               // 0 = any, 1..3 = Section A/B/C
	Type     exam.QuestionType // "" = any

	PositiveMarks  float64
	NegativeMarks  float64 // stored as a magnitude, deducted on wrong answers
	PartialEnabled bool
	Partial        PartialTable

	Priority    int
	Active      bool
	Description string
	CreatedAt   int64
}

// ResolvedRule is the outcome of precedence resolution for one question.
// It is always usable: resolution never fails, it falls back instead.
type ResolvedRule struct {
	Positive       float64
	Negative       float64
	PartialEnabled bool
	Partial        PartialTable

	// Source identifies where the rule came from: "rule:<id>",
	// "stream-default", "exam-fallback" or "system-default".
	Source      string
	Description string
}

var subjectAliases = map[string]string{
	"math":        "mathematics",
	"maths":       "mathematics",
	"mathematics": "mathematics",
	"phy":         "physics",
	"physics":     "physics",
	"chem":        "chemistry",
	"chemistry":   "chemistry",
	"bio":         "biology",
	"biology":     "biology",
	"bot":         "botany",
	"botany":      "botany",
	"zoo":         "zoology",
	"zoology":     "zoology",
}

// NormalizeSubject lowercases, trims and maps common subject aliases
// (math/maths/mathematics collapse to mathematics, etc.).
func NormalizeSubject(s string) string {
	k := strings.ToLower(strings.Join(strings.Fields(s), " "))
	if canonical, ok := subjectAliases[k]; ok {
		return canonical
	}
	return k
}

func normalizeStandard(s string) string { return strings.TrimSpace(s) }

func normalizeStream(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// questionTypeFromString maps persisted type discriminants to the sum type.
// Unknown values become "any" so a bad record widens instead of breaking.
func questionTypeFromString(s string) exam.QuestionType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(exam.TypeMCQ), "single":
		return exam.TypeMCQ
	case string(exam.TypeNumerical), "numeric", "integer":
		return exam.TypeNumerical
	case string(exam.TypeMCMA), "multi":
		return exam.TypeMCMA
	default:
		return ""
	}
}
