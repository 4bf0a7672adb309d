package rules

import "github.com/examgrid/examgrid/internal/exam"

// Built-in per-stream marking conventions, applied when no persisted rule
// matches a question. These mirror the published exam patterns and are not
// stored as rules.
var streamDefaults = map[string]map[exam.QuestionType]ResolvedRule{
	"jee": {
		exam.TypeMCQ: {
			Positive: 4, Negative: 1,
			Source: "stream-default", Description: "JEE MCQ +4/-1",
		},
		exam.TypeMCMA: {
			Positive: 4, Negative: 2,
			PartialEnabled: true,
			Partial:        PartialTable{OneOutOfTwo: 1, TwoOutOfThree: 2, ThreeOutOfFour: 3},
			Source:         "stream-default", Description: "JEE multi-correct +4/-2, partial credit",
		},
		exam.TypeNumerical: {
			Positive: 4, Negative: 0,
			Source: "stream-default", Description: "JEE numerical +4/0",
		},
	},
	"neet": {
		exam.TypeMCQ: {
			Positive: 4, Negative: 1,
			Source: "stream-default", Description: "NEET MCQ +4/-1",
		},
		exam.TypeMCMA: {
			Positive: 4, Negative: 1,
			Source: "stream-default", Description: "NEET multi-correct +4/-1",
		},
		exam.TypeNumerical: {
			Positive: 4, Negative: 0,
			Source: "stream-default", Description: "NEET numerical +4/0",
		},
	},
}

// systemDefault is the last-resort rule: +4/-1, no partial marking.
var systemDefault = ResolvedRule{
	Positive: 4, Negative: 1,
	Source: "system-default", Description: "System default +4/-1",
}

func streamDefault(stream string, t exam.QuestionType) (ResolvedRule, bool) {
	byType, ok := streamDefaults[normalizeStream(stream)]
	if !ok {
		return ResolvedRule{}, false
	}
	r, ok := byType[t]
	return r, ok
}
