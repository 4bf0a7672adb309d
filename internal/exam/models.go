package exam

import "fmt"

// QuestionType is derived from the two authoring flags on a question
// (user-input answer vs. multiple-answer). Keep the switch on this type
// exhaustive wherever it appears.
type QuestionType string

const (
	TypeMCQ       QuestionType = "mcq"       // single-correct multiple choice
	TypeNumerical QuestionType = "numerical" // free numeric input
	TypeMCMA      QuestionType = "mcq_multi" // multiple-correct multiple answer
)

type Choice struct {
	ID        string `json:"id,omitempty"`
	LabelHTML string `json:"label_html,omitempty"`
}

type Question struct {
	ID         string `json:"id"`
	Subject    string `json:"subject"`
	Section    int    `json:"section,omitempty"` // 0 = none, 1..3 = Section A/B/C
	PromptHTML string `json:"prompt_html,omitempty"`

	UserInputAnswer  bool `json:"user_input_answer"`
	IsMultipleAnswer bool `json:"is_multiple_answer"`

	Choices   []Choice `json:"choices,omitempty"`
	AnswerKey []string `json:"answer_key,omitempty"`
	Marks     float64  `json:"marks"` // fallback positive marks
}

// Type maps the two authoring flags to the question type.
// user_input_answer wins over is_multiple_answer when both are set.
func (q Question) Type() QuestionType {
	if q.UserInputAnswer {
		return TypeNumerical
	}
	if q.IsMultipleAnswer {
		return TypeMCMA
	}
	return TypeMCQ
}

// SectionName renders the 1/2/3 section convention ("Section A"..).
func SectionName(n int) string {
	switch n {
	case 1:
		return "Section A"
	case 2:
		return "Section B"
	case 3:
		return "Section C"
	default:
		return ""
	}
}

type Exam struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Stream   string `json:"stream"`   // e.g. "jee", "neet"
	Standard string `json:"standard"` // e.g. "11", "12", "dropper"

	Subjects    []string `json:"subjects,omitempty"`
	DurationSec int      `json:"duration_sec"`

	// Reattempt is the number of allowed attempts per student; zero means one.
	Reattempt int `json:"reattempt,omitempty"`

	// NegativeMarks is the exam-wide fallback penalty used when no marking
	// rule resolves for a question.
	NegativeMarks float64 `json:"negative_marks,omitempty"`

	TotalMarks float64    `json:"total_marks"`
	Questions  []Question `json:"questions"`

	CreatedAt int64 `json:"created_at,omitempty"`
}

// MaxAttempts returns the reattempt allowance with the zero-means-one default.
func (e Exam) MaxAttempts() int {
	if e.Reattempt <= 0 {
		return 1
	}
	return e.Reattempt
}

func (e Exam) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("exam id required")
	}
	if e.Stream == "" {
		return fmt.Errorf("exam %s: stream required", e.ID)
	}
	for i, q := range e.Questions {
		if q.ID == "" {
			return fmt.Errorf("exam %s: question %d missing id", e.ID, i)
		}
	}
	return nil
}
