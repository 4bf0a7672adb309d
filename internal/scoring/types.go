package scoring

import (
	"fmt"
	"time"
)

// Status is the per-question outcome of evaluation.
type Status string

const (
	StatusCorrect     Status = "correct"
	StatusIncorrect   Status = "incorrect"
	StatusPartial     Status = "partially_correct"
	StatusUnattempted Status = "unattempted"
)

// Evaluation is the outcome of comparing one answer against its key.
type Evaluation struct {
	Status Status            `json:"status"`
	Delta  float64           `json:"delta"`
	Meta   map[string]string `json:"meta,omitempty"`
}

// Submission is the raw student payload handed to the pipeline, either
// directly (interactive path) or via the queue (batch path).
type Submission struct {
	ExamID    string         `json:"exam_id"`
	StudentID string         `json:"student_id"`
	Answers   map[string]any `json:"answers"` // questionID -> string or []string

	TotalMarks  float64 `json:"total_marks,omitempty"`
	TimeTaken   int     `json:"time_taken"`
	CompletedAt int64   `json:"completed_at"`

	VisitedQuestions []string          `json:"visited_questions,omitempty"`
	MarkedQuestions  []string          `json:"marked_questions,omitempty"`
	Warnings         int               `json:"warnings,omitempty"`
	DeviceInfo       map[string]string `json:"device_info,omitempty"`
}

func (s Submission) Validate() error {
	if s.ExamID == "" {
		return fmt.Errorf("%w: exam id required", ErrInvalidSubmission)
	}
	if s.StudentID == "" {
		return fmt.Errorf("%w: student id required", ErrInvalidSubmission)
	}
	if s.Answers == nil {
		return fmt.Errorf("%w: answers map required", ErrInvalidSubmission)
	}
	if s.TimeTaken < 0 {
		return fmt.Errorf("%w: time taken must be non-negative", ErrInvalidSubmission)
	}
	if s.CompletedAt <= 0 {
		return fmt.Errorf("%w: completion timestamp required", ErrInvalidSubmission)
	}
	return nil
}

// QuestionAnalysis is one audit-trail entry per question.
type QuestionAnalysis struct {
	QuestionID    string            `json:"question_id"`
	Subject       string            `json:"subject"`
	Section       string            `json:"section,omitempty"`
	Type          string            `json:"type"`
	Status        Status            `json:"status"`
	Delta         float64           `json:"delta"`
	UserAnswer    any               `json:"user_answer,omitempty"`
	CorrectAnswer []string          `json:"correct_answer,omitempty"`
	RuleSource    string            `json:"rule_source"`
	RuleDesc      string            `json:"rule_description"`
	Meta          map[string]string `json:"meta,omitempty"`
}

// SubjectPerformance aggregates outcomes per subject.
type SubjectPerformance struct {
	TotalQuestions int     `json:"total_questions"`
	Attempted      int     `json:"attempted"`
	Correct        int     `json:"correct"`
	Incorrect      int     `json:"incorrect"`
	Unanswered     int     `json:"unanswered"`
	MarksEarned    float64 `json:"marks_earned"`
	MarksPossible  float64 `json:"marks_possible"`
	Accuracy       float64 `json:"accuracy"`   // correct / attempted, percent
	Percentage     float64 `json:"percentage"` // earned / possible, percent
}

// NegativeSummary reports what negative marking cost the student.
type NegativeSummary struct {
	TotalDeducted      float64 `json:"total_deducted"`
	QuestionsPenalized int     `json:"questions_penalized"`
}

// Metrics carries timing observability for one scoring pass.
type Metrics struct {
	RuleLoad    time.Duration `json:"rule_load"`
	QuestionAvg time.Duration `json:"question_avg"`
	Total       time.Duration `json:"total"`
}

// Result is the immutable outcome of one scoring pass.
type Result struct {
	ExamID        string  `json:"exam_id"`
	StudentID     string  `json:"student_id"`
	AttemptNumber int     `json:"attempt_number"`
	Score         float64 `json:"score"`
	TotalMarks    float64 `json:"total_marks"`
	TimeTaken     int     `json:"time_taken"`
	CompletedAt   int64   `json:"completed_at"`

	CorrectCount     int `json:"correct_count"`
	IncorrectCount   int `json:"incorrect_count"`
	PartialCount     int `json:"partial_count"`
	UnattemptedCount int `json:"unattempted_count"`

	Answers  map[string]any                 `json:"answers"`
	Analysis []QuestionAnalysis             `json:"question_analysis"`
	Subjects map[string]*SubjectPerformance `json:"subject_performance"`
	Negative NegativeSummary                `json:"negative_marking"`

	Metrics Metrics `json:"-"`
}
