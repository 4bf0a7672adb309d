// Package result persists scored exam results. The store is append-only
// from the pipeline's point of view: one row per successful scoring pass,
// keyed uniquely by submission id as the idempotence backstop.
package result

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/examgrid/examgrid/internal/scoring"
)

var ErrNotFound = errors.New("exam result not found")

// ExamResult is the durable output of one scoring pass.
type ExamResult struct {
	ID           string `json:"id"`
	SubmissionID string `json:"submission_id"`
	ExamID       string `json:"exam_id"`
	StudentID    string `json:"student_id"`

	AttemptNumber int     `json:"attempt_number"`
	Score         float64 `json:"score"`
	TotalMarks    float64 `json:"total_marks"`
	TimeTaken     int     `json:"time_taken"`
	CompletedAt   int64   `json:"completed_at"`

	Answers  map[string]any                         `json:"answers"`
	Analysis []scoring.QuestionAnalysis             `json:"question_analysis"`
	Subjects map[string]*scoring.SubjectPerformance `json:"subject_performance"`
	Negative scoring.NegativeSummary                `json:"negative_marking"`

	CreatedAt int64 `json:"created_at"`
}

// FromScore builds the persistable record for one scoring result.
func FromScore(submissionID string, sc *scoring.Result) ExamResult {
	return ExamResult{
		ID:            uuid.NewString(),
		SubmissionID:  submissionID,
		ExamID:        sc.ExamID,
		StudentID:     sc.StudentID,
		AttemptNumber: sc.AttemptNumber,
		Score:         sc.Score,
		TotalMarks:    sc.TotalMarks,
		TimeTaken:     sc.TimeTaken,
		CompletedAt:   sc.CompletedAt,
		Answers:       sc.Answers,
		Analysis:      sc.Analysis,
		Subjects:      sc.Subjects,
		Negative:      sc.Negative,
	}
}

// Summary is the compact shape returned by status queries.
type Summary struct {
	Score         float64 `json:"score"`
	TotalMarks    float64 `json:"total_marks"`
	AttemptNumber int     `json:"attempt_number"`
	CompletedAt   int64   `json:"completed_at"`
}

func (r ExamResult) Summary() Summary {
	return Summary{Score: r.Score, TotalMarks: r.TotalMarks, AttemptNumber: r.AttemptNumber, CompletedAt: r.CompletedAt}
}

type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db} }

// Save inserts the result. A duplicate submission id is not an error: the
// existing row's id is returned instead, so replayed queue entries cannot
// produce a second result.
func (s *SQLStore) Save(ctx context.Context, r ExamResult) (string, error) {
	answers, err := json.Marshal(r.Answers)
	if err != nil {
		return "", fmt.Errorf("marshal answers: %w", err)
	}
	analysis, err := json.Marshal(r.Analysis)
	if err != nil {
		return "", fmt.Errorf("marshal analysis: %w", err)
	}
	subjects, err := json.Marshal(r.Subjects)
	if err != nil {
		return "", fmt.Errorf("marshal subjects: %w", err)
	}
	negative, _ := json.Marshal(r.Negative)

	res, err := s.db.ExecContext(ctx, `INSERT INTO exam_results
		(id,submission_id,exam_id,student_id,attempt_number,score,total_marks,time_taken,
		 completed_at,answers_json,analysis_json,subjects_json,negative_json,created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (submission_id) DO NOTHING`,
		r.ID, r.SubmissionID, r.ExamID, r.StudentID, r.AttemptNumber, r.Score, r.TotalMarks,
		r.TimeTaken, r.CompletedAt, string(answers), string(analysis), string(subjects),
		string(negative), time.Now().Unix())
	if err != nil {
		return "", fmt.Errorf("save result submission=%s: %w", r.SubmissionID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		existing, err := s.BySubmission(ctx, r.SubmissionID)
		if err != nil {
			return "", err
		}
		return existing.ID, nil
	}
	return r.ID, nil
}

// AttemptCount reports existing results for (exam, student); the scoring
// engine enforces the reattempt allowance against it.
func (s *SQLStore) AttemptCount(ctx context.Context, examID, studentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM exam_results WHERE exam_id=$1 AND student_id=$2`,
		examID, studentID).Scan(&n)
	return n, err
}

// BySubmission loads the result linked to a queue entry.
func (s *SQLStore) BySubmission(ctx context.Context, submissionID string) (ExamResult, error) {
	row := s.db.QueryRowContext(ctx, `SELECT
		id,submission_id,exam_id,student_id,attempt_number,score,total_marks,time_taken,
		completed_at,answers_json,analysis_json,subjects_json,negative_json,created_at
		FROM exam_results WHERE submission_id=$1`, submissionID)
	return scanResult(row)
}

func scanResult(row *sql.Row) (ExamResult, error) {
	var r ExamResult
	var answers, analysis, subjects, negative string
	if err := row.Scan(&r.ID, &r.SubmissionID, &r.ExamID, &r.StudentID, &r.AttemptNumber,
		&r.Score, &r.TotalMarks, &r.TimeTaken, &r.CompletedAt,
		&answers, &analysis, &subjects, &negative, &r.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ExamResult{}, ErrNotFound
		}
		return ExamResult{}, err
	}
	_ = json.Unmarshal([]byte(answers), &r.Answers)
	_ = json.Unmarshal([]byte(analysis), &r.Analysis)
	_ = json.Unmarshal([]byte(subjects), &r.Subjects)
	_ = json.Unmarshal([]byte(negative), &r.Negative)
	return r, nil
}
