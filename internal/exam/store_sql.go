package exam

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when an exam id does not exist in the catalog.
var ErrNotFound = errors.New("exam not found")

// Store is the read-mostly exam catalog used by the scoring pipeline.
// Writes happen through admin tooling; this core mostly loads.
type Store interface {
	PutExam(ctx context.Context, e Exam) error
	GetExam(ctx context.Context, id string) (Exam, error)
}

type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db} }

func (s *SQLStore) PutExam(ctx context.Context, e Exam) error {
	if err := e.Validate(); err != nil {
		return err
	}
	qj, err := json.Marshal(e.Questions)
	if err != nil {
		return fmt.Errorf("marshal questions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO exams
		(id,title,stream,standard,subjects,duration_sec,reattempt,negative_marks,total_marks,questions_json,created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET
			title=EXCLUDED.title, stream=EXCLUDED.stream, standard=EXCLUDED.standard,
			subjects=EXCLUDED.subjects, duration_sec=EXCLUDED.duration_sec,
			reattempt=EXCLUDED.reattempt, negative_marks=EXCLUDED.negative_marks,
			total_marks=EXCLUDED.total_marks, questions_json=EXCLUDED.questions_json`,
		e.ID, e.Title, strings.ToLower(strings.TrimSpace(e.Stream)), e.Standard,
		strings.Join(e.Subjects, ","), e.DurationSec, e.Reattempt, e.NegativeMarks,
		e.TotalMarks, string(qj), time.Now().Unix())
	return err
}

func (s *SQLStore) GetExam(ctx context.Context, id string) (Exam, error) {
	row := s.db.QueryRowContext(ctx, `SELECT
		id,title,stream,standard,subjects,duration_sec,reattempt,negative_marks,total_marks,questions_json,created_at
		FROM exams WHERE id=$1`, id)
	var e Exam
	var subjects, qjson string
	if err := row.Scan(&e.ID, &e.Title, &e.Stream, &e.Standard, &subjects, &e.DurationSec,
		&e.Reattempt, &e.NegativeMarks, &e.TotalMarks, &qjson, &e.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Exam{}, ErrNotFound
		}
		return Exam{}, err
	}
	if subjects != "" {
		e.Subjects = strings.Split(subjects, ",")
	}
	if err := json.Unmarshal([]byte(qjson), &e.Questions); err != nil {
		return Exam{}, fmt.Errorf("exam %s: decode questions: %w", id, err)
	}
	return e, nil
}
