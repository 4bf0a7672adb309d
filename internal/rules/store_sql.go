package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Store fetches active marking rules for a stream. The rule records are an
// external contract: admin tooling writes them, this core only reads.
type Store interface {
	ActiveByStream(ctx context.Context, stream string) ([]MarkingRule, error)
}

type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db} }

func (s *SQLStore) ActiveByStream(ctx context.Context, stream string) ([]MarkingRule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		id,stream,standard,subject,section,question_type,
		positive_marks,negative_marks,partial_enabled,partial_json,
		priority,description,created_at
		FROM marking_rules WHERE stream=$1 AND active=TRUE`, normalizeStream(stream))
	if err != nil {
		return nil, fmt.Errorf("marking rules for %s: %w", stream, err)
	}
	defer rows.Close()

	var out []MarkingRule
	for rows.Next() {
		var r MarkingRule
		var qtype, partialJSON string
		if err := rows.Scan(&r.ID, &r.Stream, &r.Standard, &r.Subject, &r.Section, &qtype,
			&r.PositiveMarks, &r.NegativeMarks, &r.PartialEnabled, &partialJSON,
			&r.Priority, &r.Description, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Type = questionTypeFromString(qtype)
		r.Active = true
		if partialJSON != "" {
			// A malformed table disables partial credit for this rule only.
			if err := json.Unmarshal([]byte(partialJSON), &r.Partial); err != nil {
				r.PartialEnabled = false
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
