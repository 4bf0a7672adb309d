// Package audit keeps an append-only log of submission lifecycle events
// for offline reconciliation. Best effort: an append failure is logged,
// never propagated into the pipeline.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"time"
)

const (
	EventEnqueued          = "SubmissionEnqueued"
	EventEmergencyEnqueued = "SubmissionEmergencyEnqueued"
	EventCompleted         = "SubmissionCompleted"
	EventFailed            = "SubmissionFailed"
	EventRetryScheduled    = "SubmissionRetryScheduled"
	EventAdminRetry        = "SubmissionAdminRetry"
)

type Event struct {
	Offset    int64
	Type      string
	Key       string // natural key: submission id
	Data      map[string]any
	CreatedAt int64
}

type Log struct{ db *sql.DB }

func NewLog(db *sql.DB) *Log { return &Log{db: db} }

// Append records one event. Errors are swallowed after logging: the audit
// trail must never block or fail submission processing.
func (l *Log) Append(ctx context.Context, typ, key string, data map[string]any) {
	if l == nil || l.db == nil {
		return
	}
	buf, err := json.Marshal(data)
	if err != nil {
		buf = []byte("{}")
	}
	_, err = l.db.ExecContext(ctx,
		`INSERT INTO audit_log (typ, key, data, created_at) VALUES ($1,$2,$3,$4)`,
		typ, key, string(buf), time.Now().Unix())
	if err != nil {
		log.Printf("audit: append %s %s failed: %v", typ, key, err)
	}
}

// ByKey returns the event history for one submission, oldest first.
func (l *Log) ByKey(ctx context.Context, key string) ([]Event, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT offset_id, typ, key, data, created_at FROM audit_log WHERE key=$1 ORDER BY offset_id ASC`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var data string
		if err := rows.Scan(&e.Offset, &e.Type, &e.Key, &data, &e.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(data), &e.Data)
		out = append(out, e)
	}
	return out, rows.Err()
}
