package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite
)

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Open opens a DB and ensures schema exists.
func Open(ctx context.Context, driver Driver, dsn string) (*sql.DB, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite" // modernc driver
		if dsn == "" {
			dsn = "file:examgrid.db?cache=shared&mode=rwc&_pragma=busy_timeout(5000)"
		}
	case DriverPostgres:
		drvName = "pgx" // pgx stdlib driver
		if dsn == "" {
			dsn = "postgres://localhost:5432/examgrid?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	if err := ensureSchema(ctx, db, driver); err != nil {
		return nil, err
	}
	return db, nil
}

func ensureSchema(ctx context.Context, db *sql.DB, driver Driver) error {
	var schema string
	switch driver {
	case DriverSQLite:
		schema = schemaSQLite
	case DriverPostgres:
		schema = schemaPostgres
	}
	_, err := db.ExecContext(ctx, schema)
	return err
}

const schemaSQLite = `
PRAGMA foreign_keys=ON;

CREATE TABLE IF NOT EXISTS exams (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL,
  stream TEXT NOT NULL,
  standard TEXT NOT NULL DEFAULT '',
  subjects TEXT NOT NULL DEFAULT '',
  duration_sec INTEGER NOT NULL DEFAULT 0,
  reattempt INTEGER NOT NULL DEFAULT 0,
  negative_marks REAL NOT NULL DEFAULT 0,
  total_marks REAL NOT NULL DEFAULT 0,
  questions_json TEXT NOT NULL,
  created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS marking_rules (
  id TEXT PRIMARY KEY,
  stream TEXT NOT NULL,
  standard TEXT NOT NULL DEFAULT '',
  subject TEXT NOT NULL DEFAULT '',
  section INTEGER NOT NULL DEFAULT 0,
  question_type TEXT NOT NULL DEFAULT '',
  positive_marks REAL NOT NULL,
  negative_marks REAL NOT NULL DEFAULT 0,
  partial_enabled INTEGER NOT NULL DEFAULT 0,
  partial_json TEXT NOT NULL DEFAULT '',
  priority INTEGER NOT NULL DEFAULT 0,
  active INTEGER NOT NULL DEFAULT 1,
  description TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_marking_rules_stream ON marking_rules(stream, active);

CREATE TABLE IF NOT EXISTS submission_queue (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  submission_id TEXT NOT NULL UNIQUE,
  exam_id TEXT NOT NULL,
  student_id TEXT NOT NULL,
  status TEXT NOT NULL,
  priority INTEGER NOT NULL DEFAULT 1,
  payload_json TEXT NOT NULL,
  context_json TEXT NOT NULL DEFAULT '',
  attempts INTEGER NOT NULL DEFAULT 0,
  max_attempts INTEGER NOT NULL DEFAULT 3,
  worker_id TEXT NOT NULL DEFAULT '',
  enqueued_at INTEGER NOT NULL,
  started_at INTEGER NOT NULL DEFAULT 0,
  completed_at INTEGER NOT NULL DEFAULT 0,
  next_retry_at INTEGER NOT NULL DEFAULT 0,
  processing_ms INTEGER NOT NULL DEFAULT 0,
  errors_json TEXT NOT NULL DEFAULT '[]',
  result_id TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_queue_lease ON submission_queue(status, priority DESC, seq ASC);
CREATE INDEX IF NOT EXISTS idx_queue_retry ON submission_queue(status, next_retry_at);

CREATE TABLE IF NOT EXISTS exam_results (
  id TEXT PRIMARY KEY,
  submission_id TEXT NOT NULL UNIQUE,
  exam_id TEXT NOT NULL,
  student_id TEXT NOT NULL,
  attempt_number INTEGER NOT NULL,
  score REAL NOT NULL,
  total_marks REAL NOT NULL DEFAULT 0,
  time_taken INTEGER NOT NULL DEFAULT 0,
  completed_at INTEGER NOT NULL,
  answers_json TEXT NOT NULL,
  analysis_json TEXT NOT NULL,
  subjects_json TEXT NOT NULL,
  negative_json TEXT NOT NULL DEFAULT '{}',
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_results_exam_student ON exam_results(exam_id, student_id);

CREATE TABLE IF NOT EXISTS audit_log (
  offset_id INTEGER PRIMARY KEY AUTOINCREMENT,
  typ TEXT NOT NULL,
  key TEXT NOT NULL,
  data TEXT NOT NULL,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_key ON audit_log(key);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS exams (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL,
  stream TEXT NOT NULL,
  standard TEXT NOT NULL DEFAULT '',
  subjects TEXT NOT NULL DEFAULT '',
  duration_sec INTEGER NOT NULL DEFAULT 0,
  reattempt INTEGER NOT NULL DEFAULT 0,
  negative_marks DOUBLE PRECISION NOT NULL DEFAULT 0,
  total_marks DOUBLE PRECISION NOT NULL DEFAULT 0,
  questions_json TEXT NOT NULL,
  created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS marking_rules (
  id TEXT PRIMARY KEY,
  stream TEXT NOT NULL,
  standard TEXT NOT NULL DEFAULT '',
  subject TEXT NOT NULL DEFAULT '',
  section INTEGER NOT NULL DEFAULT 0,
  question_type TEXT NOT NULL DEFAULT '',
  positive_marks DOUBLE PRECISION NOT NULL,
  negative_marks DOUBLE PRECISION NOT NULL DEFAULT 0,
  partial_enabled BOOLEAN NOT NULL DEFAULT FALSE,
  partial_json TEXT NOT NULL DEFAULT '',
  priority INTEGER NOT NULL DEFAULT 0,
  active BOOLEAN NOT NULL DEFAULT TRUE,
  description TEXT NOT NULL DEFAULT '',
  created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_marking_rules_stream ON marking_rules(stream, active);

CREATE TABLE IF NOT EXISTS submission_queue (
  seq BIGSERIAL PRIMARY KEY,
  submission_id TEXT NOT NULL UNIQUE,
  exam_id TEXT NOT NULL,
  student_id TEXT NOT NULL,
  status TEXT NOT NULL,
  priority INTEGER NOT NULL DEFAULT 1,
  payload_json TEXT NOT NULL,
  context_json TEXT NOT NULL DEFAULT '',
  attempts INTEGER NOT NULL DEFAULT 0,
  max_attempts INTEGER NOT NULL DEFAULT 3,
  worker_id TEXT NOT NULL DEFAULT '',
  enqueued_at BIGINT NOT NULL,
  started_at BIGINT NOT NULL DEFAULT 0,
  completed_at BIGINT NOT NULL DEFAULT 0,
  next_retry_at BIGINT NOT NULL DEFAULT 0,
  processing_ms BIGINT NOT NULL DEFAULT 0,
  errors_json TEXT NOT NULL DEFAULT '[]',
  result_id TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_queue_lease ON submission_queue(status, priority DESC, seq ASC);
CREATE INDEX IF NOT EXISTS idx_queue_retry ON submission_queue(status, next_retry_at);

CREATE TABLE IF NOT EXISTS exam_results (
  id TEXT PRIMARY KEY,
  submission_id TEXT NOT NULL UNIQUE,
  exam_id TEXT NOT NULL,
  student_id TEXT NOT NULL,
  attempt_number INTEGER NOT NULL,
  score DOUBLE PRECISION NOT NULL,
  total_marks DOUBLE PRECISION NOT NULL DEFAULT 0,
  time_taken INTEGER NOT NULL DEFAULT 0,
  completed_at BIGINT NOT NULL,
  answers_json TEXT NOT NULL,
  analysis_json TEXT NOT NULL,
  subjects_json TEXT NOT NULL,
  negative_json TEXT NOT NULL DEFAULT '{}',
  created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_results_exam_student ON exam_results(exam_id, student_id);

CREATE TABLE IF NOT EXISTS audit_log (
  offset_id BIGSERIAL PRIMARY KEY,
  typ TEXT NOT NULL,
  key TEXT NOT NULL,
  data TEXT NOT NULL,
  created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_key ON audit_log(key);
`
