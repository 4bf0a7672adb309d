package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/examgrid/examgrid/internal/scoring"
)

// ErrNotFound is returned for unknown submission ids.
var ErrNotFound = errors.New("submission not found")

// SQLStore is the durable submission queue. The lease transition is the
// single concurrency-control point: claiming an entry is one conditional
// UPDATE guarded by the current status, so two workers can never both win
// the same row regardless of driver.
type SQLStore struct {
	db  *sql.DB
	cfg Config
	now func() time.Time
}

func NewSQLStore(db *sql.DB, cfg Config) *SQLStore {
	return &SQLStore{db: db, cfg: cfg, now: time.Now}
}

// WithClock overrides the store clock; tests only.
func (s *SQLStore) WithClock(now func() time.Time) *SQLStore {
	s.now = now
	return s
}

// Enqueue validates and persists a new queued entry, returning its
// submission id. Safe under concurrent callers: the store assigns the
// monotonic seq, the id is a fresh UUID.
func (s *SQLStore) Enqueue(ctx context.Context, sub scoring.Submission, sc SubmitContext) (string, error) {
	return s.enqueue(ctx, sub, sc, ComputePriority(sc), s.cfg.MaxAttempts)
}

// EnqueueEmergency is the backup write used when the normal enqueue path
// failed: elevated priority and extra attempts so the submission is never
// silently dropped.
func (s *SQLStore) EnqueueEmergency(ctx context.Context, sub scoring.Submission, sc SubmitContext) (string, error) {
	return s.enqueue(ctx, sub, sc,
		ComputePriority(sc)+s.cfg.EmergencyPriorityBoost,
		s.cfg.MaxAttempts+s.cfg.EmergencyExtraAttempts)
}

func (s *SQLStore) enqueue(ctx context.Context, sub scoring.Submission, sc SubmitContext, priority, maxAttempts int) (string, error) {
	if err := sub.Validate(); err != nil {
		return "", err
	}
	payload, err := json.Marshal(sub)
	if err != nil {
		return "", fmt.Errorf("marshal submission: %w", err)
	}
	scJSON, _ := json.Marshal(sc)

	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx, `INSERT INTO submission_queue
		(submission_id,exam_id,student_id,status,priority,payload_json,context_json,
		 attempts,max_attempts,enqueued_at,errors_json)
		VALUES ($1,$2,$3,$4,$5,$6,$7,0,$8,$9,'[]')`,
		id, sub.ExamID, sub.StudentID, string(StatusQueued), priority,
		string(payload), string(scJSON), maxAttempts, s.now().Unix())
	if err != nil {
		return "", fmt.Errorf("enqueue exam=%s student=%s: %w", sub.ExamID, sub.StudentID, err)
	}
	return id, nil
}

// LeaseOne claims the single best eligible entry, or returns (nil, nil)
// when the queue is empty.
func (s *SQLStore) LeaseOne(ctx context.Context, workerID string) (*Entry, error) {
	batch, err := s.LeaseBatch(ctx, 1, workerID)
	if err != nil || len(batch) == 0 {
		return nil, err
	}
	return &batch[0], nil
}

// LeaseBatch claims up to n eligible entries (queued, plus retrying whose
// next_retry_at has elapsed) ordered by priority desc then seq asc.
// Selection and transition are separate statements, but the transition is
// a status-guarded conditional UPDATE per row: a row another worker claimed
// in between reports zero affected rows and is skipped.
func (s *SQLStore) LeaseBatch(ctx context.Context, n int, workerID string) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	nowUnix := s.now().Unix()

	rows, err := s.db.QueryContext(ctx, `SELECT seq, submission_id FROM submission_queue
		WHERE status=$1 OR (status=$2 AND next_retry_at<=$3)
		ORDER BY priority DESC, seq ASC LIMIT $4`,
		string(StatusQueued), string(StatusRetrying), nowUnix, n)
	if err != nil {
		return nil, fmt.Errorf("lease select: %w", err)
	}
	var ids []string
	for rows.Next() {
		var seq int64
		var id string
		if err := rows.Scan(&seq, &id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var leased []Entry
	for _, id := range ids {
		res, err := s.db.ExecContext(ctx, `UPDATE submission_queue
			SET status=$1, worker_id=$2, started_at=$3, attempts=attempts+1
			WHERE submission_id=$4 AND (status=$5 OR (status=$6 AND next_retry_at<=$7))`,
			string(StatusProcessing), workerID, nowUnix,
			id, string(StatusQueued), string(StatusRetrying), nowUnix)
		if err != nil {
			return leased, fmt.Errorf("lease claim %s: %w", id, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return leased, err
		}
		if affected != 1 {
			continue // lost the race to another worker
		}
		e, err := s.Get(ctx, id)
		if err != nil {
			return leased, err
		}
		leased = append(leased, *e)
	}
	return leased, nil
}

// MarkCompleted finishes an entry, linking its result reference.
func (s *SQLStore) MarkCompleted(ctx context.Context, e *Entry, resultID string, processing time.Duration) error {
	nowUnix := s.now().Unix()
	_, err := s.db.ExecContext(ctx, `UPDATE submission_queue
		SET status=$1, completed_at=$2, result_id=$3, processing_ms=$4, next_retry_at=0
		WHERE submission_id=$5`,
		string(StatusCompleted), nowUnix, resultID, processing.Milliseconds(), e.SubmissionID)
	if err != nil {
		return fmt.Errorf("complete %s: %w", e.SubmissionID, err)
	}
	e.Status = StatusCompleted
	e.CompletedAt = nowUnix
	e.ResultID = resultID
	e.ProcessingMs = processing.Milliseconds()
	return nil
}

// MarkFailed appends to the error history and either schedules a retry
// with exponential backoff or, once attempts are exhausted (or the failure
// is not retryable), parks the entry in the terminal failed state.
func (s *SQLStore) MarkFailed(ctx context.Context, e *Entry, cause error, shouldRetry bool) error {
	nowT := s.now()
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	e.Errors = append(e.Errors, ErrorRecord{Timestamp: nowT.Unix(), Attempt: e.Attempts, Message: msg})
	errJSON, _ := json.Marshal(e.Errors)

	if shouldRetry && e.Attempts < e.MaxAttempts {
		delay := s.backoff(e.Attempts)
		next := nowT.Add(delay).Unix()
		_, err := s.db.ExecContext(ctx, `UPDATE submission_queue
			SET status=$1, next_retry_at=$2, errors_json=$3
			WHERE submission_id=$4`,
			string(StatusRetrying), next, string(errJSON), e.SubmissionID)
		if err != nil {
			return fmt.Errorf("schedule retry %s: %w", e.SubmissionID, err)
		}
		e.Status = StatusRetrying
		e.NextRetryAt = next
		return nil
	}

	_, err := s.db.ExecContext(ctx, `UPDATE submission_queue
		SET status=$1, completed_at=$2, errors_json=$3, next_retry_at=0
		WHERE submission_id=$4`,
		string(StatusFailed), nowT.Unix(), string(errJSON), e.SubmissionID)
	if err != nil {
		return fmt.Errorf("fail %s: %w", e.SubmissionID, err)
	}
	e.Status = StatusFailed
	e.CompletedAt = nowT.Unix()
	return nil
}

func (s *SQLStore) backoff(attempts int) time.Duration {
	d := time.Duration(float64(s.cfg.InitialDelay) * math.Pow(s.cfg.BackoffMultiplier, float64(attempts)))
	if d > s.cfg.MaxDelay {
		d = s.cfg.MaxDelay
	}
	return d
}

// RetryFailed is the administrative action: a terminal failed entry goes
// back to queued with elevated priority and a fresh attempt budget.
func (s *SQLStore) RetryFailed(ctx context.Context, submissionID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE submission_queue
		SET status=$1, priority=priority+$2, attempts=0, next_retry_at=0, completed_at=0
		WHERE submission_id=$3 AND status=$4`,
		string(StatusQueued), 1, submissionID, string(StatusFailed))
	if err != nil {
		return fmt.Errorf("retry %s: %w", submissionID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s is not in failed state", ErrNotFound, submissionID)
	}
	return nil
}

// Get loads one entry by submission id.
func (s *SQLStore) Get(ctx context.Context, submissionID string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT
		seq,submission_id,exam_id,student_id,status,priority,payload_json,context_json,
		attempts,max_attempts,worker_id,enqueued_at,started_at,completed_at,
		next_retry_at,processing_ms,errors_json,result_id
		FROM submission_queue WHERE submission_id=$1`, submissionID)

	var e Entry
	var status, payload, sc, errJSON string
	if err := row.Scan(&e.Seq, &e.SubmissionID, &e.ExamID, &e.StudentID, &status, &e.Priority,
		&payload, &sc, &e.Attempts, &e.MaxAttempts, &e.WorkerID, &e.EnqueuedAt,
		&e.StartedAt, &e.CompletedAt, &e.NextRetryAt, &e.ProcessingMs, &errJSON, &e.ResultID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	e.Status = Status(status)
	if err := json.Unmarshal([]byte(payload), &e.Submission); err != nil {
		return nil, fmt.Errorf("entry %s: decode payload: %w", submissionID, err)
	}
	if sc != "" {
		_ = json.Unmarshal([]byte(sc), &e.Context)
	}
	if errJSON != "" {
		_ = json.Unmarshal([]byte(errJSON), &e.Errors)
	}
	return &e, nil
}

// Stats aggregates queue health for the monitoring surface.
func (s *SQLStore) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Counts: map[Status]int{}}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM submission_queue GROUP BY status`)
	if err != nil {
		return st, err
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return st, err
		}
		st.Counts[Status(status)] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return st, err
	}

	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, `SELECT AVG(started_at - enqueued_at)
		FROM submission_queue WHERE started_at > 0`).Scan(&avg); err == nil && avg.Valid {
		st.AvgWaitSec = avg.Float64
	}

	frows, err := s.db.QueryContext(ctx, `SELECT submission_id, exam_id, student_id, attempts, errors_json, completed_at
		FROM submission_queue WHERE status=$1 ORDER BY completed_at DESC LIMIT 10`, string(StatusFailed))
	if err != nil {
		return st, err
	}
	defer frows.Close()
	for frows.Next() {
		var f FailureSummary
		var errJSON string
		if err := frows.Scan(&f.SubmissionID, &f.ExamID, &f.StudentID, &f.Attempts, &errJSON, &f.FailedAt); err != nil {
			return st, err
		}
		var hist []ErrorRecord
		if json.Unmarshal([]byte(errJSON), &hist) == nil && len(hist) > 0 {
			f.LastError = hist[len(hist)-1].Message
		}
		st.RecentFailures = append(st.RecentFailures, f)
	}
	return st, frows.Err()
}

// Depth reports current queued+processing load for capacity sizing.
func (s *SQLStore) Depth(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM submission_queue
		WHERE status IN ($1,$2,$3)`,
		string(StatusQueued), string(StatusProcessing), string(StatusRetrying)).Scan(&n)
	return n, err
}

// RecentAvgProcessingMs reports mean processing time over recently
// completed entries; zero when there is no history.
func (s *SQLStore) RecentAvgProcessingMs(ctx context.Context) (float64, error) {
	var avg sql.NullFloat64
	cutoff := s.now().Add(-1 * time.Hour).Unix()
	err := s.db.QueryRowContext(ctx, `SELECT AVG(processing_ms) FROM submission_queue
		WHERE status=$1 AND completed_at>=$2`, string(StatusCompleted), cutoff).Scan(&avg)
	if err != nil || !avg.Valid {
		return 0, err
	}
	return avg.Float64, nil
}

// PurgeExpired deletes terminal entries older than the retention window.
// Housekeeping only; correctness never depends on it.
func (s *SQLStore) PurgeExpired(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.cfg.Retention).Unix()
	res, err := s.db.ExecContext(ctx, `DELETE FROM submission_queue
		WHERE status IN ($1,$2) AND completed_at > 0 AND completed_at < $3`,
		string(StatusCompleted), string(StatusFailed), cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge: %w", err)
	}
	return res.RowsAffected()
}
