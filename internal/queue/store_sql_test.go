package queue_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/examgrid/examgrid/internal/db"
	"github.com/examgrid/examgrid/internal/queue"
	"github.com/examgrid/examgrid/internal/scoring"
)

func newTestStore(t *testing.T, cfg queue.Config) (*queue.SQLStore, *time.Time) {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "queue.db") + "?_pragma=busy_timeout(5000)"
	conn, err := db.Open(context.Background(), db.DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	// Single connection keeps the in-process sqlite serialized, so lease
	// interleavings in tests are deterministic.
	conn.SetMaxOpenConns(1)

	now := time.Unix(1_700_000_000, 0)
	store := queue.NewSQLStore(conn, cfg).WithClock(func() time.Time { return now })
	return store, &now
}

func submissionFixture(student string) scoring.Submission {
	return scoring.Submission{
		ExamID:      "exam-1",
		StudentID:   student,
		Answers:     map[string]any{"q1": "B"},
		TimeTaken:   1800,
		CompletedAt: 1_700_000_000,
	}
}

func TestQueue_LeaseOrdering(t *testing.T) {
	store, _ := newTestStore(t, queue.DefaultConfig())
	ctx := context.Background()

	// Priorities derive from context: {}=1, auto-submit=4, exam-ended=6.
	plain := queue.SubmitContext{}
	auto := queue.SubmitContext{IsAutoSubmit: true}
	ended := queue.SubmitContext{ExamEnded: true}

	var ids []string
	for _, tc := range []struct {
		student string
		sc      queue.SubmitContext
	}{
		{"s-a", plain}, // p1, earliest
		{"s-b", ended}, // p6, earliest of the 6s
		{"s-c", plain}, // p1
		{"s-d", auto},  // p4
		{"s-e", ended}, // p6
	} {
		id, err := store.Enqueue(ctx, submissionFixture(tc.student), tc.sc)
		if err != nil {
			t.Fatalf("enqueue %s: %v", tc.student, err)
		}
		ids = append(ids, id)
	}

	leased, err := store.LeaseBatch(ctx, 5, "w1")
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	want := []string{ids[1], ids[4], ids[3], ids[0], ids[2]}
	if len(leased) != len(want) {
		t.Fatalf("leased %d entries, want %d", len(leased), len(want))
	}
	for i, e := range leased {
		if e.SubmissionID != want[i] {
			t.Errorf("position %d: got %s (student %s), want %s", i, e.SubmissionID, e.StudentID, want[i])
		}
		if e.Status != queue.StatusProcessing || e.WorkerID != "w1" || e.Attempts != 1 {
			t.Errorf("position %d: leased entry state = %s/%s/attempt %d", i, e.Status, e.WorkerID, e.Attempts)
		}
	}
}

func TestQueue_LeaseExclusivity(t *testing.T) {
	store, _ := newTestStore(t, queue.DefaultConfig())
	ctx := context.Background()

	if _, err := store.Enqueue(ctx, submissionFixture("s-1"), queue.SubmitContext{}); err != nil {
		t.Fatal(err)
	}

	first, err := store.LeaseOne(ctx, "w1")
	if err != nil || first == nil {
		t.Fatalf("first lease: entry=%v err=%v", first, err)
	}
	second, err := store.LeaseOne(ctx, "w2")
	if err != nil {
		t.Fatalf("second lease: %v", err)
	}
	if second != nil {
		t.Fatalf("second worker leased %s while w1 holds it", second.SubmissionID)
	}
}

func TestQueue_BackoffProgressionAndTerminalFailure(t *testing.T) {
	cfg := queue.DefaultConfig()
	cfg.MaxAttempts = 3
	store, now := newTestStore(t, cfg)
	ctx := context.Background()

	if _, err := store.Enqueue(ctx, submissionFixture("s-1"), queue.SubmitContext{}); err != nil {
		t.Fatal(err)
	}

	var prevDelay time.Duration
	for attempt := 1; attempt < cfg.MaxAttempts; attempt++ {
		e, err := store.LeaseOne(ctx, "w1")
		if err != nil || e == nil {
			t.Fatalf("attempt %d lease: entry=%v err=%v", attempt, e, err)
		}
		if err := store.MarkFailed(ctx, e, errors.New("connection reset"), true); err != nil {
			t.Fatalf("attempt %d fail: %v", attempt, err)
		}
		if e.Status != queue.StatusRetrying {
			t.Fatalf("attempt %d: status %s, want retrying", attempt, e.Status)
		}
		delay := time.Duration(e.NextRetryAt-now.Unix()) * time.Second
		if delay <= prevDelay {
			t.Fatalf("attempt %d: backoff %v did not grow past %v", attempt, delay, prevDelay)
		}
		prevDelay = delay

		// Not eligible until the retry deadline passes.
		if early, _ := store.LeaseOne(ctx, "w1"); early != nil {
			t.Fatalf("attempt %d: leased before next_retry_at", attempt)
		}
		*now = now.Add(delay + time.Second)
	}

	// Final attempt exhausts the budget even though the error is retryable.
	e, err := store.LeaseOne(ctx, "w1")
	if err != nil || e == nil {
		t.Fatalf("final lease: entry=%v err=%v", e, err)
	}
	if err := store.MarkFailed(ctx, e, errors.New("connection reset"), true); err != nil {
		t.Fatal(err)
	}
	if e.Status != queue.StatusFailed {
		t.Fatalf("status after exhaustion = %s, want failed", e.Status)
	}

	got, err := store.Get(ctx, e.SubmissionID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != queue.StatusFailed || len(got.Errors) != cfg.MaxAttempts {
		t.Fatalf("persisted state = %s with %d errors, want failed with %d", got.Status, len(got.Errors), cfg.MaxAttempts)
	}
}

func TestQueue_NonRetryableFailsImmediately(t *testing.T) {
	store, _ := newTestStore(t, queue.DefaultConfig())
	ctx := context.Background()

	if _, err := store.Enqueue(ctx, submissionFixture("s-1"), queue.SubmitContext{}); err != nil {
		t.Fatal(err)
	}
	e, _ := store.LeaseOne(ctx, "w1")
	if err := store.MarkFailed(ctx, e, errors.New("exam not found"), false); err != nil {
		t.Fatal(err)
	}
	if e.Status != queue.StatusFailed {
		t.Fatalf("status = %s, want failed on non-retryable error", e.Status)
	}
}

func TestQueue_MarkCompleted(t *testing.T) {
	store, _ := newTestStore(t, queue.DefaultConfig())
	ctx := context.Background()

	if _, err := store.Enqueue(ctx, submissionFixture("s-1"), queue.SubmitContext{}); err != nil {
		t.Fatal(err)
	}
	e, _ := store.LeaseOne(ctx, "w1")
	if err := store.MarkCompleted(ctx, e, "result-42", 850*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(ctx, e.SubmissionID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != queue.StatusCompleted || got.ResultID != "result-42" || got.ProcessingMs != 850 {
		t.Fatalf("completed entry = %s/%s/%dms", got.Status, got.ResultID, got.ProcessingMs)
	}
}

func TestQueue_RetryFailedAdminAction(t *testing.T) {
	store, _ := newTestStore(t, queue.DefaultConfig())
	ctx := context.Background()

	id, err := store.Enqueue(ctx, submissionFixture("s-1"), queue.SubmitContext{})
	if err != nil {
		t.Fatal(err)
	}

	// Only terminal-failed entries are eligible.
	if err := store.RetryFailed(ctx, id); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("retry of queued entry: err=%v, want ErrNotFound", err)
	}

	e, _ := store.LeaseOne(ctx, "w1")
	if err := store.MarkFailed(ctx, e, errors.New("bad payload"), false); err != nil {
		t.Fatal(err)
	}
	if err := store.RetryFailed(ctx, id); err != nil {
		t.Fatalf("retry failed entry: %v", err)
	}

	got, err := store.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != queue.StatusQueued || got.Attempts != 0 || got.Priority != 2 {
		t.Fatalf("re-queued entry = %s attempts=%d priority=%d, want queued/0/2", got.Status, got.Attempts, got.Priority)
	}
}

func TestQueue_EmergencyEnqueueHeadroom(t *testing.T) {
	cfg := queue.DefaultConfig()
	store, _ := newTestStore(t, cfg)
	ctx := context.Background()

	id, err := store.EnqueueEmergency(ctx, submissionFixture("s-1"), queue.SubmitContext{})
	if err != nil {
		t.Fatal(err)
	}
	got, err := store.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Priority != 1+cfg.EmergencyPriorityBoost {
		t.Errorf("emergency priority = %d, want %d", got.Priority, 1+cfg.EmergencyPriorityBoost)
	}
	if got.MaxAttempts != cfg.MaxAttempts+cfg.EmergencyExtraAttempts {
		t.Errorf("emergency max attempts = %d, want %d", got.MaxAttempts, cfg.MaxAttempts+cfg.EmergencyExtraAttempts)
	}
}

func TestQueue_EnqueueRejectsInvalidSubmission(t *testing.T) {
	store, _ := newTestStore(t, queue.DefaultConfig())

	bad := submissionFixture("s-1")
	bad.ExamID = ""
	if _, err := store.Enqueue(context.Background(), bad, queue.SubmitContext{}); !errors.Is(err, scoring.ErrInvalidSubmission) {
		t.Fatalf("err = %v, want ErrInvalidSubmission", err)
	}
}

func TestQueue_StatsAndDepth(t *testing.T) {
	store, _ := newTestStore(t, queue.DefaultConfig())
	ctx := context.Background()

	for i, student := range []string{"s-1", "s-2", "s-3"} {
		if _, err := store.Enqueue(ctx, submissionFixture(student), queue.SubmitContext{}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	e, _ := store.LeaseOne(ctx, "w1")
	if err := store.MarkFailed(ctx, e, errors.New("boom"), false); err != nil {
		t.Fatal(err)
	}

	depth, err := store.Depth(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if depth != 2 {
		t.Fatalf("depth = %d, want 2 (failed entries excluded)", depth)
	}

	st, err := store.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Counts[queue.StatusQueued] != 2 || st.Counts[queue.StatusFailed] != 1 {
		t.Fatalf("counts = %v", st.Counts)
	}
	if len(st.RecentFailures) != 1 || st.RecentFailures[0].LastError != "boom" {
		t.Fatalf("recent failures = %+v", st.RecentFailures)
	}
}

func TestQueue_PurgeExpired(t *testing.T) {
	cfg := queue.DefaultConfig()
	store, now := newTestStore(t, cfg)
	ctx := context.Background()

	oldID, err := store.Enqueue(ctx, submissionFixture("s-old"), queue.SubmitContext{})
	if err != nil {
		t.Fatal(err)
	}
	e, _ := store.LeaseOne(ctx, "w1")
	if err := store.MarkCompleted(ctx, e, "r-1", time.Second); err != nil {
		t.Fatal(err)
	}

	*now = now.Add(cfg.Retention + time.Hour)
	freshID, err := store.Enqueue(ctx, submissionFixture("s-new"), queue.SubmitContext{})
	if err != nil {
		t.Fatal(err)
	}

	n, err := store.PurgeExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("purged %d rows, want 1", n)
	}
	if _, err := store.Get(ctx, oldID); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("old entry still present: err=%v", err)
	}
	if _, err := store.Get(ctx, freshID); err != nil {
		t.Fatalf("fresh entry purged: %v", err)
	}
}

func TestComputePriority(t *testing.T) {
	cases := []struct {
		name string
		sc   queue.SubmitContext
		want int
	}{
		{"plain", queue.SubmitContext{}, 1},
		{"auto submit", queue.SubmitContext{IsAutoSubmit: true}, 4},
		{"closing window", queue.SubmitContext{TimeRemaining: 120}, 3},
		{"ample time", queue.SubmitContext{TimeRemaining: 3600}, 1},
		{"exam ended", queue.SubmitContext{ExamEnded: true}, 6},
		{"manual retry", queue.SubmitContext{IsManualRetry: true}, 2},
		{"everything at once", queue.SubmitContext{IsAutoSubmit: true, TimeRemaining: 10, ExamEnded: true, IsManualRetry: true}, 12},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := queue.ComputePriority(tc.sc); got != tc.want {
				t.Fatalf("priority = %d, want %d", got, tc.want)
			}
		})
	}
}
