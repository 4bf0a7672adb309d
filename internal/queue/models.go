package queue

import (
	"time"

	"github.com/examgrid/examgrid/internal/scoring"
)

// Status is the queue-entry state machine:
// queued -> processing -> {completed | failed | retrying};
// retrying -> processing once next_retry_at elapses.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRetrying   Status = "retrying"
)

// SubmitContext carries the circumstances of a submission; it only
// influences queue priority, never the score.
type SubmitContext struct {
	IsAutoSubmit  bool   `json:"is_auto_submit,omitempty"`
	TimeRemaining int    `json:"time_remaining,omitempty"` // seconds left when submitted
	ExamEnded     bool   `json:"exam_ended,omitempty"`
	IsManualRetry bool   `json:"is_manual_retry,omitempty"`
	SessionID     string `json:"session_id,omitempty"`
}

// ComputePriority maps submission circumstances to a lease priority.
// Higher means sooner.
func ComputePriority(sc SubmitContext) int {
	p := 1
	if sc.IsAutoSubmit {
		p += 3
	}
	if sc.TimeRemaining > 0 && sc.TimeRemaining < 300 {
		p += 2
	}
	if sc.ExamEnded {
		p += 5
	}
	if sc.IsManualRetry {
		p += 1
	}
	return p
}

// ErrorRecord is one entry in the per-submission failure history.
type ErrorRecord struct {
	Timestamp int64  `json:"timestamp"`
	Attempt   int    `json:"attempt"`
	Message   string `json:"message"`
}

// Entry is one durable work item.
type Entry struct {
	SubmissionID string
	ExamID       string
	StudentID    string
	Status       Status
	Priority     int

	// Seq is a store-assigned monotonic sequence number; it makes FIFO
	// ordering strict even for entries enqueued within the same instant.
	Seq int64

	Submission scoring.Submission
	Context    SubmitContext

	Attempts    int
	MaxAttempts int
	WorkerID    string

	EnqueuedAt   int64
	StartedAt    int64 // 0 until first lease
	CompletedAt  int64 // 0 until terminal
	NextRetryAt  int64 // 0 unless retrying
	ProcessingMs int64

	Errors   []ErrorRecord
	ResultID string
}

// Config tunes retry scheduling and retention.
type Config struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	Retention         time.Duration

	// Emergency-path headroom over the normal limits.
	EmergencyExtraAttempts int
	EmergencyPriorityBoost int
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:            3,
		InitialDelay:           30 * time.Second,
		MaxDelay:               30 * time.Minute,
		BackoffMultiplier:      2,
		Retention:              7 * 24 * time.Hour,
		EmergencyExtraAttempts: 3,
		EmergencyPriorityBoost: 5,
	}
}

// Stats is the read-only monitoring aggregate.
type Stats struct {
	Counts         map[Status]int   `json:"counts"`
	AvgWaitSec     float64          `json:"avg_wait_sec"`
	RecentFailures []FailureSummary `json:"recent_failures,omitempty"`
}

type FailureSummary struct {
	SubmissionID string `json:"submission_id"`
	ExamID       string `json:"exam_id"`
	StudentID    string `json:"student_id"`
	Attempts     int    `json:"attempts"`
	LastError    string `json:"last_error,omitempty"`
	FailedAt     int64  `json:"failed_at"`
}
