// Package batch drains the submission queue in bounded, fault-isolated
// cycles. A cycle is a pure "lease, process, report" pass: scheduling is
// the external trigger's concern, not this package's.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/examgrid/examgrid/internal/audit"
	"github.com/examgrid/examgrid/internal/exam"
	"github.com/examgrid/examgrid/internal/queue"
	"github.com/examgrid/examgrid/internal/result"
	"github.com/examgrid/examgrid/internal/scoring"
)

// Queue is the slice of the submission queue the processor needs.
type Queue interface {
	LeaseBatch(ctx context.Context, n int, workerID string) ([]queue.Entry, error)
	MarkCompleted(ctx context.Context, e *queue.Entry, resultID string, processing time.Duration) error
	MarkFailed(ctx context.Context, e *queue.Entry, cause error, shouldRetry bool) error
}

// Scorer runs one scoring pass; satisfied by *scoring.Engine.
type Scorer interface {
	Score(ctx context.Context, sub scoring.Submission) (*scoring.Result, error)
}

// Results persists scored output; satisfied by *result.SQLStore.
type Results interface {
	Save(ctx context.Context, r result.ExamResult) (string, error)
}

// CycleSummary is what a cycle reports back to its trigger.
type CycleSummary struct {
	JobID     string        `json:"cron_job_id"`
	Processed int           `json:"processed"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"-"`
}

type Processor struct {
	queue   Queue
	scorer  Scorer
	results Results
	auditor *audit.Log

	workerID    string
	softCeiling time.Duration
	now         func() time.Time
}

func NewProcessor(q Queue, s Scorer, r Results, auditor *audit.Log, workerID string, softCeiling time.Duration) *Processor {
	if softCeiling <= 0 {
		softCeiling = 4 * time.Minute
	}
	return &Processor{
		queue:       q,
		scorer:      s,
		results:     r,
		auditor:     auditor,
		workerID:    workerID,
		softCeiling: softCeiling,
		now:         time.Now,
	}
}

// RunCycle leases up to batchSize entries and processes them concurrently
// with per-entry isolation: a panic or failure in one entry never touches
// its siblings. An empty queue is a no-op.
func (p *Processor) RunCycle(ctx context.Context, batchSize int, jobID string) (CycleSummary, error) {
	start := p.now()
	sum := CycleSummary{JobID: jobID}

	entries, err := p.queue.LeaseBatch(ctx, batchSize, p.workerID)
	if err != nil {
		return sum, fmt.Errorf("cycle %s: lease: %w", jobID, err)
	}
	if len(entries) == 0 {
		return sum, nil
	}
	log.Printf("batch: cycle %s leased %d entrie(s)", jobID, len(entries))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := range entries {
		wg.Add(1)
		go func(e *queue.Entry) {
			defer wg.Done()
			ok := p.processOne(ctx, e, jobID)
			mu.Lock()
			sum.Processed++
			if ok {
				sum.Succeeded++
			} else {
				sum.Failed++
			}
			mu.Unlock()
		}(&entries[i])
	}
	wg.Wait()

	sum.Duration = p.now().Sub(start)
	if sum.Duration > p.softCeiling {
		log.Printf("batch: cycle %s ran %s, over soft ceiling %s (processed=%d)",
			jobID, sum.Duration, p.softCeiling, sum.Processed)
	}
	return sum, nil
}

// processOne scores a single leased entry and records the outcome on the
// queue. All failure paths are absorbed here.
func (p *Processor) processOne(ctx context.Context, e *queue.Entry, jobID string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("batch: panic on %s (cycle %s): %v", e.SubmissionID, jobID, r)
			_ = p.queue.MarkFailed(ctx, e, fmt.Errorf("panic: %v", r), true)
			ok = false
		}
	}()
	itemStart := p.now()

	sc, err := p.scorer.Score(ctx, e.Submission)
	if err != nil {
		p.recordFailure(ctx, e, err)
		return false
	}

	resultID, err := p.results.Save(ctx, result.FromScore(e.SubmissionID, sc))
	if err != nil {
		p.recordFailure(ctx, e, fmt.Errorf("persist result: %w", err))
		return false
	}

	if err := p.queue.MarkCompleted(ctx, e, resultID, p.now().Sub(itemStart)); err != nil {
		// The result exists; a completion-mark failure is retryable and the
		// unique submission id keeps the replay idempotent.
		log.Printf("batch: mark completed %s failed: %v", e.SubmissionID, err)
		_ = p.queue.MarkFailed(ctx, e, err, true)
		return false
	}
	p.auditor.Append(ctx, audit.EventCompleted, e.SubmissionID, map[string]any{
		"result_id": resultID,
		"score":     sc.Score,
		"job_id":    jobID,
	})
	return true
}

func (p *Processor) recordFailure(ctx context.Context, e *queue.Entry, cause error) {
	shouldRetry := retryable(cause)
	if err := p.queue.MarkFailed(ctx, e, cause, shouldRetry); err != nil {
		log.Printf("batch: mark failed %s errored: %v (original cause: %v)", e.SubmissionID, err, cause)
		return
	}
	typ := audit.EventFailed
	if e.Status == queue.StatusRetrying {
		typ = audit.EventRetryScheduled
	}
	p.auditor.Append(ctx, typ, e.SubmissionID, map[string]any{
		"error":    cause.Error(),
		"attempts": e.Attempts,
	})
}

// retryable: business-rule, validation and unknown-exam failures are
// final; anything else gets another attempt up to the entry's budget.
func retryable(err error) bool {
	return !errors.Is(err, scoring.ErrMaxAttempts) &&
		!errors.Is(err, scoring.ErrInvalidSubmission) &&
		!errors.Is(err, exam.ErrNotFound)
}
