// Package submission is the entry point of the processing pipeline: the
// interactive scoring path with its degradation chain (retry, queue,
// emergency backup), and the status surface over queued work.
package submission

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/examgrid/examgrid/internal/audit"
	"github.com/examgrid/examgrid/internal/exam"
	"github.com/examgrid/examgrid/internal/queue"
	"github.com/examgrid/examgrid/internal/result"
	"github.com/examgrid/examgrid/internal/retry"
	"github.com/examgrid/examgrid/internal/scoring"
)

// Scorer is satisfied by *scoring.Engine.
type Scorer interface {
	Score(ctx context.Context, sub scoring.Submission) (*scoring.Result, error)
}

// Results is the slice of the result store this service needs.
type Results interface {
	Save(ctx context.Context, r result.ExamResult) (string, error)
	BySubmission(ctx context.Context, submissionID string) (result.ExamResult, error)
}

// Queue is the slice of the submission queue this service needs.
type Queue interface {
	Enqueue(ctx context.Context, sub scoring.Submission, sc queue.SubmitContext) (string, error)
	EnqueueEmergency(ctx context.Context, sub scoring.Submission, sc queue.SubmitContext) (string, error)
	Get(ctx context.Context, submissionID string) (*queue.Entry, error)
	Depth(ctx context.Context) (int, error)
}

// Outcome is the submission acknowledgment. Exactly one branch is set:
// Result for the interactive path, Ack for the queued path. Both mean
// "submission accepted".
type Outcome struct {
	Result *result.ExamResult `json:"result,omitempty"`
	Ack    *QueuedAck         `json:"ack,omitempty"`
}

type QueuedAck struct {
	SubmissionID            string `json:"submission_id"`
	Status                  string `json:"status"` // always "queued"
	EstimatedProcessingTime string `json:"estimated_processing_time"`
}

type Service struct {
	scorer  Scorer
	results Results
	queue   Queue
	auditor *audit.Log
	retry   retry.Config
}

func NewService(scorer Scorer, results Results, q Queue, auditor *audit.Log) *Service {
	return &Service{
		scorer:  scorer,
		results: results,
		queue:   q,
		auditor: auditor,
		retry:   retry.SubmissionConfig(),
	}
}

// Submit tries the interactive path first; transient trouble degrades to
// the queue, then to the emergency backup. Validation, unknown-exam and
// business-rule rejections surface immediately and are never enqueued. Only a failure
// of the emergency write itself becomes a critical, loud error.
func (s *Service) Submit(ctx context.Context, sub scoring.Submission, sc queue.SubmitContext) (Outcome, error) {
	if err := sub.Validate(); err != nil {
		return Outcome{}, err
	}

	// One submission id across retries: a save that half-succeeded before a
	// retry dedups on it instead of producing a second result.
	submissionID := uuid.NewString()
	var scored *result.ExamResult
	err := retry.Do(ctx, s.retry, func(ctx context.Context) error {
		sc, err := s.scorer.Score(ctx, sub)
		if err != nil {
			return err
		}
		rec := result.FromScore(submissionID, sc)
		id, err := s.results.Save(ctx, rec)
		if err != nil {
			return err
		}
		rec.ID = id
		scored = &rec
		return nil
	})
	if err == nil {
		return Outcome{Result: scored}, nil
	}
	if errors.Is(err, scoring.ErrInvalidSubmission) || errors.Is(err, scoring.ErrMaxAttempts) || errors.Is(err, exam.ErrNotFound) {
		return Outcome{}, err
	}

	log.Printf("submission: interactive path failed for exam=%s student=%s, queueing: %v",
		sub.ExamID, sub.StudentID, err)
	return s.enqueueWithBackup(ctx, sub, sc)
}

// EnqueueOnly skips the interactive attempt; used when the caller already
// knows the system is degraded (e.g. the exam window just closed and load
// is spiking).
func (s *Service) EnqueueOnly(ctx context.Context, sub scoring.Submission, sc queue.SubmitContext) (Outcome, error) {
	if err := sub.Validate(); err != nil {
		return Outcome{}, err
	}
	return s.enqueueWithBackup(ctx, sub, sc)
}

func (s *Service) enqueueWithBackup(ctx context.Context, sub scoring.Submission, sc queue.SubmitContext) (Outcome, error) {
	id, err := s.queue.Enqueue(ctx, sub, sc)
	if err == nil {
		s.auditor.Append(ctx, audit.EventEnqueued, id, map[string]any{
			"exam_id": sub.ExamID, "student_id": sub.StudentID,
		})
		return s.queuedOutcome(ctx, id), nil
	}
	if errors.Is(err, scoring.ErrInvalidSubmission) {
		return Outcome{}, err
	}

	log.Printf("submission: enqueue failed for exam=%s student=%s, trying emergency backup: %v",
		sub.ExamID, sub.StudentID, err)
	id, emErr := s.queue.EnqueueEmergency(ctx, sub, sc)
	if emErr != nil {
		// Highest severity: this is the only path where data may be lost.
		log.Printf("submission: CRITICAL emergency backup failed exam=%s student=%s: %v (enqueue error: %v)",
			sub.ExamID, sub.StudentID, emErr, err)
		return Outcome{}, fmt.Errorf("submission could not be stored: %w", emErr)
	}
	s.auditor.Append(ctx, audit.EventEmergencyEnqueued, id, map[string]any{
		"exam_id": sub.ExamID, "student_id": sub.StudentID, "enqueue_error": err.Error(),
	})
	return s.queuedOutcome(ctx, id), nil
}

func (s *Service) queuedOutcome(ctx context.Context, id string) Outcome {
	return Outcome{Ack: &QueuedAck{
		SubmissionID:            id,
		Status:                  string(queue.StatusQueued),
		EstimatedProcessingTime: s.estimate(ctx),
	}}
}

// estimate is a coarse, reassuring figure derived from queue depth.
func (s *Service) estimate(ctx context.Context) string {
	depth, err := s.queue.Depth(ctx)
	if err != nil {
		return "2-3 minutes"
	}
	est := 30*time.Second + time.Duration(depth/50)*time.Minute
	switch {
	case est <= time.Minute:
		return "under a minute"
	case est <= 3*time.Minute:
		return "2-3 minutes"
	default:
		return fmt.Sprintf("about %d minutes", int(est.Minutes())+1)
	}
}
