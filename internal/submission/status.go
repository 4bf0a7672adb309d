package submission

import (
	"context"
	"errors"
	"fmt"

	"github.com/examgrid/examgrid/internal/queue"
	"github.com/examgrid/examgrid/internal/result"
)

// StatusInfo is the user-facing view of a queued submission: raw state
// plus a human-readable progress descriptor, and the result summary once
// processing completed.
type StatusInfo struct {
	SubmissionID string       `json:"submission_id"`
	Status       queue.Status `json:"status"`

	Stage   string `json:"stage"`
	Percent int    `json:"percent"`
	Message string `json:"message"`

	Attempts    int    `json:"attempts,omitempty"`
	NextRetryAt int64  `json:"next_retry_at,omitempty"`
	LastError   string `json:"last_error,omitempty"`

	Result *result.Summary `json:"result,omitempty"`
}

// Status resolves the current state of a queued submission.
func (s *Service) Status(ctx context.Context, submissionID string) (StatusInfo, error) {
	e, err := s.queue.Get(ctx, submissionID)
	if err != nil {
		return StatusInfo{}, fmt.Errorf("status %s: %w", submissionID, err)
	}

	info := StatusInfo{
		SubmissionID: e.SubmissionID,
		Status:       e.Status,
		Attempts:     e.Attempts,
		NextRetryAt:  e.NextRetryAt,
	}
	if len(e.Errors) > 0 {
		info.LastError = e.Errors[len(e.Errors)-1].Message
	}

	switch e.Status {
	case queue.StatusQueued:
		info.Stage, info.Percent = "Queued", 10
		info.Message = "Submission received and waiting to be scored."
	case queue.StatusProcessing:
		info.Stage, info.Percent = "Scoring", 60
		info.Message = "Your answers are being evaluated."
	case queue.StatusRetrying:
		info.Stage, info.Percent = "Retry scheduled", 40
		info.Message = "A temporary issue occurred; scoring will retry shortly."
	case queue.StatusCompleted:
		info.Stage, info.Percent = "Completed", 100
		info.Message = "Scoring finished. Your result is ready."
		res, err := s.results.BySubmission(ctx, submissionID)
		if err == nil {
			summary := res.Summary()
			info.Result = &summary
		} else if !errors.Is(err, result.ErrNotFound) {
			return info, err
		}
	case queue.StatusFailed:
		info.Stage, info.Percent = "Failed", 100
		info.Message = "Scoring did not complete. The team has been notified; your answers are safe."
	default:
		info.Stage = "Unknown"
		info.Message = "Submission is in an unexpected state."
	}
	return info, nil
}
