package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/examgrid/examgrid/internal/audit"
	"github.com/examgrid/examgrid/internal/capacity"
	"github.com/examgrid/examgrid/internal/queue"
)

// AdminQueue is the monitoring/intervention slice of the queue store.
type AdminQueue interface {
	Stats(ctx context.Context) (queue.Stats, error)
	RetryFailed(ctx context.Context, submissionID string) error
}

// GET /admin/queue/stats
func QueueStatsHandler(q AdminQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := q.Stats(r.Context())
		if err != nil {
			http.Error(w, "queue stats: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

// GET /admin/capacity
func CapacityHandler(advisor *capacity.Advisor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]int{
			"recommended_batch_size": advisor.RecommendBatchSize(r.Context()),
		})
	}
}

// POST /admin/queue/{submissionID}/retry
// Resets a terminal failed entry back to queued with elevated priority.
func RetrySubmissionHandler(q AdminQueue, auditor *audit.Log) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(chi.URLParam(r, "submissionID"))
		if id == "" {
			http.Error(w, "submissionID required", http.StatusBadRequest)
			return
		}
		if err := q.RetryFailed(r.Context(), id); err != nil {
			if errors.Is(err, queue.ErrNotFound) {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			http.Error(w, "retry: "+err.Error(), http.StatusInternalServerError)
			return
		}
		auditor.Append(r.Context(), audit.EventAdminRetry, id, nil)
		writeJSON(w, http.StatusOK, map[string]string{"submission_id": id, "status": string(queue.StatusQueued)})
	}
}
