package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/examgrid/examgrid/internal/batch"
	"github.com/examgrid/examgrid/internal/capacity"
)

// Purger is the housekeeping slice of the queue store.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

type cronRequest struct {
	BatchSize           int `json:"batchSize,omitempty"`
	MaxProcessingTimeMs int `json:"maxProcessingTimeMs,omitempty"`
}

type cronResponse struct {
	Processed        int    `json:"processed"`
	Succeeded        int    `json:"succeeded"`
	Failed           int    `json:"failed"`
	CronJobID        string `json:"cronJobId"`
	ProcessingTimeMs int64  `json:"processingTimeMs"`
}

// POST /internal/cron/process-submissions
// The trigger for one batch cycle, invoked unconditionally by an external
// scheduler. Guarded by a shared-secret bearer token: a bad credential
// returns 401 with no processing performed.
func ProcessSubmissionsHandler(proc *batch.Processor, advisor *capacity.Advisor, purger Purger, secret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !cronAuthorized(r, secret) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var req cronRequest
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&req) // body is optional
		}
		batchSize := req.BatchSize
		if batchSize <= 0 {
			batchSize = advisor.RecommendBatchSize(r.Context())
		}

		jobID := uuid.NewString()
		sum, err := proc.RunCycle(r.Context(), batchSize, jobID)
		if err != nil {
			log.Printf("cron: cycle %s failed: %v", jobID, err)
			http.Error(w, "batch cycle failed", http.StatusInternalServerError)
			return
		}

		if purged, err := purger.PurgeExpired(r.Context()); err != nil {
			log.Printf("cron: purge failed: %v", err)
		} else if purged > 0 {
			log.Printf("cron: purged %d expired entrie(s)", purged)
		}

		if req.MaxProcessingTimeMs > 0 && sum.Duration > time.Duration(req.MaxProcessingTimeMs)*time.Millisecond {
			log.Printf("cron: cycle %s exceeded requested ceiling %dms (took %s)",
				jobID, req.MaxProcessingTimeMs, sum.Duration)
		}

		writeJSON(w, http.StatusOK, cronResponse{
			Processed:        sum.Processed,
			Succeeded:        sum.Succeeded,
			Failed:           sum.Failed,
			CronJobID:        jobID,
			ProcessingTimeMs: sum.Duration.Milliseconds(),
		})
	}
}

func cronAuthorized(r *http.Request, secret string) bool {
	if secret == "" {
		return false // unconfigured secret locks the endpoint
	}
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return false
	}
	token := strings.TrimPrefix(h, "Bearer ")
	return subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1
}
