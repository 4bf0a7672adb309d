package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/examgrid/examgrid/internal/exam"
	"github.com/examgrid/examgrid/internal/queue"
	"github.com/examgrid/examgrid/internal/scoring"
	"github.com/examgrid/examgrid/internal/submission"
)

type submitRequest struct {
	scoring.Submission
	Context queue.SubmitContext `json:"context"`
}

// POST /submissions
// The caller always gets an "accepted" response when the submission is
// stored: either the scored result (interactive path) or a queued
// acknowledgment. Which one is visible only in the response shape.
func SubmitHandler(svc *submission.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json: "+err.Error(), http.StatusBadRequest)
			return
		}
		out, err := svc.Submit(r.Context(), req.Submission, req.Context)
		if err != nil {
			switch {
			case errors.Is(err, scoring.ErrInvalidSubmission):
				http.Error(w, err.Error(), http.StatusBadRequest)
			case errors.Is(err, scoring.ErrMaxAttempts):
				http.Error(w, err.Error(), http.StatusConflict)
			case errors.Is(err, exam.ErrNotFound):
				http.Error(w, err.Error(), http.StatusNotFound)
			default:
				http.Error(w, "submission failed: "+err.Error(), http.StatusInternalServerError)
			}
			return
		}
		if out.Result != nil {
			writeJSON(w, http.StatusOK, out.Result)
			return
		}
		writeJSON(w, http.StatusAccepted, out.Ack)
	}
}

// GET /submissions/{submissionID}/status
func StatusHandler(svc *submission.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(chi.URLParam(r, "submissionID"))
		if id == "" {
			http.Error(w, "submissionID required", http.StatusBadRequest)
			return
		}
		info, err := svc.Status(r.Context(), id)
		if err != nil {
			if errors.Is(err, queue.ErrNotFound) {
				http.Error(w, "submission not found", http.StatusNotFound)
				return
			}
			http.Error(w, "status: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, info)
	}
}
