// Package handler adapts HTTP requests to the job tracker and media resolver.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kiranshivaraju/motiontrack/internal/api/response"
	"github.com/kiranshivaraju/motiontrack/internal/backend"
	"github.com/kiranshivaraju/motiontrack/internal/store"
	"github.com/kiranshivaraju/motiontrack/internal/tracker"
	"github.com/kiranshivaraju/motiontrack/pkg/models"
)

// JobService is the tracker surface the job endpoints use.
type JobService interface {
	Submit(ctx context.Context, req tracker.SubmitRequest) (*models.Job, error)
	RetryJob(ctx context.Context, id string) (*models.Job, error)
	GetJob(id string) (*models.Job, bool)
	RemoveJob(id string) bool
	ClearCompletedJobs() int
	ClearFailedJobs() int
	Snapshot() tracker.Snapshot
}

// EventLister reads a job's audit trail.
type EventLister interface {
	ListJobEvents(ctx context.Context, jobID string) ([]*store.JobEvent, error)
}

// DefaultSubmitTimeout bounds a submission including its backoff retries.
const DefaultSubmitTimeout = 50 * time.Second

// Jobs serves the /jobs endpoints.
type Jobs struct {
	svc           JobService
	events        EventLister
	submitTimeout time.Duration
}

// NewJobs builds the job handlers. events may be nil, in which case the
// history endpoint answers 501. submitTimeout caps Submit and Retry so the
// response is written before the server's write deadline; <= 0 selects
// DefaultSubmitTimeout.
func NewJobs(svc JobService, events EventLister, submitTimeout time.Duration) *Jobs {
	if submitTimeout <= 0 {
		submitTimeout = DefaultSubmitTimeout
	}
	return &Jobs{svc: svc, events: events, submitTimeout: submitTimeout}
}

// List handles GET /api/v1/jobs.
func (h *Jobs) List(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, h.svc.Snapshot())
}

// Get handles GET /api/v1/jobs/{jobID}.
func (h *Jobs) Get(w http.ResponseWriter, r *http.Request) {
	job, ok := h.svc.GetJob(chi.URLParam(r, "jobID"))
	if !ok {
		response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
		return
	}
	response.JSON(w, job)
}

// Submit handles POST /api/v1/jobs.
func (h *Jobs) Submit(w http.ResponseWriter, r *http.Request) {
	var req tracker.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.submitTimeout)
	defer cancel()

	job, err := h.svc.Submit(ctx, req)
	if err != nil {
		writeSubmitError(w, err, nil)
		return
	}
	response.Accepted(w, job)
}

// Retry handles POST /api/v1/jobs/{jobID}/retry.
func (h *Jobs) Retry(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.submitTimeout)
	defer cancel()

	job, err := h.svc.RetryJob(ctx, chi.URLParam(r, "jobID"))
	switch {
	case err == nil:
		response.Accepted(w, job)
	case errors.Is(err, tracker.ErrJobNotFound):
		response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
	case errors.Is(err, tracker.ErrRetryNotAllowed):
		response.Error(w, http.StatusConflict, "RETRY_NOT_ALLOWED", err.Error(), nil)
	default:
		writeSubmitError(w, err, job)
	}
}

// Events handles GET /api/v1/jobs/{jobID}/events. History outlives the job,
// so removed and replaced IDs still answer while they have events.
func (h *Jobs) Events(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Job history is not available", nil)
		return
	}

	id := chi.URLParam(r, "jobID")
	events, err := h.events.ListJobEvents(r.Context(), id)
	if err != nil {
		slog.Error("listing job events failed", "job_id", id, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
		return
	}
	if len(events) == 0 {
		if _, ok := h.svc.GetJob(id); !ok {
			response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
			return
		}
		events = []*store.JobEvent{}
	}
	response.JSON(w, events)
}

// Delete handles DELETE /api/v1/jobs/{jobID}. Processing jobs cannot be removed.
func (h *Jobs) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	job, ok := h.svc.GetJob(id)
	if !ok {
		response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
		return
	}
	if !h.svc.RemoveJob(id) {
		response.Error(w, http.StatusConflict, "JOB_PROCESSING",
			"Job is still processing and cannot be removed", map[string]string{"status": string(job.Status)})
		return
	}
	response.JSON(w, map[string]int{"removed": 1})
}

// Clear handles DELETE /api/v1/jobs?status=completed|failed.
func (h *Jobs) Clear(w http.ResponseWriter, r *http.Request) {
	var n int
	switch models.JobStatus(r.URL.Query().Get("status")) {
	case models.JobStatusCompleted:
		n = h.svc.ClearCompletedJobs()
	case models.JobStatusFailed:
		n = h.svc.ClearFailedJobs()
	default:
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
			"status must be completed or failed", nil)
		return
	}
	response.JSON(w, map[string]int{"removed": n})
}

// writeSubmitError maps a submission failure onto a status code. job, when
// set, is the failed job left behind by a retry.
func writeSubmitError(w http.ResponseWriter, err error, job *models.Job) {
	var details any
	if job != nil {
		details = job
	}
	var se *tracker.SubmitError
	if errors.As(err, &se) && details == nil {
		details = map[string]int{"attempts": se.Attempts}
	}

	switch {
	case errors.Is(err, tracker.ErrInvalidSubmission):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
	case errors.Is(err, backend.ErrNotFound):
		response.Error(w, http.StatusNotFound, "VIDEO_NOT_FOUND", tracker.Reason(err), details)
	case errors.Is(err, backend.ErrRequestRejected):
		response.Error(w, http.StatusUnprocessableEntity, "ANALYSIS_REJECTED", tracker.Reason(err), details)
	case backend.IsRetryable(err), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		w.Header().Set("Retry-After", "60")
		response.Error(w, http.StatusServiceUnavailable, "BACKEND_OVERLOADED", tracker.Reason(err), details)
	default:
		slog.Error("job submission failed", "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}
