// Package tracker owns the set of analysis jobs and their lifecycle.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kiranshivaraju/motiontrack/internal/backend"
	"github.com/kiranshivaraju/motiontrack/internal/metrics"
	"github.com/kiranshivaraju/motiontrack/internal/schedule"
	"github.com/kiranshivaraju/motiontrack/pkg/models"
)

// recordTimeout bounds a single audit write.
const recordTimeout = 5 * time.Second

// Submitter places analysis requests with the backend.
type Submitter interface {
	Submit(ctx context.Context, req backend.SubmitRequest) (*backend.SubmitResponse, error)
}

// Recorder persists job state changes. Failures are logged and otherwise ignored.
type Recorder interface {
	RecordJob(ctx context.Context, job *models.Job, event string) error
}

// SubmitRequest describes a new analysis job.
type SubmitRequest struct {
	VideoName string         `json:"video_filename"`
	SessionID string         `json:"session_id,omitempty"`
	Type      models.JobType `json:"type"`
}

// Options configures a Tracker. MaxRetries <= 0 selects the default.
type Options struct {
	MaxRetries int
	Clock      schedule.Clock
	Limiter    *rate.Limiter
	Recorder   Recorder
}

// Snapshot is a consistent view of the tracker taken under a single lock.
type Snapshot struct {
	Jobs           []*models.Job `json:"jobs"`
	IsProcessing   bool          `json:"is_processing"`
	HasErrors      bool          `json:"has_errors"`
	ProcessingJobs int           `json:"processing_count"`
	CompletedJobs  int           `json:"completed_count"`
	FailedJobs     int           `json:"failed_count"`
}

// Tracker is the authoritative set of jobs. Jobs leave it only through
// RemoveJob and the Clear methods; Processing jobs are never removed.
type Tracker struct {
	mu           sync.Mutex
	jobs         map[string]*models.Job
	order        []string
	onProcessing func()
	// resubmitting holds jobs whose retry submission is in flight. They are
	// Processing but invisible to the poller until the backend answers.
	resubmitting map[string]struct{}

	backend    Submitter
	clock      schedule.Clock
	limiter    *rate.Limiter
	recorder   Recorder
	maxRetries int
	log        *slog.Logger
}

func New(submitter Submitter, opts Options) *Tracker {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = models.DefaultMaxRetries
	}
	if opts.Clock == nil {
		opts.Clock = schedule.Real()
	}
	return &Tracker{
		jobs:         make(map[string]*models.Job),
		resubmitting: make(map[string]struct{}),
		backend:      submitter,
		clock:        opts.Clock,
		limiter:      opts.Limiter,
		recorder:     opts.Recorder,
		maxRetries:   opts.MaxRetries,
		log:          slog.Default().With("component", "tracker"),
	}
}

// SetOnProcessing registers fn to run whenever a job enters Processing.
func (t *Tracker) SetOnProcessing(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onProcessing = fn
}

// Submit sends req to the backend, retrying transient failures with
// exponential backoff, and registers the accepted job. Nothing is registered
// when submission fails.
func (t *Tracker) Submit(ctx context.Context, req SubmitRequest) (*models.Job, error) {
	req.VideoName = strings.TrimSpace(req.VideoName)
	if req.VideoName == "" {
		return nil, fmt.Errorf("%w: video filename is required", ErrInvalidSubmission)
	}
	if req.Type == "" {
		req.Type = models.JobTypeAnalysis
	}
	if req.Type != models.JobTypeAnalysis && req.Type != models.JobTypePerFrame {
		return nil, fmt.Errorf("%w: unknown job type %q", ErrInvalidSubmission, req.Type)
	}

	resp, err := t.submit(ctx, req)
	if err != nil {
		return nil, err
	}

	return t.AddJob(&models.Job{
		ID:        resp.JobID,
		VideoName: req.VideoName,
		SessionID: req.SessionID,
		Type:      req.Type,
	}), nil
}

// submit runs one initial attempt plus up to maxRetries retries. Waits
// between attempts are 1s, 2s, 4s and so on. Permanent errors end the loop at once.
func (t *Tracker) submit(ctx context.Context, req SubmitRequest) (*backend.SubmitResponse, error) {
	breq := backend.SubmitRequest{
		VideoFilename: req.VideoName,
		SessionID:     req.SessionID,
		Type:          req.Type,
	}

	attempts := 0
	for {
		if t.limiter != nil {
			if err := t.limiter.Wait(ctx); err != nil {
				return nil, &SubmitError{Attempts: attempts, Err: err}
			}
		}

		attempts++
		resp, err := t.backend.Submit(ctx, breq)
		if err == nil {
			metrics.SubmitAttemptsTotal.WithLabelValues("accepted").Inc()
			t.log.Info("analysis submitted",
				"job_id", resp.JobID,
				"video_filename", req.VideoName,
				"session_id", req.SessionID,
				"attempt", attempts,
			)
			return resp, nil
		}

		if !backend.IsRetryable(err) {
			metrics.SubmitAttemptsTotal.WithLabelValues("rejected").Inc()
			t.log.Warn("analysis submission rejected",
				"video_filename", req.VideoName,
				"attempt", attempts,
				"error", err,
			)
			return nil, &SubmitError{Attempts: attempts, Err: err}
		}

		metrics.SubmitAttemptsTotal.WithLabelValues("retryable").Inc()
		// maxRetries counts retries after the first call, so the default of
		// 3 allows four calls in total.
		if attempts > t.maxRetries {
			t.log.Error("analysis submission retries exhausted",
				"video_filename", req.VideoName,
				"attempts", attempts,
				"error", err,
			)
			return nil, &SubmitError{Attempts: attempts, Err: err}
		}

		delay := time.Duration(1<<(attempts-1)) * time.Second
		t.log.Warn("analysis backend busy, backing off",
			"video_filename", req.VideoName,
			"attempt", attempts,
			"delay", delay,
			"error", err,
		)
		if serr := t.clock.Sleep(ctx, delay); serr != nil {
			return nil, &SubmitError{Attempts: attempts, Err: err}
		}
	}
}

// AddJob registers job as Processing. A job with the same ID replaces the
// existing entry in its original position.
func (t *Tracker) AddJob(job *models.Job) *models.Job {
	j := job.Clone()
	j.Status = models.JobStatusProcessing
	j.StartTime = t.clock.Now()
	j.EndTime = nil
	if j.MaxRetries <= 0 {
		j.MaxRetries = t.maxRetries
	}

	t.mu.Lock()
	if _, exists := t.jobs[j.ID]; !exists {
		t.order = append(t.order, j.ID)
	}
	t.jobs[j.ID] = j
	out := j.Clone()
	hook := t.onProcessing
	t.refreshGaugesLocked()
	t.mu.Unlock()

	metrics.JobTransitionsTotal.WithLabelValues(string(models.JobStatusProcessing)).Inc()
	t.record(out, models.JobEventSubmitted)
	if hook != nil {
		hook()
	}
	return out
}

// MarkCompleted moves a Processing job to Completed. Unknown or terminal
// jobs are left alone and false is returned.
func (t *Tracker) MarkCompleted(id string, result *models.JobResult) bool {
	return t.finish(id, models.JobStatusCompleted, func(j *models.Job) {
		j.Progress = 100
		if result != nil {
			r := *result
			j.Result = &r
		}
	})
}

// MarkFailed moves a Processing job to Failed with msg as its error.
func (t *Tracker) MarkFailed(id, msg string) bool {
	return t.finish(id, models.JobStatusFailed, func(j *models.Job) {
		j.Error = msg
	})
}

func (t *Tracker) finish(id string, status models.JobStatus, apply func(*models.Job)) bool {
	t.mu.Lock()
	j, ok := t.jobs[id]
	if !ok || j.Status != models.JobStatusProcessing || t.resubmittingLocked(id) {
		t.mu.Unlock()
		return false
	}
	now := t.clock.Now()
	j.Status = status
	j.EndTime = &now
	apply(j)
	out := j.Clone()
	t.refreshGaugesLocked()
	t.mu.Unlock()

	metrics.JobTransitionsTotal.WithLabelValues(string(status)).Inc()
	t.log.Info("job finished", "job_id", id, "status", status, "error", out.Error)
	event := models.JobEventCompleted
	if status == models.JobStatusFailed {
		event = models.JobEventFailed
	}
	t.record(out, event)
	return true
}

// UpdateProgress sets the advisory progress of a Processing job, clamped to 0..100.
func (t *Tracker) UpdateProgress(id string, pct int) bool {
	pct = max(0, min(100, pct))

	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[id]
	if !ok || j.Status != models.JobStatusProcessing || t.resubmittingLocked(id) {
		return false
	}
	j.Progress = pct
	return true
}

// RetryJob resubmits a Failed job that still has retry budget. On success the
// job takes the new backend ID in its existing slot; on failure it is Failed
// again with a readable reason and the submission error is returned.
func (t *Tracker) RetryJob(ctx context.Context, id string) (*models.Job, error) {
	t.mu.Lock()
	j, ok := t.jobs[id]
	if !ok {
		t.mu.Unlock()
		return nil, ErrJobNotFound
	}
	if j.Status != models.JobStatusFailed {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: job is %s", ErrRetryNotAllowed, j.Status)
	}
	if j.RetryCount >= j.MaxRetries {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: retry budget of %d exhausted", ErrRetryNotAllowed, j.MaxRetries)
	}
	j.Status = models.JobStatusProcessing
	j.RetryCount++
	j.Error = ""
	j.EndTime = nil
	j.Progress = 0
	j.Result = nil
	req := SubmitRequest{VideoName: j.VideoName, SessionID: j.SessionID, Type: j.Type}
	retrying := j.Clone()
	hook := t.onProcessing
	t.resubmitting[id] = struct{}{}
	t.refreshGaugesLocked()
	t.mu.Unlock()

	metrics.JobTransitionsTotal.WithLabelValues(string(models.JobStatusProcessing)).Inc()
	t.log.Info("retrying job", "job_id", id, "retry_count", retrying.RetryCount)
	t.record(retrying, models.JobEventRetrying)

	resp, err := t.submit(ctx, req)

	t.mu.Lock()
	delete(t.resubmitting, id)
	if err != nil {
		t.mu.Unlock()
		t.MarkFailed(id, Reason(err))
		job, _ := t.GetJob(id)
		return job, err
	}
	j, ok = t.jobs[id]
	if !ok {
		t.mu.Unlock()
		return nil, ErrJobNotFound
	}
	j.Status = models.JobStatusProcessing
	j.Error = ""
	j.EndTime = nil
	j.StartTime = t.clock.Now()
	var replaced *models.Job
	if resp.JobID != id {
		replaced = j.Clone()
		t.renameLocked(id, resp.JobID)
	}
	out := j.Clone()
	t.refreshGaugesLocked()
	t.mu.Unlock()

	if replaced != nil {
		t.record(replaced, models.JobEventReplaced)
	}
	t.record(out, models.JobEventResubmitted)
	if hook != nil {
		hook()
	}
	return out, nil
}

// renameLocked moves the job at oldID to newID, keeping its position. Any
// other entry already registered under newID is dropped.
func (t *Tracker) renameLocked(oldID, newID string) {
	j := t.jobs[oldID]
	delete(t.jobs, oldID)
	if _, clash := t.jobs[newID]; clash {
		t.order = removeID(t.order, newID)
	}
	j.ID = newID
	t.jobs[newID] = j
	for i, id := range t.order {
		if id == oldID {
			t.order[i] = newID
			break
		}
	}
}

// RemoveJob drops a terminal job. Processing jobs are never removed.
func (t *Tracker) RemoveJob(id string) bool {
	t.mu.Lock()
	j, ok := t.jobs[id]
	if !ok || !j.Status.Terminal() {
		t.mu.Unlock()
		return false
	}
	delete(t.jobs, id)
	t.order = removeID(t.order, id)
	t.refreshGaugesLocked()
	t.mu.Unlock()

	t.record(j, models.JobEventRemoved)
	return true
}

// ClearCompletedJobs removes every Completed job and returns how many were removed.
func (t *Tracker) ClearCompletedJobs() int {
	return t.clear(models.JobStatusCompleted)
}

// ClearFailedJobs removes every Failed job and returns how many were removed.
func (t *Tracker) ClearFailedJobs() int {
	return t.clear(models.JobStatusFailed)
}

func (t *Tracker) clear(status models.JobStatus) int {
	t.mu.Lock()
	var removed []*models.Job
	kept := t.order[:0]
	for _, id := range t.order {
		j := t.jobs[id]
		if j.Status == status {
			removed = append(removed, j)
			delete(t.jobs, id)
			continue
		}
		kept = append(kept, id)
	}
	t.order = kept
	t.refreshGaugesLocked()
	t.mu.Unlock()

	for _, j := range removed {
		t.record(j, models.JobEventRemoved)
	}
	return len(removed)
}

// Restore loads previously recorded jobs, skipping IDs already present.
// It returns the number of jobs added.
func (t *Tracker) Restore(jobs []*models.Job) int {
	t.mu.Lock()
	added := 0
	processing := false
	for _, job := range jobs {
		if job == nil || job.ID == "" {
			continue
		}
		if _, exists := t.jobs[job.ID]; exists {
			continue
		}
		j := job.Clone()
		if j.MaxRetries <= 0 {
			j.MaxRetries = t.maxRetries
		}
		t.jobs[j.ID] = j
		t.order = append(t.order, j.ID)
		added++
		processing = processing || j.Status == models.JobStatusProcessing
	}
	hook := t.onProcessing
	t.refreshGaugesLocked()
	t.mu.Unlock()

	if processing && hook != nil {
		hook()
	}
	return added
}

// ActiveJobs returns copies of all tracked jobs in insertion order.
func (t *Tracker) ActiveJobs() []*models.Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.jobsLocked()
}

func (t *Tracker) GetJob(id string) (*models.Job, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[id]
	if !ok {
		return nil, false
	}
	return j.Clone(), true
}

// ProcessingJobs returns copies of the jobs still awaiting a terminal state.
func (t *Tracker) ProcessingJobs() []*models.Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*models.Job
	for _, id := range t.order {
		if j := t.jobs[id]; j.Status == models.JobStatusProcessing && !t.resubmittingLocked(id) {
			out = append(out, j.Clone())
		}
	}
	return out
}

func (t *Tracker) resubmittingLocked(id string) bool {
	_, ok := t.resubmitting[id]
	return ok
}

func (t *Tracker) IsProcessing() bool {
	return t.count(models.JobStatusProcessing) > 0
}

func (t *Tracker) HasErrors() bool {
	return t.count(models.JobStatusFailed) > 0
}

func (t *Tracker) CompletedJobsCount() int {
	return t.count(models.JobStatusCompleted)
}

func (t *Tracker) FailedJobsCount() int {
	return t.count(models.JobStatusFailed)
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	counts := t.countsLocked()
	return Snapshot{
		Jobs:           t.jobsLocked(),
		IsProcessing:   counts[models.JobStatusProcessing] > 0,
		HasErrors:      counts[models.JobStatusFailed] > 0,
		ProcessingJobs: counts[models.JobStatusProcessing],
		CompletedJobs:  counts[models.JobStatusCompleted],
		FailedJobs:     counts[models.JobStatusFailed],
	}
}

func (t *Tracker) count(status models.JobStatus) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.countsLocked()[status]
}

func (t *Tracker) countsLocked() map[models.JobStatus]int {
	counts := make(map[models.JobStatus]int, 3)
	for _, j := range t.jobs {
		counts[j.Status]++
	}
	return counts
}

func (t *Tracker) jobsLocked() []*models.Job {
	out := make([]*models.Job, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.jobs[id].Clone())
	}
	return out
}

func (t *Tracker) refreshGaugesLocked() {
	counts := t.countsLocked()
	for _, s := range []models.JobStatus{models.JobStatusProcessing, models.JobStatusCompleted, models.JobStatusFailed} {
		metrics.JobsActive.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}

func (t *Tracker) record(job *models.Job, event string) {
	if t.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := t.recorder.RecordJob(ctx, job, event); err != nil {
		t.log.Warn("recording job event failed", "job_id", job.ID, "event", event, "error", err)
	}
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
