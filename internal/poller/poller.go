// Package poller reconciles tracked jobs with the backend's session records.
package poller

import (
	"context"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/motiontrack/internal/backend"
	"github.com/kiranshivaraju/motiontrack/internal/metrics"
	"github.com/kiranshivaraju/motiontrack/internal/schedule"
	"github.com/kiranshivaraju/motiontrack/pkg/models"
)

const DefaultInterval = 5 * time.Second

// JobTracker is the subset of the tracker the poller drives.
type JobTracker interface {
	IsProcessing() bool
	ProcessingJobs() []*models.Job
	MarkCompleted(id string, result *models.JobResult) bool
	MarkFailed(id, msg string) bool
	UpdateProgress(id string, pct int) bool
}

// Backend lists sessions and reports per-job status.
type Backend interface {
	ListSessions(ctx context.Context) ([]models.Session, error)
	JobStatus(ctx context.Context, jobID string) (*backend.JobStatus, error)
}

// SessionStore holds the latest known session records.
type SessionStore interface {
	Upsert(s models.Session) bool
	Get(id string) (models.Session, bool)
	FindByVideo(name string) (models.Session, bool)
	Len() int
}

// Warmer refreshes cached media for a session that just changed.
type Warmer interface {
	Warm(ctx context.Context, s *models.Session)
}

type Options struct {
	Interval time.Duration
	Clock    schedule.Clock
}

// Poller ticks only while at least one job is Processing. Wake moves it out
// of the idle state.
type Poller struct {
	tracker  JobTracker
	backend  Backend
	sessions SessionStore
	warmer   Warmer
	clock    schedule.Clock
	interval time.Duration
	wake     chan struct{}
	log      *slog.Logger
}

func New(tracker JobTracker, be Backend, sessions SessionStore, warmer Warmer, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Clock == nil {
		opts.Clock = schedule.Real()
	}
	return &Poller{
		tracker:  tracker,
		backend:  be,
		sessions: sessions,
		warmer:   warmer,
		clock:    opts.Clock,
		interval: opts.Interval,
		wake:     make(chan struct{}, 1),
		log:      slog.Default().With("component", "poller"),
	}
}

// Wake signals that a job entered Processing. It never blocks.
func (p *Poller) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run alternates between idling and ticking until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	for ctx.Err() == nil {
		if !p.tracker.IsProcessing() {
			select {
			case <-ctx.Done():
				return
			case <-p.wake:
			}
		}
		p.tick(ctx)
	}
}

func (p *Poller) tick(ctx context.Context) {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()
	p.log.Debug("polling started")

	for p.tracker.IsProcessing() {
		select {
		case <-ctx.Done():
			return
		case <-p.wake:
		case <-ticker.Chan():
			p.Poll(ctx)
		}
	}
	p.log.Debug("polling stopped, no jobs processing")
}

// Sync fetches the session list and stores it without touching any job.
func (p *Poller) Sync(ctx context.Context) error {
	sessions, err := p.backend.ListSessions(ctx)
	if err != nil {
		return err
	}
	changed := 0
	for _, s := range sessions {
		if p.sessions.Upsert(s) {
			changed++
		}
	}
	p.log.Debug("sessions synced",
		"fetched", len(sessions),
		"changed", changed,
		"known", p.sessions.Len(),
	)
	return nil
}

// Poll runs one reconciliation pass. Backend errors end the pass early and
// are only logged.
func (p *Poller) Poll(ctx context.Context) {
	if err := p.Sync(ctx); err != nil {
		metrics.PollTicksTotal.WithLabelValues("error").Inc()
		p.log.Warn("fetching sessions failed", "error", err)
		return
	}
	metrics.PollTicksTotal.WithLabelValues("ok").Inc()

	for _, job := range p.tracker.ProcessingJobs() {
		s, ok := p.sessionFor(job)
		if !ok {
			if job.Type == models.JobTypePerFrame {
				p.checkJobStatus(ctx, job)
			}
			continue
		}
		if !s.Terminal() {
			continue
		}

		switch s.Phase() {
		case models.SessionCompleted:
			if p.tracker.MarkCompleted(job.ID, resultFromSession(&s)) {
				p.log.Info("job completed", "job_id", job.ID, "session_id", s.ID)
				p.warmer.Warm(ctx, &s)
			}
		case models.SessionFailed:
			msg := s.Error
			if msg == "" {
				msg = "Analysis failed on the server"
			}
			if p.tracker.MarkFailed(job.ID, msg) {
				p.log.Warn("job failed", "job_id", job.ID, "session_id", s.ID, "error", msg)
			}
		}
	}
}

func (p *Poller) sessionFor(job *models.Job) (models.Session, bool) {
	if job.SessionID != "" {
		if s, ok := p.sessions.Get(job.SessionID); ok {
			return s, true
		}
	}
	return p.sessions.FindByVideo(job.VideoName)
}

func (p *Poller) checkJobStatus(ctx context.Context, job *models.Job) {
	st, err := p.backend.JobStatus(ctx, job.ID)
	if err != nil {
		p.log.Debug("job status unavailable", "job_id", job.ID, "error", err)
		return
	}

	switch st.Status {
	case "completed":
		p.tracker.MarkCompleted(job.ID, &models.JobResult{
			AnalyticsFile:   st.AnalyticsFile,
			OverlayVideo:    st.OverlayVideo,
			TotalFrames:     st.TotalFrames,
			FramesProcessed: st.FramesProcessed,
		})
	case "failed", "error":
		msg := st.Error
		if msg == "" {
			msg = "Per-frame analysis failed on the server"
		}
		p.tracker.MarkFailed(job.ID, msg)
	default:
		pct := st.Progress
		if pct == 0 && st.TotalFrames > 0 {
			pct = st.FramesProcessed * 100 / st.TotalFrames
		}
		p.tracker.UpdateProgress(job.ID, pct)
	}
}

func resultFromSession(s *models.Session) *models.JobResult {
	return &models.JobResult{
		AnalyticsFile:          s.AnalyticsFilename,
		OverlayVideo:           s.ProcessedVideoFilename,
		ProcessedVideoFilename: s.ProcessedVideoFilename,
		ProcessedVideoURL:      s.ProcessedVideoURL,
	}
}
