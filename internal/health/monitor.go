// Package health classifies the analysis backend as healthy or overloaded.
package health

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/kiranshivaraju/motiontrack/internal/metrics"
	"github.com/kiranshivaraju/motiontrack/internal/schedule"
	"github.com/kiranshivaraju/motiontrack/pkg/models"
)

const (
	DefaultInterval        = 2 * time.Minute
	DefaultTimeout         = 10 * time.Second
	DefaultOverloadLatency = 5 * time.Second
)

// Checker checks whether the backend answers its health endpoint.
type Checker interface {
	Health(ctx context.Context) error
}

// Options configures a Monitor. Zero values use the defaults.
type Options struct {
	Interval        time.Duration
	Timeout         time.Duration
	OverloadLatency time.Duration
	Clock           schedule.Clock
}

// Monitor owns the backend health snapshot. Check and Run are the only
// writers; Current may be called from any goroutine.
type Monitor struct {
	checker Checker
	opts   Options
	state  atomic.Pointer[models.HealthState]
	log    *slog.Logger
}

// NewMonitor creates a Monitor that reports healthy until the first check.
func NewMonitor(checker Checker, opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.OverloadLatency <= 0 {
		opts.OverloadLatency = DefaultOverloadLatency
	}
	if opts.Clock == nil {
		opts.Clock = schedule.Real()
	}

	m := &Monitor{
		checker: checker,
		opts:   opts,
		log:    slog.Default().With("component", "health"),
	}
	m.state.Store(&models.HealthState{})
	return m
}

// Current returns the last published snapshot.
func (m *Monitor) Current() models.HealthState {
	return *m.state.Load()
}

// Check runs one health check and publishes the result. A check that errors,
// times out or takes longer than the overload latency marks the backend overloaded.
func (m *Monitor) Check(ctx context.Context) models.HealthState {
	ctx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()

	start := m.opts.Clock.Now()
	err := m.checker.Health(ctx)
	end := m.opts.Clock.Now()
	latency := end.Sub(start)

	next := models.HealthState{
		LastCheck:     end,
		LastLatencyMs: latency.Milliseconds(),
	}
	switch {
	case err != nil:
		next.Overloaded = true
		next.LastError = err.Error()
	case latency > m.opts.OverloadLatency:
		next.Overloaded = true
		next.LastError = "health check exceeded latency threshold"
	}

	prev := m.state.Swap(&next)
	m.record(prev, next)
	return next
}

// Run checks immediately and then on every interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.Check(ctx)

	ticker := m.opts.Clock.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			m.Check(ctx)
		}
	}
}

func (m *Monitor) record(prev *models.HealthState, next models.HealthState) {
	metrics.HealthCheckLatency.Observe(float64(next.LastLatencyMs) / 1000)
	if next.Overloaded {
		metrics.BackendOverloaded.Set(1)
	} else {
		metrics.BackendOverloaded.Set(0)
	}

	if prev != nil && prev.Overloaded == next.Overloaded {
		m.log.Debug("health check", "overloaded", next.Overloaded, "latency_ms", next.LastLatencyMs)
		return
	}
	if next.Overloaded {
		m.log.Warn("backend overloaded, switching to conservative mode",
			"latency_ms", next.LastLatencyMs,
			"error", next.LastError,
		)
		return
	}
	m.log.Info("backend healthy, switching to normal mode", "latency_ms", next.LastLatencyMs)
}
