// Package schedule abstracts wall-clock time so periodic loops and backoff
// waits can be driven by synthetic time in tests. It is a thin layer over
// clockwork that adds context-aware sleeping.
package schedule

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// Ticker delivers ticks on Chan until stopped.
type Ticker = clockwork.Ticker

// Clock is the time source used by every periodic or retrying component.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, whichever comes first.
	Sleep(ctx context.Context, d time.Duration) error
	NewTicker(d time.Duration) Ticker
}

// Real returns a Clock backed by the system clock.
func Real() Clock {
	return clock{cw: clockwork.NewRealClock()}
}

type clock struct {
	cw clockwork.Clock
}

func (c clock) Now() time.Time { return c.cw.Now() }

func (c clock) NewTicker(d time.Duration) Ticker { return c.cw.NewTicker(d) }

func (c clock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := c.cw.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.Chan():
		return nil
	}
}
