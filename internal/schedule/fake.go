package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type fakeClockwork interface {
	clockwork.Clock
	Advance(d time.Duration)
	BlockUntilContext(ctx context.Context, n int) error
}

// Fake is a manually advanced Clock. Sleep returns immediately after moving
// the clock forward and records the requested duration.
type Fake struct {
	fc fakeClockwork

	mu     sync.Mutex
	sleeps []time.Duration
}

// NewFake returns a Fake clock starting at start.
func NewFake(start time.Time) *Fake {
	return &Fake{fc: clockwork.NewFakeClockAt(start)}
}

func (f *Fake) Now() time.Time { return f.fc.Now() }

func (f *Fake) NewTicker(d time.Duration) Ticker { return f.fc.NewTicker(d) }

func (f *Fake) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	f.sleeps = append(f.sleeps, d)
	f.mu.Unlock()
	f.fc.Advance(d)
	return nil
}

// Sleeps returns every duration passed to Sleep, in call order.
func (f *Fake) Sleeps() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, len(f.sleeps))
	copy(out, f.sleeps)
	return out
}

// Advance moves the clock forward by d, firing due tickers. A tick that finds
// the channel full is dropped, as with time.Ticker.
func (f *Fake) Advance(d time.Duration) {
	f.fc.Advance(d)
}

// BlockUntil waits until exactly n tickers or timers are running on the clock.
func (f *Fake) BlockUntil(ctx context.Context, n int) error {
	return f.fc.BlockUntilContext(ctx, n)
}
