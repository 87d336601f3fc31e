package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/motiontrack/internal/schedule"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeChecker advances the fake clock by delay to simulate a slow backend.
type fakeChecker struct {
	mu    sync.Mutex
	clock *schedule.Fake
	delay time.Duration
	err   error
	calls int
}

func (p *fakeChecker) Health(ctx context.Context) error {
	p.mu.Lock()
	p.calls++
	delay, err := p.delay, p.err
	p.mu.Unlock()

	if delay > 0 {
		p.clock.Advance(delay)
	}
	return err
}

func (p *fakeChecker) set(delay time.Duration, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay, p.err = delay, err
}

func (p *fakeChecker) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func newMonitor(t *testing.T) (*Monitor, *fakeChecker, *schedule.Fake) {
	t.Helper()
	clk := schedule.NewFake(epoch)
	p := &fakeChecker{clock: clk}
	return NewMonitor(p, Options{Clock: clk}), p, clk
}

func TestMonitor_HealthyUntilFirstCheck(t *testing.T) {
	m, _, _ := newMonitor(t)

	st := m.Current()
	assert.False(t, st.Overloaded)
	assert.True(t, st.LastCheck.IsZero())
	assert.Equal(t, "normal", st.Mode())
}

func TestMonitor_FastCheckIsHealthy(t *testing.T) {
	m, p, _ := newMonitor(t)
	p.set(200*time.Millisecond, nil)

	st := m.Check(context.Background())

	assert.False(t, st.Overloaded)
	assert.Equal(t, int64(200), st.LastLatencyMs)
	assert.Equal(t, epoch.Add(200*time.Millisecond), st.LastCheck)
	assert.Equal(t, st, m.Current())
}

func TestMonitor_SlowCheckIsOverloaded(t *testing.T) {
	m, p, _ := newMonitor(t)
	p.set(6*time.Second, nil)

	st := m.Check(context.Background())

	assert.True(t, st.Overloaded)
	assert.Equal(t, int64(6000), st.LastLatencyMs)
	assert.Equal(t, "conservative", m.Current().Mode())
}

func TestMonitor_ErrorIsOverloaded(t *testing.T) {
	m, p, _ := newMonitor(t)
	p.set(0, errors.New("connection refused"))

	st := m.Check(context.Background())

	assert.True(t, st.Overloaded)
	assert.Equal(t, "connection refused", st.LastError)
}

func TestMonitor_RecoversAfterOverload(t *testing.T) {
	m, p, _ := newMonitor(t)

	p.set(6*time.Second, nil)
	require.True(t, m.Check(context.Background()).Overloaded)

	p.set(100*time.Millisecond, nil)
	st := m.Check(context.Background())
	assert.False(t, st.Overloaded)
	assert.Empty(t, st.LastError)
}

func TestMonitor_CheckHonoursTimeout(t *testing.T) {
	clk := schedule.NewFake(epoch)
	blocking := checkerFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	m := NewMonitor(blocking, Options{Clock: clk, Timeout: 20 * time.Millisecond})

	st := m.Check(context.Background())
	assert.True(t, st.Overloaded)
	assert.Contains(t, st.LastError, "deadline exceeded")
}

func TestMonitor_RunChecksImmediatelyThenOnInterval(t *testing.T) {
	m, p, clk := newMonitor(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	require.NoError(t, clk.BlockUntil(waitCtx(t), 1))
	assert.Equal(t, 1, p.Calls())

	clk.Advance(DefaultInterval)
	require.Eventually(t, func() bool { return p.Calls() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	require.NoError(t, clk.BlockUntil(waitCtx(t), 0))
}

type checkerFunc func(ctx context.Context) error

func (f checkerFunc) Health(ctx context.Context) error { return f(ctx) }

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)
	return ctx
}
