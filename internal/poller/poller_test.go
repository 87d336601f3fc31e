package poller

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/motiontrack/internal/backend"
	"github.com/kiranshivaraju/motiontrack/internal/schedule"
	"github.com/kiranshivaraju/motiontrack/internal/sessions"
	"github.com/kiranshivaraju/motiontrack/internal/tracker"
	"github.com/kiranshivaraju/motiontrack/pkg/models"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeBackend struct {
	mu        sync.Mutex
	sessions  []models.Session
	listErr   error
	statuses  map[string]*backend.JobStatus
	listCalls int
}

func (b *fakeBackend) ListSessions(context.Context) ([]models.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listCalls++
	if b.listErr != nil {
		return nil, b.listErr
	}
	return append([]models.Session(nil), b.sessions...), nil
}

func (b *fakeBackend) JobStatus(_ context.Context, id string) (*backend.JobStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.statuses[id]
	if !ok {
		return nil, backend.ErrNotFound
	}
	return st, nil
}

func (b *fakeBackend) setSessions(ss ...models.Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions = ss
}

func (b *fakeBackend) ListCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listCalls
}

type recordingWarmer struct {
	mu  sync.Mutex
	ids []string
}

func (w *recordingWarmer) Warm(_ context.Context, s *models.Session) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ids = append(w.ids, s.ID)
}

func (w *recordingWarmer) IDs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.ids...)
}

type noSubmit struct{}

func (noSubmit) Submit(context.Context, backend.SubmitRequest) (*backend.SubmitResponse, error) {
	return nil, errors.New("not used")
}

type fixture struct {
	poller   *Poller
	tracker  *tracker.Tracker
	backend  *fakeBackend
	registry *sessions.Registry
	warmer   *recordingWarmer
	clock    *schedule.Fake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := schedule.NewFake(epoch)
	tr := tracker.New(noSubmit{}, tracker.Options{Clock: clk})
	be := &fakeBackend{statuses: map[string]*backend.JobStatus{}}
	reg := sessions.NewRegistry()
	w := &recordingWarmer{}
	p := New(tr, be, reg, w, Options{Clock: clk})
	tr.SetOnProcessing(p.Wake)
	return &fixture{poller: p, tracker: tr, backend: be, registry: reg, warmer: w, clock: clk}
}

func status(t *testing.T, tr *tracker.Tracker, id string) models.JobStatus {
	t.Helper()
	j, ok := tr.GetJob(id)
	require.True(t, ok, "job %s missing", id)
	return j.Status
}

func TestPoll_CompletesJobBySessionID(t *testing.T) {
	fx := newFixture(t)
	fx.tracker.AddJob(&models.Job{ID: "j1", SessionID: "s1", VideoName: "jump.mp4"})
	fx.backend.setSessions(models.Session{
		ID:                     "s1",
		Status:                 "completed",
		ProcessedVideoFilename: "analyzed_jump.mp4",
		AnalyticsFilename:      "jump_analytics.json",
	})

	fx.poller.Poll(context.Background())

	j, _ := fx.tracker.GetJob("j1")
	assert.Equal(t, models.JobStatusCompleted, j.Status)
	require.NotNil(t, j.Result)
	assert.Equal(t, "analyzed_jump.mp4", j.Result.ProcessedVideoFilename)
	assert.Equal(t, "jump_analytics.json", j.Result.AnalyticsFile)
	assert.Equal(t, []string{"s1"}, fx.warmer.IDs())

	_, ok := fx.registry.Get("s1")
	assert.True(t, ok)
}

func TestPoll_MatchesByVideoName(t *testing.T) {
	fx := newFixture(t)
	fx.tracker.AddJob(&models.Job{ID: "j1", VideoName: "jump.mp4"})
	fx.backend.setSessions(models.Session{ID: "s7", Status: "completed", OriginalFilename: "jump.mp4"})

	fx.poller.Poll(context.Background())

	assert.Equal(t, models.JobStatusCompleted, status(t, fx.tracker, "j1"))
}

func TestPoll_FailsJobWithSessionError(t *testing.T) {
	fx := newFixture(t)
	fx.tracker.AddJob(&models.Job{ID: "j1", SessionID: "s1"})
	fx.tracker.AddJob(&models.Job{ID: "j2", SessionID: "s2"})
	fx.backend.setSessions(
		models.Session{ID: "s1", Status: "failed", Error: "pose model crashed"},
		models.Session{ID: "s2", Status: "processing", ProcessingStatus: "failed"},
	)

	fx.poller.Poll(context.Background())

	j1, _ := fx.tracker.GetJob("j1")
	assert.Equal(t, models.JobStatusFailed, j1.Status)
	assert.Equal(t, "pose model crashed", j1.Error)
	j2, _ := fx.tracker.GetJob("j2")
	assert.Equal(t, "Analysis failed on the server", j2.Error)
	assert.Empty(t, fx.warmer.IDs())
}

func TestPoll_LeavesProcessingSessionsAlone(t *testing.T) {
	fx := newFixture(t)
	fx.tracker.AddJob(&models.Job{ID: "j1", SessionID: "s1"})
	fx.backend.setSessions(models.Session{ID: "s1", Status: "processing", ProcessingStatus: "analyzing"})

	fx.poller.Poll(context.Background())

	assert.Equal(t, models.JobStatusProcessing, status(t, fx.tracker, "j1"))
}

func TestPoll_PerFrameJobFallsBackToJobStatus(t *testing.T) {
	fx := newFixture(t)
	fx.tracker.AddJob(&models.Job{ID: "pf1", VideoName: "a.mp4", Type: models.JobTypePerFrame})
	fx.tracker.AddJob(&models.Job{ID: "pf2", VideoName: "b.mp4", Type: models.JobTypePerFrame})
	fx.tracker.AddJob(&models.Job{ID: "pf3", VideoName: "c.mp4", Type: models.JobTypePerFrame})
	fx.backend.statuses["pf1"] = &backend.JobStatus{Status: "processing", FramesProcessed: 30, TotalFrames: 120}
	fx.backend.statuses["pf2"] = &backend.JobStatus{Status: "completed", AnalyticsFile: "b.json", TotalFrames: 90, FramesProcessed: 90}
	fx.backend.statuses["pf3"] = &backend.JobStatus{Status: "error", Error: "decoder failed"}

	fx.poller.Poll(context.Background())

	pf1, _ := fx.tracker.GetJob("pf1")
	assert.Equal(t, models.JobStatusProcessing, pf1.Status)
	assert.Equal(t, 25, pf1.Progress)

	pf2, _ := fx.tracker.GetJob("pf2")
	assert.Equal(t, models.JobStatusCompleted, pf2.Status)
	assert.Equal(t, "b.json", pf2.Result.AnalyticsFile)

	pf3, _ := fx.tracker.GetJob("pf3")
	assert.Equal(t, models.JobStatusFailed, pf3.Status)
	assert.Equal(t, "decoder failed", pf3.Error)
}

func TestPoll_FetchErrorChangesNothing(t *testing.T) {
	fx := newFixture(t)
	fx.tracker.AddJob(&models.Job{ID: "j1", SessionID: "s1"})
	fx.backend.listErr = backend.ErrBackendUnreachable

	fx.poller.Poll(context.Background())

	assert.Equal(t, models.JobStatusProcessing, status(t, fx.tracker, "j1"))
	assert.Zero(t, fx.registry.Len())
}

func TestSync_UpsertsWithoutReconciling(t *testing.T) {
	fx := newFixture(t)
	fx.tracker.AddJob(&models.Job{ID: "j1", SessionID: "s1"})
	fx.backend.setSessions(models.Session{ID: "s1", Status: "completed"}, models.Session{ID: "s2", Status: "uploaded"})

	require.NoError(t, fx.poller.Sync(context.Background()))

	assert.Equal(t, 2, fx.registry.Len())
	assert.Equal(t, models.JobStatusProcessing, status(t, fx.tracker, "j1"))
}

func TestRun_TicksWhileProcessingThenIdles(t *testing.T) {
	fx := newFixture(t)
	fx.backend.setSessions(models.Session{ID: "s1", Status: "processing"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		fx.poller.Run(ctx)
		close(done)
	}()

	// Idle: no ticker while nothing is processing.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, fx.clock.BlockUntil(waitCtx(t), 0))

	fx.tracker.AddJob(&models.Job{ID: "j1", SessionID: "s1"})
	require.NoError(t, fx.clock.BlockUntil(waitCtx(t), 1))

	fx.clock.Advance(DefaultInterval)
	require.Eventually(t, func() bool { return fx.backend.ListCalls() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, models.JobStatusProcessing, status(t, fx.tracker, "j1"))

	fx.backend.setSessions(models.Session{ID: "s1", Status: "completed"})
	fx.clock.Advance(DefaultInterval)
	require.Eventually(t, func() bool {
		j, _ := fx.tracker.GetJob("j1")
		return j.Status == models.JobStatusCompleted
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, fx.clock.BlockUntil(waitCtx(t), 0))

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestPoll_AgainstHTTPBackend(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/getSessions":
			io.WriteString(w, `{"success":true,"sessions":[{"_id":"s1","status":"completed","processed_video_filename":"analyzed_a.mp4","athlete_id":"x"}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	clk := schedule.NewFake(epoch)
	tr := tracker.New(noSubmit{}, tracker.Options{Clock: clk})
	reg := sessions.NewRegistry()
	p := New(tr, backend.NewHTTPClient(ts.URL, time.Second), reg, &recordingWarmer{}, Options{Clock: clk})

	tr.AddJob(&models.Job{ID: "j1", SessionID: "s1"})
	p.Poll(context.Background())

	assert.Equal(t, models.JobStatusCompleted, status(t, tr, "j1"))
	s, ok := reg.Get("s1")
	require.True(t, ok)
	assert.Contains(t, string(s.Raw), "athlete_id")
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)
	return ctx
}
