package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/harshakreox/ghostqa/internal/domain"
	eventsmemory "github.com/harshakreox/ghostqa/pkg/adapters/events/memory"
	metricsprom "github.com/harshakreox/ghostqa/pkg/adapters/metrics/prometheus"
	storagememory "github.com/harshakreox/ghostqa/pkg/adapters/storage/memory"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zaptest"
)

func ptr[T any](v T) *T { return &v }

type fakeStore struct {
	mu       sync.Mutex
	units    []domain.ChangedUnit
	projects []string
	err      error
	sinces   []time.Time
}

func (s *fakeStore) ListChangedSince(_ context.Context, since time.Time) ([]domain.ChangedUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinces = append(s.sinces, since)
	if s.err != nil {
		return nil, s.err
	}
	return append([]domain.ChangedUnit(nil), s.units...), nil
}

func (s *fakeStore) ListAllProjects(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]string(nil), s.projects...), nil
}

func (s *fakeStore) set(update func(*fakeStore)) {
	s.mu.Lock()
	update(s)
	s.mu.Unlock()
}

// gatedEngine blocks every execution until release is closed and reports
// the result of fn.
type gatedEngine struct {
	release chan struct{}
	fn      func(call int) (*domain.ExecutionResult, error)

	mu    sync.Mutex
	calls int
}

func newGatedEngine() *gatedEngine {
	return &gatedEngine{release: make(chan struct{})}
}

func openEngine() *gatedEngine {
	e := newGatedEngine()
	close(e.release)
	return e
}

func (e *gatedEngine) Execute(ctx context.Context, _ domain.Target, _ domain.ExecuteOptions) (*domain.ExecutionResult, error) {
	e.mu.Lock()
	e.calls++
	call := e.calls
	e.mu.Unlock()

	<-e.release
	if e.fn != nil {
		return e.fn(call)
	}
	return &domain.ExecutionResult{Status: domain.ExecutionPassed, Summary: "all scenarios passed"}, nil
}

func (e *gatedEngine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// manualTimer hands every requested sleep to the test.
type manualTimer struct {
	waits chan timerCall
}

type timerCall struct {
	d    time.Duration
	fire chan time.Time
}

func newManualTimer() *manualTimer {
	return &manualTimer{waits: make(chan timerCall, 16)}
}

func (m *manualTimer) newTimer(d time.Duration) (<-chan time.Time, func() bool) {
	call := timerCall{d: d, fire: make(chan time.Time, 1)}
	m.waits <- call
	return call.fire, func() bool { return true }
}

func (m *manualTimer) next(t *testing.T) timerCall {
	t.Helper()
	select {
	case call := <-m.waits:
		return call
	case <-time.After(3 * time.Second):
		t.Fatal("loop never slept")
		return timerCall{}
	}
}

type fixture struct {
	ctrl      *Controller
	engine    *gatedEngine
	store     *fakeStore
	records   *storagememory.RecordStore
	discTimer *manualTimer
	regTimer  *manualTimer
}

func newFixture(t *testing.T, engine *gatedEngine, tweak func(*domain.OrchestratorConfig)) *fixture {
	t.Helper()
	settings := domain.DefaultOrchestratorConfig()
	settings.RetryBaseDelay = 0
	settings.RetryMaxDelay = 0
	if tweak != nil {
		tweak(&settings)
	}

	f := &fixture{
		engine:    engine,
		store:     &fakeStore{},
		records:   storagememory.NewRecordStore(100),
		discTimer: newManualTimer(),
		regTimer:  newManualTimer(),
	}
	ctrl, err := NewController(&Config{
		Engine:   engine,
		Store:    f.store,
		Records:  f.records,
		Events:   eventsmemory.NewInMemoryEventBus(),
		Metrics:  metricsprom.NewCollectorWithRegistry(prometheus.NewRegistry()),
		Logger:   zaptest.NewLogger(t),
		Settings: settings,
	})
	if err != nil {
		t.Fatal(err)
	}
	ctrl.loop(loopDiscovery).newTimer = f.discTimer.newTimer
	ctrl.loop(loopRegression).newTimer = f.regTimer.newTimer
	f.ctrl = ctrl
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, _ = ctrl.Stop(ctx, true)
	})
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	if _, err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) waitRecords(t *testing.T, n int) map[string]*domain.ExecutionRecord {
	t.Helper()
	waitFor(t, func() bool { return f.records.Len() >= n })
	recs, _ := f.records.List(context.Background(), 0)
	out := make(map[string]*domain.ExecutionRecord, len(recs))
	for _, r := range recs {
		out[r.RequestID] = r
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(2 * time.Millisecond)
	}
}
