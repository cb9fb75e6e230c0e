package workers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/harshakreox/ghostqa/internal/application/gate"
	"github.com/harshakreox/ghostqa/internal/application/queue"
	"github.com/harshakreox/ghostqa/internal/domain"
	eventsmemory "github.com/harshakreox/ghostqa/pkg/adapters/events/memory"
	metricsprom "github.com/harshakreox/ghostqa/pkg/adapters/metrics/prometheus"
	storagememory "github.com/harshakreox/ghostqa/pkg/adapters/storage/memory"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zaptest"
)

type staticConfig struct {
	mu  sync.Mutex
	cfg domain.OrchestratorConfig
}

func (s *staticConfig) Snapshot() domain.OrchestratorConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

type engineFunc func(ctx context.Context, target domain.Target, call int) (*domain.ExecutionResult, error)

// fakeEngine counts calls and tracks how many run at once.
type fakeEngine struct {
	fn engineFunc

	mu      sync.Mutex
	calls   int
	running int
	peak    int
	order   []string
}

func (e *fakeEngine) Execute(ctx context.Context, target domain.Target, _ domain.ExecuteOptions) (*domain.ExecutionResult, error) {
	e.mu.Lock()
	e.calls++
	call := e.calls
	e.running++
	if e.running > e.peak {
		e.peak = e.running
	}
	e.order = append(e.order, target.FeatureID)
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running--
		e.mu.Unlock()
	}()
	return e.fn(ctx, target, call)
}

func (e *fakeEngine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *fakeEngine) Peak() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peak
}

func (e *fakeEngine) Order() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.order...)
}

func passed(context.Context, domain.Target, int) (*domain.ExecutionResult, error) {
	return &domain.ExecutionResult{Status: domain.ExecutionPassed, Summary: "ok"}, nil
}

type harness struct {
	engine  *fakeEngine
	queue   *queue.Queue
	gate    *gate.Gate
	records *storagememory.RecordStore
	config  *staticConfig
	runner  *Runner
	pool    *Pool
}

func newHarness(t *testing.T, limit int, fn engineFunc) *harness {
	t.Helper()
	cfg := domain.DefaultOrchestratorConfig()
	cfg.MaxConcurrentExecutions = limit
	cfg.RetryBaseDelay = 0
	cfg.RetryMaxDelay = 0

	g, err := gate.New(limit)
	if err != nil {
		t.Fatal(err)
	}
	h := &harness{
		engine:  &fakeEngine{fn: fn},
		queue:   queue.New(),
		gate:    g,
		records: storagememory.NewRecordStore(100),
		config:  &staticConfig{cfg: cfg},
	}
	logger := zaptest.NewLogger(t)
	metrics := metricsprom.NewCollectorWithRegistry(prometheus.NewRegistry())
	h.runner = NewRunner(h.engine, h.queue, h.gate, h.records, eventsmemory.NewInMemoryEventBus(), metrics, h.config, logger)
	h.pool = NewPool(h.runner, h.queue, h.gate, metrics, h.config, logger)
	return h
}

func (h *harness) setConfig(update func(*domain.OrchestratorConfig)) {
	h.config.mu.Lock()
	update(&h.config.cfg)
	h.config.mu.Unlock()
}

func (h *harness) enqueue(t *testing.T, id, feature string, p domain.Priority) {
	t.Helper()
	_, err := h.queue.Enqueue(&domain.ExecutionRequest{
		ID:         id,
		Kind:       domain.KindFeature,
		ProjectID:  "proj",
		FeatureID:  feature,
		Priority:   p,
		Source:     domain.SourceAPI,
		EnqueuedAt: time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func (h *harness) waitRecords(t *testing.T, n int) []*domain.ExecutionRecord {
	t.Helper()
	waitFor(t, func() bool { return h.records.Len() >= n })
	recs, _ := h.records.List(context.Background(), 0)
	return recs
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

func byID(recs []*domain.ExecutionRecord) map[string]*domain.ExecutionRecord {
	out := make(map[string]*domain.ExecutionRecord, len(recs))
	for _, r := range recs {
		out[r.RequestID] = r
	}
	return out
}
