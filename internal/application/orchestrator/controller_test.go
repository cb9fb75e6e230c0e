package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/harshakreox/ghostqa/internal/application/queue"
	"github.com/harshakreox/ghostqa/internal/application/workers"
	"github.com/harshakreox/ghostqa/internal/domain"
)

func TestNewControllerRejectsFatalConfig(t *testing.T) {
	settings := domain.DefaultOrchestratorConfig()
	settings.MaxConcurrentExecutions = 0
	_, err := NewController(&Config{
		Engine:   openEngine(),
		Store:    &fakeStore{},
		Records:  nil,
		Settings: settings,
	})
	if err == nil {
		t.Fatal("expected error")
	}

	f := newFixture(t, openEngine(), nil)
	_, err = NewController(&Config{
		Engine:   f.engine,
		Store:    f.store,
		Records:  f.records,
		Events:   f.ctrl.events,
		Metrics:  f.ctrl.metrics,
		Settings: settings,
	})
	if !errors.Is(err, domain.ErrFatalConfig) {
		t.Fatalf("err = %v, want fatal config", err)
	}
}

func TestLifecycle(t *testing.T) {
	f := newFixture(t, openEngine(), nil)
	var transitions []string
	f.ctrl.OnStateChange(func(from, to State) {
		transitions = append(transitions, fmt.Sprintf("%s->%s", from, to))
	})

	if _, err := f.ctrl.QueueProject("p1", nil); !errors.Is(err, domain.ErrNotRunning) {
		t.Fatalf("enqueue while stopped err = %v", err)
	}

	if s, err := f.ctrl.Start(context.Background()); err != nil || s != StateRunning {
		t.Fatalf("Start = %s, %v", s, err)
	}
	if s, err := f.ctrl.Start(context.Background()); err != nil || s != StateRunning {
		t.Fatalf("second Start = %s, %v", s, err)
	}
	if s, err := f.ctrl.Stop(context.Background(), false); err != nil || s != StateStopped {
		t.Fatalf("Stop = %s, %v", s, err)
	}
	if s, err := f.ctrl.Stop(context.Background(), false); err != nil || s != StateStopped {
		t.Fatalf("second Stop = %s, %v", s, err)
	}

	want := "[stopped->starting starting->running running->stopping stopping->stopped]"
	if fmt.Sprint(transitions) != want {
		t.Fatalf("transitions = %v", transitions)
	}

	// restart works and the queue accepts again
	f.start(t)
	res, err := f.ctrl.QueueProject("p1", nil)
	if err != nil || res.Outcome != queue.Accepted {
		t.Fatalf("enqueue after restart = %+v, %v", res, err)
	}
	f.waitRecords(t, 1)
}

func TestStartDisabledIsPaused(t *testing.T) {
	f := newFixture(t, openEngine(), func(c *domain.OrchestratorConfig) { c.Enabled = false })
	s, err := f.ctrl.Start(context.Background())
	if err != nil || s != StatePaused {
		t.Fatalf("Start = %s, %v", s, err)
	}
	if _, err := f.ctrl.QueueFeature("p", "f", nil); err != nil {
		t.Fatalf("paused controller rejected enqueue: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if f.engine.Calls() != 0 {
		t.Fatal("paused controller executed work")
	}
}

func TestDefaultPriorities(t *testing.T) {
	f := newFixture(t, openEngine(), func(c *domain.OrchestratorConfig) { c.Enabled = false })
	f.start(t)

	feat, err := f.ctrl.QueueFeature("p", "f", nil)
	if err != nil {
		t.Fatal(err)
	}
	proj, err := f.ctrl.QueueProject("p", nil)
	if err != nil {
		t.Fatal(err)
	}
	if feat.Pending.Priority != domain.PriorityHigh || proj.Pending.Priority != domain.PriorityNormal {
		t.Fatalf("priorities = %s, %s", feat.Pending.Priority, proj.Pending.Priority)
	}
	if _, err := f.ctrl.QueueFeature("p", "", nil); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("missing feature err = %v", err)
	}
	if _, err := f.ctrl.QueueProject("p", ptr(domain.Priority(9))); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("bad priority err = %v", err)
	}
}

func TestTwoOfThreeRunConcurrently(t *testing.T) {
	engine := newGatedEngine()
	f := newFixture(t, engine, func(c *domain.OrchestratorConfig) { c.MaxConcurrentExecutions = 2 })
	f.start(t)

	for i := 0; i < 3; i++ {
		if _, err := f.ctrl.QueueFeature("p", fmt.Sprintf("f%d", i), nil); err != nil {
			t.Fatal(err)
		}
	}

	waitFor(t, func() bool { return f.ctrl.Status(context.Background()).RunningCount == 2 })
	time.Sleep(30 * time.Millisecond)
	st := f.ctrl.Status(context.Background())
	if st.RunningCount != 2 || st.QueueSize != 1 {
		t.Fatalf("running = %d queued = %d, want 2 and 1", st.RunningCount, st.QueueSize)
	}

	close(engine.release)
	recs := f.waitRecords(t, 3)
	for id, r := range recs {
		if r.Status != domain.RecordStatusSuccess {
			t.Fatalf("record %s = %s", id, r.Status)
		}
	}
}

func TestRaisingLimitAdmitsWaitingWork(t *testing.T) {
	engine := newGatedEngine()
	defer close(engine.release)
	f := newFixture(t, engine, func(c *domain.OrchestratorConfig) { c.MaxConcurrentExecutions = 1 })
	f.start(t)

	for i := 0; i < 3; i++ {
		_, _ = f.ctrl.QueueFeature("p", fmt.Sprintf("f%d", i), nil)
	}
	waitFor(t, func() bool { return f.ctrl.runner.RunningCount() == 1 })

	if _, err := f.ctrl.UpdateConfig(domain.ConfigPatch{MaxConcurrentExecutions: ptr(3)}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return f.ctrl.runner.RunningCount() == 3 })
	if f.ctrl.pool.Size() < 3 {
		t.Fatalf("pool size = %d after raising limit", f.ctrl.pool.Size())
	}
}

func TestUpdateConfigValidation(t *testing.T) {
	f := newFixture(t, openEngine(), nil)
	before := f.ctrl.GetConfig()

	_, err := f.ctrl.UpdateConfig(domain.ConfigPatch{MaxConcurrentExecutions: ptr(0)})
	var fatal *domain.FatalConfigError
	if !errors.As(err, &fatal) {
		t.Fatalf("err = %v, want FatalConfigError", err)
	}
	_, err = f.ctrl.UpdateConfig(domain.ConfigPatch{Enabled: ptr(false), MaxConcurrentExecutions: ptr(-1)})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	_, err = f.ctrl.UpdateConfig(domain.ConfigPatch{PollIntervalSeconds: ptr(0), DiscoveryIntervalSeconds: ptr(10)})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want ValidationError", err)
	}

	if after := f.ctrl.GetConfig(); after != before {
		t.Fatalf("rejected update changed config: %+v", after)
	}
	if f.ctrl.gate.Limit() != before.MaxConcurrentExecutions {
		t.Fatal("rejected update resized the gate")
	}
}

func TestPauseAndResumeThroughConfig(t *testing.T) {
	f := newFixture(t, openEngine(), nil)
	f.start(t)

	if _, err := f.ctrl.UpdateConfig(domain.ConfigPatch{Enabled: ptr(false)}); err != nil {
		t.Fatal(err)
	}
	if f.ctrl.State() != StatePaused {
		t.Fatalf("state = %s, want paused", f.ctrl.State())
	}
	res, err := f.ctrl.QueueFeature("p", "f", nil)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * time.Millisecond)
	if f.engine.Calls() != 0 {
		t.Fatal("paused controller executed work")
	}

	if _, err := f.ctrl.UpdateConfig(domain.ConfigPatch{Enabled: ptr(true)}); err != nil {
		t.Fatal(err)
	}
	if f.ctrl.State() != StateRunning {
		t.Fatalf("state = %s, want running", f.ctrl.State())
	}
	recs := f.waitRecords(t, 1)
	if recs[res.Pending.ID].Status != domain.RecordStatusSuccess {
		t.Fatalf("record = %+v", recs[res.Pending.ID])
	}
}

func TestUpgradeWhilePending(t *testing.T) {
	f := newFixture(t, openEngine(), func(c *domain.OrchestratorConfig) { c.Enabled = false })
	f.start(t)

	low, err := f.ctrl.QueueFeature("p", "checkout", ptr(domain.PriorityLow))
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.ctrl.QueueFeature("p", "other", ptr(domain.PriorityHigh))
	crit, err := f.ctrl.QueueFeature("p", "checkout", ptr(domain.PriorityCritical))
	if err != nil {
		t.Fatal(err)
	}
	if crit.Outcome != queue.Upgraded || crit.Pending.ID != low.Pending.ID {
		t.Fatalf("second enqueue = %+v", crit)
	}

	pending := f.ctrl.Queue()
	if len(pending) != 2 || pending[0].FeatureID != "checkout" || pending[0].Priority != domain.PriorityCritical {
		t.Fatalf("queue = %+v", pending)
	}

	dup, _ := f.ctrl.QueueFeature("p", "checkout", ptr(domain.PriorityNormal))
	if dup.Outcome != queue.Deduplicated || len(f.ctrl.Queue()) != 2 {
		t.Fatalf("dedup = %+v", dup)
	}
}

func TestGracefulStopWithInFlight(t *testing.T) {
	engine := newGatedEngine()
	f := newFixture(t, engine, func(c *domain.OrchestratorConfig) { c.MaxConcurrentExecutions = 2 })
	f.start(t)

	var ids []string
	for i := 0; i < 3; i++ {
		res, err := f.ctrl.QueueFeature("p", fmt.Sprintf("f%d", i), nil)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, res.Pending.ID)
	}
	waitFor(t, func() bool { return f.ctrl.runner.RunningCount() == 2 })

	type stopResult struct {
		state State
		err   error
	}
	done := make(chan stopResult, 1)
	go func() {
		s, err := f.ctrl.Stop(context.Background(), false)
		done <- stopResult{s, err}
	}()

	waitFor(t, func() bool { return f.ctrl.State() == StateStopping })
	if _, err := f.ctrl.QueueProject("p", nil); !errors.Is(err, domain.ErrNotRunning) {
		t.Fatalf("enqueue while stopping err = %v", err)
	}
	if _, err := f.ctrl.Start(context.Background()); !errors.Is(err, ErrStopInProgress) {
		t.Fatalf("start while stopping err = %v", err)
	}

	close(engine.release)
	select {
	case r := <-done:
		if r.err != nil || r.state != StateStopped {
			t.Fatalf("Stop = %s, %v", r.state, r.err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("stop did not finish")
	}

	recs := f.waitRecords(t, 3)
	var success, cancelled int
	for _, id := range ids {
		switch recs[id].Status {
		case domain.RecordStatusSuccess:
			success++
		case domain.RecordStatusCancelled:
			cancelled++
			if recs[id].Attempts != 0 {
				t.Fatalf("never-run request reports %d attempts", recs[id].Attempts)
			}
		}
	}
	if success != 2 || cancelled != 1 {
		t.Fatalf("success = %d cancelled = %d, want 2 and 1", success, cancelled)
	}
	if f.records.Len() != 3 {
		t.Fatalf("records = %d, want exactly one per request", f.records.Len())
	}
}

func TestHardStopCancelsInFlight(t *testing.T) {
	engine := newGatedEngine()
	defer close(engine.release)
	f := newFixture(t, engine, nil)
	f.start(t)

	res, _ := f.ctrl.QueueFeature("p", "f", nil)
	waitFor(t, func() bool { return f.ctrl.runner.RunningCount() == 1 })

	if _, err := f.ctrl.Stop(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	rec, err := f.ctrl.Record(context.Background(), res.Pending.ID)
	if err != nil || rec.Status != domain.RecordStatusCancelled {
		t.Fatalf("record = %+v, %v", rec, err)
	}
}

func TestDrainTimeoutReported(t *testing.T) {
	engine := newGatedEngine()
	defer close(engine.release)
	f := newFixture(t, engine, nil)
	f.start(t)
	_, _ = f.ctrl.QueueFeature("p", "f", nil)
	waitFor(t, func() bool { return f.ctrl.runner.RunningCount() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	s, err := f.ctrl.Stop(ctx, false)
	if s != StateStopped || !errors.Is(err, workers.ErrDrainTimeout) {
		t.Fatalf("Stop = %s, %v", s, err)
	}
}

func TestRetryCeilingProducesSingleFailure(t *testing.T) {
	engine := openEngine()
	engine.fn = func(int) (*domain.ExecutionResult, error) {
		return nil, domain.Transient(errors.New("browser crashed"))
	}
	f := newFixture(t, engine, func(c *domain.OrchestratorConfig) { c.RetryCeiling = 2 })
	f.start(t)

	res, _ := f.ctrl.QueueFeature("p", "f", nil)
	recs := f.waitRecords(t, 1)
	rec := recs[res.Pending.ID]
	if rec == nil || rec.Status != domain.RecordStatusFailure || rec.Attempts != 3 {
		t.Fatalf("record = %+v", rec)
	}
	time.Sleep(20 * time.Millisecond)
	if f.records.Len() != 1 || engine.Calls() != 3 {
		t.Fatalf("records = %d calls = %d", f.records.Len(), engine.Calls())
	}
}

func TestStopCancelsScheduledRetries(t *testing.T) {
	engine := openEngine()
	engine.fn = func(int) (*domain.ExecutionResult, error) {
		return nil, domain.Transient(errors.New("timeout"))
	}
	f := newFixture(t, engine, func(c *domain.OrchestratorConfig) {
		c.RetryBaseDelay = domain.Duration(time.Hour)
		c.RetryMaxDelay = domain.Duration(time.Hour)
	})
	f.start(t)

	res, _ := f.ctrl.QueueFeature("p", "f", nil)
	waitFor(t, func() bool { return len(f.ctrl.runner.PendingRetries()) == 1 })

	if _, err := f.ctrl.Stop(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	rec, err := f.ctrl.Record(context.Background(), res.Pending.ID)
	if err != nil || rec.Status != domain.RecordStatusCancelled || rec.Summary != cancelledRetryOnStop {
		t.Fatalf("record = %+v, %v", rec, err)
	}
}

func TestStatusAndHistory(t *testing.T) {
	f := newFixture(t, openEngine(), nil)
	f.start(t)

	res, _ := f.ctrl.QueueProject("p", nil)
	f.waitRecords(t, 1)

	st := f.ctrl.Status(context.Background())
	if st.State != StateRunning || st.StartedAt == nil || st.ConcurrencyLimit != 2 {
		t.Fatalf("status = %+v", st)
	}
	if len(st.QueueDepth) != domain.NumPriorities {
		t.Fatalf("queue depth = %v", st.QueueDepth)
	}
	if st.Outcomes[domain.RecordStatusSuccess] != 1 || len(st.RecentRecords) != 1 {
		t.Fatalf("outcomes = %v recent = %d", st.Outcomes, len(st.RecentRecords))
	}

	hist, err := f.ctrl.History(context.Background(), 0)
	if err != nil || len(hist) != 1 || hist[0].RequestID != res.Pending.ID {
		t.Fatalf("history = %+v, %v", hist, err)
	}
	if _, err := f.ctrl.Record(context.Background(), "nope"); !errors.Is(err, domain.ErrRecordNotFound) {
		t.Fatalf("missing record err = %v", err)
	}
}
