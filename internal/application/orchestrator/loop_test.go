package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/harshakreox/ghostqa/internal/domain"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestIntervalChangeAppliesAtNextWake(t *testing.T) {
	f := newFixture(t, openEngine(), nil)
	f.ctrl.SetClock(func() time.Time { return t0 })
	f.start(t)

	first := f.discTimer.next(t)
	if first.d != 300*time.Second {
		t.Fatalf("first sleep = %s, want 300s", first.d)
	}

	if _, err := f.ctrl.UpdateConfig(domain.ConfigPatch{DiscoveryIntervalSeconds: ptr(60)}); err != nil {
		t.Fatal(err)
	}
	first.fire <- t0

	second := f.discTimer.next(t)
	if second.d != 60*time.Second {
		t.Fatalf("sleep after update = %s, want 60s", second.d)
	}
	if st := f.ctrl.Status(context.Background()).Discovery; st.Ticks != 1 {
		t.Fatalf("discovery ticks = %d, want 1", st.Ticks)
	}
}

func TestInactiveLoopSleepsWithoutTicking(t *testing.T) {
	f := newFixture(t, openEngine(), nil)
	f.start(t)

	// regression is off by default
	call := f.regTimer.next(t)
	if call.d != 24*time.Hour {
		t.Fatalf("regression sleep = %s", call.d)
	}
	call.fire <- time.Now()
	f.regTimer.next(t)
	if st := f.ctrl.Status(context.Background()).Regression; st.Ticks != 0 || st.Active {
		t.Fatalf("regression status = %+v", st)
	}
}

func TestDiscoveryTick(t *testing.T) {
	f := newFixture(t, openEngine(), func(c *domain.OrchestratorConfig) { c.Enabled = false })
	f.ctrl.SetClock(func() time.Time { return t0 })
	f.store.set(func(s *fakeStore) {
		s.units = []domain.ChangedUnit{
			{ProjectID: "p", FeatureID: "new", CreatedAt: t0.Add(time.Minute), ModifiedAt: t0.Add(time.Minute)},
			{ProjectID: "p", FeatureID: "changed", CreatedAt: t0.Add(-24 * time.Hour), ModifiedAt: t0.Add(2 * time.Minute)},
			{ProjectID: "p", FeatureID: "stale", CreatedAt: t0.Add(-48 * time.Hour), ModifiedAt: t0.Add(-time.Hour)},
			{ProjectID: "q", CreatedAt: t0.Add(30 * time.Second), ModifiedAt: t0.Add(30 * time.Second)},
		}
	})
	f.start(t)

	queued, err := f.ctrl.TriggerDiscovery(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if queued != 3 {
		t.Fatalf("queued = %d, want 3", queued)
	}

	got := map[string]domain.ExecutionRequest{}
	for _, req := range f.ctrl.Queue() {
		got[req.ProjectID+"/"+req.FeatureID] = req
	}
	if r := got["p/new"]; r.Priority != domain.PriorityHigh || r.Kind != domain.KindFeature || r.Source != domain.SourceDiscovery {
		t.Fatalf("new feature request = %+v", r)
	}
	if r := got["p/changed"]; r.Priority != domain.PriorityNormal {
		t.Fatalf("changed feature request = %+v", r)
	}
	if r := got["q/"]; r.Kind != domain.KindProject || r.Priority != domain.PriorityHigh {
		t.Fatalf("new project request = %+v", r)
	}
	if _, ok := got["p/stale"]; ok {
		t.Fatal("unit older than the watermark was queued")
	}
	if wm := f.ctrl.discovery.Watermark(); !wm.Equal(t0.Add(2 * time.Minute)) {
		t.Fatalf("watermark = %s", wm)
	}

	again, err := f.ctrl.TriggerDiscovery(context.Background())
	if err != nil || again != 0 {
		t.Fatalf("second tick queued %d, %v", again, err)
	}
	f.store.mu.Lock()
	lastSince := f.store.sinces[len(f.store.sinces)-1]
	f.store.mu.Unlock()
	if !lastSince.Equal(t0.Add(2 * time.Minute)) {
		t.Fatalf("second scan since = %s", lastSince)
	}
}

func TestDiscoverySkipsChangesWhenAutoRunOff(t *testing.T) {
	f := newFixture(t, openEngine(), func(c *domain.OrchestratorConfig) {
		c.Enabled = false
		c.AutoRunOnFeatureChange = false
	})
	f.ctrl.SetClock(func() time.Time { return t0 })
	f.store.set(func(s *fakeStore) {
		s.units = []domain.ChangedUnit{
			{ProjectID: "p", FeatureID: "changed", CreatedAt: t0.Add(-time.Hour), ModifiedAt: t0.Add(time.Minute)},
		}
	})
	f.start(t)

	queued, err := f.ctrl.TriggerDiscovery(context.Background())
	if err != nil || queued != 0 || len(f.ctrl.Queue()) != 0 {
		t.Fatalf("queued = %d, %v", queued, err)
	}
	if wm := f.ctrl.discovery.Watermark(); !wm.Equal(t0.Add(time.Minute)) {
		t.Fatalf("watermark = %s, want it past the skipped change", wm)
	}
}

func TestDiscoveryStoreFailure(t *testing.T) {
	f := newFixture(t, openEngine(), func(c *domain.OrchestratorConfig) { c.Enabled = false })
	f.ctrl.SetClock(func() time.Time { return t0 })
	f.store.set(func(s *fakeStore) { s.err = errors.New("connection refused") })
	f.start(t)

	_, err := f.ctrl.TriggerDiscovery(context.Background())
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("err = %v, want store unavailable", err)
	}
	st := f.ctrl.Status(context.Background()).Discovery
	if st.LastError == "" || st.LastErrorAt == nil || st.Ticks != 1 {
		t.Fatalf("discovery status = %+v", st)
	}
	if wm := f.ctrl.discovery.Watermark(); !wm.Equal(t0) {
		t.Fatalf("watermark moved on failure: %s", wm)
	}
	if f.ctrl.State() != StatePaused {
		t.Fatalf("state = %s after failed tick", f.ctrl.State())
	}

	// the loop survives the failure and keeps sleeping
	f.store.set(func(s *fakeStore) { s.err = nil })
	if _, err := f.ctrl.TriggerDiscovery(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestRegressionSweep(t *testing.T) {
	f := newFixture(t, openEngine(), func(c *domain.OrchestratorConfig) { c.Enabled = false })
	f.store.set(func(s *fakeStore) { s.projects = []string{"p1", "p2", ""} })
	f.start(t)

	queued, err := f.ctrl.TriggerRegression(context.Background())
	if err != nil || queued != 2 {
		t.Fatalf("queued = %d, %v", queued, err)
	}
	for _, req := range f.ctrl.Queue() {
		if req.Kind != domain.KindRegression || req.Priority != domain.PriorityBackground || req.Source != domain.SourceRegression {
			t.Fatalf("regression request = %+v", req)
		}
	}

	// a second sweep while the first is still pending is absorbed by dedup
	queued, _ = f.ctrl.TriggerRegression(context.Background())
	if queued != 0 || len(f.ctrl.Queue()) != 2 {
		t.Fatalf("second sweep queued %d, queue = %d", queued, len(f.ctrl.Queue()))
	}
}

func TestRegressionLoopTicksWhenEnabled(t *testing.T) {
	f := newFixture(t, openEngine(), func(c *domain.OrchestratorConfig) {
		c.ContinuousRegressionEnabled = true
		c.RegressionIntervalHours = 6
	})
	f.store.set(func(s *fakeStore) { s.projects = []string{"p1"} })
	f.start(t)

	call := f.regTimer.next(t)
	if call.d != 6*time.Hour {
		t.Fatalf("sleep = %s", call.d)
	}
	call.fire <- time.Now()
	f.regTimer.next(t)

	recs := f.waitRecords(t, 1)
	for _, r := range recs {
		if r.Kind != domain.KindRegression || r.ProjectID != "p1" {
			t.Fatalf("record = %+v", r)
		}
	}
}

func TestTriggerRequiresActiveController(t *testing.T) {
	f := newFixture(t, openEngine(), nil)
	if _, err := f.ctrl.TriggerRegression(context.Background()); !errors.Is(err, domain.ErrNotRunning) {
		t.Fatalf("err = %v", err)
	}
}
