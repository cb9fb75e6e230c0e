package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/harshakreox/ghostqa/internal/application/workers"
	"github.com/harshakreox/ghostqa/internal/domain"
	"go.uber.org/zap"
)

// timerFunc returns a channel that fires after d and a stop function.
type timerFunc func(d time.Duration) (<-chan time.Time, func() bool)

func realTimer(d time.Duration) (<-chan time.Time, func() bool) {
	t := time.NewTimer(d)
	return t.C, t.Stop
}

// LoopStatus is the observable state of an interval loop.
type LoopStatus struct {
	Name        string     `json:"name"`
	Active      bool       `json:"active"`
	Interval    string     `json:"interval"`
	Ticks       int        `json:"ticks"`
	LastTick    *time.Time `json:"last_tick,omitempty"`
	LastQueued  int        `json:"last_queued"`
	LastError   string     `json:"last_error,omitempty"`
	LastErrorAt *time.Time `json:"last_error_at,omitempty"`
}

// intervalLoop sleeps for the configured interval, then ticks if the loop
// is active. The interval is re-read before every sleep.
type intervalLoop struct {
	name     string
	interval func(domain.OrchestratorConfig) time.Duration
	active   func(domain.OrchestratorConfig) bool
	tick     func(ctx context.Context) (int, error)

	config   workers.ConfigSource
	newTimer timerFunc
	now      func() time.Time
	metrics  domain.MetricsCollector
	events   domain.EventBus
	logger   *zap.Logger

	// serializes ticks from the loop and manual triggers
	tickMu sync.Mutex

	mu          sync.RWMutex
	ticks       int
	lastTick    time.Time
	lastQueued  int
	lastErr     string
	lastErrorAt time.Time
}

func (l *intervalLoop) run(ctx context.Context) {
	l.logger.Info("loop started", zap.String("loop", l.name))
	defer l.logger.Info("loop stopped", zap.String("loop", l.name))

	for {
		d := l.interval(l.config.Snapshot())
		fire, stop := l.newTimer(d)
		select {
		case <-ctx.Done():
			stop()
			return
		case <-fire:
		}
		if !l.active(l.config.Snapshot()) {
			continue
		}
		_, _ = l.runTick(ctx)
	}
}

// runTick runs one tick, recovering panics, and records its outcome.
func (l *intervalLoop) runTick(ctx context.Context) (queued int, err error) {
	l.tickMu.Lock()
	defer l.tickMu.Unlock()

	func() {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("%s tick panicked: %v", l.name, p)
			}
		}()
		queued, err = l.tick(ctx)
	}()

	at := l.now()
	l.mu.Lock()
	l.ticks++
	l.lastTick = at
	l.lastQueued = queued
	if err != nil {
		l.lastErr = err.Error()
		l.lastErrorAt = at
	}
	l.mu.Unlock()

	l.metrics.RecordLoopTick(l.name, err)

	if err != nil {
		l.logger.Error("loop tick failed",
			zap.String("loop", l.name),
			zap.Int("queued", queued),
			zap.Error(err))
		l.publish(ctx, domain.EventLoopError, map[string]interface{}{
			"loop":  l.name,
			"error": err.Error(),
		})
		return queued, err
	}

	l.logger.Info("loop tick complete",
		zap.String("loop", l.name),
		zap.Int("queued", queued))
	l.publish(ctx, domain.EventLoopTick, map[string]interface{}{
		"loop":   l.name,
		"queued": queued,
	})
	return queued, nil
}

func (l *intervalLoop) status() LoopStatus {
	cfg := l.config.Snapshot()
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := LoopStatus{
		Name:       l.name,
		Active:     l.active(cfg),
		Interval:   l.interval(cfg).String(),
		Ticks:      l.ticks,
		LastQueued: l.lastQueued,
		LastError:  l.lastErr,
	}
	if !l.lastTick.IsZero() {
		t := l.lastTick
		s.LastTick = &t
	}
	if !l.lastErrorAt.IsZero() {
		t := l.lastErrorAt
		s.LastErrorAt = &t
	}
	return s
}

func (l *intervalLoop) publish(ctx context.Context, t domain.EventType, data map[string]interface{}) {
	if err := l.events.Publish(context.WithoutCancel(ctx), domain.EventsTopic, domain.NewEvent(t, "", data)); err != nil {
		l.logger.Warn("failed to publish loop event", zap.String("loop", l.name), zap.Error(err))
	}
}
