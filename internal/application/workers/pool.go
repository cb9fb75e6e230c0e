package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harshakreox/ghostqa/internal/application/gate"
	"github.com/harshakreox/ghostqa/internal/application/queue"
	"github.com/harshakreox/ghostqa/internal/domain"
	"go.uber.org/zap"
)

// ErrDrainTimeout is returned by Shutdown when a graceful drain ran out of
// time and in-flight executions were abandoned.
var ErrDrainTimeout = errors.New("graceful drain timed out, in-flight executions abandoned")

// Pool manages the runner worker goroutines.
type Pool struct {
	runner  *Runner
	queue   *queue.Queue
	gate    *gate.Gate
	metrics domain.MetricsCollector
	logger  *zap.Logger
	health  *HealthMonitor

	mu         sync.Mutex
	workers    []*worker
	wg         sync.WaitGroup
	claimCtx   context.Context
	stopClaim  context.CancelFunc
	execCtx    context.Context
	abandonRun context.CancelFunc
	started    bool
}

// worker represents a single worker goroutine
type worker struct {
	id      string
	pool    *Pool
	status  WorkerStatus
	mu      sync.RWMutex
	lastJob time.Time
}

// WorkerStatus represents worker status
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusBusy    WorkerStatus = "busy"
	WorkerStatusStopped WorkerStatus = "stopped"
)

// NewPool creates a stopped worker pool.
func NewPool(
	runner *Runner,
	q *queue.Queue,
	g *gate.Gate,
	metrics domain.MetricsCollector,
	config ConfigSource,
	logger *zap.Logger,
) *Pool {
	pool := &Pool{
		runner:  runner,
		queue:   q,
		gate:    g,
		metrics: metrics,
		logger:  logger,
	}
	pool.health = NewHealthMonitor(pool, config, logger)
	return pool
}

// Start launches size workers. Starting a started pool is an error.
func (p *Pool) Start(size int) error {
	if size < 1 {
		return fmt.Errorf("worker pool size must be at least 1, got %d", size)
	}

	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return errors.New("worker pool already started")
	}
	p.started = true
	p.claimCtx, p.stopClaim = context.WithCancel(context.Background())
	p.execCtx, p.abandonRun = context.WithCancel(context.Background())
	p.workers = nil
	p.spawnLocked(size)
	p.mu.Unlock()

	p.health.Start()

	p.logger.Info("worker pool started", zap.Int("workers", size))
	return nil
}

// EnsureWorkers grows a started pool to at least n workers. Pools never
// shrink; the gate bounds how many of them execute.
func (p *Pool) EnsureWorkers(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started || n <= len(p.workers) {
		return
	}
	added := n - len(p.workers)
	p.spawnLocked(added)
	p.logger.Info("worker pool grown", zap.Int("added", added), zap.Int("workers", len(p.workers)))
}

func (p *Pool) spawnLocked(n int) {
	for i := 0; i < n; i++ {
		w := &worker{
			id:      fmt.Sprintf("worker-%d", len(p.workers)),
			pool:    p,
			status:  WorkerStatusIdle,
			lastJob: time.Now(),
		}
		p.workers = append(p.workers, w)

		p.wg.Add(1)
		go w.run(p.claimCtx, p.execCtx)
	}
}

// Shutdown stops workers from claiming new requests and waits for them to
// exit. With hard set, in-flight executions are abandoned immediately;
// otherwise they finish, unless ctx ends first, in which case they are
// abandoned and ErrDrainTimeout is returned.
func (p *Pool) Shutdown(ctx context.Context, hard bool) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = false
	stopClaim, abandonRun := p.stopClaim, p.abandonRun
	p.mu.Unlock()

	p.logger.Info("shutting down worker pool", zap.Bool("hard", hard))

	p.health.Stop()
	stopClaim()
	if hard {
		abandonRun()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Warn("graceful drain timed out, abandoning in-flight executions")
		abandonRun()
		<-done
		err = ErrDrainTimeout
	}
	abandonRun()

	p.logger.Info("worker pool shut down complete")
	return err
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// GetStatus returns the status of all workers
func (p *Pool) GetStatus() map[string]WorkerStatus {
	p.mu.Lock()
	workers := append([]*worker(nil), p.workers...)
	p.mu.Unlock()

	status := make(map[string]WorkerStatus, len(workers))
	for _, w := range workers {
		w.mu.RLock()
		status[w.id] = w.status
		w.mu.RUnlock()
	}
	return status
}

// run is the main worker loop
func (w *worker) run(claimCtx, execCtx context.Context) {
	defer w.pool.wg.Done()

	w.pool.logger.Debug("worker started", zap.String("worker_id", w.id))

	for claimCtx.Err() == nil {
		// Permits are only held while a request is being claimed or run,
		// so a shrunken limit binds idle workers immediately.
		if err := w.pool.queue.WaitReady(claimCtx); err != nil {
			break
		}
		permit, err := w.pool.gate.Acquire(claimCtx)
		if err != nil {
			break
		}
		if claimCtx.Err() != nil {
			permit.Release()
			break
		}
		req, ok := w.pool.queue.Claim()
		if !ok {
			permit.Release()
			continue
		}

		w.setStatus(WorkerStatusBusy)
		w.pool.runner.Execute(execCtx, req, permit, w.id)
		w.setStatus(WorkerStatusIdle)
	}

	w.setStatus(WorkerStatusStopped)
	w.pool.logger.Debug("worker stopped", zap.String("worker_id", w.id))
}

func (w *worker) setStatus(s WorkerStatus) {
	w.mu.Lock()
	w.status = s
	if s == WorkerStatusBusy {
		w.lastJob = time.Now()
	}
	w.mu.Unlock()
}
