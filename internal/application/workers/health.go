package workers

import (
	"sync"
	"time"

	"github.com/harshakreox/ghostqa/internal/domain"
	"go.uber.org/zap"
)

// HealthMonitor monitors worker health
type HealthMonitor struct {
	pool   *Pool
	config ConfigSource
	logger *zap.Logger

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// HealthStatus represents the health status of the worker pool
type HealthStatus struct {
	TotalWorkers     int                     `json:"total_workers"`
	IdleWorkers      int                     `json:"idle_workers"`
	BusyWorkers      int                     `json:"busy_workers"`
	StoppedWorkers   int                     `json:"stopped_workers"`
	QueueDepth       map[domain.Priority]int `json:"-"`
	PermitsInUse     int                     `json:"permits_in_use"`
	ConcurrencyLimit int                     `json:"concurrency_limit"`
	Healthy          bool                    `json:"healthy"`
	Timestamp        time.Time               `json:"timestamp"`
}

// NewHealthMonitor creates a new health monitor
func NewHealthMonitor(pool *Pool, config ConfigSource, logger *zap.Logger) *HealthMonitor {
	return &HealthMonitor{
		pool:   pool,
		config: config,
		logger: logger,
	}
}

// Start starts the health monitor
func (h *HealthMonitor) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return
	}
	h.running = true
	h.stopCh = make(chan struct{})
	h.doneCh = make(chan struct{})

	go h.run(h.stopCh, h.doneCh)
}

// Stop stops the health monitor and waits for its loop to exit.
func (h *HealthMonitor) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	stopCh, doneCh := h.stopCh, h.doneCh
	h.mu.Unlock()

	close(stopCh)
	<-doneCh
}

// run re-reads the poll interval before every wait so config updates take
// effect at the next wake.
func (h *HealthMonitor) run(stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	for {
		timer := time.NewTimer(h.config.Snapshot().PollInterval())
		select {
		case <-stopCh:
			timer.Stop()
			return
		case <-timer.C:
			h.checkHealth()
		}
	}
}

// checkHealth checks worker health and logs status
func (h *HealthMonitor) checkHealth() {
	status := h.GetStatus()

	h.logger.Info("worker pool health check",
		zap.Int("total", status.TotalWorkers),
		zap.Int("idle", status.IdleWorkers),
		zap.Int("busy", status.BusyWorkers),
		zap.Int("stopped", status.StoppedWorkers),
		zap.Int("permits_in_use", status.PermitsInUse),
		zap.Int("concurrency_limit", status.ConcurrencyLimit),
		zap.Bool("healthy", status.Healthy))

	// Record metrics
	h.pool.metrics.RecordWorkerPoolStatus(
		status.IdleWorkers,
		status.BusyWorkers,
		status.StoppedWorkers,
	)
	h.pool.metrics.SetConcurrencyLimit(status.ConcurrencyLimit)
	for p, depth := range status.QueueDepth {
		h.pool.metrics.SetQueueDepth(p, depth)
	}

	if !status.Healthy {
		h.logger.Warn("worker pool is unhealthy",
			zap.Int("stopped", status.StoppedWorkers),
			zap.Int("total", status.TotalWorkers))
	}

	if status.TotalWorkers > 0 && status.BusyWorkers >= status.ConcurrencyLimit && h.pool.queue.Size() > 0 {
		h.logger.Warn("concurrency budget exhausted with work waiting",
			zap.Int("limit", status.ConcurrencyLimit),
			zap.Int("queued", h.pool.queue.Size()))
	}
}

// GetStatus returns the current health status
func (h *HealthMonitor) GetStatus() *HealthStatus {
	workerStatuses := h.pool.GetStatus()

	var idle, busy, stopped int
	for _, status := range workerStatuses {
		switch status {
		case WorkerStatusIdle:
			idle++
		case WorkerStatusBusy:
			busy++
		case WorkerStatusStopped:
			stopped++
		}
	}

	total := len(workerStatuses)
	healthy := total > 0 && stopped == 0

	return &HealthStatus{
		TotalWorkers:     total,
		IdleWorkers:      idle,
		BusyWorkers:      busy,
		StoppedWorkers:   stopped,
		QueueDepth:       h.pool.queue.PendingByPriority(),
		PermitsInUse:     h.pool.gate.InUse(),
		ConcurrencyLimit: h.pool.gate.Limit(),
		Healthy:          healthy,
		Timestamp:        time.Now(),
	}
}

// IsHealthy returns true if the worker pool is healthy
func (h *HealthMonitor) IsHealthy() bool {
	return h.GetStatus().Healthy
}

// Health exposes the pool's monitor.
func (p *Pool) Health() *HealthMonitor {
	return p.health
}
