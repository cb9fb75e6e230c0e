package orchestrator

import (
	"context"
	"time"

	"github.com/harshakreox/ghostqa/internal/application/workers"
	"github.com/harshakreox/ghostqa/internal/domain"
	"go.uber.org/zap"
)

const recentRecordLimit = 10

// Status is a point-in-time view of the orchestrator.
type Status struct {
	State            State                       `json:"state"`
	StartedAt        *time.Time                  `json:"started_at,omitempty"`
	Config           domain.OrchestratorConfig   `json:"config"`
	QueueSize        int                         `json:"queue_size"`
	QueueDepth       map[string]int              `json:"queue_depth"`
	RunningCount     int                         `json:"running_count"`
	Running          []workers.RunningExecution  `json:"running"`
	PendingRetries   []workers.ScheduledRetry    `json:"pending_retries"`
	ConcurrencyLimit int                         `json:"concurrency_limit"`
	Workers          *workers.HealthStatus       `json:"workers"`
	Discovery        LoopStatus                  `json:"discovery"`
	Regression       LoopStatus                  `json:"regression"`
	Watermark        *time.Time                  `json:"discovery_watermark,omitempty"`
	Outcomes         map[domain.RecordStatus]int `json:"outcomes"`
	RecentRecords    []*domain.ExecutionRecord   `json:"recent_records"`
}

// Status reports state, queue depth per priority, running executions,
// loop ticks and errors, and recent outcomes. An unreadable record store
// leaves RecentRecords empty.
func (c *Controller) Status(ctx context.Context) *Status {
	c.mu.Lock()
	state, startedAt := c.state, c.startedAt
	c.mu.Unlock()

	depth := make(map[string]int, domain.NumPriorities)
	for p, n := range c.queue.PendingByPriority() {
		depth[p.String()] = n
	}

	s := &Status{
		State:            state,
		Config:           c.config.Snapshot(),
		QueueSize:        c.queue.Size(),
		QueueDepth:       depth,
		RunningCount:     c.runner.RunningCount(),
		Running:          c.runner.Running(),
		PendingRetries:   c.runner.PendingRetries(),
		ConcurrencyLimit: c.gate.Limit(),
		Workers:          c.Health(),
		Discovery:        c.loop(loopDiscovery).status(),
		Regression:       c.loop(loopRegression).status(),
		Outcomes:         c.runner.Stats(),
		RecentRecords:    []*domain.ExecutionRecord{},
	}
	if state != StateStopped && !startedAt.IsZero() {
		s.StartedAt = &startedAt
	}
	if wm := c.discovery.Watermark(); !wm.IsZero() {
		s.Watermark = &wm
	}

	recent, err := c.records.List(ctx, recentRecordLimit)
	if err != nil {
		c.logger.Warn("failed to read recent records", zap.Error(err))
	} else {
		s.RecentRecords = recent
	}
	return s
}
