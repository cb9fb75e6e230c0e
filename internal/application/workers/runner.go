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

// ConfigSource hands out the live orchestrator config.
type ConfigSource interface {
	Snapshot() domain.OrchestratorConfig
}

// errAbandoned marks an engine call given up on by a hard stop.
var errAbandoned = errors.New("execution abandoned by hard stop")

// RunningExecution describes a request currently inside the engine.
type RunningExecution struct {
	Request   domain.ExecutionRequest `json:"request"`
	WorkerID  string                  `json:"worker_id,omitempty"`
	StartedAt time.Time               `json:"started_at"`
}

// ScheduledRetry is a request waiting out its backoff.
type ScheduledRetry struct {
	Request domain.ExecutionRequest `json:"request"`
	DueAt   time.Time               `json:"due_at"`
}

type scheduledRetry struct {
	req   *domain.ExecutionRequest
	due   time.Time
	timer *time.Timer
}

// Runner executes requests and records their outcomes.
type Runner struct {
	engine  domain.ExecutionEngine
	queue   *queue.Queue
	gate    *gate.Gate
	records domain.RecordStore
	events  domain.EventBus
	metrics domain.MetricsCollector
	config  ConfigSource
	logger  *zap.Logger
	now     func() time.Time

	mu       sync.Mutex
	running  map[string]*RunningExecution
	retries  map[string]*scheduledRetry
	stats    map[domain.RecordStatus]int
	stopping bool
}

// NewRunner creates a runner.
func NewRunner(
	engine domain.ExecutionEngine,
	q *queue.Queue,
	g *gate.Gate,
	records domain.RecordStore,
	events domain.EventBus,
	metrics domain.MetricsCollector,
	config ConfigSource,
	logger *zap.Logger,
) *Runner {
	return &Runner{
		engine:  engine,
		queue:   q,
		gate:    g,
		records: records,
		events:  events,
		metrics: metrics,
		config:  config,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		running: make(map[string]*RunningExecution),
		retries: make(map[string]*scheduledRetry),
		stats:   make(map[domain.RecordStatus]int),
	}
}

// SetClock overrides the runner clock.
func (r *Runner) SetClock(now func() time.Time) {
	r.now = now
}

// RunOnce claims a permit and executes req. It returns the terminal record,
// or nil and true when the request was handed back for a retry. A request
// that cannot get a permit before ctx ends is recorded as cancelled.
func (r *Runner) RunOnce(ctx context.Context, req *domain.ExecutionRequest) (*domain.ExecutionRecord, bool) {
	permit, err := r.gate.Acquire(ctx)
	if err != nil {
		return r.Cancel(req, fmt.Sprintf("not admitted: %v", err)), false
	}
	return r.Execute(ctx, req, permit, "")
}

// Execute runs req under an already acquired permit, which it releases
// before returning. Cancelling ctx abandons the engine call.
func (r *Runner) Execute(ctx context.Context, req *domain.ExecutionRequest, permit *gate.Permit, workerID string) (*domain.ExecutionRecord, bool) {
	defer permit.Release()

	cfg := r.config.Snapshot()
	startedAt := r.now()
	r.track(req, workerID, startedAt)
	defer r.untrack(req.ID)

	r.metrics.ObserveQueueWait(req.Priority, startedAt.Sub(req.EnqueuedAt))
	r.publish(domain.EventExecutionStarted, req.ID, map[string]interface{}{
		"kind":      req.Kind,
		"project":   req.ProjectID,
		"feature":   req.FeatureID,
		"priority":  req.Priority,
		"attempt":   req.AttemptCount,
		"worker_id": workerID,
	})
	r.logger.Info("executing request",
		zap.String("request_id", req.ID),
		zap.String("worker_id", workerID),
		zap.String("kind", string(req.Kind)),
		zap.String("project_id", req.ProjectID),
		zap.String("feature_id", req.FeatureID),
		zap.Stringer("priority", req.Priority),
		zap.Int("attempt", req.AttemptCount))

	result, err := r.invoke(ctx, req, cfg)
	finishedAt := r.now()
	attempts := req.AttemptCount + 1

	var status domain.RecordStatus
	var summary string
	switch {
	case errors.Is(err, errAbandoned):
		status, summary = domain.RecordStatusCancelled, errAbandoned.Error()
	case err == nil && result.Status == domain.ExecutionPassed:
		status, summary = domain.RecordStatusSuccess, result.Summary
	case err == nil && result.Status == domain.ExecutionFailed:
		status, summary = domain.RecordStatusFailure, result.Summary
	case err == nil:
		status, summary = domain.RecordStatusError, fmt.Sprintf("engine reported unknown status %q", result.Status)
	case domain.IsAssertionFailure(err):
		status, summary = domain.RecordStatusFailure, err.Error()
	case domain.IsTransient(err):
		if req.AttemptCount < cfg.RetryCeiling {
			r.scheduleRetry(req, cfg, err)
			return nil, true
		}
		status = domain.RecordStatusFailure
		summary = fmt.Sprintf("retry ceiling %d reached: %v", cfg.RetryCeiling, err)
	default:
		status, summary = domain.RecordStatusError, err.Error()
	}

	rec := domain.NewRecord(req, status, attempts, startedAt, finishedAt, summary)
	r.complete(ctx, rec)
	return rec, false
}

// invoke calls the engine, recovering panics. When ctx ends first the call
// is abandoned and left to finish in the background.
func (r *Runner) invoke(ctx context.Context, req *domain.ExecutionRequest, cfg domain.OrchestratorConfig) (*domain.ExecutionResult, error) {
	type outcome struct {
		res *domain.ExecutionResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("execution engine panicked: %v", p)}
			}
		}()
		res, err := r.engine.Execute(ctx, req.Target(), domain.ExecuteOptions{
			Headless: cfg.HeadlessMode,
			Mode:     cfg.ExecutionMode,
		})
		done <- outcome{res: res, err: err}
	}()

	select {
	case o := <-done:
		if ctx.Err() != nil && o.err != nil && errors.Is(o.err, ctx.Err()) {
			return nil, errAbandoned
		}
		if o.err == nil && o.res == nil {
			return nil, errors.New("execution engine returned no result")
		}
		return o.res, o.err
	case <-ctx.Done():
		return nil, errAbandoned
	}
}

func (r *Runner) scheduleRetry(req *domain.ExecutionRequest, cfg domain.OrchestratorConfig, cause error) {
	next := req.Clone()
	next.AttemptCount++
	next.Source = domain.SourceRetry
	delay := cfg.RetryDelay(next.AttemptCount)

	r.metrics.RecordRetry(req.Kind)
	r.publish(domain.EventExecutionRetry, req.ID, map[string]interface{}{
		"attempt": next.AttemptCount,
		"delay":   delay.String(),
		"error":   cause.Error(),
	})
	r.logger.Warn("transient execution error, retrying",
		zap.String("request_id", req.ID),
		zap.Int("attempt", next.AttemptCount),
		zap.Int("retry_ceiling", cfg.RetryCeiling),
		zap.Duration("delay", delay),
		zap.Error(cause))

	r.mu.Lock()
	if r.stopping {
		r.mu.Unlock()
		r.Cancel(next, "retry abandoned: orchestrator stopping")
		return
	}
	if delay <= 0 {
		r.mu.Unlock()
		r.requeue(next)
		return
	}
	sr := &scheduledRetry{req: next, due: r.now().Add(delay)}
	sr.timer = time.AfterFunc(delay, func() { r.fireRetry(next.ID) })
	r.retries[next.ID] = sr
	r.mu.Unlock()
}

func (r *Runner) fireRetry(requestID string) {
	r.mu.Lock()
	sr, ok := r.retries[requestID]
	if ok {
		delete(r.retries, requestID)
	}
	r.mu.Unlock()
	if ok {
		r.requeue(sr.req)
	}
}

// requeue puts a retry back on the queue. A retry that cannot take its
// place (queue closed, or the key is already pending) ends as cancelled.
func (r *Runner) requeue(req *domain.ExecutionRequest) {
	res, err := r.queue.Enqueue(req)
	if err != nil {
		r.Cancel(req, fmt.Sprintf("retry not requeued: %v", err))
		return
	}
	if res.Outcome != queue.Accepted {
		r.Cancel(req, fmt.Sprintf("retry superseded by pending request %s", res.Pending.ID))
	}
}

// StopRetries cancels every scheduled retry and makes later transient
// failures end as cancelled instead of retrying.
func (r *Runner) StopRetries(reason string) {
	r.mu.Lock()
	r.stopping = true
	var cancelled []*domain.ExecutionRequest
	for id, sr := range r.retries {
		// A timer that already fired owns its request; fireRetry will
		// requeue or cancel it.
		if sr.timer.Stop() {
			cancelled = append(cancelled, sr.req)
			delete(r.retries, id)
		}
	}
	r.mu.Unlock()

	for _, req := range cancelled {
		r.Cancel(req, reason)
	}
}

// ResumeRetries re-enables retry scheduling after StopRetries.
func (r *Runner) ResumeRetries() {
	r.mu.Lock()
	r.stopping = false
	r.mu.Unlock()
}

// Cancel records req as cancelled without running it.
func (r *Runner) Cancel(req *domain.ExecutionRequest, reason string) *domain.ExecutionRecord {
	now := r.now()
	rec := domain.NewRecord(req, domain.RecordStatusCancelled, req.AttemptCount, now, now, reason)
	r.complete(context.Background(), rec)
	return rec
}

func (r *Runner) complete(ctx context.Context, rec *domain.ExecutionRecord) {
	ctx = context.WithoutCancel(ctx)

	r.mu.Lock()
	r.stats[rec.Status]++
	r.mu.Unlock()

	if err := r.records.Append(ctx, rec); err != nil {
		r.logger.Error("failed to store execution record",
			zap.String("request_id", rec.RequestID),
			zap.Error(err))
	}
	r.metrics.RecordExecution(rec.Kind, rec.Status, rec.Duration.Std())
	r.publish(domain.EventExecutionCompleted, rec.RequestID, map[string]interface{}{
		"status":   rec.Status,
		"attempts": rec.Attempts,
		"summary":  rec.Summary,
		"duration": rec.Duration.String(),
	})
	r.logger.Info("execution finished",
		zap.String("request_id", rec.RequestID),
		zap.String("status", string(rec.Status)),
		zap.Int("attempts", rec.Attempts),
		zap.Duration("duration", rec.Duration.Std()),
		zap.String("summary", rec.Summary))
}

func (r *Runner) track(req *domain.ExecutionRequest, workerID string, startedAt time.Time) {
	r.mu.Lock()
	r.running[req.ID] = &RunningExecution{Request: *req, WorkerID: workerID, StartedAt: startedAt}
	n := len(r.running)
	r.mu.Unlock()
	r.metrics.SetRunningExecutions(n)
}

func (r *Runner) untrack(requestID string) {
	r.mu.Lock()
	delete(r.running, requestID)
	n := len(r.running)
	r.mu.Unlock()
	r.metrics.SetRunningExecutions(n)
}

// RunningCount returns how many requests are inside the engine.
func (r *Runner) RunningCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.running)
}

// Running returns the requests inside the engine.
func (r *Runner) Running() []RunningExecution {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RunningExecution, 0, len(r.running))
	for _, e := range r.running {
		out = append(out, *e)
	}
	return out
}

// PendingRetries returns the retries waiting out their backoff.
func (r *Runner) PendingRetries() []ScheduledRetry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ScheduledRetry, 0, len(r.retries))
	for _, sr := range r.retries {
		out = append(out, ScheduledRetry{Request: *sr.req, DueAt: sr.due})
	}
	return out
}

// Stats returns terminal record counts by status since process start.
func (r *Runner) Stats() map[domain.RecordStatus]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[domain.RecordStatus]int, len(r.stats))
	for k, v := range r.stats {
		out[k] = v
	}
	return out
}

func (r *Runner) publish(t domain.EventType, requestID string, data map[string]interface{}) {
	if err := r.events.Publish(context.Background(), domain.EventsTopic, domain.NewEvent(t, requestID, data)); err != nil {
		r.logger.Error("failed to publish event",
			zap.String("event_type", string(t)),
			zap.String("request_id", requestID),
			zap.Error(err))
	}
}
