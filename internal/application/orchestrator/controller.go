package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harshakreox/ghostqa/internal/application/gate"
	"github.com/harshakreox/ghostqa/internal/application/queue"
	"github.com/harshakreox/ghostqa/internal/application/workers"
	"github.com/harshakreox/ghostqa/internal/domain"
	"go.uber.org/zap"
)

// State is the controller lifecycle state.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StatePaused   State = "paused"
	StateStopping State = "stopping"
)

// Active reports whether the controller accepts and runs work.
func (s State) Active() bool {
	return s == StateRunning || s == StatePaused
}

// ErrStopInProgress is returned by Start while a stop is draining.
var ErrStopInProgress = errors.New("orchestrator stop in progress")

const (
	cancelledOnStop      = "orchestrator stopped before execution"
	cancelledRetryOnStop = "orchestrator stopped before retry"
	loopDiscovery        = "discovery"
	loopRegression       = "regression"
	defaultHistoryLimit  = 50
)

// Config wires a Controller.
type Config struct {
	Engine   domain.ExecutionEngine
	Store    domain.FeatureStore
	Records  domain.RecordStore
	Events   domain.EventBus
	Metrics  domain.MetricsCollector
	Logger   *zap.Logger
	Settings domain.OrchestratorConfig
	// MinWorkers is the smallest worker pool started, whatever the
	// concurrency limit.
	MinWorkers int
}

// Controller is the single owner of the orchestrator's runtime objects.
type Controller struct {
	config    *LiveConfig
	queue     *queue.Queue
	gate      *gate.Gate
	runner    *workers.Runner
	pool      *workers.Pool
	records   domain.RecordStore
	events    domain.EventBus
	metrics   domain.MetricsCollector
	logger    *zap.Logger
	validator *Validator

	discovery  *discovery
	regression *regression
	loops      []*intervalLoop

	now        func() time.Time
	newTimer   timerFunc
	minWorkers int

	mu         sync.Mutex
	state      State
	startedAt  time.Time
	loopCancel context.CancelFunc
	loopWG     sync.WaitGroup
	listeners  []func(from, to State)
}

// NewController builds a stopped controller. An invalid initial config is
// returned as a FatalConfigError or ValidationError.
func NewController(cfg *Config) (*Controller, error) {
	if cfg.Engine == nil || cfg.Store == nil || cfg.Records == nil || cfg.Events == nil || cfg.Metrics == nil {
		return nil, errors.New("engine, store, records, events and metrics are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	live, err := NewLiveConfig(cfg.Settings)
	if err != nil {
		return nil, err
	}
	settings := live.Snapshot()

	g, err := gate.New(settings.MaxConcurrentExecutions)
	if err != nil {
		return nil, &domain.FatalConfigError{Reason: err.Error()}
	}
	q := queue.New()
	q.SetResetAttemptsOnUpgrade(settings.ResetAttemptsOnUpgrade)
	runner := workers.NewRunner(cfg.Engine, q, g, cfg.Records, cfg.Events, cfg.Metrics, live, logger)

	c := &Controller{
		config:     live,
		queue:      q,
		gate:       g,
		runner:     runner,
		pool:       workers.NewPool(runner, q, g, cfg.Metrics, live, logger),
		records:    cfg.Records,
		events:     cfg.Events,
		metrics:    cfg.Metrics,
		logger:     logger,
		validator:  NewValidator(),
		now:        func() time.Time { return time.Now().UTC() },
		newTimer:   realTimer,
		minWorkers: cfg.MinWorkers,
		state:      StateStopped,
	}
	c.discovery = &discovery{store: cfg.Store, config: live, enqueue: c.enqueue, logger: logger}
	c.regression = &regression{store: cfg.Store, enqueue: c.enqueue, logger: logger}
	c.loops = []*intervalLoop{
		c.newLoop(loopDiscovery, domain.OrchestratorConfig.DiscoveryInterval, domain.OrchestratorConfig.DiscoveryActive, c.discovery.tick),
		c.newLoop(loopRegression, domain.OrchestratorConfig.RegressionInterval, domain.OrchestratorConfig.RegressionActive, c.regression.tick),
	}
	cfg.Metrics.SetConcurrencyLimit(settings.MaxConcurrentExecutions)
	return c, nil
}

func (c *Controller) newLoop(
	name string,
	interval func(domain.OrchestratorConfig) time.Duration,
	active func(domain.OrchestratorConfig) bool,
	tick func(context.Context) (int, error),
) *intervalLoop {
	return &intervalLoop{
		name:     name,
		interval: interval,
		active:   active,
		tick:     tick,
		config:   c.config,
		newTimer: func(d time.Duration) (<-chan time.Time, func() bool) { return c.newTimer(d) },
		now:      func() time.Time { return c.now() },
		metrics:  c.metrics,
		events:   c.events,
		logger:   c.logger,
	}
}

// SetClock overrides the controller and runner clocks.
func (c *Controller) SetClock(now func() time.Time) {
	c.now = now
	c.runner.SetClock(now)
}

// OnStateChange registers fn to be called after every state transition.
// fn runs with the controller locked and must not call back into it.
func (c *Controller) OnStateChange(fn func(from, to State)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start brings the controller to RUNNING, or PAUSED when the live config
// is disabled. Starting an active controller is a no-op.
func (c *Controller) Start(ctx context.Context) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateRunning, StatePaused, StateStarting:
		return c.state, nil
	case StateStopping:
		return c.state, ErrStopInProgress
	}

	c.setStateLocked(StateStarting)
	cfg := c.config.Snapshot()

	c.queue.Open()
	if cfg.Enabled {
		c.queue.Release()
	} else {
		c.queue.Hold()
	}
	c.runner.ResumeRetries()
	if err := c.pool.Start(c.workerCount(cfg)); err != nil {
		c.queue.Close()
		c.setStateLocked(StateStopped)
		return c.state, fmt.Errorf("failed to start worker pool: %w", err)
	}

	c.startedAt = c.now()
	c.discovery.initWatermark(c.startedAt)

	loopCtx, cancel := context.WithCancel(context.Background())
	c.loopCancel = cancel
	for _, l := range c.loops {
		c.loopWG.Add(1)
		go func(l *intervalLoop) {
			defer c.loopWG.Done()
			l.run(loopCtx)
		}(l)
	}

	if cfg.Enabled {
		c.setStateLocked(StateRunning)
	} else {
		c.setStateLocked(StatePaused)
	}
	return c.state, nil
}

// Stop halts the loops, stops workers from claiming, and drains the
// queue. Pending requests and scheduled retries become cancelled records.
// With hard set, in-flight executions are abandoned; otherwise they finish
// unless ctx ends first. A drain that timed out returns
// workers.ErrDrainTimeout after the controller reaches STOPPED.
func (c *Controller) Stop(ctx context.Context, hard bool) (State, error) {
	c.mu.Lock()
	switch c.state {
	case StateStopped, StateStopping:
		s := c.state
		c.mu.Unlock()
		return s, nil
	}
	c.setStateLocked(StateStopping)
	cancel := c.loopCancel
	c.loopCancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.loopWG.Wait()

	drainErr := c.pool.Shutdown(ctx, hard)
	pending := c.queue.Close()
	for _, req := range pending {
		c.runner.Cancel(req, cancelledOnStop)
	}
	c.runner.StopRetries(cancelledRetryOnStop)

	c.logger.Info("orchestrator drained",
		zap.Bool("hard", hard),
		zap.Int("cancelled_pending", len(pending)),
		zap.Error(drainErr))

	c.mu.Lock()
	c.setStateLocked(StateStopped)
	c.mu.Unlock()
	return StateStopped, drainErr
}

// QueueFeature files a feature request. The default priority is HIGH.
func (c *Controller) QueueFeature(projectID, featureID string, priority *domain.Priority) (queue.EnqueueResult, error) {
	p := domain.PriorityHigh
	if priority != nil {
		p = *priority
	}
	return c.queueFromAPI(domain.KindFeature, projectID, featureID, p)
}

// QueueProject files a whole-project request. The default priority is
// NORMAL.
func (c *Controller) QueueProject(projectID string, priority *domain.Priority) (queue.EnqueueResult, error) {
	p := domain.PriorityNormal
	if priority != nil {
		p = *priority
	}
	return c.queueFromAPI(domain.KindProject, projectID, "", p)
}

func (c *Controller) queueFromAPI(kind domain.Kind, projectID, featureID string, priority domain.Priority) (queue.EnqueueResult, error) {
	if !priority.Valid() {
		return queue.EnqueueResult{}, domain.NewValidationError("priority", fmt.Sprintf("invalid priority %d", int(priority)))
	}
	if !c.State().Active() {
		return queue.EnqueueResult{}, domain.ErrNotRunning
	}
	return c.enqueue(kind, projectID, featureID, priority, domain.SourceAPI)
}

// TriggerRegression runs a regression sweep now, regardless of the
// regression schedule, and returns how many requests were accepted.
func (c *Controller) TriggerRegression(ctx context.Context) (int, error) {
	if !c.State().Active() {
		return 0, domain.ErrNotRunning
	}
	return c.loop(loopRegression).runTick(ctx)
}

// TriggerDiscovery runs a discovery scan now.
func (c *Controller) TriggerDiscovery(ctx context.Context) (int, error) {
	if !c.State().Active() {
		return 0, domain.ErrNotRunning
	}
	return c.loop(loopDiscovery).runTick(ctx)
}

func (c *Controller) loop(name string) *intervalLoop {
	for _, l := range c.loops {
		if l.name == name {
			return l
		}
	}
	panic("unknown loop " + name)
}

// enqueue validates, builds and files a request.
func (c *Controller) enqueue(kind domain.Kind, projectID, featureID string, priority domain.Priority, source domain.Source) (queue.EnqueueResult, error) {
	if err := c.validator.ValidateTarget(kind, projectID, featureID); err != nil {
		return queue.EnqueueResult{}, err
	}

	req := &domain.ExecutionRequest{
		ID:         uuid.NewString(),
		Kind:       kind,
		ProjectID:  projectID,
		FeatureID:  featureID,
		Priority:   priority,
		Source:     source,
		EnqueuedAt: c.now(),
	}
	res, err := c.queue.Enqueue(req)
	if err != nil {
		if errors.Is(err, domain.ErrQueueClosed) {
			return queue.EnqueueResult{}, domain.ErrNotRunning
		}
		return queue.EnqueueResult{}, err
	}

	c.metrics.RecordEnqueue(source, priority, string(res.Outcome))
	c.metrics.SetQueueDepth(res.Pending.Priority, c.queue.PendingByPriority()[res.Pending.Priority])

	eventType := domain.EventRequestQueued
	switch res.Outcome {
	case queue.Deduplicated:
		eventType = domain.EventRequestDeduplicated
	case queue.Upgraded:
		eventType = domain.EventRequestUpgraded
	}
	c.publish(eventType, res.Pending.ID, map[string]interface{}{
		"kind":     kind,
		"project":  projectID,
		"feature":  featureID,
		"priority": res.Pending.Priority,
		"source":   source,
	})

	c.logger.Debug("request enqueued",
		zap.String("request_id", res.Pending.ID),
		zap.String("outcome", string(res.Outcome)),
		zap.String("key", req.Key().String()),
		zap.Stringer("priority", res.Pending.Priority),
		zap.String("source", string(source)))
	return res, nil
}

// GetConfig returns the live config.
func (c *Controller) GetConfig() domain.OrchestratorConfig {
	return c.config.Snapshot()
}

// UpdateConfig applies a partial update. Nothing changes unless the
// merged config validates. A new concurrency limit governs admissions
// from now on; running executions are never interrupted. Toggling
// enabled moves an active controller between RUNNING and PAUSED.
func (c *Controller) UpdateConfig(patch domain.ConfigPatch) (domain.OrchestratorConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, next, err := c.config.Update(patch)
	if err != nil {
		return prev, err
	}

	if next.MaxConcurrentExecutions != prev.MaxConcurrentExecutions {
		if err := c.gate.Resize(next.MaxConcurrentExecutions); err != nil {
			return next, err
		}
		c.metrics.SetConcurrencyLimit(next.MaxConcurrentExecutions)
		if c.state.Active() {
			c.pool.EnsureWorkers(c.workerCount(next))
		}
	}
	c.queue.SetResetAttemptsOnUpgrade(next.ResetAttemptsOnUpgrade)

	switch {
	case !next.Enabled && c.state == StateRunning:
		c.queue.Hold()
		c.setStateLocked(StatePaused)
	case next.Enabled && c.state == StatePaused:
		c.queue.Release()
		c.setStateLocked(StateRunning)
	}

	c.publish(domain.EventConfigUpdated, "", map[string]interface{}{
		"config": next,
	})
	c.logger.Info("orchestrator config updated",
		zap.Int("max_concurrent_executions", next.MaxConcurrentExecutions),
		zap.Bool("enabled", next.Enabled),
		zap.Int("discovery_interval_seconds", next.DiscoveryIntervalSeconds),
		zap.Int("regression_interval_hours", next.RegressionIntervalHours))
	return next, nil
}

// Queue returns the pending requests in dequeue order.
func (c *Controller) Queue() []domain.ExecutionRequest {
	return c.queue.Snapshot()
}

// History returns up to limit records, most recent first.
func (c *Controller) History(ctx context.Context, limit int) ([]*domain.ExecutionRecord, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return c.records.List(ctx, limit)
}

// Record returns the terminal record for a request.
func (c *Controller) Record(ctx context.Context, requestID string) (*domain.ExecutionRecord, error) {
	return c.records.Get(ctx, requestID)
}

// Health returns the worker pool health.
func (c *Controller) Health() *workers.HealthStatus {
	return c.pool.Health().GetStatus()
}

func (c *Controller) workerCount(cfg domain.OrchestratorConfig) int {
	if cfg.MaxConcurrentExecutions > c.minWorkers {
		return cfg.MaxConcurrentExecutions
	}
	return c.minWorkers
}

// setStateLocked must be called with c.mu held.
func (c *Controller) setStateLocked(to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	c.logger.Info("orchestrator state changed",
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	c.publish(domain.EventControllerStateChange, "", map[string]interface{}{
		"from": from,
		"to":   to,
	})
	for _, fn := range c.listeners {
		fn(from, to)
	}
}

func (c *Controller) publish(t domain.EventType, requestID string, data map[string]interface{}) {
	if err := c.events.Publish(context.Background(), domain.EventsTopic, domain.NewEvent(t, requestID, data)); err != nil {
		c.logger.Warn("failed to publish event",
			zap.String("event_type", string(t)),
			zap.Error(err))
	}
}
