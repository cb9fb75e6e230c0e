package domain

import (
	"context"
	"time"
)

// ExecuteOptions are the run settings taken from the live config.
type ExecuteOptions struct {
	Headless bool
	Mode     string
}

// ExecutionEngine runs scenarios for a target. Errors wrapped as
// TransientExecutionError are retryable; an AssertionFailure or a result
// with ExecutionFailed is terminal.
type ExecutionEngine interface {
	Execute(ctx context.Context, target Target, opts ExecuteOptions) (*ExecutionResult, error)
}

// ChangedUnit is a testable unit reported by the Feature/Project Store.
// FeatureID is empty for project-level units.
type ChangedUnit struct {
	ProjectID  string
	FeatureID  string
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// FeatureStore looks up testable units.
type FeatureStore interface {
	ListChangedSince(ctx context.Context, since time.Time) ([]ChangedUnit, error)
	ListAllProjects(ctx context.Context) ([]string, error)
}

// RecordStore is the execution history.
type RecordStore interface {
	Append(ctx context.Context, rec *ExecutionRecord) error
	Get(ctx context.Context, requestID string) (*ExecutionRecord, error)
	// List returns up to limit records, most recent first.
	List(ctx context.Context, limit int) ([]*ExecutionRecord, error)
}

// EventHandler consumes bus events.
type EventHandler func(ctx context.Context, event Event) error

// EventBus carries orchestrator events.
type EventBus interface {
	Publish(ctx context.Context, topic string, event Event) error
	// Subscribe delivers events until ctx is cancelled.
	Subscribe(ctx context.Context, topic string, handler EventHandler) error
	Close() error
}

// EventHistory is implemented by buses that retain recent events.
type EventHistory interface {
	// Recent returns up to n of the latest events on topic, oldest first.
	Recent(ctx context.Context, topic string, n int) ([]Event, error)
}

// MetricsCollector records orchestrator metrics.
type MetricsCollector interface {
	RecordEnqueue(source Source, priority Priority, outcome string)
	RecordExecution(kind Kind, status RecordStatus, duration time.Duration)
	RecordRetry(kind Kind)
	ObserveQueueWait(priority Priority, wait time.Duration)
	SetQueueDepth(priority Priority, depth int)
	SetRunningExecutions(count int)
	SetConcurrencyLimit(limit int)
	RecordWorkerPoolStatus(idle, busy, stopped int)
	RecordLoopTick(loop string, err error)
}
