package orchestrator

import (
	"sync"
	"sync/atomic"

	"github.com/harshakreox/ghostqa/internal/domain"
)

// LiveConfig holds the single live OrchestratorConfig. Readers load an
// immutable snapshot; writers are serialized and swap in a whole new value.
type LiveConfig struct {
	mu      sync.Mutex
	current atomic.Pointer[domain.OrchestratorConfig]
}

// NewLiveConfig validates initial and makes it live.
func NewLiveConfig(initial domain.OrchestratorConfig) (*LiveConfig, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	l := &LiveConfig{}
	l.current.Store(&initial)
	return l, nil
}

// Snapshot returns the current configuration.
func (l *LiveConfig) Snapshot() domain.OrchestratorConfig {
	return *l.current.Load()
}

// Update merges patch into the live config. Nothing is applied unless the
// merged result validates.
func (l *LiveConfig) Update(patch domain.ConfigPatch) (prev, next domain.OrchestratorConfig, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev = *l.current.Load()
	next = prev.Apply(patch)
	if err := next.Validate(); err != nil {
		return prev, prev, err
	}
	l.current.Store(&next)
	return prev, next, nil
}
