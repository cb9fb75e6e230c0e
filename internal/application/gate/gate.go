// Package gate bounds how many executions run at once.
//
// Gate is a counting semaphore whose size can change at runtime. Growing
// it wakes waiters immediately; shrinking it never interrupts permits
// already handed out, it only blocks new acquires until enough releases
// bring usage under the new limit.
package gate

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Gate is safe for concurrent use.
type Gate struct {
	mu    sync.Mutex
	limit int
	inUse int
	wake  chan struct{}
}

// Permit is one unit of admission. Releasing it more than once is a no-op.
type Permit struct {
	gate     *Gate
	released atomic.Bool
}

// New creates a gate admitting up to limit holders.
func New(limit int) (*Gate, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("gate limit must be > 0, got %d", limit)
	}
	return &Gate{limit: limit, wake: make(chan struct{})}, nil
}

// Acquire blocks until a permit is free or ctx is done.
func (g *Gate) Acquire(ctx context.Context) (*Permit, error) {
	for {
		g.mu.Lock()
		if g.inUse < g.limit {
			g.inUse++
			g.mu.Unlock()
			return &Permit{gate: g}, nil
		}
		wait := g.wake
		g.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

// TryAcquire returns a permit only if one is free right now.
func (g *Gate) TryAcquire() (*Permit, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inUse >= g.limit {
		return nil, false
	}
	g.inUse++
	return &Permit{gate: g}, true
}

// Release returns the permit to its gate.
func (p *Permit) Release() {
	if p == nil || !p.released.CompareAndSwap(false, true) {
		return
	}
	g := p.gate
	g.mu.Lock()
	g.inUse--
	g.broadcastLocked()
	g.mu.Unlock()
}

// Resize changes the limit for subsequent acquires.
func (g *Gate) Resize(limit int) error {
	if limit <= 0 {
		return fmt.Errorf("gate limit must be > 0, got %d", limit)
	}
	g.mu.Lock()
	grew := limit > g.limit
	g.limit = limit
	if grew {
		g.broadcastLocked()
	}
	g.mu.Unlock()
	return nil
}

// Limit returns the current limit.
func (g *Gate) Limit() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.limit
}

// InUse returns the number of permits currently held. It can exceed Limit
// briefly after a shrink.
func (g *Gate) InUse() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inUse
}

func (g *Gate) broadcastLocked() {
	close(g.wake)
	g.wake = make(chan struct{})
}
