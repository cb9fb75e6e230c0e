package queue

import (
	"container/list"
	"context"
	"sync"

	"github.com/harshakreox/ghostqa/internal/domain"
)

// Outcome is the result of an enqueue.
type Outcome string

const (
	Accepted     Outcome = "accepted"
	Deduplicated Outcome = "deduplicated"
	Upgraded     Outcome = "upgraded"
)

// EnqueueResult describes what happened to an enqueued request. Pending is
// a copy of the entry that is now waiting for the request's key.
type EnqueueResult struct {
	Outcome Outcome
	Pending domain.ExecutionRequest
}

type entry struct {
	req *domain.ExecutionRequest
	seq uint64
}

// Queue is safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	bands   [domain.NumPriorities]*list.List
	index   map[domain.DedupKey]*list.Element
	seq     uint64
	wake    chan struct{}
	closed  bool
	held    bool
	resetOn bool
}

// New creates an open, empty queue.
func New() *Queue {
	q := &Queue{
		index: make(map[domain.DedupKey]*list.Element),
		wake:  make(chan struct{}),
	}
	for i := range q.bands {
		q.bands[i] = list.New()
	}
	return q
}

// SetResetAttemptsOnUpgrade controls whether a priority upgrade also resets
// the pending entry's attempt count.
func (q *Queue) SetResetAttemptsOnUpgrade(reset bool) {
	q.mu.Lock()
	q.resetOn = reset
	q.mu.Unlock()
}

// Enqueue files req by priority. The queue takes ownership of req.
func (q *Queue) Enqueue(req *domain.ExecutionRequest) (EnqueueResult, error) {
	if err := req.Validate(); err != nil {
		return EnqueueResult{}, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return EnqueueResult{}, domain.ErrQueueClosed
	}

	key := req.Key()
	if el, ok := q.index[key]; ok {
		e := el.Value.(*entry)
		if req.Priority <= e.req.Priority {
			return EnqueueResult{Outcome: Deduplicated, Pending: *e.req}, nil
		}
		q.bands[e.req.Priority].Remove(el)
		e.req.Priority = req.Priority
		if q.resetOn {
			e.req.AttemptCount = 0
		}
		q.index[key] = insertOrdered(q.bands[e.req.Priority], e)
		q.broadcastLocked()
		return EnqueueResult{Outcome: Upgraded, Pending: *e.req}, nil
	}

	q.seq++
	e := &entry{req: req, seq: q.seq}
	q.index[key] = q.bands[req.Priority].PushBack(e)
	q.broadcastLocked()
	return EnqueueResult{Outcome: Accepted, Pending: *req}, nil
}

// insertOrdered places e into band by original enqueue sequence.
func insertOrdered(band *list.List, e *entry) *list.Element {
	for el := band.Back(); el != nil; el = el.Prev() {
		if el.Value.(*entry).seq < e.seq {
			return band.InsertAfter(e, el)
		}
	}
	return band.PushFront(e)
}

// DequeueNext blocks until a request is available, ctx is done, or the
// queue is closed. The returned request is owned by the caller.
func (q *Queue) DequeueNext(ctx context.Context) (*domain.ExecutionRequest, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, domain.ErrQueueClosed
		}
		if !q.held {
			if req := q.popLocked(); req != nil {
				q.mu.Unlock()
				return req, nil
			}
		}
		wait := q.wake
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

// WaitReady blocks until a request could be dequeued, ctx is done, or the
// queue is closed. It removes nothing; pair it with Claim.
func (q *Queue) WaitReady(ctx context.Context) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return domain.ErrQueueClosed
		}
		if !q.held && len(q.index) > 0 {
			q.mu.Unlock()
			return nil
		}
		wait := q.wake
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wait:
		}
	}
}

// Claim pops the next request unless the queue is held, closed or empty.
func (q *Queue) Claim() (*domain.ExecutionRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.held || q.closed {
		return nil, false
	}
	req := q.popLocked()
	return req, req != nil
}

// TryDequeue pops the next request without blocking. It ignores Hold.
func (q *Queue) TryDequeue() (*domain.ExecutionRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	req := q.popLocked()
	return req, req != nil
}

func (q *Queue) popLocked() *domain.ExecutionRequest {
	for _, p := range domain.PrioritiesDescending() {
		band := q.bands[p]
		if el := band.Front(); el != nil {
			e := band.Remove(el).(*entry)
			delete(q.index, e.req.Key())
			return e.req
		}
	}
	return nil
}

// Hold stops DequeueNext from handing out work until Release. Enqueues are
// still accepted.
func (q *Queue) Hold() {
	q.mu.Lock()
	q.held = true
	q.mu.Unlock()
}

// Release undoes Hold.
func (q *Queue) Release() {
	q.mu.Lock()
	q.held = false
	q.broadcastLocked()
	q.mu.Unlock()
}

// Close rejects further enqueues, wakes every waiter, and returns the
// requests that were still pending, in dequeue order.
func (q *Queue) Close() []*domain.ExecutionRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	var drained []*domain.ExecutionRequest
	for req := q.popLocked(); req != nil; req = q.popLocked() {
		drained = append(drained, req)
	}
	q.closed = true
	q.broadcastLocked()
	return drained
}

// Open makes a closed queue usable again.
func (q *Queue) Open() {
	q.mu.Lock()
	q.closed = false
	q.mu.Unlock()
}

// Closed reports whether the queue is closed.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Size returns the number of pending requests.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.index)
}

// PendingByPriority returns the pending count for every band.
func (q *Queue) PendingByPriority() map[domain.Priority]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	counts := make(map[domain.Priority]int, domain.NumPriorities)
	for i, band := range q.bands {
		counts[domain.Priority(i)] = band.Len()
	}
	return counts
}

// Snapshot returns copies of the pending requests in dequeue order.
func (q *Queue) Snapshot() []domain.ExecutionRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]domain.ExecutionRequest, 0, len(q.index))
	for _, p := range domain.PrioritiesDescending() {
		for el := q.bands[p].Front(); el != nil; el = el.Next() {
			out = append(out, *el.Value.(*entry).req)
		}
	}
	return out
}

func (q *Queue) broadcastLocked() {
	close(q.wake)
	q.wake = make(chan struct{})
}
