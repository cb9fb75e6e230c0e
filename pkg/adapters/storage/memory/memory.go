package memory

import (
	"context"
	"sync"

	"github.com/harshakreox/ghostqa/internal/domain"
)

// DefaultCapacity bounds the history kept by NewRecordStore(0).
const DefaultCapacity = 1000

// RecordStore keeps the most recent execution records in a ring buffer.
// This is for tests and single-process deployments; history is lost on
// restart.
type RecordStore struct {
	mu       sync.RWMutex
	ring     []*domain.ExecutionRecord
	next     int
	count    int
	byID     map[string]*domain.ExecutionRecord
	capacity int
}

// NewRecordStore creates a store holding up to capacity records.
func NewRecordStore(capacity int) *RecordStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &RecordStore{
		ring:     make([]*domain.ExecutionRecord, capacity),
		byID:     make(map[string]*domain.ExecutionRecord),
		capacity: capacity,
	}
}

// Append stores rec, evicting the oldest record when full.
func (s *RecordStore) Append(ctx context.Context, rec *domain.ExecutionRecord) error {
	cp := *rec

	s.mu.Lock()
	defer s.mu.Unlock()

	if old := s.ring[s.next]; old != nil && s.byID[old.RequestID] == old {
		delete(s.byID, old.RequestID)
	}
	s.ring[s.next] = &cp
	s.byID[cp.RequestID] = &cp
	s.next = (s.next + 1) % s.capacity
	if s.count < s.capacity {
		s.count++
	}
	return nil
}

// Get returns the record for a request.
func (s *RecordStore) Get(ctx context.Context, requestID string) (*domain.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byID[requestID]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	cp := *rec
	return &cp, nil
}

// List returns up to limit records, most recent first. A limit of zero or
// less returns everything held.
func (s *RecordStore) List(ctx context.Context, limit int) ([]*domain.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.count
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*domain.ExecutionRecord, 0, n)
	for i := 1; i <= n; i++ {
		idx := (s.next - i + s.capacity) % s.capacity
		cp := *s.ring[idx]
		out = append(out, &cp)
	}
	return out, nil
}

// Len returns the number of records held.
func (s *RecordStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}
