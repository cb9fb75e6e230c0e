package memory

import (
	"context"
	"sync"

	"github.com/harshakreox/ghostqa/internal/domain"
)

// historyLimit is how many events per topic Recent can return.
const historyLimit = 256

type subscription struct {
	id      uint64
	handler domain.EventHandler
}

// InMemoryEventBus implements EventBus using in-memory handlers.
// Delivery is asynchronous and best effort.
type InMemoryEventBus struct {
	subscribers map[string][]subscription
	history     map[string][]domain.Event
	nextID      uint64
	mu          sync.RWMutex
}

// NewInMemoryEventBus creates a new in-memory event bus
func NewInMemoryEventBus() *InMemoryEventBus {
	return &InMemoryEventBus{
		subscribers: make(map[string][]subscription),
		history:     make(map[string][]domain.Event),
	}
}

// Publish publishes an event to all subscribers of a topic
func (e *InMemoryEventBus) Publish(ctx context.Context, topic string, event domain.Event) error {
	e.mu.Lock()
	subs := make([]subscription, len(e.subscribers[topic]))
	copy(subs, e.subscribers[topic])
	h := append(e.history[topic], event)
	if len(h) > historyLimit {
		h = h[len(h)-historyLimit:]
	}
	e.history[topic] = h
	e.mu.Unlock()

	for _, sub := range subs {
		go func(h domain.EventHandler) {
			_ = h(context.WithoutCancel(ctx), event)
		}(sub.handler)
	}

	return nil
}

// Recent returns up to n of the latest events on topic, oldest first.
func (e *InMemoryEventBus) Recent(_ context.Context, topic string, n int) ([]domain.Event, error) {
	if n <= 0 {
		return nil, nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	h := e.history[topic]
	if n < len(h) {
		h = h[len(h)-n:]
	}
	return append([]domain.Event(nil), h...), nil
}

// Subscribe registers handler on topic until ctx is cancelled.
func (e *InMemoryEventBus) Subscribe(ctx context.Context, topic string, handler domain.EventHandler) error {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.subscribers[topic] = append(e.subscribers[topic], subscription{id: id, handler: handler})
	e.mu.Unlock()

	go func() {
		<-ctx.Done()
		e.unsubscribe(topic, id)
	}()

	return nil
}

// Unsubscribe removes all subscriptions from a topic
func (e *InMemoryEventBus) Unsubscribe(ctx context.Context, topic string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.subscribers, topic)
	return nil
}

// Close closes the event bus and cleans up resources
func (e *InMemoryEventBus) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.subscribers = make(map[string][]subscription)
	e.history = make(map[string][]domain.Event)
	return nil
}

// SubscriberCount returns the number of handlers on topic.
func (e *InMemoryEventBus) SubscriberCount(topic string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subscribers[topic])
}

func (e *InMemoryEventBus) unsubscribe(topic string, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	subs := e.subscribers[topic]
	for i, s := range subs {
		if s.id == id {
			e.subscribers[topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
}
