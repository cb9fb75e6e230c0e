package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventsTopic is the bus topic all orchestrator events are published on.
const EventsTopic = "orchestrator.events"

// EventType names a lifecycle step.
type EventType string

const (
	EventRequestQueued         EventType = "request.queued"
	EventRequestDeduplicated   EventType = "request.deduplicated"
	EventRequestUpgraded       EventType = "request.upgraded"
	EventExecutionStarted      EventType = "execution.started"
	EventExecutionRetry        EventType = "execution.retry_scheduled"
	EventExecutionCompleted    EventType = "execution.completed"
	EventControllerStateChange EventType = "controller.state_changed"
	EventConfigUpdated         EventType = "config.updated"
	EventLoopTick              EventType = "loop.tick"
	EventLoopError             EventType = "loop.error"
)

// Event is one entry on the orchestrator event bus.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	RequestID string                 `json:"request_id,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// NewEvent stamps a fresh event.
func NewEvent(t EventType, requestID string, data map[string]interface{}) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      t,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
		Data:      data,
	}
}
