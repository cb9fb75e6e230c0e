// Package events holds the EventBus backends that carry orchestrator
// lifecycle events.
//
// Subpackages:
//   - redis: Redis Streams, one consumer group per subscriber, with Recent
//     served from the stream tail
//   - memory: process-local fan-out with a bounded per-topic history
package events
