// Package websocket provides WebSocket streaming of orchestrator events.
//
// Clients connect to receive lifecycle events (queued, started, retried,
// completed, state and config changes) as they are published on the
// event bus. The stream can be narrowed with the "type" query parameter,
// a comma separated list of event type prefixes, and with "request_id".
// With "replay=N", matching events among the newest N on the bus are sent
// first, when the bus keeps history.
package websocket
