// Package orchestrator implements the autonomous orchestrator controller.
//
// The controller owns the execution queue, the concurrency gate, the
// runner worker pool and the live configuration, and drives them through
// the STOPPED, STARTING, RUNNING, PAUSED and STOPPING states. Alongside the
// workers it runs two interval loops:
//   - discovery enqueues features created or changed since the last
//     successful scan
//   - regression enqueues a background sweep of every known project
//
// Both loops re-read their interval from the live config before every
// sleep, so interval changes apply from the next wake. A failed tick is
// logged and surfaced in the status; the loop keeps going.
package orchestrator
