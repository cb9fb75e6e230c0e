// Package workers implements the execution runner and the worker pool that
// drains the execution queue.
//
// Each worker loops: acquire a permit from the concurrency gate, claim the
// next request from the queue, hand both to the Runner. The Runner drives
// the Execution Engine, classifies the outcome, schedules retries for
// transient engine failures, and emits exactly one ExecutionRecord per
// request. The permit is always released before the worker claims again.
//
// The health monitor logs pool, queue and gate usage every poll interval.
package workers
