// Package http serves the orchestrator control surface over REST.
//
// Routes live under /api/v1/orchestrator: lifecycle (start, stop), queueing
// (queue/feature, queue/project, regression, discovery), inspection (status,
// queue, history) and config (GET and PATCH). /health reports 200 only while
// the controller is running or paused; /metrics serves Prometheus.
//
// Errors use one envelope, {"error": {"code", "message", "details"}}, with
// codes such as VALIDATION_FAILED, NOT_RUNNING and STORE_UNAVAILABLE.
package http
