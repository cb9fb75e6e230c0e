// Package storage keeps the execution history: one immutable record per
// finished request.
//
// The redis backend stores each record as JSON with a TTL and indexes the
// newest N in a capped list; the memory backend is a fixed-size ring used in
// tests and single-process deployments.
package storage
