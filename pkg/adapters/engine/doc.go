// Package engine provides Execution Engine clients.
//
// Implementations:
//   - httpengine: JSON over HTTP to a remote test runner
package engine
