// Package domain holds the types shared by every orchestrator component:
// priorities, execution requests and records, the live orchestrator
// configuration, lifecycle events, the error taxonomy, and the ports that
// adapters implement.
package domain
