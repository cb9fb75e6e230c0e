// Package catalog provides Feature/Project Store implementations.
//
// Implementations:
//   - sqlstore: database/sql over SQLite (modernc) or PostgreSQL (pgx)
package catalog
