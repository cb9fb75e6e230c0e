package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/harshakreox/ghostqa/internal/domain"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects and tunes the database.
type Config struct {
	Driver       string
	DSN          string
	MaxOpenConns int
	PingTimeout  time.Duration
}

// Validate checks the config.
func (c Config) Validate() error {
	switch c.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unsupported catalog driver %q", c.Driver)
	}
	if c.DSN == "" {
		return errors.New("catalog DSN is required")
	}
	if c.MaxOpenConns < 0 {
		return errors.New("catalog max open conns must be >= 0")
	}
	return nil
}

// Store implements FeatureStore over a SQL database. Timestamps are stored
// as unix milliseconds.
type Store struct {
	db     *sql.DB
	driver string
	logger *zap.Logger
}

// Open connects and pings the database.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	driverName := "sqlite"
	if cfg.Driver == DriverPostgres {
		driverName = "pgx"
	}
	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.Driver == DriverSQLite {
		// SQLite allows one writer at a time.
		db.SetMaxOpenConns(1)
	}

	pingTimeout := cfg.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return New(db, cfg.Driver, logger), nil
}

// New wraps an open database.
func New(db *sql.DB, driver string, logger *zap.Logger) *Store {
	return &Store{db: db, driver: driver, logger: logger}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS features (
		project_id TEXT NOT NULL REFERENCES projects(id),
		id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		PRIMARY KEY (project_id, id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_features_updated_at ON features(updated_at)`,
	`CREATE INDEX IF NOT EXISTS idx_projects_updated_at ON projects(updated_at)`,
}

// EnsureSchema creates the catalog tables if they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// UpsertProject creates a project or bumps its modification time.
func (s *Store) UpsertProject(ctx context.Context, id, name string, at time.Time) error {
	ms := at.UnixMilli()
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO projects (id, name, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET name = excluded.name, updated_at = excluded.updated_at`),
		id, name, ms, ms)
	if err != nil {
		return fmt.Errorf("upsert project %s: %w", id, err)
	}
	return nil
}

// UpsertFeature creates a feature or bumps its modification time.
func (s *Store) UpsertFeature(ctx context.Context, projectID, id, name string, at time.Time) error {
	ms := at.UnixMilli()
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO features (project_id, id, name, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (project_id, id) DO UPDATE SET name = excluded.name, updated_at = excluded.updated_at`),
		projectID, id, name, ms, ms)
	if err != nil {
		return fmt.Errorf("upsert feature %s/%s: %w", projectID, id, err)
	}
	return nil
}

// ListChangedSince returns projects and features created or modified
// strictly after since, oldest change first.
func (s *Store) ListChangedSince(ctx context.Context, since time.Time) ([]domain.ChangedUnit, error) {
	ms := since.UnixMilli()
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, '' AS feature_id, created_at, updated_at FROM projects
		   WHERE created_at > ? OR updated_at > ?
		 UNION ALL
		 SELECT project_id, id, created_at, updated_at FROM features
		   WHERE created_at > ? OR updated_at > ?
		 ORDER BY 4, 1, 2`),
		ms, ms, ms, ms)
	if err != nil {
		return nil, fmt.Errorf("list changed units: %w", err)
	}
	defer rows.Close()

	var units []domain.ChangedUnit
	for rows.Next() {
		var (
			u                  domain.ChangedUnit
			createdMs, updated int64
		)
		if err := rows.Scan(&u.ProjectID, &u.FeatureID, &createdMs, &updated); err != nil {
			return nil, fmt.Errorf("scan changed unit: %w", err)
		}
		u.CreatedAt = time.UnixMilli(createdMs).UTC()
		u.ModifiedAt = time.UnixMilli(updated).UTC()
		units = append(units, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list changed units: %w", err)
	}

	s.logger.Debug("catalog scan",
		zap.Time("since", since),
		zap.Int("units", len(units)))
	return units, nil
}

// ListAllProjects returns every project ID in order.
func (s *Store) ListAllProjects(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM projects ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// rebind turns ? placeholders into $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
