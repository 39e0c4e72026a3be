// -----------------------------------------------------------------------
// Storage Manager - Postgres connection pool and migrations
// -----------------------------------------------------------------------

package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sitesearch/internal/common"
)

// Manager owns the shared Postgres pool and implements DocumentStorage
// and PolicyStorage on top of it.
type Manager struct {
	db     *sql.DB
	logger arbor.ILogger
}

// New opens the database, verifies connectivity and optionally applies
// the schema
func New(ctx context.Context, cfg *common.DatabaseConfig, logger arbor.ILogger) (*Manager, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}

	m := &Manager{db: db, logger: logger}

	if cfg.MigrateOnStart {
		if err := m.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}

	logger.Info().Msg("Database connection established")
	return m, nil
}

// NewWithDB wraps an existing connection, used by tests
func NewWithDB(db *sql.DB, logger arbor.ILogger) *Manager {
	return &Manager{db: db, logger: logger}
}

// Migrate applies the idempotent schema statements in order
func (m *Manager) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	m.logger.Info().Int("statements", len(schemaStatements)).Msg("Schema migration complete")
	return nil
}

// DB exposes the pool for components that share it (the indexer factory)
func (m *Manager) DB() *sql.DB {
	return m.db
}

// Close releases the connection pool
func (m *Manager) Close() error {
	return m.db.Close()
}
