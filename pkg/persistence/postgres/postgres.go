// Package postgres provides PostgreSQL persistence for graphs, documents, and
// run state. Entities are stored as JSONB with the columns the queries need
// extracted; the optimistic state write is a conditional UPDATE on the
// version column.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // postgres driver
	"github.com/nocodile/docflow/pkg/persistence"
)

// Persistence implements persistence.Persistence on PostgreSQL.
type Persistence struct {
	db        *sql.DB
	logger    *slog.Logger
	graphs    *GraphRepository
	documents *DocumentRepository
	runState  *RunStateRepository
}

// NewPersistence connects to PostgreSQL and applies pending migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	p := &Persistence{
		db:        db,
		logger:    logger.With("module", "postgres_persistence"),
		graphs:    &GraphRepository{db: db},
		documents: &DocumentRepository{db: db},
		runState:  &RunStateRepository{db: db},
	}

	if err := p.migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return p, nil
}

func (p *Persistence) Graphs() persistence.GraphRepository { return p.graphs }

func (p *Persistence) Documents() persistence.DocumentRepository { return p.documents }

func (p *Persistence) RunState() persistence.RunStateRepository { return p.runState }

func (p *Persistence) HealthCheck(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Persistence) Close(_ context.Context) error {
	return p.db.Close()
}

// migrations are applied in order; each version runs at most once.
var migrations = map[int]string{
	1: `
		CREATE TABLE IF NOT EXISTS graphs (
			workflow_id TEXT PRIMARY KEY,
			data JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			state_id TEXT NOT NULL DEFAULT '',
			version BIGINT NOT NULL DEFAULT 0,
			data JSONB NOT NULL
		);

		CREATE TABLE IF NOT EXISTS state_history (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			at TIMESTAMPTZ NOT NULL,
			data JSONB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_state_history_document
			ON state_history (document_id, at);

		CREATE TABLE IF NOT EXISTS approval_tasks (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			status TEXT NOT NULL,
			data JSONB NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_approval_tasks_pending
			ON approval_tasks (document_id, node_id)
			WHERE status = 'pending';

		CREATE TABLE IF NOT EXISTS fork_runs (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			fork_node_id TEXT NOT NULL,
			status TEXT NOT NULL,
			data JSONB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_fork_runs_active
			ON fork_runs (document_id, fork_node_id)
			WHERE status = 'branches_pending';

		CREATE TABLE IF NOT EXISTS resumptions (
			id TEXT PRIMARY KEY,
			resume_at TIMESTAMPTZ NOT NULL,
			delivered BOOLEAN NOT NULL DEFAULT FALSE,
			data JSONB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_resumptions_due
			ON resumptions (resume_at)
			WHERE delivered = FALSE;

		CREATE TABLE IF NOT EXISTS view_grants (
			document_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			data JSONB NOT NULL,
			PRIMARY KEY (document_id, node_id)
		);

		CREATE TABLE IF NOT EXISTS child_form_requests (
			document_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			data JSONB NOT NULL,
			PRIMARY KEY (document_id, node_id)
		);
	`,
}

func (p *Persistence) migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	var current sql.NullInt64
	if err := p.db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for version := int(current.Int64) + 1; ; version++ {
		statement, ok := migrations[version]
		if !ok {
			return nil
		}

		p.logger.InfoContext(ctx, "Applying migration", "version", version)

		tx, err := p.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, statement); err != nil {
			_ = tx.Rollback()

			return fmt.Errorf("migration %d failed: %w", version, err)
		}

		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
			_ = tx.Rollback()

			return fmt.Errorf("failed to record migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return err
		}
	}
}
