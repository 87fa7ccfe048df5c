// Package migrations contains database migration definitions and functionality for odoo_bridge.
package migrations

import (
	"context"
	"fmt"
	"sync"

	migrator "github.com/cybertec-postgresql/pgx-migrator"
	"github.com/jackc/pgx/v5"
)

// createTablesSQL holds the initial schema: the durable job queue, the
// local-id to remote-id entity map, circuit breaker state and the permanent
// failure log.
const createTablesSQL = `
	-- Pending sync jobs; one row per (integration, entity_type, local_id) so
	-- repeated enqueues coalesce in place
	CREATE TABLE sync_jobs (
		id bigserial,
		integration text NOT NULL,
		entity_type text NOT NULL,
		action text NOT NULL CHECK (action IN ('create', 'update', 'delete')),
		origin text NOT NULL DEFAULT 'local' CHECK (origin IN ('local', 'remote')),
		local_id bigint NOT NULL,
		remote_id bigint,
		payload jsonb,
		attempts int NOT NULL DEFAULT 0,
		next_run_at timestamp with time zone NOT NULL DEFAULT now(),
		enqueued_at timestamp with time zone NOT NULL DEFAULT now(),
		PRIMARY KEY (integration, entity_type, local_id)
	);

	-- WP-id to Odoo-id correspondence with the content hash used by the
	-- polling change detectors
	CREATE TABLE entity_map (
		integration text NOT NULL,
		entity_type text NOT NULL,
		local_id bigint NOT NULL,
		remote_id bigint NOT NULL,
		content_hash text NOT NULL DEFAULT '',
		updated_at timestamp with time zone NOT NULL DEFAULT now(),
		PRIMARY KEY (integration, entity_type, local_id)
	);

	-- One remote record maps back to at most one local record
	CREATE UNIQUE INDEX idx_entity_map_remote ON entity_map(integration, entity_type, remote_id);

	-- Circuit breaker counters; opened_at is NULL while the circuit is closed
	CREATE TABLE circuit_state (
		name text PRIMARY KEY,
		failures int NOT NULL DEFAULT 0,
		opened_at timestamp with time zone,
		updated_at timestamp with time zone NOT NULL DEFAULT now()
	);

	-- Last permanent failures surfaced to the operator
	CREATE TABLE sync_failures (
		id uuid PRIMARY KEY,
		integration text NOT NULL,
		entity_type text NOT NULL,
		action text NOT NULL,
		local_id bigint NOT NULL,
		message text NOT NULL,
		classification text NOT NULL,
		occurred_at timestamp with time zone NOT NULL DEFAULT now()
	);

	-- Performance indexes
	CREATE INDEX idx_sync_jobs_runnable ON sync_jobs(next_run_at, enqueued_at);
	CREATE INDEX idx_sync_failures_occurred ON sync_failures(occurred_at DESC);
`

// migrations holds function returning all upgrade migrations needed
var migrations func() migrator.Option = func() migrator.Option {
	return migrator.Migrations(
		&migrator.Migration{
			Name: "001_create_tables",
			Func: func(ctx context.Context, tx pgx.Tx) error {
				// Create all tables and indexes in a single transaction
				_, err := tx.Exec(ctx, createTablesSQL)
				return err
			},
		},
		// adding new migration here

		// &migrator.Migration{
		// 	Name: "Short description of a migration",
		// 	Func: func(ctx context.Context, tx pgx.Tx) error {
		// 		...
		// 	},
		// },
	)
}

var (
	migratorInstance *migrator.Migrator
	once             sync.Once
)

// getMigrator returns a singleton migrator instance
func getMigrator() (*migrator.Migrator, error) {
	var err error
	once.Do(func() {
		migratorInstance, err = migrator.New(
			migrations(),
			migrator.TableName("odoo_bridge_migrations"),
		)
	})
	return migratorInstance, err
}

// Apply applies all pending migrations to the database
func Apply(ctx context.Context, conn *pgx.Conn) error {
	m, err := getMigrator()
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	// Apply migrations
	if err := m.Migrate(ctx, conn); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	return nil
}

// NeedsUpgrade checks if the database needs migration
func NeedsUpgrade(ctx context.Context, conn *pgx.Conn) (bool, error) {
	m, err := getMigrator()
	if err != nil {
		return false, fmt.Errorf("failed to create migrator: %w", err)
	}

	// Check if migration is needed
	needUpgrade, err := m.NeedUpgrade(ctx, conn)
	if err != nil {
		return false, fmt.Errorf("failed to check migration status: %w", err)
	}

	return needUpgrade, nil
}
