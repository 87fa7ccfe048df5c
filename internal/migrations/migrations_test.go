// Package migrations provides migration testing for the odoo_bridge schema.
package migrations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMigratorSingleton tests that getMigrator returns one shared instance
func TestMigratorSingleton(t *testing.T) {
	migrator, err := getMigrator()
	require.NoError(t, err, "Should create migrator instance")
	require.NotNil(t, migrator, "Should create migrator instance")

	migrator2, err2 := getMigrator()
	require.NoError(t, err2, "Should create migrator instance again")
	assert.Equal(t, migrator, migrator2, "Should return same migrator instance (singleton)")
}

// TestMigrationContent tests the initial schema definition
func TestMigrationContent(t *testing.T) {
	assert.NotEmpty(t, createTablesSQL, "Embedded SQL should not be empty")

	assert.Contains(t, createTablesSQL, "CREATE TABLE sync_jobs", "Should create sync_jobs table")
	assert.Contains(t, createTablesSQL, "CREATE TABLE entity_map", "Should create entity_map table")
	assert.Contains(t, createTablesSQL, "CREATE TABLE circuit_state", "Should create circuit_state table")
	assert.Contains(t, createTablesSQL, "CREATE TABLE sync_failures", "Should create sync_failures table")

	// the queue coalesces on entity identity, not per action
	assert.Contains(t, createTablesSQL, "PRIMARY KEY (integration, entity_type, local_id)",
		"One pending job per entity")

	// one remote record maps back to at most one local record
	assert.Contains(t, createTablesSQL, "CREATE UNIQUE INDEX idx_entity_map_remote",
		"Should enforce 1:1 entity correspondence")
}
