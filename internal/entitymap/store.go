// Package entitymap implements the durable store for local-id to remote-id
// correspondences. It is the single owner of the entity_map table; idempotent
// upsert and the polling change detectors both depend on it.
package entitymap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/syncwell/odoo_bridge/internal/db"
)

// Mapping is one recorded correspondence between a local and a remote record.
type Mapping struct {
	RemoteID    int64
	ContentHash string
	UpdatedAt   time.Time
}

// Store is the entity map store
type Store struct {
	pool db.PgxIface
}

// New creates a store on the given pool
func New(pool db.PgxIface) *Store {
	return &Store{pool: pool}
}

// GetRemoteID returns the remote id mapped to a local record, if any
func (s *Store) GetRemoteID(ctx context.Context, integration, entityType string, localID int64) (int64, bool, error) {
	var remoteID int64
	err := s.pool.QueryRow(ctx,
		`SELECT remote_id FROM entity_map WHERE integration = $1 AND entity_type = $2 AND local_id = $3`,
		integration, entityType, localID).Scan(&remoteID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to look up remote id: %w", err)
	}
	return remoteID, true, nil
}

// GetLocalID returns the local id mapped to a remote record, if any
func (s *Store) GetLocalID(ctx context.Context, integration, entityType string, remoteID int64) (int64, bool, error) {
	var localID int64
	err := s.pool.QueryRow(ctx,
		`SELECT local_id FROM entity_map WHERE integration = $1 AND entity_type = $2 AND remote_id = $3`,
		integration, entityType, remoteID).Scan(&localID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to look up local id: %w", err)
	}
	return localID, true, nil
}

// Save upserts a mapping keyed by local id. The unique index on
// (integration, entity_type, remote_id) keeps the correspondence 1:1;
// last-writer-wins on the hash is acceptable because subsequent syncs
// converge both sides.
func (s *Store) Save(ctx context.Context, integration, entityType string, localID, remoteID int64, contentHash string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO entity_map (integration, entity_type, local_id, remote_id, content_hash)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (integration, entity_type, local_id) DO UPDATE SET
		remote_id = EXCLUDED.remote_id, content_hash = EXCLUDED.content_hash, updated_at = now()`,
		integration, entityType, localID, remoteID, contentHash)
	if err != nil {
		return fmt.Errorf("failed to save entity mapping: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"integration": integration,
		"entity_type": entityType,
		"local_id":    localID,
		"remote_id":   remoteID,
	}).Debug("Saved entity mapping")

	return nil
}

// Delete removes a mapping. Called only when the local record is gone as
// well; a remote-side delete alone leaves the mapping to be re-validated by
// search-before-create.
func (s *Store) Delete(ctx context.Context, integration, entityType string, localID int64) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM entity_map WHERE integration = $1 AND entity_type = $2 AND local_id = $3`,
		integration, entityType, localID)
	if err != nil {
		return fmt.Errorf("failed to delete entity mapping: %w", err)
	}
	return nil
}

// SnapshotForEntityType returns all mappings for one (integration, entity type),
// keyed by local id. The polling detectors diff the current record set
// against this snapshot.
func (s *Store) SnapshotForEntityType(ctx context.Context, integration, entityType string) (map[int64]Mapping, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT local_id, remote_id, content_hash, updated_at FROM entity_map
		WHERE integration = $1 AND entity_type = $2`,
		integration, entityType)
	if err != nil {
		return nil, fmt.Errorf("failed to query entity mappings: %w", err)
	}
	defer rows.Close()

	snapshot := make(map[int64]Mapping)
	for rows.Next() {
		var localID int64
		var m Mapping
		if err := rows.Scan(&localID, &m.RemoteID, &m.ContentHash, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("error scanning entity mapping: %w", err)
		}
		snapshot[localID] = m
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entity mappings: %w", err)
	}

	return snapshot, nil
}
