// Package report records permanent sync failures so an operator can act on
// them manually. Transient failures are only logged; they are expected to
// self-heal through the retry policy.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/syncwell/odoo_bridge/internal/db"
)

// keepLast bounds the failure log; older rows are pruned on insert.
const keepLast = 200

// Failure is one permanently failed sync job.
type Failure struct {
	ID             uuid.UUID
	Integration    string
	EntityType     string
	Action         string
	LocalID        int64
	Message        string
	Classification string
	OccurredAt     time.Time
}

// Store persists the failure log
type Store struct {
	pool db.PgxIface
}

// New creates a store on the given pool
func New(pool db.PgxIface) *Store {
	return &Store{pool: pool}
}

// Record appends a failure and prunes entries beyond the retention window
func (s *Store) Record(ctx context.Context, f Failure) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO sync_failures (id, integration, entity_type, action, local_id, message, classification)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		f.ID, f.Integration, f.EntityType, f.Action, f.LocalID, f.Message, f.Classification)
	if err != nil {
		return fmt.Errorf("failed to record sync failure: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`DELETE FROM sync_failures WHERE id NOT IN (
			SELECT id FROM sync_failures ORDER BY occurred_at DESC LIMIT $1
		)`, keepLast)
	if err != nil {
		return fmt.Errorf("failed to prune sync failures: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"integration": f.Integration,
		"entity_type": f.EntityType,
		"action":      f.Action,
		"local_id":    f.LocalID,
	}).Error("Permanent sync failure recorded: " + f.Message)

	return nil
}

// Recent returns the newest failures, most recent first
func (s *Store) Recent(ctx context.Context, limit int) ([]Failure, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, integration, entity_type, action, local_id, message, classification, occurred_at
		FROM sync_failures ORDER BY occurred_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync failures: %w", err)
	}
	defer rows.Close()

	var failures []Failure
	for rows.Next() {
		var f Failure
		err := rows.Scan(&f.ID, &f.Integration, &f.EntityType, &f.Action, &f.LocalID,
			&f.Message, &f.Classification, &f.OccurredAt)
		if err != nil {
			return nil, fmt.Errorf("error scanning sync failure: %w", err)
		}
		failures = append(failures, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync failures: %w", err)
	}

	return failures, nil
}
