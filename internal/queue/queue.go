// Package queue implements the durable, coalescing sync job queue on
// PostgreSQL. One pending job exists per (integration, entity_type, local_id);
// repeated enqueues update it in place and a delete always supersedes a
// pending create or update.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/syncwell/odoo_bridge/internal/db"
)

// Action is the intent of a sync job.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Origin tells which side produced the change, which decides push vs pull.
type Origin string

const (
	OriginLocal  Origin = "local"  // push to Odoo
	OriginRemote Origin = "remote" // pull into the local system
)

// Job is one unit of pending synchronization work.
type Job struct {
	ID          int64
	Integration string
	EntityType  string
	Action      Action
	Origin      Origin
	LocalID     int64
	RemoteID    *int64
	Payload     []byte
	Attempts    int
	EnqueuedAt  time.Time
}

// Queue is the durable job queue
type Queue struct {
	pool db.PgxIface
	// claimed jobs become invisible for this long; a crashed worker's batch
	// is redelivered after it elapses
	visibilityTimeout time.Duration
}

// New creates a queue on the given pool
func New(pool db.PgxIface) *Queue {
	return &Queue{pool: pool, visibilityTimeout: 5 * time.Minute}
}

// Enqueue records the intent to sync one entity. Coalescing rules:
//   - a pending job for the same entity is updated in place with the newest
//     payload and remote id
//   - a pending create is never downgraded to update (the remote record does
//     not exist yet)
//   - delete replaces any pending create/update, and while a delete is
//     pending, create/update enqueues for the entity are dropped
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	var query string
	if job.Action == ActionDelete {
		query = `INSERT INTO sync_jobs (integration, entity_type, action, origin, local_id, remote_id, payload)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (integration, entity_type, local_id) DO UPDATE SET
			action = 'delete', origin = EXCLUDED.origin, remote_id = EXCLUDED.remote_id,
			payload = NULL, attempts = 0, next_run_at = now(), enqueued_at = now()`
	} else {
		query = `INSERT INTO sync_jobs (integration, entity_type, action, origin, local_id, remote_id, payload)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (integration, entity_type, local_id) DO UPDATE SET
			action = CASE WHEN sync_jobs.action = 'create' THEN 'create' ELSE EXCLUDED.action END,
			origin = EXCLUDED.origin, remote_id = EXCLUDED.remote_id,
			payload = EXCLUDED.payload, enqueued_at = now()
			WHERE sync_jobs.action <> 'delete'`
	}

	_, err := q.pool.Exec(ctx, query,
		job.Integration, job.EntityType, string(job.Action), string(job.Origin),
		job.LocalID, job.RemoteID, job.Payload)
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"integration": job.Integration,
		"entity_type": job.EntityType,
		"action":      job.Action,
		"local_id":    job.LocalID,
	}).Debug("Enqueued sync job")

	return nil
}

// DequeueBatch claims up to maxSize runnable jobs. Claimed rows are pushed
// past the visibility timeout in the same statement, so concurrent consumers
// never receive overlapping batches (FOR UPDATE SKIP LOCKED).
func (q *Queue) DequeueBatch(ctx context.Context, maxSize int) ([]Job, error) {
	query := `UPDATE sync_jobs SET next_run_at = now() + $2::interval
		WHERE id IN (
			SELECT id FROM sync_jobs
			WHERE next_run_at <= now()
			ORDER BY enqueued_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, integration, entity_type, action, origin, local_id, remote_id, payload, attempts, enqueued_at`

	rows, err := q.pool.Query(ctx, query, maxSize, q.visibilityTimeout.String())
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue batch: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var job Job
		var action, origin string
		err := rows.Scan(&job.ID, &job.Integration, &job.EntityType, &action, &origin,
			&job.LocalID, &job.RemoteID, &job.Payload, &job.Attempts, &job.EnqueuedAt)
		if err != nil {
			return nil, fmt.Errorf("error scanning job: %w", err)
		}
		job.Action = Action(action)
		job.Origin = Origin(origin)
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}

	return jobs, nil
}

// Ack removes a processed job from the queue. The delete is keyed on the
// claimed enqueued_at: if the row was coalesced onto while the job was in
// flight, the newer intent survives and is made runnable again right away
// instead of waiting out the visibility timeout.
func (q *Queue) Ack(ctx context.Context, job Job) error {
	result, err := q.pool.Exec(ctx,
		`DELETE FROM sync_jobs WHERE id = $1 AND enqueued_at = $2`, job.ID, job.EnqueuedAt)
	if err != nil {
		return fmt.Errorf("failed to ack job %d: %w", job.ID, err)
	}

	if result.RowsAffected() == 0 {
		_, err := q.pool.Exec(ctx,
			`UPDATE sync_jobs SET next_run_at = now() WHERE id = $1`, job.ID)
		if err != nil {
			return fmt.Errorf("failed to release superseded job %d: %w", job.ID, err)
		}
		logrus.WithField("job_id", job.ID).Debug("Job was re-enqueued while in flight, keeping the newer intent")
	}

	return nil
}

// Requeue schedules a failed job for another attempt after the given delay
func (q *Queue) Requeue(ctx context.Context, job Job, delay time.Duration) error {
	result, err := q.pool.Exec(ctx,
		`UPDATE sync_jobs SET attempts = attempts + 1, next_run_at = now() + $2::interval WHERE id = $1`,
		job.ID, delay.String())
	if err != nil {
		return fmt.Errorf("failed to requeue job %d: %w", job.ID, err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("no job found to requeue with id %d", job.ID)
	}

	logrus.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"attempts": job.Attempts + 1,
		"delay":    delay,
	}).Debug("Requeued sync job")

	return nil
}

// PendingCount returns the number of jobs waiting in the queue
func (q *Queue) PendingCount(ctx context.Context) (int64, error) {
	var count int64
	err := q.pool.QueryRow(ctx, `SELECT count(*) FROM sync_jobs`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending jobs: %w", err)
	}
	return count, nil
}
