// Package breaker implements a persisted circuit breaker gating remote calls
// during Odoo outages. State lives in PostgreSQL so it is shared by every
// worker process and survives restarts; the half-open probe is admitted under
// a non-blocking advisory lock so only one concurrent worker probes.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/syncwell/odoo_bridge/internal/db"
)

const (
	// DefaultFailureThreshold is the number of consecutive all-fail batches
	// that opens the circuit.
	DefaultFailureThreshold = 3
	// DefaultRecoveryDelay is how long the circuit stays open before a
	// single probe batch is allowed through.
	DefaultRecoveryDelay = 300 * time.Second
)

// Breaker tracks consecutive all-failure batches against one remote endpoint.
// RecordSuccess and RecordFailure are called once per batch, never per job:
// a batch with a partial success proves the endpoint reachable.
type Breaker struct {
	pool             db.PgxIface
	locker           db.Locker
	name             string
	failureThreshold int
	recoveryDelay    time.Duration

	mu    sync.Mutex
	probe db.Unlocker // held while this process owns the half-open probe
}

// New creates a breaker persisted under the given name
func New(pool db.PgxIface, locker db.Locker, name string) *Breaker {
	return &Breaker{
		pool:             pool,
		locker:           locker,
		name:             name,
		failureThreshold: DefaultFailureThreshold,
		recoveryDelay:    DefaultRecoveryDelay,
	}
}

// IsAvailable reports whether the engine may attempt remote calls.
// Closed: always true. Open: false until the recovery delay elapses.
// Half-open: true for exactly one caller, which must follow up with
// RecordSuccess or RecordFailure to release the probe.
func (b *Breaker) IsAvailable(ctx context.Context) (bool, error) {
	var failures int
	var openedAt *time.Time
	err := b.pool.QueryRow(ctx,
		`SELECT failures, opened_at FROM circuit_state WHERE name = $1`, b.name).
		Scan(&failures, &openedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read circuit state: %w", err)
	}

	if openedAt == nil {
		return true, nil
	}

	if time.Since(*openedAt) < b.recoveryDelay {
		return false, nil
	}

	// Recovery window elapsed: admit a single probe
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.probe != nil {
		// this process already owns the probe from an earlier tick
		return false, nil
	}

	lock, acquired, err := b.locker.TryLock(ctx, b.probeLockName())
	if err != nil {
		return false, fmt.Errorf("failed to contend for probe lock: %w", err)
	}
	if !acquired {
		return false, nil
	}

	b.probe = lock
	logrus.WithField("breaker", b.name).Info("Circuit half-open, admitting probe batch")
	return true, nil
}

// RecordSuccess closes the circuit: the failure counter and opened-at are cleared
func (b *Breaker) RecordSuccess(ctx context.Context) error {
	defer b.releaseProbe(ctx)

	_, err := b.pool.Exec(ctx,
		`INSERT INTO circuit_state (name, failures, opened_at) VALUES ($1, 0, NULL)
		ON CONFLICT (name) DO UPDATE SET failures = 0, opened_at = NULL, updated_at = now()`,
		b.name)
	if err != nil {
		return fmt.Errorf("failed to record batch success: %w", err)
	}
	return nil
}

// RecordFailure counts an all-fail batch; at the threshold the circuit opens,
// and a failed probe refreshes the opened-at timestamp
func (b *Breaker) RecordFailure(ctx context.Context) error {
	defer b.releaseProbe(ctx)

	var failures int
	var openedAt *time.Time
	err := b.pool.QueryRow(ctx,
		`INSERT INTO circuit_state AS cs (name, failures, opened_at)
		VALUES ($1, 1, CASE WHEN $2 <= 1 THEN now() ELSE NULL END)
		ON CONFLICT (name) DO UPDATE SET
		failures = cs.failures + 1,
		opened_at = CASE WHEN cs.failures + 1 >= $2 THEN now() ELSE cs.opened_at END,
		updated_at = now()
		RETURNING failures, opened_at`,
		b.name, b.failureThreshold).Scan(&failures, &openedAt)
	if err != nil {
		return fmt.Errorf("failed to record batch failure: %w", err)
	}

	if openedAt != nil {
		logrus.WithFields(logrus.Fields{
			"breaker":  b.name,
			"failures": failures,
		}).Warn("Circuit open, remote calls suspended")
	}
	return nil
}

// ReleaseProbe gives up the half-open probe without recording an outcome.
// Used when the admitted probe batch turned out to be empty and yielded no
// evidence either way.
func (b *Breaker) ReleaseProbe(ctx context.Context) {
	b.releaseProbe(ctx)
}

// releaseProbe gives up the half-open probe lock, if held
func (b *Breaker) releaseProbe(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.probe == nil {
		return
	}
	if err := b.probe.Unlock(ctx); err != nil {
		logrus.WithError(err).WithField("breaker", b.name).Warn("Failed to release probe lock")
	}
	b.probe = nil
}

func (b *Breaker) probeLockName() string {
	return "odoo_bridge:breaker:" + b.name + ":probe"
}
