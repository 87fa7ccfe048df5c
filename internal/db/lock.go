package db

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// Locker hands out named, non-blocking mutual-exclusion locks shared by every
// worker process. TryLock never waits: callers either win the lock or skip
// their turn.
type Locker interface {
	TryLock(ctx context.Context, name string) (Unlocker, bool, error)
}

// Unlocker releases a lock obtained from a Locker.
type Unlocker interface {
	Unlock(ctx context.Context) error
}

// LockKey maps a lock name to the 64-bit key space of PostgreSQL advisory locks.
func LockKey(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return int64(h.Sum64())
}

// AdvisoryLocker implements Locker on top of PostgreSQL session advisory locks.
// Each held lock pins one pooled connection; the lock dies with the session,
// so a crashed worker cannot strand it.
type AdvisoryLocker struct {
	pool PgxPoolIface
}

// NewAdvisoryLocker creates a Locker backed by the given pool
func NewAdvisoryLocker(pool PgxPoolIface) *AdvisoryLocker {
	return &AdvisoryLocker{pool: pool}
}

// TryLock attempts to acquire the named lock without blocking
func (l *AdvisoryLocker) TryLock(ctx context.Context, name string) (Unlocker, bool, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire connection for lock %q: %w", name, err)
	}

	key := LockKey(name)
	var acquired bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("failed to try advisory lock %q: %w", name, err)
	}

	if !acquired {
		conn.Release()
		logrus.WithField("lock", name).Debug("Advisory lock held elsewhere, skipping")
		return nil, false, nil
	}

	return &advisoryLock{conn: conn, key: key, name: name}, true, nil
}

type advisoryLock struct {
	conn *pgxpool.Conn
	key  int64
	name string
}

// Unlock releases the advisory lock and returns the connection to the pool
func (a *advisoryLock) Unlock(ctx context.Context) error {
	defer a.conn.Release()

	var released bool
	if err := a.conn.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", a.key).Scan(&released); err != nil {
		return fmt.Errorf("failed to release advisory lock %q: %w", a.name, err)
	}
	if !released {
		return fmt.Errorf("advisory lock %q was not held by this session", a.name)
	}
	return nil
}
