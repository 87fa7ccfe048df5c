// Package scheduler drives the sync loops: periodic ticks fire the polling
// detector and the queue drain. Every tick runs under a named, non-blocking
// lock so overlapping ticks and horizontally-scaled workers keep
// single-active-worker semantics per operation.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/syncwell/odoo_bridge/internal/db"
)

const (
	drainLockName = "odoo_bridge:drain"
	pollLockName  = "odoo_bridge:poll"
)

// BatchRunner drains one batch of queued jobs.
type BatchRunner interface {
	RunBatch(ctx context.Context) error
}

// ChangePoller scans all polled sources once.
type ChangePoller interface {
	Poll(ctx context.Context) error
}

// Scheduler owns the tick loops
type Scheduler struct {
	locker        db.Locker
	engine        BatchRunner
	poller        ChangePoller
	drainInterval time.Duration
	pollInterval  time.Duration
}

// New creates a scheduler
func New(locker db.Locker, engine BatchRunner, poller ChangePoller, drainInterval, pollInterval time.Duration) *Scheduler {
	return &Scheduler{
		locker:        locker,
		engine:        engine,
		poller:        poller,
		drainInterval: drainInterval,
		pollInterval:  pollInterval,
	}
}

// Start runs both loops until the context is cancelled
func (s *Scheduler) Start(ctx context.Context) error {
	logrus.WithFields(logrus.Fields{
		"drain_interval": s.drainInterval,
		"poll_interval":  s.pollInterval,
	}).Info("Starting odoo_bridge sync scheduler")

	errChan := make(chan error, 2)

	go func() {
		errChan <- s.runLoop(ctx, "drain", drainLockName, s.drainInterval, s.engine.RunBatch)
	}()

	go func() {
		errChan <- s.runLoop(ctx, "poll", pollLockName, s.pollInterval, s.poller.Poll)
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("scheduler error: %w", err)
	case <-ctx.Done():
		logrus.Info("Scheduler stopped due to context cancellation")
		return ctx.Err()
	}
}

// runLoop fires the operation on every tick, skipping ticks whose lock is
// held by another worker
func (s *Scheduler) runLoop(ctx context.Context, name, lockName string, interval time.Duration, operation func(context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.runLocked(ctx, name, lockName, operation); err != nil {
				logrus.WithError(err).WithField("operation", name).Error("Scheduled operation failed")
			}
		}
	}
}

// runLocked executes one tick under the named lock, or skips if another
// worker holds it
func (s *Scheduler) runLocked(ctx context.Context, name, lockName string, operation func(context.Context) error) error {
	lock, acquired, err := s.locker.TryLock(ctx, lockName)
	if err != nil {
		return fmt.Errorf("failed to contend for %s lock: %w", name, err)
	}
	if !acquired {
		logrus.WithField("operation", name).Debug("Tick skipped, another worker is active")
		return nil
	}
	defer func() {
		if err := lock.Unlock(ctx); err != nil {
			logrus.WithError(err).WithField("operation", name).Warn("Failed to release tick lock")
		}
	}()

	return operation(ctx)
}
