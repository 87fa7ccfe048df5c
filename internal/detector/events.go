// Package detector turns observed changes into sync jobs. Event-driven
// sources call the Events hooks directly; sources without native change
// events are covered by the polling detector, which diffs content hashes
// against the entity map.
package detector

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/syncwell/odoo_bridge/internal/module"
	"github.com/syncwell/odoo_bridge/internal/queue"
)

// Enqueuer is the queue surface the detectors produce into.
type Enqueuer interface {
	Enqueue(ctx context.Context, job queue.Job) error
}

// Events translates platform events (save, delete, status change) into
// enqueue calls. The hooks are cheap and synchronous; they must be safe to
// call from within the engine's own write-back, which is why every hook
// checks the import guard first.
type Events struct {
	queue Enqueuer
}

// NewEvents creates the event-driven detector
func NewEvents(q Enqueuer) *Events {
	return &Events{queue: q}
}

// OnSaved records that a local record was created or updated
func (e *Events) OnSaved(ctx context.Context, integration, entityType string, localID int64) error {
	if module.IsImporting(ctx) {
		// this save is the engine writing back a pull; re-enqueueing it
		// would bounce the change forever
		logrus.WithFields(logrus.Fields{
			"integration": integration,
			"entity_type": entityType,
			"local_id":    localID,
		}).Debug("Save during import, not enqueueing")
		return nil
	}

	return e.queue.Enqueue(ctx, queue.Job{
		Integration: integration,
		EntityType:  entityType,
		Action:      queue.ActionUpdate,
		Origin:      queue.OriginLocal,
		LocalID:     localID,
	})
}

// OnCreated records that a local record was created
func (e *Events) OnCreated(ctx context.Context, integration, entityType string, localID int64) error {
	if module.IsImporting(ctx) {
		return nil
	}

	return e.queue.Enqueue(ctx, queue.Job{
		Integration: integration,
		EntityType:  entityType,
		Action:      queue.ActionCreate,
		Origin:      queue.OriginLocal,
		LocalID:     localID,
	})
}

// OnDeleted records that a local record was deleted
func (e *Events) OnDeleted(ctx context.Context, integration, entityType string, localID int64) error {
	if module.IsImporting(ctx) {
		return nil
	}

	return e.queue.Enqueue(ctx, queue.Job{
		Integration: integration,
		EntityType:  entityType,
		Action:      queue.ActionDelete,
		Origin:      queue.OriginLocal,
		LocalID:     localID,
	})
}
