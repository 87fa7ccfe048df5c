package detector

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/syncwell/odoo_bridge/internal/entitymap"
	"github.com/syncwell/odoo_bridge/internal/module"
	"github.com/syncwell/odoo_bridge/internal/queue"
)

// Source enumerates the current records of one (integration, entity type)
// with no native change events. FetchAll returns the full live record set
// keyed by local id.
type Source interface {
	Integration() string
	EntityType() string
	FetchAll(ctx context.Context) (map[int64]module.Record, error)
}

// Snapshotter is the entity map surface the poller diffs against.
type Snapshotter interface {
	SnapshotForEntityType(ctx context.Context, integration, entityType string) (map[int64]entitymap.Mapping, error)
}

// Poller synthesizes create/update/delete jobs for polled sources by hashing
// each record and diffing against the entity map.
type Poller struct {
	queue    Enqueuer
	entities Snapshotter
	sources  []Source
}

// NewPoller creates a polling detector over the given sources
func NewPoller(q Enqueuer, entities Snapshotter, sources ...Source) *Poller {
	return &Poller{queue: q, entities: entities, sources: sources}
}

// Poll scans every source once. Sources run concurrently and fail
// independently: one entity type's crash never blocks the others in the
// same tick.
func (p *Poller) Poll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, source := range p.sources {
		g.Go(func() error {
			if err := p.pollSource(ctx, source); err != nil {
				logrus.WithError(err).WithFields(logrus.Fields{
					"integration": source.Integration(),
					"entity_type": source.EntityType(),
				}).Error("Poll failed for entity type")
			}
			return nil
		})
	}
	return g.Wait()
}

// pollSource diffs one source's live records against the recorded hashes:
// unseen local id -> create, hash mismatch -> update, mapped id missing from
// the fetch -> delete
func (p *Poller) pollSource(ctx context.Context, source Source) error {
	integration := source.Integration()
	entityType := source.EntityType()

	records, err := source.FetchAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch records: %w", err)
	}

	snapshot, err := p.entities.SnapshotForEntityType(ctx, integration, entityType)
	if err != nil {
		return fmt.Errorf("failed to load entity map snapshot: %w", err)
	}

	creates, updates, deletes := 0, 0, 0

	for localID, record := range records {
		hash := module.HashRecord(record, "id")
		mapping, known := snapshot[localID]

		switch {
		case !known:
			if err := p.enqueue(ctx, integration, entityType, queue.ActionCreate, localID); err != nil {
				return err
			}
			creates++
		case mapping.ContentHash != hash:
			if err := p.enqueue(ctx, integration, entityType, queue.ActionUpdate, localID); err != nil {
				return err
			}
			updates++
		}
	}

	for localID := range snapshot {
		if _, alive := records[localID]; alive {
			continue
		}
		if err := p.enqueue(ctx, integration, entityType, queue.ActionDelete, localID); err != nil {
			return err
		}
		deletes++
	}

	if creates+updates+deletes > 0 {
		logrus.WithFields(logrus.Fields{
			"integration": integration,
			"entity_type": entityType,
			"creates":     creates,
			"updates":     updates,
			"deletes":     deletes,
		}).Info("Polling detector enqueued changes")
	}

	return nil
}

func (p *Poller) enqueue(ctx context.Context, integration, entityType string, action queue.Action, localID int64) error {
	return p.queue.Enqueue(ctx, queue.Job{
		Integration: integration,
		EntityType:  entityType,
		Action:      action,
		Origin:      queue.OriginLocal,
		LocalID:     localID,
	})
}
