package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/syncwell/odoo_bridge/internal/module"
	"github.com/syncwell/odoo_bridge/internal/odoo"
	"github.com/syncwell/odoo_bridge/internal/queue"
)

// maxParentDepth bounds recursive parent resolution to one level so
// dependency cycles between entity types cannot loop the engine.
const maxParentDepth = 1

// push propagates a local change to the remote ERP
func (e *Engine) push(ctx context.Context, mod module.Module, job queue.Job, depth int) Result {
	if job.Action == queue.ActionDelete {
		return e.pushDelete(ctx, mod, job)
	}

	record, err := mod.LoadLocalData(ctx, job.EntityType, job.LocalID)
	if err != nil {
		return failure(fmt.Errorf("failed to load local record: %w", err))
	}
	if record == nil {
		// the local record vanished between enqueue and processing
		return success(0, "local record gone, nothing to push")
	}

	if depth < maxParentDepth {
		if err := e.ensureParentSynced(ctx, mod, job, depth); err != nil {
			return failure(fmt.Errorf("parent sync for %s/%d failed: %w", job.EntityType, job.LocalID, err))
		}
	}

	fields, err := mod.MapToRemote(job.EntityType, record)
	if err != nil {
		return permanentFailure("failed to map record to remote fields: %w", err)
	}

	model := e.resolveModel(ctx, mod, job.EntityType)

	remoteID, mapped, err := e.entities.GetRemoteID(ctx, job.Integration, job.EntityType, job.LocalID)
	if err != nil {
		return failure(err)
	}

	if !mapped {
		// search-before-create: adopt a matching remote record instead of
		// creating a duplicate
		if domain := mod.GetDedupDomain(job.EntityType, fields); len(domain) > 0 {
			ids, err := e.remote.Search(ctx, model, domain)
			if err != nil {
				return failure(err)
			}
			if len(ids) > 0 {
				remoteID = ids[0]
				mapped = true
				logrus.WithFields(logrus.Fields{
					"model":     model,
					"remote_id": remoteID,
					"local_id":  job.LocalID,
				}).Info("Dedup search matched existing remote record, adopting")
			}
		}
	}

	if mapped {
		if err := e.remote.Write(ctx, model, remoteID, fields); err != nil {
			return failure(err)
		}
	} else {
		remoteID, err = e.remote.Create(ctx, model, fields)
		if err != nil {
			return failure(err)
		}
	}

	// The mapping must be durable before the translation writes: if a
	// localized write fails and the job is retried, the retry has to find
	// the remote id and update in place, not create a second record.
	hash := module.HashRecord(record, "id")
	if err := e.entities.Save(ctx, job.Integration, job.EntityType, job.LocalID, remoteID, hash); err != nil {
		return failure(err)
	}

	if res := e.pushTranslations(ctx, mod, job.EntityType, model, remoteID, record); !res.Succeeded {
		return res
	}

	return success(remoteID, "pushed to "+model)
}

// pushDelete removes the remote counterpart of a deleted local record.
// A delete of a never-created entity is a no-op success.
func (e *Engine) pushDelete(ctx context.Context, mod module.Module, job queue.Job) Result {
	remoteID, mapped, err := e.entities.GetRemoteID(ctx, job.Integration, job.EntityType, job.LocalID)
	if err != nil {
		return failure(err)
	}
	if !mapped {
		if job.RemoteID == nil {
			return success(0, "delete of unmapped entity, nothing to do")
		}
		remoteID = *job.RemoteID
	}

	model := e.resolveModel(ctx, mod, job.EntityType)
	if err := e.remote.Unlink(ctx, model, remoteID); err != nil {
		// already gone remotely: converged, not a failure
		var oerr *odoo.Error
		if !errors.As(err, &oerr) || oerr.Name != "odoo.exceptions.MissingError" {
			return failure(err)
		}
	}

	// the local side is deleted too, so the mapping goes with it
	if err := e.entities.Delete(ctx, job.Integration, job.EntityType, job.LocalID); err != nil {
		return failure(err)
	}

	return success(remoteID, "deleted from "+model)
}

// ensureParentSynced pushes the declared parent of a child entity before the
// child itself, so remote foreign keys resolve. Bounded by maxParentDepth.
func (e *Engine) ensureParentSynced(ctx context.Context, mod module.Module, job queue.Job, depth int) error {
	parentType := mod.GetParentEntityType(job.EntityType)
	if parentType == "" {
		return nil
	}

	parentLocalID, err := mod.GetParentLocalID(ctx, job.EntityType, job.LocalID)
	if err != nil {
		return fmt.Errorf("failed to resolve parent id: %w", err)
	}
	if parentLocalID == 0 {
		return nil
	}

	_, mapped, err := e.entities.GetRemoteID(ctx, job.Integration, parentType, parentLocalID)
	if err != nil {
		return err
	}
	if mapped {
		return nil
	}

	logrus.WithFields(logrus.Fields{
		"integration":     job.Integration,
		"entity_type":     job.EntityType,
		"parent_type":     parentType,
		"parent_local_id": parentLocalID,
	}).Info("Parent not yet synced, pushing it first")

	parentJob := queue.Job{
		Integration: job.Integration,
		EntityType:  parentType,
		Action:      queue.ActionCreate,
		Origin:      queue.OriginLocal,
		LocalID:     parentLocalID,
	}
	result := e.push(ctx, mod, parentJob, depth+1)
	if !result.Succeeded {
		return fmt.Errorf("parent push failed: %s", result.Message)
	}
	return nil
}

// pushTranslations writes locale-variant fields one language at a time under
// the corresponding Odoo language context
func (e *Engine) pushTranslations(ctx context.Context, mod module.Module, entityType, model string, remoteID int64, record module.Record) Result {
	localized, ok := mod.(module.Localized)
	if !ok {
		return success(remoteID, "")
	}

	perLocale := localized.LocalizedFields(entityType, record)
	langs := make([]string, 0, len(perLocale))
	for lang := range perLocale {
		langs = append(langs, lang)
	}
	sort.Strings(langs)

	for _, lang := range langs {
		if len(perLocale[lang]) == 0 {
			continue
		}
		if err := e.remote.WriteWithContext(ctx, model, remoteID, perLocale[lang], lang); err != nil {
			return failure(fmt.Errorf("failed to push %s translation: %w", lang, err))
		}
	}
	return success(remoteID, "")
}

// resolveModel returns the remote model for an entity type, falling back to
// the integration's generic model when the preferred one is not installed
func (e *Engine) resolveModel(ctx context.Context, mod module.Module, entityType string) string {
	model := mod.GetRemoteModel(entityType)

	dual, ok := mod.(module.DualModel)
	if !ok {
		return model
	}

	exists, err := e.models.Exists(ctx, model)
	if err != nil {
		logrus.WithError(err).WithField("model", model).Warn("Model probe failed, assuming preferred model")
		return model
	}
	if exists {
		return model
	}

	fallback := dual.GetFallbackModel(entityType)
	logrus.WithFields(logrus.Fields{
		"preferred": model,
		"fallback":  fallback,
	}).Debug("Preferred model not installed, using fallback")
	return fallback
}
