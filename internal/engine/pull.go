package engine

import (
	"context"
	"fmt"

	"github.com/syncwell/odoo_bridge/internal/module"
	"github.com/syncwell/odoo_bridge/internal/queue"
)

// pull propagates a remote change into the local system. The local save runs
// under the import guard so the event detectors do not bounce it back as a
// push.
func (e *Engine) pull(ctx context.Context, mod module.Module, job queue.Job) Result {
	if job.Action == queue.ActionDelete {
		return e.pullDelete(ctx, mod, job)
	}

	remoteID, err := e.resolveRemoteID(ctx, job)
	if err != nil {
		return permanentFailure("cannot pull without a remote id: %w", err)
	}

	model := e.resolveModel(ctx, mod, job.EntityType)
	fields, err := e.remote.Read(ctx, model, remoteID, nil)
	if err != nil {
		return failure(err)
	}

	record, err := mod.MapFromRemote(job.EntityType, fields)
	if err != nil {
		return permanentFailure("failed to map remote fields: %w", err)
	}

	localID, err := mod.SaveLocalData(module.WithImportGuard(ctx), job.EntityType, record, job.LocalID)
	if err != nil {
		return failure(fmt.Errorf("failed to save local record: %w", err))
	}
	if localID == 0 {
		return permanentFailure("local save rejected record for %s/%d", job.EntityType, remoteID)
	}

	hash := module.HashRecord(record, "id")
	if err := e.entities.Save(ctx, job.Integration, job.EntityType, localID, remoteID, hash); err != nil {
		return failure(err)
	}

	return success(localID, "pulled from "+model)
}

// pullDelete removes the local counterpart of a remotely deleted record
func (e *Engine) pullDelete(ctx context.Context, mod module.Module, job queue.Job) Result {
	if job.LocalID == 0 {
		return success(0, "delete of unmapped remote entity, nothing to do")
	}

	deleted, err := mod.DeleteLocalData(module.WithImportGuard(ctx), job.EntityType, job.LocalID)
	if err != nil {
		return failure(fmt.Errorf("failed to delete local record: %w", err))
	}
	if !deleted {
		// already gone locally: converged
		return success(job.LocalID, "local record already gone")
	}

	if err := e.entities.Delete(ctx, job.Integration, job.EntityType, job.LocalID); err != nil {
		return failure(err)
	}

	return success(job.LocalID, "deleted locally")
}

// resolveRemoteID finds the remote id for a pull job, preferring the id
// carried by the job over the mapping
func (e *Engine) resolveRemoteID(ctx context.Context, job queue.Job) (int64, error) {
	if job.RemoteID != nil {
		return *job.RemoteID, nil
	}

	remoteID, mapped, err := e.entities.GetRemoteID(ctx, job.Integration, job.EntityType, job.LocalID)
	if err != nil {
		return 0, err
	}
	if !mapped {
		return 0, fmt.Errorf("no mapping for %s/%s/%d", job.Integration, job.EntityType, job.LocalID)
	}
	return remoteID, nil
}
