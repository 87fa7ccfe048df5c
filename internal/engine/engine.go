// Package engine implements the sync engine: it drains batches from the job
// queue, consults the circuit breaker, dispatches each job to the owning
// integration's module, classifies outcomes, maintains the entity map, and
// feeds batch results back to the breaker.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/syncwell/odoo_bridge/internal/module"
	"github.com/syncwell/odoo_bridge/internal/odoo"
	"github.com/syncwell/odoo_bridge/internal/queue"
	"github.com/syncwell/odoo_bridge/internal/report"
)

// JobQueue is the queue surface the engine consumes.
type JobQueue interface {
	DequeueBatch(ctx context.Context, maxSize int) ([]queue.Job, error)
	Ack(ctx context.Context, job queue.Job) error
	Requeue(ctx context.Context, job queue.Job, delay time.Duration) error
}

// EntityMap is the mapping store surface the engine consumes.
type EntityMap interface {
	GetRemoteID(ctx context.Context, integration, entityType string, localID int64) (int64, bool, error)
	GetLocalID(ctx context.Context, integration, entityType string, remoteID int64) (int64, bool, error)
	Save(ctx context.Context, integration, entityType string, localID, remoteID int64, contentHash string) error
	Delete(ctx context.Context, integration, entityType string, localID int64) error
}

// CircuitBreaker gates remote calls and receives per-batch feedback.
type CircuitBreaker interface {
	IsAvailable(ctx context.Context) (bool, error)
	RecordSuccess(ctx context.Context) error
	RecordFailure(ctx context.Context) error
	ReleaseProbe(ctx context.Context)
}

// Remote is the Odoo client surface the engine consumes.
type Remote interface {
	Search(ctx context.Context, model string, domain [][]any) ([]int64, error)
	Read(ctx context.Context, model string, id int64, fields []string) (map[string]any, error)
	Create(ctx context.Context, model string, fields map[string]any) (int64, error)
	Write(ctx context.Context, model string, id int64, fields map[string]any) error
	WriteWithContext(ctx context.Context, model string, id int64, fields map[string]any, lang string) error
	Unlink(ctx context.Context, model string, id int64) error
	ModelExists(ctx context.Context, model string) (bool, error)
}

// FailureLog records permanently failed jobs for the operator.
type FailureLog interface {
	Record(ctx context.Context, f report.Failure) error
}

// Result is the transient outcome of one push or pull call. It is never
// persisted; it only drives retry and circuit breaker feedback.
type Result struct {
	Succeeded      bool
	AffectedID     int64
	Message        string
	Classification odoo.Kind
	Err            error
}

func success(affectedID int64, message string) Result {
	return Result{Succeeded: true, AffectedID: affectedID, Message: message}
}

func failure(err error) Result {
	return Result{Succeeded: false, Message: err.Error(), Classification: odoo.ClassifyError(err), Err: err}
}

func permanentFailure(format string, args ...any) Result {
	err := fmt.Errorf(format, args...)
	return Result{Succeeded: false, Message: err.Error(), Classification: odoo.KindPermanent, Err: err}
}

// Config holds engine tuning parameters
type Config struct {
	BatchSize     int
	MaxAttempts   int
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
	ModelCacheTTL time.Duration
}

// DefaultConfig provides sensible defaults for batch processing
func DefaultConfig() Config {
	return Config{
		BatchSize:     20,
		MaxAttempts:   5,
		BaseBackoff:   30 * time.Second,
		MaxBackoff:    1 * time.Hour,
		ModelCacheTTL: 15 * time.Minute,
	}
}

// Engine turns queued intent into remote-system state changes, exactly
// through the Module Contract, never touching remote APIs directly.
type Engine struct {
	queue    JobQueue
	entities EntityMap
	breaker  CircuitBreaker
	remote   Remote
	registry *module.Registry
	failures FailureLog
	models   *modelCache
	config   Config
}

// New creates a sync engine
func New(q JobQueue, entities EntityMap, cb CircuitBreaker, remote Remote,
	registry *module.Registry, failures FailureLog, config Config) *Engine {
	return &Engine{
		queue:    q,
		entities: entities,
		breaker:  cb,
		remote:   remote,
		registry: registry,
		failures: failures,
		models:   newModelCache(remote, config.ModelCacheTTL),
		config:   config,
	}
}

// RunBatch processes one batch of queued jobs. Per-job failures never abort
// the batch; the aggregate outcome is reported to the circuit breaker once.
func (e *Engine) RunBatch(ctx context.Context) error {
	available, err := e.breaker.IsAvailable(ctx)
	if err != nil {
		return fmt.Errorf("failed to check circuit breaker: %w", err)
	}
	if !available {
		logrus.Debug("Circuit open, skipping batch")
		return nil
	}

	jobs, err := e.queue.DequeueBatch(ctx, e.config.BatchSize)
	if err != nil {
		// local dequeue failure says nothing about the remote endpoint
		e.breaker.ReleaseProbe(ctx)
		return fmt.Errorf("failed to dequeue batch: %w", err)
	}
	if len(jobs) == 0 {
		e.breaker.ReleaseProbe(ctx)
		return nil
	}

	batchID := uuid.New()
	logger := logrus.WithFields(logrus.Fields{"batch": batchID, "jobs": len(jobs)})
	logger.Debug("Processing sync batch")

	successes := 0
	for _, job := range jobs {
		result := e.processJob(ctx, job)
		if err := e.settleJob(ctx, job, result); err != nil {
			logger.WithError(err).WithField("job_id", job.ID).Error("Failed to settle job")
			continue
		}
		if result.Succeeded {
			successes++
		}
	}

	// One batch with a partial success counts as a success for breaker
	// purposes: the remote endpoint is reachable.
	if successes > 0 {
		if err := e.breaker.RecordSuccess(ctx); err != nil {
			return err
		}
	} else {
		if err := e.breaker.RecordFailure(ctx); err != nil {
			return err
		}
	}

	logger.WithFields(logrus.Fields{
		"succeeded": successes,
		"failed":    len(jobs) - successes,
	}).Info("Sync batch completed")

	return nil
}

// processJob resolves the owning module and dispatches push or pull. Any
// error is converted to a Result at this boundary; it never escapes.
func (e *Engine) processJob(ctx context.Context, job queue.Job) Result {
	mod, err := e.registry.Resolve(job.Integration)
	if err != nil {
		// operator configuration error: an integration enqueued jobs but
		// is no longer registered
		return permanentFailure("cannot dispatch job: %w", err)
	}

	direction := mod.GetSyncDirection(job.EntityType)
	if job.Origin == queue.OriginRemote {
		if direction == module.DirectionPushOnly {
			return success(0, "pull attempted on push-only entity type, nothing to do")
		}
		return e.pull(ctx, mod, job)
	}

	if direction == module.DirectionPullOnly {
		return success(0, "push attempted on pull-only entity type, nothing to do")
	}
	return e.push(ctx, mod, job, 0)
}

// settleJob acks, requeues or escalates a job based on its result
func (e *Engine) settleJob(ctx context.Context, job queue.Job, result Result) error {
	logger := logrus.WithFields(logrus.Fields{
		"integration": job.Integration,
		"entity_type": job.EntityType,
		"action":      job.Action,
		"local_id":    job.LocalID,
	})

	if result.Succeeded {
		logger.WithField("remote_id", result.AffectedID).Debug("Job succeeded")
		return e.queue.Ack(ctx, job)
	}

	if result.Classification == odoo.KindTransient && job.Attempts+1 < e.config.MaxAttempts {
		delay := e.backoffDelay(job.Attempts)
		logger.WithError(result.Err).WithFields(logrus.Fields{
			"attempt": job.Attempts + 1,
			"delay":   delay,
		}).Warn("Transient failure, job requeued")
		return e.queue.Requeue(ctx, job, delay)
	}

	// Permanent failure, or retry budget exhausted: drop and surface
	classification := result.Classification.String()
	if result.Classification == odoo.KindTransient {
		classification = "transient-exhausted"
	}
	if err := e.failures.Record(ctx, report.Failure{
		Integration:    job.Integration,
		EntityType:     job.EntityType,
		Action:         string(job.Action),
		LocalID:        job.LocalID,
		Message:        result.Message,
		Classification: classification,
	}); err != nil {
		logger.WithError(err).Error("Failed to record permanent failure")
	}
	return e.queue.Ack(ctx, job)
}

// backoffDelay returns the exponential retry delay for the given attempt count
func (e *Engine) backoffDelay(attempts int) time.Duration {
	delay := e.config.BaseBackoff
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= e.config.MaxBackoff {
			return e.config.MaxBackoff
		}
	}
	return delay
}
