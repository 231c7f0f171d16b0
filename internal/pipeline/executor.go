// Package pipeline runs admitted jobs through the fixed stage sequence,
// records every outcome on the job record, and drives jobs to exactly one
// terminal status.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rahulnair/veriscope/internal/cache"
	"github.com/rahulnair/veriscope/internal/config"
	"github.com/rahulnair/veriscope/internal/provider"
	"github.com/rahulnair/veriscope/internal/report"
	"github.com/rahulnair/veriscope/internal/store"
	"github.com/rahulnair/veriscope/pkg/models"
)

// errJobFinished aborts a mutation against a job that already reached a
// terminal status. Terminal transitions happen exactly once; every finalize
// path treats this as "someone else got there first" and backs off.
var errJobFinished = errors.New("job already terminal")

// ExecutorParams collects the executor's dependencies.
type ExecutorParams struct {
	Store     store.Store
	Cache     cache.Cache
	Registry  *provider.Registry
	Config    config.PipelineConfig
	Assembler *report.Assembler
	Blobs     report.BlobStore
	Workers   int
	// OnFree is invoked whenever a job reaches a terminal status and its
	// slot frees up, so the dispatcher can promote the next queued job
	// without waiting for the scan interval.
	OnFree func()
}

// Executor is the worker pool that runs jobs. Jobs enter through Enqueue
// (from the dispatcher) or Recover (at startup, for jobs that were running
// when the previous process died).
type Executor struct {
	store     store.Store
	cache     cache.Cache
	registry  *provider.Registry
	cfg       config.PipelineConfig
	progress  *Reporter
	assembler *report.Assembler
	blobs     report.BlobStore
	onFree    func()

	workers int
	queue   chan uuid.UUID
	wg      sync.WaitGroup
}

func NewExecutor(p ExecutorParams) *Executor {
	workers := p.Workers
	if workers <= 0 {
		workers = 4
	}
	return &Executor{
		store:     p.Store,
		cache:     p.Cache,
		registry:  p.Registry,
		cfg:       p.Config,
		progress:  NewReporter(p.Store, p.Cache, p.Config.Stages, p.Config.ProgressInterval),
		assembler: p.Assembler,
		blobs:     p.Blobs,
		onFree:    p.OnFree,
		workers:   workers,
		queue:     make(chan uuid.UUID, workers*4),
	}
}

// Start launches the worker pool. Workers drain the queue until ctx is
// cancelled; Wait blocks until in-flight jobs settle.
func (e *Executor) Start(ctx context.Context) {
	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case jobID := <-e.queue:
					e.runJob(ctx, jobID)
				}
			}
		}()
	}
}

func (e *Executor) Wait() {
	e.wg.Wait()
}

// Enqueue hands a job to the worker pool without blocking. A false return
// means the queue is full; the caller leaves the job for the recovery scan.
func (e *Executor) Enqueue(jobID uuid.UUID) bool {
	select {
	case e.queue <- jobID:
		return true
	default:
		return false
	}
}

// Recover re-enqueues jobs that were running when the previous process
// stopped. Their recorded stage results let runJob resume mid-pipeline.
func (e *Executor) Recover(ctx context.Context) error {
	jobs, err := e.store.ListJobsByStatus(ctx, []string{models.JobStatusRunning})
	if err != nil {
		return fmt.Errorf("list running jobs: %w", err)
	}
	for _, job := range jobs {
		if e.Enqueue(job.ID) {
			slog.Info("recovered running job", "job_id", job.ID, "current_stage", job.CurrentStage)
		} else {
			slog.Warn("recovery queue full", "job_id", job.ID)
		}
	}
	return nil
}

// runJob drives one job from its current stage to a terminal status. Stages
// with a recorded succeeded or skipped result are not re-run, which makes
// the loop a resume as much as a start.
func (e *Executor) runJob(ctx context.Context, jobID uuid.UUID) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in job worker", "job_id", jobID, "panic", r, "stack", string(debug.Stack()))
			e.finalizeFailed(ctx, jobID, &models.JobError{
				Kind:    models.ErrorKindInternal,
				Message: "internal error while processing the job",
			})
		}
	}()

	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		slog.Error("load job for execution", "job_id", jobID, "error", err)
		return
	}
	if job.Status != models.JobStatusRunning {
		// Stale enqueue: the job was cancelled or finished elsewhere.
		return
	}
	MirrorSnapshot(ctx, e.cache, e.cfg.Stages, job)

	jobCtx, cancelJob := context.WithCancel(ctx)
	defer cancelJob()
	cancelled, stopWatch := e.watchCancel(ctx, jobID, cancelJob)
	defer stopWatch()

	for idx := job.CurrentStage; idx < len(e.cfg.Stages); idx++ {
		def := e.cfg.Stages[idx]
		if res, ok := job.StageResultFor(def.Name); ok && res.Outcome != models.StageOutcomeFailed {
			continue
		}
		if cancelled() || jobCtx.Err() != nil {
			e.finalizeCancelled(ctx, jobID)
			return
		}

		job, err = e.beginStage(ctx, jobID, idx, def)
		if err != nil {
			if errors.Is(err, errJobFinished) {
				return
			}
			slog.Error("begin stage", "job_id", jobID, "stage", def.Name, "error", err)
			e.finalizeFailed(ctx, jobID, &models.JobError{
				Kind:    models.ErrorKindInternal,
				Message: "internal error while processing the job",
			})
			return
		}

		res, runErr := e.runStage(jobCtx, job, def)
		if runErr != nil && (cancelled() || errors.Is(runErr, context.Canceled)) {
			e.finalizeCancelled(ctx, jobID)
			return
		}

		job, err = e.recordStageResult(ctx, jobID, res)
		if err != nil {
			if errors.Is(err, errJobFinished) {
				e.finalizeCancelled(ctx, jobID)
				return
			}
			slog.Error("record stage result", "job_id", jobID, "stage", def.Name, "error", err)
			e.finalizeFailed(ctx, jobID, &models.JobError{
				Kind:    models.ErrorKindInternal,
				Message: "internal error while processing the job",
			})
			return
		}

		if runErr != nil {
			var failure *stageFailure
			jobErr := &models.JobError{
				Kind:    models.ErrorKindInternal,
				Stage:   def.Name,
				Message: "internal error while processing the job",
			}
			if errors.As(runErr, &failure) {
				jobErr.Kind = models.ErrorKindStage
				jobErr.Message = failure.Error()
			}
			slog.Warn("stage failed", "job_id", jobID, "stage", def.Name, "error", runErr)
			e.finalizeFailed(ctx, jobID, jobErr)
			return
		}
	}

	e.finalizeCompleted(ctx, job)
}

// beginStage moves the job's current-stage pointer. The mutation fails with
// errJobFinished if a concurrent cancel won the race.
func (e *Executor) beginStage(ctx context.Context, jobID uuid.UUID, idx int, def models.StageDefinition) (*models.Job, error) {
	job, err := store.Update(ctx, e.store, jobID, func(j *models.Job) error {
		if models.TerminalStatus(j.Status) {
			return errJobFinished
		}
		j.CurrentStage = idx
		j.Message = "running stage " + def.Name
		j.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}
	MirrorSnapshot(ctx, e.cache, e.cfg.Stages, job)
	slog.Info("stage started", "job_id", jobID, "stage", def.Name, "ordinal", idx)
	return job, nil
}

// recordStageResult appends the stage outcome to the job record, replacing a
// prior failed result for the same stage from an earlier process.
func (e *Executor) recordStageResult(ctx context.Context, jobID uuid.UUID, res models.StageResult) (*models.Job, error) {
	return store.Update(ctx, e.store, jobID, func(j *models.Job) error {
		if models.TerminalStatus(j.Status) {
			return errJobFinished
		}
		for i := range j.StageResults {
			if j.StageResults[i].Stage == res.Stage {
				j.StageResults[i] = res
				j.UpdatedAt = time.Now().UTC()
				return nil
			}
		}
		j.StageResults = append(j.StageResults, res)
		j.UpdatedAt = time.Now().UTC()
		return nil
	})
}

func (e *Executor) finalizeCompleted(ctx context.Context, job *models.Job) {
	rep, artifact, err := e.assembler.Assemble(job.ID, e.cfg.Stages, job.StageResults)
	if err != nil {
		slog.Error("assemble report", "job_id", job.ID, "error", err)
		e.finalizeFailed(ctx, job.ID, &models.JobError{
			Kind:    models.ErrorKindInternal,
			Message: "report assembly failed",
		})
		return
	}
	uri, err := e.blobs.Put(ctx, fmt.Sprintf("%s/report.json", job.ID), artifact)
	if err != nil {
		slog.Error("store report artifact", "job_id", job.ID, "error", err)
		e.finalizeFailed(ctx, job.ID, &models.JobError{
			Kind:    models.ErrorKindInternal,
			Message: "report storage failed",
		})
		return
	}

	e.finalize(ctx, job.ID, func(j *models.Job) {
		j.Status = models.JobStatusCompleted
		j.ProgressPercent = 100
		j.Message = "completed"
		j.ReportRef = &uri
	})
	slog.Info("job completed", "job_id", job.ID, "claims", len(rep.Claims), "partial", rep.Partial, "report_ref", uri)
}

func (e *Executor) finalizeFailed(ctx context.Context, jobID uuid.UUID, jobErr *models.JobError) {
	e.finalize(ctx, jobID, func(j *models.Job) {
		j.Status = models.JobStatusFailed
		j.Message = "failed"
		j.Error = jobErr
	})
	slog.Info("job failed", "job_id", jobID, "kind", jobErr.Kind, "stage", jobErr.Stage)
}

func (e *Executor) finalizeCancelled(ctx context.Context, jobID uuid.UUID) {
	e.finalize(ctx, jobID, func(j *models.Job) {
		j.Status = models.JobStatusCancelled
		j.Message = "cancelled by request"
		j.Error = &models.JobError{Kind: models.ErrorKindCancelled, Message: "job cancelled by request"}
	})
	slog.Info("job cancelled", "job_id", jobID)
}

// finalize applies the terminal transition exactly once: a job that is
// already terminal is left alone. The snapshot mirror and the dispatcher
// kick run only for the winning writer.
func (e *Executor) finalize(ctx context.Context, jobID uuid.UUID, apply func(j *models.Job)) {
	job, err := store.Update(ctx, e.store, jobID, func(j *models.Job) error {
		if models.TerminalStatus(j.Status) {
			return errJobFinished
		}
		apply(j)
		now := time.Now().UTC()
		j.CompletedAt = &now
		j.UpdatedAt = now
		return nil
	})
	if err != nil {
		if !errors.Is(err, errJobFinished) {
			slog.Error("finalize job", "job_id", jobID, "error", err)
		}
		return
	}

	MirrorSnapshot(ctx, e.cache, e.cfg.Stages, job)
	e.progress.Forget(jobID)
	if e.onFree != nil {
		e.onFree()
	}
}

// watchCancel polls the job record for a cancellation request. When one
// appears the returned cancelled() starts reporting true so the executor can
// stop at the next stage boundary; after the grace period the job context is
// cancelled outright to interrupt whatever is still running.
func (e *Executor) watchCancel(ctx context.Context, jobID uuid.UUID, cancelJob context.CancelFunc) (cancelled func() bool, stop func()) {
	var flag atomic.Bool
	stopCh := make(chan struct{})

	go func() {
		ticker := time.NewTicker(e.cfg.CancelPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
			}
			job, err := e.store.GetJob(ctx, jobID)
			if err != nil {
				continue
			}
			if models.TerminalStatus(job.Status) {
				return
			}
			if job.CancelRequested {
				flag.Store(true)
				slog.Info("cancellation requested, draining", "job_id", jobID, "grace", e.cfg.CancelGracePeriod)
				select {
				case <-ctx.Done():
				case <-stopCh:
				case <-time.After(e.cfg.CancelGracePeriod):
					cancelJob()
				}
				return
			}
		}
	}()

	var once sync.Once
	return flag.Load, func() { once.Do(func() { close(stopCh) }) }
}
