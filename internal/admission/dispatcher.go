package admission

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rahulnair/veriscope/internal/store"
	"github.com/rahulnair/veriscope/pkg/models"
)

// Executor receives promoted jobs. Enqueue must not block; returning false
// leaves the job queued for the next scan.
type Executor interface {
	Enqueue(jobID uuid.UUID) bool
}

// errNotQueued aborts a promotion whose job changed state under us.
var errNotQueued = errors.New("job no longer queued")

// Dispatcher is the background loop that promotes queued jobs to running.
// Promotion goes through the store's compare-and-update, so two dispatchers
// scanning the same queue can never double-admit a job: the loser of the
// version race skips it.
type Dispatcher struct {
	store store.Store
	exec  Executor
	cfg   dispatchConfig
	kick  chan struct{}
}

type dispatchConfig struct {
	GlobalMaxRunning int
	TenantMaxRunning int
	Interval         time.Duration
}

func NewDispatcher(st store.Store, exec Executor, globalCap, tenantCapDefault int, interval time.Duration) *Dispatcher {
	return &Dispatcher{
		store: st,
		exec:  exec,
		cfg: dispatchConfig{
			GlobalMaxRunning: globalCap,
			TenantMaxRunning: tenantCapDefault,
			Interval:         interval,
		},
		kick: make(chan struct{}, 1),
	}
}

// Kick wakes the dispatch loop without waiting for the scan interval.
func (d *Dispatcher) Kick() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// Run scans until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-d.kick:
		}
		d.dispatchOnce(ctx)
	}
}

// dispatchOnce promotes the oldest queued jobs of tenants with free
// capacity, up to the global cap. A failed promotion never affects the loop.
func (d *Dispatcher) dispatchOnce(ctx context.Context) {
	runningAll, err := d.store.CountRunningAll(ctx)
	if err != nil {
		slog.Error("dispatch: count running jobs", "error", err)
		return
	}
	free := d.cfg.GlobalMaxRunning - runningAll
	if free <= 0 {
		return
	}

	queued, err := d.store.ListJobsByStatus(ctx, []string{models.JobStatusQueued})
	if err != nil {
		slog.Error("dispatch: list queued jobs", "error", err)
		return
	}

	promoted := make(map[uuid.UUID]int)
	blocked := make(map[uuid.UUID]bool)
	for _, job := range queued {
		if free <= 0 {
			return
		}
		if blocked[job.TenantID] {
			continue
		}

		limit, running, err := d.tenantCapacity(ctx, job.TenantID)
		if err != nil {
			slog.Error("dispatch: tenant capacity", "tenant_id", job.TenantID, "error", err)
			continue
		}
		if running+promoted[job.TenantID] >= limit {
			blocked[job.TenantID] = true
			continue
		}

		if !d.promote(ctx, job) {
			continue
		}
		promoted[job.TenantID]++
		free--
	}
}

func (d *Dispatcher) tenantCapacity(ctx context.Context, tenantID uuid.UUID) (limit, running int, err error) {
	tenant, err := d.store.GetTenant(ctx, tenantID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return 0, 0, err
	}
	running, err = d.store.CountRunning(ctx, tenantID)
	if err != nil {
		return 0, 0, err
	}
	return tenantCap(tenant, d.cfg.TenantMaxRunning), running, nil
}

// promote flips one job from queued to running. Losing the version race is
// normal: another dispatcher took it, or the job was cancelled.
func (d *Dispatcher) promote(ctx context.Context, job *models.Job) bool {
	_, err := d.store.CompareAndUpdate(ctx, job.ID, job.Version, func(j *models.Job) error {
		if j.Status != models.JobStatusQueued {
			return errNotQueued
		}
		now := time.Now().UTC()
		j.Status = models.JobStatusRunning
		j.StartedAt = &now
		j.Message = "starting pipeline"
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrVersionConflict) || errors.Is(err, errNotQueued) {
			return false
		}
		slog.Error("dispatch: promote job", "job_id", job.ID, "error", err)
		return false
	}

	if !d.exec.Enqueue(job.ID) {
		// Executor queue full; the recovery scan will pick the job up.
		slog.Warn("dispatch: executor queue full", "job_id", job.ID)
		return true
	}
	slog.Info("job dispatched", "job_id", job.ID, "tenant_id", job.TenantID)
	return true
}
