package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rahulnair/veriscope/internal/cache"
	"github.com/rahulnair/veriscope/internal/store"
	"github.com/rahulnair/veriscope/pkg/models"
)

// errNoProgress aborts a progress write that would not move the percentage
// forward. Progress is monotonic per job; a late write from a slower segment
// worker must never roll an already-reported value back.
var errNoProgress = errors.New("progress not ahead of stored value")

// Reporter writes throttled, monotonic progress updates to the job store and
// mirrors each accepted update into the poll snapshot cache.
type Reporter struct {
	store    store.Store
	cache    cache.Cache
	stages   []models.StageDefinition
	interval time.Duration

	mu   sync.Mutex
	last map[uuid.UUID]progressMark
}

type progressMark struct {
	at      time.Time
	percent int
}

func NewReporter(st store.Store, c cache.Cache, stages []models.StageDefinition, interval time.Duration) *Reporter {
	return &Reporter{
		store:    st,
		cache:    c,
		stages:   stages,
		interval: interval,
		last:     make(map[uuid.UUID]progressMark),
	}
}

// Report records the given progress for the job. Updates inside the throttle
// window or behind the last reported value are dropped; the store-level
// monotonic guard catches races the in-memory check cannot see.
func (r *Reporter) Report(ctx context.Context, jobID uuid.UUID, percent int, message string) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	r.mu.Lock()
	mark, seen := r.last[jobID]
	if seen && percent < 100 && time.Since(mark.at) < r.interval {
		r.mu.Unlock()
		return
	}
	if seen && percent <= mark.percent && percent < 100 {
		r.mu.Unlock()
		return
	}
	r.last[jobID] = progressMark{at: time.Now(), percent: percent}
	r.mu.Unlock()

	job, err := store.Update(ctx, r.store, jobID, func(j *models.Job) error {
		if models.TerminalStatus(j.Status) {
			return errNoProgress
		}
		if percent <= j.ProgressPercent {
			return errNoProgress
		}
		j.ProgressPercent = percent
		if message != "" {
			j.Message = message
		}
		j.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		if !errors.Is(err, errNoProgress) {
			slog.Warn("progress update failed", "job_id", jobID, "error", err)
		}
		return
	}

	MirrorSnapshot(ctx, r.cache, r.stages, job)
}

// Forget drops the throttle state for a finished job.
func (r *Reporter) Forget(jobID uuid.UUID) {
	r.mu.Lock()
	delete(r.last, jobID)
	r.mu.Unlock()
}

// OverallPercent maps per-stage progress onto the job's 0-100 scale. Each
// stage owns an equal slice; 100 is reserved for the completed transition.
func OverallPercent(stageIdx, totalStages int, frac float64) int {
	if totalStages <= 0 {
		return 0
	}
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	pct := int((float64(stageIdx) + frac) / float64(totalStages) * 100)
	if pct > 99 {
		pct = 99
	}
	return pct
}

const snapshotTTL = 24 * time.Hour

// MirrorSnapshot copies the job's poll-visible fields into the cache.
// Mirroring is best-effort: a cache outage only degrades polling to store
// reads.
func MirrorSnapshot(ctx context.Context, c cache.Cache, stages []models.StageDefinition, job *models.Job) {
	snap := cache.JobSnapshot{
		TenantID:        job.TenantID,
		Status:          job.Status,
		CurrentStage:    stageName(stages, job.CurrentStage),
		ProgressPercent: job.ProgressPercent,
		Message:         job.Message,
		Error:           job.Error,
		ReportRef:       job.ReportRef,
	}
	if err := c.SetJobSnapshot(ctx, job.ID, snap, snapshotTTL); err != nil {
		slog.Warn("snapshot mirror failed", "job_id", job.ID, "error", err)
	}
}

// stageName resolves a stage ordinal against the configured table; an
// ordinal past the end reports the final stage.
func stageName(stages []models.StageDefinition, ordinal int) string {
	if len(stages) == 0 || ordinal < 0 {
		return ""
	}
	if ordinal >= len(stages) {
		ordinal = len(stages) - 1
	}
	return stages[ordinal].Name
}
