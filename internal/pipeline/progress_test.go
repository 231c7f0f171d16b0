package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahulnair/veriscope/internal/cache"
	"github.com/rahulnair/veriscope/internal/store"
	"github.com/rahulnair/veriscope/pkg/models"
)

func newProgressJob(t *testing.T, st *store.MemoryStore) *models.Job {
	t.Helper()
	now := time.Now().UTC()
	job := &models.Job{
		ID:             uuid.New(),
		TenantID:       uuid.New(),
		VideoReference: "https://example.org/v.mp4",
		Status:         models.JobStatusRunning,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, st.CreateJob(context.Background(), job))
	return job
}

func TestReporterMonotonic(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	c := cache.NewMemoryCache()
	r := NewReporter(st, c, nil, 0)
	job := newProgressJob(t, st)

	r.Report(ctx, job.ID, 50, "halfway")
	r.Report(ctx, job.ID, 30, "late straggler")

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, got.ProgressPercent)
	assert.Equal(t, "halfway", got.Message)

	r.Report(ctx, job.ID, 60, "ahead")
	got, err = st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 60, got.ProgressPercent)
}

func TestReporterThrottles(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	c := cache.NewMemoryCache()
	r := NewReporter(st, c, nil, time.Hour)
	job := newProgressJob(t, st)

	r.Report(ctx, job.ID, 10, "first")
	r.Report(ctx, job.ID, 20, "inside window")

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.ProgressPercent)
}

func TestReporterSkipsTerminalJobs(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	c := cache.NewMemoryCache()
	r := NewReporter(st, c, nil, 0)
	job := newProgressJob(t, st)

	_, err := store.Update(ctx, st, job.ID, func(j *models.Job) error {
		j.Status = models.JobStatusCompleted
		j.ProgressPercent = 100
		return nil
	})
	require.NoError(t, err)

	r.Report(ctx, job.ID, 55, "stale worker")
	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, got.ProgressPercent)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
}

func TestReporterMirrorsSnapshot(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	c := cache.NewMemoryCache()
	r := NewReporter(st, c, nil, 0)
	job := newProgressJob(t, st)

	r.Report(ctx, job.ID, 25, "working")

	snap, hit, err := c.GetJobSnapshot(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, 25, snap.ProgressPercent)
	assert.Equal(t, "working", snap.Message)
	assert.Equal(t, job.TenantID, snap.TenantID)
}

func TestOverallPercent(t *testing.T) {
	assert.Equal(t, 0, OverallPercent(0, 5, 0))
	assert.Equal(t, 10, OverallPercent(0, 5, 0.5))
	assert.Equal(t, 20, OverallPercent(1, 5, 0))
	assert.Equal(t, 99, OverallPercent(4, 5, 1))
	// Fractions are clamped.
	assert.Equal(t, 20, OverallPercent(0, 5, 2))
	assert.Equal(t, 0, OverallPercent(0, 5, -1))
	// Degenerate stage table.
	assert.Equal(t, 0, OverallPercent(0, 0, 0.5))
}
