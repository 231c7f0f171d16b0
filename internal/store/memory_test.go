package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahulnair/veriscope/pkg/models"
)

func newTestJob(tenantID uuid.UUID) *models.Job {
	now := time.Now().UTC()
	return &models.Job{
		ID:             uuid.New(),
		TenantID:       tenantID,
		VideoReference: "https://example.org/video.mp4",
		Status:         models.JobStatusQueued,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestMemoryStoreCreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	job := newTestJob(uuid.New())

	require.NoError(t, s.CreateJob(ctx, job))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, int64(1), got.Version)

	// The store hands out clones; mutating the copy must not leak back.
	got.Status = models.JobStatusFailed
	again, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, again.Status)
}

func TestMemoryStoreGetMissing(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.GetJob(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCompareAndUpdateBumpsVersion(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	job := newTestJob(uuid.New())
	require.NoError(t, s.CreateJob(ctx, job))

	v, err := s.CompareAndUpdate(ctx, job.ID, 1, func(j *models.Job) error {
		j.Status = models.JobStatusRunning
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, got.Status)
	assert.Equal(t, int64(2), got.Version)
}

func TestCompareAndUpdateStaleVersion(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	job := newTestJob(uuid.New())
	require.NoError(t, s.CreateJob(ctx, job))

	_, err := s.CompareAndUpdate(ctx, job.ID, 1, func(j *models.Job) error {
		j.Message = "first writer"
		return nil
	})
	require.NoError(t, err)

	// Second writer still holds version 1 and must lose.
	_, err = s.CompareAndUpdate(ctx, job.ID, 1, func(j *models.Job) error {
		j.Message = "second writer"
		return nil
	})
	assert.ErrorIs(t, err, ErrVersionConflict)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "first writer", got.Message)
}

func TestCompareAndUpdateMutationErrorAborts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	job := newTestJob(uuid.New())
	require.NoError(t, s.CreateJob(ctx, job))

	boom := assert.AnError
	_, err := s.CompareAndUpdate(ctx, job.ID, 1, func(j *models.Job) error {
		j.Status = models.JobStatusFailed
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, got.Status)
	assert.Equal(t, int64(1), got.Version)
}

// conflictingStore rejects the first N CompareAndUpdate calls with a version
// conflict, simulating a concurrent writer winning the race.
type conflictingStore struct {
	*MemoryStore
	conflicts int
}

func (s *conflictingStore) CompareAndUpdate(ctx context.Context, id uuid.UUID, expectedVersion int64, mutate Mutation) (int64, error) {
	if s.conflicts > 0 {
		s.conflicts--
		return 0, ErrVersionConflict
	}
	return s.MemoryStore.CompareAndUpdate(ctx, id, expectedVersion, mutate)
}

func TestUpdateRetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	s := &conflictingStore{MemoryStore: NewMemoryStore(), conflicts: 2}
	job := newTestJob(uuid.New())
	require.NoError(t, s.CreateJob(ctx, job))

	got, err := Update(ctx, s, job.ID, func(j *models.Job) error {
		j.ProgressPercent = 42
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got.ProgressPercent)
}

func TestUpdateGivesUpAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	s := &conflictingStore{MemoryStore: NewMemoryStore(), conflicts: maxUpdateAttempts}
	job := newTestJob(uuid.New())
	require.NoError(t, s.CreateJob(ctx, job))

	_, err := Update(ctx, s, job.ID, func(j *models.Job) error {
		j.ProgressPercent = 42
		return nil
	})
	assert.ErrorIs(t, err, ErrVersionConflict)
}

func TestListJobsOrderedByCreation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	tenant := uuid.New()

	base := time.Now().UTC()
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		job := newTestJob(tenant)
		job.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, s.CreateJob(ctx, job))
		ids = append(ids, job.ID)
	}

	jobs, err := s.ListJobsByTenantAndStatus(ctx, tenant, []string{models.JobStatusQueued})
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	for i, job := range jobs {
		assert.Equal(t, ids[i], job.ID)
	}
}

func TestCountRunning(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	tenantA := uuid.New()
	tenantB := uuid.New()

	for i, tenant := range []uuid.UUID{tenantA, tenantA, tenantB} {
		job := newTestJob(tenant)
		if i < 2 {
			job.Status = models.JobStatusRunning
		}
		require.NoError(t, s.CreateJob(ctx, job))
	}

	n, err := s.CountRunning(ctx, tenantA)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	all, err := s.CountRunningAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, all)
}

func TestEnsureTenantIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	id := uuid.New()

	first, err := s.EnsureTenant(ctx, id)
	require.NoError(t, err)
	second, err := s.EnsureTenant(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
}
