package admission

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahulnair/veriscope/internal/store"
	"github.com/rahulnair/veriscope/pkg/models"
)

type recordingExecutor struct {
	mu   sync.Mutex
	ids  []uuid.UUID
	full bool
}

func (e *recordingExecutor) Enqueue(jobID uuid.UUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.full {
		return false
	}
	e.ids = append(e.ids, jobID)
	return true
}

func (e *recordingExecutor) enqueued() []uuid.UUID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]uuid.UUID(nil), e.ids...)
}

func queueJob(t *testing.T, st *store.MemoryStore, tenant uuid.UUID, createdAt time.Time) uuid.UUID {
	t.Helper()
	job := &models.Job{
		ID:             uuid.New(),
		TenantID:       tenant,
		VideoReference: "https://example.org/v.mp4",
		Status:         models.JobStatusQueued,
		Version:        1,
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
	}
	require.NoError(t, st.CreateJob(context.Background(), job))
	return job.ID
}

func runningCount(t *testing.T, st *store.MemoryStore) int {
	t.Helper()
	n, err := st.CountRunningAll(context.Background())
	require.NoError(t, err)
	return n
}

func TestDispatchRespectsGlobalCap(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	exec := &recordingExecutor{}
	d := NewDispatcher(st, exec, 2, 10, time.Minute)

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		queueJob(t, st, uuid.New(), base.Add(time.Duration(i)*time.Second))
	}

	d.dispatchOnce(ctx)
	assert.Equal(t, 2, runningCount(t, st))
	assert.Len(t, exec.enqueued(), 2)

	// No free slots: another scan changes nothing.
	d.dispatchOnce(ctx)
	assert.Equal(t, 2, runningCount(t, st))
}

func TestDispatchRespectsTenantCap(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	exec := &recordingExecutor{}
	d := NewDispatcher(st, exec, 10, 1, time.Minute)

	tenantA := uuid.New()
	tenantB := uuid.New()
	base := time.Now().UTC()
	queueJob(t, st, tenantA, base)
	queueJob(t, st, tenantA, base.Add(time.Second))
	queueJob(t, st, tenantB, base.Add(2*time.Second))

	d.dispatchOnce(ctx)

	runningA, err := st.CountRunning(ctx, tenantA)
	require.NoError(t, err)
	runningB, err := st.CountRunning(ctx, tenantB)
	require.NoError(t, err)
	assert.Equal(t, 1, runningA)
	assert.Equal(t, 1, runningB)
}

func TestDispatchHonorsTenantOverride(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	exec := &recordingExecutor{}
	d := NewDispatcher(st, exec, 10, 1, time.Minute)

	tenant := uuid.New()
	st.SetTenantCap(tenant, 3)
	base := time.Now().UTC()
	for i := 0; i < 4; i++ {
		queueJob(t, st, tenant, base.Add(time.Duration(i)*time.Second))
	}

	d.dispatchOnce(ctx)

	running, err := st.CountRunning(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, 3, running)
}

func TestDispatchPromotesOldestFirst(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	exec := &recordingExecutor{}
	d := NewDispatcher(st, exec, 1, 10, time.Minute)

	tenant := uuid.New()
	base := time.Now().UTC()
	oldest := queueJob(t, st, tenant, base)
	queueJob(t, st, tenant, base.Add(time.Second))

	d.dispatchOnce(ctx)

	require.Len(t, exec.enqueued(), 1)
	assert.Equal(t, oldest, exec.enqueued()[0])
}

func TestDispatchPromotesAfterSlotFrees(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	exec := &recordingExecutor{}
	d := NewDispatcher(st, exec, 10, 1, time.Minute)

	tenant := uuid.New()
	base := time.Now().UTC()
	first := queueJob(t, st, tenant, base)
	second := queueJob(t, st, tenant, base.Add(time.Second))

	d.dispatchOnce(ctx)
	running, err := st.CountRunning(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, 1, running)

	// Finish the first job; the next scan promotes the waiting one.
	_, err = store.Update(ctx, st, first, func(j *models.Job) error {
		j.Status = models.JobStatusCompleted
		return nil
	})
	require.NoError(t, err)

	d.dispatchOnce(ctx)
	got, err := st.GetJob(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, got.Status)
}

func TestDispatchSkipsJobThatChangedState(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	exec := &recordingExecutor{}
	d := NewDispatcher(st, exec, 10, 10, time.Minute)

	tenant := uuid.New()
	jobID := queueJob(t, st, tenant, time.Now().UTC())

	// Cancel between the scan's list and the promotion CAS.
	job, err := st.GetJob(ctx, jobID)
	require.NoError(t, err)
	_, err = store.Update(ctx, st, jobID, func(j *models.Job) error {
		j.Status = models.JobStatusCancelled
		return nil
	})
	require.NoError(t, err)

	assert.False(t, d.promote(ctx, job))
	got, err := st.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, got.Status)
}

func TestDispatchExecutorQueueFull(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	exec := &recordingExecutor{full: true}
	d := NewDispatcher(st, exec, 10, 10, time.Minute)

	jobID := queueJob(t, st, uuid.New(), time.Now().UTC())
	d.dispatchOnce(ctx)

	// The job still holds its slot as running; the executor's recovery scan
	// picks it up later.
	got, err := st.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, got.Status)
}
