package store_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/rahulnair/veriscope/internal/store"
	"github.com/rahulnair/veriscope/pkg/models"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("veriscope_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

func newPostgresJob(tenantID uuid.UUID) *models.Job {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.Job{
		ID:             uuid.New(),
		TenantID:       tenantID,
		VideoReference: "https://example.org/v.mp4",
		Options:        models.JobOptions{MaxVideoDurationSecs: 600},
		Status:         models.JobStatusQueued,
		Message:        "waiting for a free slot",
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestPostgresJobRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := newPostgresJob(models.DefaultTenantID)
	require.NoError(t, s.CreateJob(ctx, job))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, job.VideoReference, got.VideoReference)
	assert.Equal(t, 600, got.Options.MaxVideoDurationSecs)
	assert.Equal(t, int64(1), got.Version)
}

func TestPostgresCompareAndUpdate(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := newPostgresJob(models.DefaultTenantID)
	require.NoError(t, s.CreateJob(ctx, job))

	v, err := s.CompareAndUpdate(ctx, job.ID, 1, func(j *models.Job) error {
		j.Status = models.JobStatusRunning
		j.StageResults = []models.StageResult{{
			Stage:      models.StageIngest,
			Outcome:    models.StageOutcomeSucceeded,
			Attempts:   1,
			Provider:   "media",
			Payload:    json.RawMessage(`{"duration_secs":120}`),
			RecordedAt: time.Now().UTC().Truncate(time.Microsecond),
		}}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	// A writer holding the old version loses.
	_, err = s.CompareAndUpdate(ctx, job.ID, 1, func(j *models.Job) error {
		j.Status = models.JobStatusFailed
		return nil
	})
	assert.ErrorIs(t, err, store.ErrVersionConflict)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, got.Status)
	require.Len(t, got.StageResults, 1)
	assert.Equal(t, models.StageIngest, got.StageResults[0].Stage)
}

func TestPostgresListAndCount(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	otherTenant := uuid.New()
	_, err := s.EnsureTenant(ctx, otherTenant)
	require.NoError(t, err)

	base := time.Now().UTC().Truncate(time.Microsecond)
	jobs := []*models.Job{
		newPostgresJob(models.DefaultTenantID),
		newPostgresJob(models.DefaultTenantID),
		newPostgresJob(otherTenant),
	}
	for i, job := range jobs {
		job.CreatedAt = base.Add(time.Duration(i) * time.Second)
		job.UpdatedAt = job.CreatedAt
		require.NoError(t, s.CreateJob(ctx, job))
	}

	_, err = s.CompareAndUpdate(ctx, jobs[0].ID, 1, func(j *models.Job) error {
		j.Status = models.JobStatusRunning
		return nil
	})
	require.NoError(t, err)

	queued, err := s.ListJobsByStatus(ctx, []string{models.JobStatusQueued})
	require.NoError(t, err)
	require.Len(t, queued, 2)
	// Oldest first.
	assert.Equal(t, jobs[1].ID, queued[0].ID)

	tenantQueued, err := s.ListJobsByTenantAndStatus(ctx, models.DefaultTenantID, []string{models.JobStatusQueued})
	require.NoError(t, err)
	assert.Len(t, tenantQueued, 1)

	running, err := s.CountRunning(ctx, models.DefaultTenantID)
	require.NoError(t, err)
	assert.Equal(t, 1, running)

	all, err := s.CountRunningAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, all)
}

func TestPostgresEnsureTenant(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	// The default tenant is seeded by the migration.
	tenant, err := s.GetTenant(ctx, models.DefaultTenantID)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultTenantID, tenant.ID)

	// EnsureTenant creates unknown tenants and is idempotent.
	id := uuid.New()
	first, err := s.EnsureTenant(ctx, id)
	require.NoError(t, err)
	second, err := s.EnsureTenant(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}
