package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rahulnair/veriscope/pkg/models"
)

var ErrNotFound = errors.New("resource not found")

// ErrVersionConflict means the job changed between read and write. It is an
// internal control-flow signal: the writer re-reads and retries its mutation.
var ErrVersionConflict = errors.New("job version conflict")

// Mutation rewrites a job in place. It runs against a private copy; the store
// persists the copy only if the version check passes. Returning an error
// aborts the update without a write.
type Mutation func(job *models.Job) error

// Store is the data access interface. The job record is the single source of
// truth for orchestration state; all mutation goes through CompareAndUpdate.
type Store interface {
	Ping(ctx context.Context) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	// CompareAndUpdate applies mutate to the job iff its current version
	// equals expectedVersion, bumps the version, and returns the new one.
	// Returns ErrVersionConflict if another writer got there first.
	CompareAndUpdate(ctx context.Context, id uuid.UUID, expectedVersion int64, mutate Mutation) (int64, error)

	// List methods return snapshots, not live views.
	ListJobsByTenantAndStatus(ctx context.Context, tenantID uuid.UUID, statuses []string) ([]*models.Job, error)
	ListJobsByStatus(ctx context.Context, statuses []string) ([]*models.Job, error)
	CountRunning(ctx context.Context, tenantID uuid.UUID) (int, error)
	CountRunningAll(ctx context.Context) (int, error)

	GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	// EnsureTenant returns the tenant, creating a default record on first
	// sight of a new tenant id.
	EnsureTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
}

const maxUpdateAttempts = 5

// Update is the read-check-write loop every writer uses: fetch the job, apply
// mutate through CompareAndUpdate, and retry on version conflict. The updated
// snapshot is returned.
func Update(ctx context.Context, s Store, id uuid.UUID, mutate Mutation) (*models.Job, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		job, err := s.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if _, err := s.CompareAndUpdate(ctx, id, job.Version, mutate); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				continue
			}
			return nil, err
		}
		return s.GetJob(ctx, id)
	}
	return nil, fmt.Errorf("update job %s: %w after %d attempts", id, ErrVersionConflict, maxUpdateAttempts)
}
