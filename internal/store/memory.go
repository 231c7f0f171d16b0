package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rahulnair/veriscope/pkg/models"
)

// MemoryStore is an in-process Store with the same compare-and-update
// semantics as the postgres implementation. It backs unit tests and local
// development without a database.
type MemoryStore struct {
	mu      sync.RWMutex
	jobs    map[uuid.UUID]*models.Job
	tenants map[uuid.UUID]*models.Tenant
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:    make(map[uuid.UUID]*models.Job),
		tenants: make(map[uuid.UUID]*models.Tenant),
	}
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

func (s *MemoryStore) CreateJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return ErrVersionConflict
	}
	c := job.Clone()
	if c.Version == 0 {
		c.Version = 1
	}
	s.jobs[job.ID] = c
	job.Version = c.Version
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return job.Clone(), nil
}

func (s *MemoryStore) CompareAndUpdate(_ context.Context, id uuid.UUID, expectedVersion int64, mutate Mutation) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return 0, ErrNotFound
	}
	if job.Version != expectedVersion {
		return 0, ErrVersionConflict
	}
	next := job.Clone()
	if err := mutate(next); err != nil {
		return 0, err
	}
	next.Version = expectedVersion + 1
	next.UpdatedAt = time.Now().UTC()
	s.jobs[id] = next
	return next.Version, nil
}

func (s *MemoryStore) ListJobsByTenantAndStatus(_ context.Context, tenantID uuid.UUID, statuses []string) ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Job
	for _, job := range s.jobs {
		if job.TenantID == tenantID && statusIn(job.Status, statuses) {
			out = append(out, job.Clone())
		}
	}
	sortByCreated(out)
	return out, nil
}

func (s *MemoryStore) ListJobsByStatus(_ context.Context, statuses []string) ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Job
	for _, job := range s.jobs {
		if statusIn(job.Status, statuses) {
			out = append(out, job.Clone())
		}
	}
	sortByCreated(out)
	return out, nil
}

func (s *MemoryStore) CountRunning(_ context.Context, tenantID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, job := range s.jobs {
		if job.TenantID == tenantID && job.Status == models.JobStatusRunning {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CountRunningAll(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, job := range s.jobs {
		if job.Status == models.JobStatusRunning {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) GetTenant(_ context.Context, id uuid.UUID) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *t
	return &c, nil
}

func (s *MemoryStore) EnsureTenant(_ context.Context, id uuid.UUID) (*models.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tenants[id]; ok {
		c := *t
		return &c, nil
	}
	now := time.Now().UTC()
	t := &models.Tenant{ID: id, Name: id.String(), CreatedAt: now, UpdatedAt: now}
	s.tenants[id] = t
	c := *t
	return &c, nil
}

// SetTenantCap sets a per-tenant concurrency override. Test helper; the
// postgres store takes the override from the tenants table.
func (s *MemoryStore) SetTenantCap(id uuid.UUID, cap int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tenants[id]; ok {
		t.MaxConcurrentJobs = &cap
		return
	}
	now := time.Now().UTC()
	s.tenants[id] = &models.Tenant{ID: id, Name: id.String(), MaxConcurrentJobs: &cap, CreatedAt: now, UpdatedAt: now}
}

func statusIn(status string, statuses []string) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

func sortByCreated(jobs []*models.Job) {
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID.String() < jobs[j].ID.String()
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
}

var _ Store = (*MemoryStore)(nil)
