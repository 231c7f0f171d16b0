// Package admission decides whether a submission is accepted, queued, or
// rejected, and promotes queued jobs into the running set as capacity frees
// up. Slot accounting is derived from job status in the store: a job holds a
// slot exactly while its status is running.
package admission

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rahulnair/veriscope/internal/config"
	"github.com/rahulnair/veriscope/internal/store"
	"github.com/rahulnair/veriscope/pkg/models"
)

// ErrAdmissionDenied means the tenant's queue is full. The submission is
// rejected immediately and no job record is created.
var ErrAdmissionDenied = errors.New("admission denied")

// ErrValidation means the submission itself is malformed.
var ErrValidation = errors.New("invalid submission")

// SubmitRequest is a validated submission.
type SubmitRequest struct {
	VideoReference string
	Options        models.JobOptions
}

// Kicker wakes the dispatcher so a freshly created job does not wait for the
// next scan interval.
type Kicker interface {
	Kick()
}

// Controller admits submissions.
type Controller struct {
	store store.Store
	cfg   config.AdmissionConfig
	kick  Kicker
}

func NewController(st store.Store, cfg config.AdmissionConfig, kick Kicker) *Controller {
	return &Controller{store: st, cfg: cfg, kick: kick}
}

// Submit validates the request, enforces the per-tenant queue bound, and
// creates the job with status queued. The dispatcher promotes it once the
// tenant and global caps allow.
func (c *Controller) Submit(ctx context.Context, tenantID uuid.UUID, req SubmitRequest) (*models.Job, error) {
	if err := validateReference(req.VideoReference); err != nil {
		return nil, err
	}

	if _, err := c.store.EnsureTenant(ctx, tenantID); err != nil {
		return nil, fmt.Errorf("ensure tenant: %w", err)
	}

	queued, err := c.store.ListJobsByTenantAndStatus(ctx, tenantID, []string{models.JobStatusQueued})
	if err != nil {
		return nil, fmt.Errorf("count queued jobs: %w", err)
	}
	if len(queued) >= c.cfg.MaxQueuedPerTenant {
		return nil, fmt.Errorf("%w: tenant has %d queued jobs (limit %d)",
			ErrAdmissionDenied, len(queued), c.cfg.MaxQueuedPerTenant)
	}

	now := time.Now().UTC()
	job := &models.Job{
		ID:             uuid.New(),
		TenantID:       tenantID,
		VideoReference: req.VideoReference,
		Options:        req.Options,
		Status:         models.JobStatusQueued,
		Message:        "waiting for a free slot",
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := c.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	if c.kick != nil {
		c.kick.Kick()
	}
	return job, nil
}

// TenantCap returns the effective running cap for a tenant: the per-tenant
// row override when present, the configured default otherwise.
func (c *Controller) TenantCap(t *models.Tenant) int {
	return tenantCap(t, c.cfg.TenantMaxRunning)
}

func tenantCap(t *models.Tenant, fallback int) int {
	if t != nil && t.MaxConcurrentJobs != nil && *t.MaxConcurrentJobs > 0 {
		return *t.MaxConcurrentJobs
	}
	return fallback
}

func validateReference(ref string) error {
	if ref == "" {
		return fmt.Errorf("%w: video_reference is required", ErrValidation)
	}
	u, err := url.Parse(ref)
	if err != nil {
		return fmt.Errorf("%w: video_reference is not a valid URL", ErrValidation)
	}
	switch u.Scheme {
	case "http", "https", "file", "s3":
		return nil
	default:
		return fmt.Errorf("%w: video_reference has unsupported scheme %q", ErrValidation, u.Scheme)
	}
}
