package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rahulnair/veriscope/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5. Optimistic
// concurrency is enforced by the `version` column: every update is guarded by
// `WHERE version = $expected` and bumps the version in the same statement, so
// a lost race surfaces as zero affected rows, never as a silent overwrite.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const jobColumns = `id, tenant_id, video_reference, options, status, current_stage,
	stage_results, progress_percent, message, error, report_ref, cancel_requested,
	version, created_at, updated_at, started_at, completed_at`

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	options, err := json.Marshal(job.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	results, err := json.Marshal(job.StageResults)
	if err != nil {
		return fmt.Errorf("marshal stage results: %w", err)
	}
	if job.Version == 0 {
		job.Version = 1
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO jobs (`+jobColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		job.ID, job.TenantID, job.VideoReference, options, job.Status, job.CurrentStage,
		results, job.ProgressPercent, job.Message, errorJSON(job.Error), job.ReportRef,
		job.CancelRequested, job.Version, job.CreatedAt, job.UpdatedAt, job.StartedAt, job.CompletedAt)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) CompareAndUpdate(ctx context.Context, id uuid.UUID, expectedVersion int64, mutate Mutation) (int64, error) {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return 0, err
	}
	if job.Version != expectedVersion {
		return 0, ErrVersionConflict
	}
	if err := mutate(job); err != nil {
		return 0, err
	}

	options, err := json.Marshal(job.Options)
	if err != nil {
		return 0, fmt.Errorf("marshal options: %w", err)
	}
	results, err := json.Marshal(job.StageResults)
	if err != nil {
		return 0, fmt.Errorf("marshal stage results: %w", err)
	}

	newVersion := expectedVersion + 1
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET
			options = $3, status = $4, current_stage = $5, stage_results = $6,
			progress_percent = $7, message = $8, error = $9, report_ref = $10,
			cancel_requested = $11, version = $12, updated_at = NOW(),
			started_at = $13, completed_at = $14
		 WHERE id = $1 AND version = $2`,
		id, expectedVersion, options, job.Status, job.CurrentStage, results,
		job.ProgressPercent, job.Message, errorJSON(job.Error), job.ReportRef,
		job.CancelRequested, newVersion, job.StartedAt, job.CompletedAt)
	if err != nil {
		return 0, fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, ErrVersionConflict
	}
	return newVersion, nil
}

func (s *PostgresStore) ListJobsByTenantAndStatus(ctx context.Context, tenantID uuid.UUID, statuses []string) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE tenant_id = $1 AND status = ANY($2)
		 ORDER BY created_at ASC, id ASC`, tenantID, statuses)
	if err != nil {
		return nil, fmt.Errorf("list jobs by tenant and status: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (s *PostgresStore) ListJobsByStatus(ctx context.Context, statuses []string) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status = ANY($1)
		 ORDER BY created_at ASC, id ASC`, statuses)
	if err != nil {
		return nil, fmt.Errorf("list jobs by status: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (s *PostgresStore) CountRunning(ctx context.Context, tenantID uuid.UUID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM jobs WHERE tenant_id = $1 AND status = $2`,
		tenantID, models.JobStatusRunning).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count running jobs: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) CountRunningAll(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM jobs WHERE status = $1`, models.JobStatusRunning).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count running jobs: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	var t models.Tenant
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, max_concurrent_jobs, created_at, updated_at FROM tenants WHERE id = $1`, id,
	).Scan(&t.ID, &t.Name, &t.MaxConcurrentJobs, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return &t, nil
}

func (s *PostgresStore) EnsureTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	var t models.Tenant
	err := s.pool.QueryRow(ctx,
		`INSERT INTO tenants (id, name, created_at, updated_at)
		 VALUES ($1, $2, NOW(), NOW())
		 ON CONFLICT (id) DO UPDATE SET updated_at = tenants.updated_at
		 RETURNING id, name, max_concurrent_jobs, created_at, updated_at`,
		id, id.String(),
	).Scan(&t.ID, &t.Name, &t.MaxConcurrentJobs, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("ensure tenant: %w", err)
	}
	return &t, nil
}

func errorJSON(e *models.JobError) []byte {
	if e == nil {
		return nil
	}
	b, err := json.Marshal(e)
	if err != nil {
		return nil
	}
	return b
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var (
		j          models.Job
		options    []byte
		results    []byte
		errPayload []byte
	)
	if err := row.Scan(&j.ID, &j.TenantID, &j.VideoReference, &options, &j.Status,
		&j.CurrentStage, &results, &j.ProgressPercent, &j.Message, &errPayload,
		&j.ReportRef, &j.CancelRequested, &j.Version, &j.CreatedAt, &j.UpdatedAt,
		&j.StartedAt, &j.CompletedAt); err != nil {
		return nil, err
	}
	if len(options) > 0 {
		if err := json.Unmarshal(options, &j.Options); err != nil {
			return nil, fmt.Errorf("unmarshal options: %w", err)
		}
	}
	if len(results) > 0 {
		if err := json.Unmarshal(results, &j.StageResults); err != nil {
			return nil, fmt.Errorf("unmarshal stage results: %w", err)
		}
	}
	if len(errPayload) > 0 {
		j.Error = &models.JobError{}
		if err := json.Unmarshal(errPayload, j.Error); err != nil {
			return nil, fmt.Errorf("unmarshal job error: %w", err)
		}
	}
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]*models.Job, error) {
	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
