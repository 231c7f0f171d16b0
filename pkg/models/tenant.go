package models

import (
	"time"

	"github.com/google/uuid"
)

// DefaultTenantID is used for requests that carry no tenant header. It is
// seeded by the initial migration.
var DefaultTenantID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// Tenant is the owning identity against which concurrency limits are
// enforced. MaxConcurrentJobs overrides the configured default cap when set.
type Tenant struct {
	ID                uuid.UUID `db:"id"                  json:"id"`
	Name              string    `db:"name"                json:"name"`
	MaxConcurrentJobs *int      `db:"max_concurrent_jobs" json:"max_concurrent_jobs,omitempty"`
	CreatedAt         time.Time `db:"created_at"          json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"          json:"updated_at"`
}
