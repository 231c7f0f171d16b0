package middleware

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/rahulnair/veriscope/internal/api/response"
	"github.com/rahulnair/veriscope/pkg/models"
)

// TenantHeader identifies the caller. Requests without it run as the
// default tenant.
const TenantHeader = "X-Tenant-ID"

// Tenant resolves the caller's tenant id from the request header and stores
// it on the context. A present but malformed header is rejected.
func Tenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := models.DefaultTenantID
		if raw := r.Header.Get(TenantHeader); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_TENANT",
					"X-Tenant-ID must be a valid UUID", nil)
				return
			}
			tenantID = id
		}
		next.ServeHTTP(w, r.WithContext(SetTenantID(r.Context(), tenantID)))
	})
}
