package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/rahulnair/veriscope/internal/api/middleware"
	"github.com/rahulnair/veriscope/internal/api/response"
	"github.com/rahulnair/veriscope/internal/report"
	"github.com/rahulnair/veriscope/internal/store"
	"github.com/rahulnair/veriscope/pkg/models"
)

// NewReportHandler returns the handler for GET /api/v1/jobs/{jobID}/report.
// The stored artifact is served verbatim; it is already canonical JSON.
func NewReportHandler(st store.Store, blobs report.BlobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusBadRequest, "INVALID_TENANT", "Missing tenant", nil)
			return
		}
		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Job id must be a valid UUID", nil)
			return
		}

		job, err := st.GetJob(r.Context(), jobID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}
		if job.TenantID != tenantID {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
			return
		}

		if job.Status != models.JobStatusCompleted || job.ReportRef == nil {
			response.Error(w, http.StatusConflict, "REPORT_NOT_READY",
				"The job has not produced a report", map[string]string{"status": job.Status})
			return
		}

		data, err := blobs.Get(r.Context(), *job.ReportRef)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to read report artifact", nil)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	}
}
