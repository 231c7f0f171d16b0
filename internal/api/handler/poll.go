package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/rahulnair/veriscope/internal/api/middleware"
	"github.com/rahulnair/veriscope/internal/api/response"
	"github.com/rahulnair/veriscope/internal/cache"
	"github.com/rahulnair/veriscope/internal/store"
	"github.com/rahulnair/veriscope/pkg/models"
)

type jobStatusResponse struct {
	JobID           uuid.UUID        `json:"job_id"`
	Status          string           `json:"status"`
	CurrentStage    string           `json:"current_stage"`
	ProgressPercent int              `json:"progress_percent"`
	Message         string           `json:"message"`
	Error           *models.JobError `json:"error,omitempty"`
	ReportRef       *string          `json:"report_ref,omitempty"`
}

// NewPollHandler returns the handler for GET /api/v1/jobs/{jobID}. The
// snapshot cache serves the hot path; a miss falls back to the job store.
func NewPollHandler(st store.Store, c cache.Cache, stages []models.StageDefinition) http.HandlerFunc {
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

		if snap, hit, err := c.GetJobSnapshot(r.Context(), jobID); err == nil && hit {
			if snap.TenantID != tenantID {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
				return
			}
			response.JSON(w, jobStatusResponse{
				JobID:           jobID,
				Status:          snap.Status,
				CurrentStage:    snap.CurrentStage,
				ProgressPercent: snap.ProgressPercent,
				Message:         snap.Message,
				Error:           snap.Error,
				ReportRef:       snap.ReportRef,
			})
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

		response.JSON(w, jobStatusResponse{
			JobID:           job.ID,
			Status:          job.Status,
			CurrentStage:    stageName(stages, job.CurrentStage),
			ProgressPercent: job.ProgressPercent,
			Message:         job.Message,
			Error:           job.Error,
			ReportRef:       job.ReportRef,
		})
	}
}

func stageName(stages []models.StageDefinition, ordinal int) string {
	if len(stages) == 0 || ordinal < 0 {
		return ""
	}
	if ordinal >= len(stages) {
		ordinal = len(stages) - 1
	}
	return stages[ordinal].Name
}
