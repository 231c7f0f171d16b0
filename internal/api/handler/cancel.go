package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/rahulnair/veriscope/internal/api/middleware"
	"github.com/rahulnair/veriscope/internal/api/response"
	"github.com/rahulnair/veriscope/internal/cache"
	"github.com/rahulnair/veriscope/internal/pipeline"
	"github.com/rahulnair/veriscope/internal/store"
	"github.com/rahulnair/veriscope/pkg/models"
)

var errAlreadyFinished = errors.New("job already finished")

// NewCancelHandler returns the handler for POST /api/v1/jobs/{jobID}/cancel.
// A queued job is cancelled on the spot; a running one gets its cancel flag
// set and the executor winds it down cooperatively, so the handler answers
// 202 rather than 200.
func NewCancelHandler(st store.Store, c cache.Cache, stages []models.StageDefinition) http.HandlerFunc {
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

		existing, err := st.GetJob(r.Context(), jobID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}
		if existing.TenantID != tenantID {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
			return
		}

		job, err := store.Update(r.Context(), st, jobID, func(j *models.Job) error {
			if models.TerminalStatus(j.Status) {
				return errAlreadyFinished
			}
			now := time.Now().UTC()
			if j.Status == models.JobStatusQueued {
				j.Status = models.JobStatusCancelled
				j.Message = "cancelled before start"
				j.Error = &models.JobError{Kind: models.ErrorKindCancelled, Message: "job cancelled by request"}
				j.CompletedAt = &now
			} else {
				j.CancelRequested = true
				j.Message = "cancellation requested"
			}
			j.UpdatedAt = now
			return nil
		})
		if err != nil {
			if errors.Is(err, errAlreadyFinished) {
				response.Error(w, http.StatusConflict, "ALREADY_FINISHED",
					"Job already reached a terminal status", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		pipeline.MirrorSnapshot(r.Context(), c, stages, job)

		response.Accepted(w, map[string]any{
			"job_id":           job.ID,
			"status":           job.Status,
			"cancel_requested": job.CancelRequested,
		})
	}
}
