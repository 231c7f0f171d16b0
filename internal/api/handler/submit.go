// Package handler contains the HTTP handlers for the job API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rahulnair/veriscope/internal/admission"
	mw "github.com/rahulnair/veriscope/internal/api/middleware"
	"github.com/rahulnair/veriscope/internal/api/response"
	"github.com/rahulnair/veriscope/pkg/models"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Submitter is the admission surface the handler depends on.
type Submitter interface {
	Submit(ctx context.Context, tenantID uuid.UUID, req admission.SubmitRequest) (*models.Job, error)
}

type submitRequest struct {
	VideoReference string        `json:"video_reference" validate:"required,max=2048"`
	Options        submitOptions `json:"options"`
}

type submitOptions struct {
	MaxVideoDuration int            `json:"max_video_duration" validate:"omitempty,gt=0,lte=86400"`
	StageOverrides   map[string]int `json:"stage_overrides" validate:"omitempty,dive,gt=0,lte=64"`
}

// NewSubmitHandler returns the handler for POST /api/v1/jobs. A successful
// submission answers 202 with the job id; the client polls from there.
func NewSubmitHandler(svc Submitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusBadRequest, "INVALID_TENANT", "Missing tenant", nil)
			return
		}

		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if err := validate.Struct(req); err != nil {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR",
				"Request failed validation", validationDetails(err))
			return
		}

		job, err := svc.Submit(r.Context(), tenantID, admission.SubmitRequest{
			VideoReference: req.VideoReference,
			Options: models.JobOptions{
				MaxVideoDurationSecs: req.Options.MaxVideoDuration,
				StageOverrides:       req.Options.StageOverrides,
			},
		})
		if err != nil {
			switch {
			case errors.Is(err, admission.ErrValidation):
				response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			case errors.Is(err, admission.ErrAdmissionDenied):
				w.Header().Set("Retry-After", "30")
				response.Error(w, http.StatusTooManyRequests, "ADMISSION_DENIED",
					"Too many queued jobs for this tenant, try again later", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		response.Accepted(w, map[string]any{
			"job_id": job.ID,
			"status": job.Status,
		})
	}
}

func validationDetails(err error) any {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	details := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		details[fe.Field()] = fe.Tag()
	}
	return details
}
