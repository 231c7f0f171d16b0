package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// TerminalStatus reports whether a job in the given status will never
// transition again.
func TerminalStatus(status string) bool {
	switch status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Error kinds surfaced in poll responses. Provider-internal detail never
// crosses the API; only the kind and a human-readable message do.
const (
	ErrorKindValidation = "validation"
	ErrorKindStage      = "stage_failed"
	ErrorKindInternal   = "internal"
	ErrorKindCancelled  = "cancelled"
)

// JobError is the user-visible failure record attached to a failed job.
type JobError struct {
	Kind    string `json:"kind"`
	Stage   string `json:"stage,omitempty"`
	Message string `json:"message"`
}

// JobOptions are the recognized submission options. Unrecognized fields in
// the request body are ignored at decode time, not rejected.
type JobOptions struct {
	MaxVideoDurationSecs int            `json:"max_video_duration,omitempty"`
	StageOverrides       map[string]int `json:"stage_overrides,omitempty"` // stage name -> segment fan-out
}

// Job is one end-to-end verification request and its persisted state.
// The API returns a job id on POST /api/v1/jobs; the client polls
// GET /api/v1/jobs/{id} until the status is terminal.
//
// A Job is owned by the store. Every mutation goes through
// Store.CompareAndUpdate against Version, so concurrent writers (dispatcher,
// executor, progress reporter) never silently overwrite each other.
type Job struct {
	ID              uuid.UUID     `db:"id"               json:"id"`
	TenantID        uuid.UUID     `db:"tenant_id"        json:"tenant_id"`
	VideoReference  string        `db:"video_reference"  json:"video_reference"`
	Options         JobOptions    `db:"options"          json:"options"`
	Status          string        `db:"status"           json:"status"`
	CurrentStage    int           `db:"current_stage"    json:"current_stage"`
	StageResults    []StageResult `db:"stage_results"    json:"stage_results"`
	ProgressPercent int           `db:"progress_percent" json:"progress_percent"`
	Message         string        `db:"message"          json:"message"`
	Error           *JobError     `db:"error"            json:"error,omitempty"`
	ReportRef       *string       `db:"report_ref"       json:"report_ref,omitempty"`
	CancelRequested bool          `db:"cancel_requested" json:"cancel_requested"`
	Version         int64         `db:"version"          json:"version"`
	CreatedAt       time.Time     `db:"created_at"       json:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at"       json:"updated_at"`
	StartedAt       *time.Time    `db:"started_at"       json:"started_at,omitempty"`
	CompletedAt     *time.Time    `db:"completed_at"     json:"completed_at,omitempty"`
}

// StageResultFor returns the recorded result for a stage, if any.
func (j *Job) StageResultFor(stage string) (*StageResult, bool) {
	for i := range j.StageResults {
		if j.StageResults[i].Stage == stage {
			return &j.StageResults[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy. Stores hand out clones so callers can never
// mutate the authoritative record in place.
func (j *Job) Clone() *Job {
	c := *j
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	if j.ReportRef != nil {
		r := *j.ReportRef
		c.ReportRef = &r
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	if j.StageResults != nil {
		c.StageResults = make([]StageResult, len(j.StageResults))
		for i := range j.StageResults {
			c.StageResults[i] = *j.StageResults[i].Clone()
		}
	}
	if j.Options.StageOverrides != nil {
		c.Options.StageOverrides = make(map[string]int, len(j.Options.StageOverrides))
		for k, v := range j.Options.StageOverrides {
			c.Options.StageOverrides[k] = v
		}
	}
	return &c
}
