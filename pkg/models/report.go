package models

import "github.com/google/uuid"

// Claim verdict labels.
const (
	VerdictSupported    = "supported"
	VerdictRefuted      = "refuted"
	VerdictUnverifiable = "unverifiable"
)

// ClaimVerdict is the verified outcome for one claim.
type ClaimVerdict struct {
	ClaimID    string           `json:"claim_id"`
	Claim      string           `json:"claim"`
	Verdict    string           `json:"verdict"`
	Confidence float64          `json:"confidence"`
	Rationale  string           `json:"rationale,omitempty"`
	Evidence   []EvidenceSource `json:"evidence,omitempty"`
}

// Report is the final artifact content. Assembly is a pure function of the
// recorded stage results: identical inputs yield byte-identical artifacts.
type Report struct {
	JobID   uuid.UUID      `json:"job_id"`
	Claims  []ClaimVerdict `json:"claims"`
	Summary string         `json:"summary"`
	Partial bool           `json:"partial,omitempty"`
}
