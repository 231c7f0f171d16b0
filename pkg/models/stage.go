// Package models contains shared data models used across the Veriscope codebase.
package models

import (
	"encoding/json"
	"time"
)

// Pipeline stage names, in execution order.
const (
	StageIngest     = "ingest"
	StageAnalyze    = "analyze"
	StageSearch     = "search"
	StageVerify     = "verify"
	StageSynthesize = "synthesize"
)

const (
	StageOutcomeSucceeded = "succeeded"
	StageOutcomeSkipped   = "skipped"
	StageOutcomeFailed    = "failed"
)

// StageDefinition is the static configuration of one pipeline stage. The
// stage table is fixed at startup and never reordered at runtime.
type StageDefinition struct {
	Name          string        `json:"name"`
	Ordinal       int           `json:"ordinal"`
	Timeout       time.Duration `json:"timeout"`
	MaxRetries    int           `json:"max_retries"`
	FallbackChain []string      `json:"fallback_chain"`
	Optional      bool          `json:"optional"`
	SegmentFanOut int           `json:"segment_fan_out,omitempty"`
}

// StageResult records the terminal outcome of one stage attempt sequence.
// Once recorded with outcome succeeded or skipped it is never overwritten.
type StageResult struct {
	Stage      string          `json:"stage"`
	Outcome    string          `json:"outcome"`
	Attempts   int             `json:"attempts"`
	Provider   string          `json:"provider,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// Clone returns a deep copy of the result.
func (r *StageResult) Clone() *StageResult {
	c := *r
	if r.Payload != nil {
		c.Payload = make(json.RawMessage, len(r.Payload))
		copy(c.Payload, r.Payload)
	}
	return &c
}
