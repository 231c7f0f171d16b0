package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/rahulnair/veriscope/internal/provider"
	"github.com/rahulnair/veriscope/pkg/models"
)

// Stage payloads are the persisted outputs each stage hands to its
// successors through the job record. They are stored as raw JSON on the
// StageResult, so later stages can read them after a restart without any
// in-process state surviving.

// AnalysisPayload is the analyze stage output: per-segment analyses plus
// the claims extracted from them, ordered by segment index.
type AnalysisPayload struct {
	Segments []models.SegmentAnalysis `json:"segments"`
	Claims   []models.Claim           `json:"claims"`
}

// SearchPayload maps claim id to the evidence gathered for it.
type SearchPayload struct {
	Evidence map[string]models.EvidenceResult `json:"evidence"`
}

// VerifyPayload carries the per-claim verdicts.
type VerifyPayload struct {
	Verdicts []models.ClaimVerdict `json:"verdicts"`
}

// SynthesisPayload carries the overall summary text.
type SynthesisPayload struct {
	Summary string `json:"summary"`
}

func marshalPayload(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal stage payload: %w", err)
	}
	return b, nil
}

// manifestFrom reads the ingest stage output back off the job record.
func manifestFrom(job *models.Job) (*provider.IngestManifest, error) {
	res, ok := job.StageResultFor(models.StageIngest)
	if !ok || res.Outcome != models.StageOutcomeSucceeded {
		return nil, fmt.Errorf("ingest result missing for job %s", job.ID)
	}
	var m provider.IngestManifest
	if err := json.Unmarshal(res.Payload, &m); err != nil {
		return nil, fmt.Errorf("decode ingest payload: %w", err)
	}
	return &m, nil
}

func analysisFrom(job *models.Job) (*AnalysisPayload, error) {
	res, ok := job.StageResultFor(models.StageAnalyze)
	if !ok || res.Outcome != models.StageOutcomeSucceeded {
		return nil, fmt.Errorf("analysis result missing for job %s", job.ID)
	}
	var p AnalysisPayload
	if err := json.Unmarshal(res.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode analysis payload: %w", err)
	}
	return &p, nil
}

// evidenceFrom returns the search stage output, or an empty map when the
// stage was skipped. Verification proceeds either way; verdicts formed
// without evidence lean on the model alone.
func evidenceFrom(job *models.Job) map[string]models.EvidenceResult {
	res, ok := job.StageResultFor(models.StageSearch)
	if !ok || res.Outcome != models.StageOutcomeSucceeded {
		return map[string]models.EvidenceResult{}
	}
	var p SearchPayload
	if err := json.Unmarshal(res.Payload, &p); err != nil || p.Evidence == nil {
		return map[string]models.EvidenceResult{}
	}
	return p.Evidence
}

func verdictsFrom(job *models.Job) ([]models.ClaimVerdict, error) {
	res, ok := job.StageResultFor(models.StageVerify)
	if !ok || res.Outcome != models.StageOutcomeSucceeded {
		return nil, fmt.Errorf("verify result missing for job %s", job.ID)
	}
	var p VerifyPayload
	if err := json.Unmarshal(res.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode verify payload: %w", err)
	}
	return p.Verdicts, nil
}
