// Package report turns completed stage results into the final report
// artifact and persists it.
package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/rahulnair/veriscope/pkg/models"
)

// ErrIncompleteInput means assembly was invoked before every required stage
// had a recorded outcome. The executor guarantees that never happens, so
// hitting it is an internal-consistency bug, not a user error.
var ErrIncompleteInput = errors.New("report: required stage result missing")

// Policy controls how much may be missing from the inputs. The default
// rejects anything incomplete; AllowPartial accepts absent or failed
// optional-stage results and marks the report partial.
type Policy struct {
	AllowPartial bool
}

// Assembler builds report artifacts. Assemble is a pure function of its
// inputs: identical stage results yield byte-identical artifacts.
type Assembler struct {
	policy Policy
}

func NewAssembler(policy Policy) *Assembler {
	return &Assembler{policy: policy}
}

// Assemble builds the report and its canonical JSON artifact from the
// recorded stage results.
func (a *Assembler) Assemble(jobID uuid.UUID, stages []models.StageDefinition, results []models.StageResult) (*models.Report, []byte, error) {
	byStage := make(map[string]*models.StageResult, len(results))
	for i := range results {
		byStage[results[i].Stage] = &results[i]
	}

	partial := false
	for _, def := range stages {
		res, ok := byStage[def.Name]
		if !ok || res.Outcome == models.StageOutcomeFailed {
			if def.Optional && a.policy.AllowPartial {
				partial = true
				continue
			}
			return nil, nil, fmt.Errorf("%w: stage %q", ErrIncompleteInput, def.Name)
		}
		if res.Outcome == models.StageOutcomeSkipped {
			partial = true
		}
	}

	verdicts, err := decodeVerdicts(byStage[models.StageVerify])
	if err != nil {
		return nil, nil, err
	}
	evidence := decodeEvidence(byStage[models.StageSearch])
	summary, err := decodeSummary(byStage[models.StageSynthesize])
	if err != nil {
		return nil, nil, err
	}

	for i := range verdicts {
		if ev, ok := evidence[verdicts[i].ClaimID]; ok && len(verdicts[i].Evidence) == 0 {
			verdicts[i].Evidence = sortedEvidence(ev.Sources)
		}
	}
	sort.Slice(verdicts, func(i, j int) bool { return verdicts[i].ClaimID < verdicts[j].ClaimID })

	rep := &models.Report{
		JobID:   jobID,
		Claims:  verdicts,
		Summary: summary,
		Partial: partial,
	}

	artifact, err := canonicalJSON(rep)
	if err != nil {
		return nil, nil, fmt.Errorf("encode report: %w", err)
	}
	return rep, artifact, nil
}

func decodeVerdicts(res *models.StageResult) ([]models.ClaimVerdict, error) {
	if res == nil || res.Outcome != models.StageOutcomeSucceeded {
		return nil, nil
	}
	var payload struct {
		Verdicts []models.ClaimVerdict `json:"verdicts"`
	}
	if err := json.Unmarshal(res.Payload, &payload); err != nil {
		return nil, fmt.Errorf("%w: stage %q payload unreadable", ErrIncompleteInput, res.Stage)
	}
	return payload.Verdicts, nil
}

func decodeEvidence(res *models.StageResult) map[string]models.EvidenceResult {
	if res == nil || res.Outcome != models.StageOutcomeSucceeded {
		return nil
	}
	var payload struct {
		Evidence map[string]models.EvidenceResult `json:"evidence"`
	}
	if err := json.Unmarshal(res.Payload, &payload); err != nil {
		return nil
	}
	return payload.Evidence
}

func decodeSummary(res *models.StageResult) (string, error) {
	if res == nil || res.Outcome != models.StageOutcomeSucceeded {
		return "", nil
	}
	var payload struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal(res.Payload, &payload); err != nil {
		return "", fmt.Errorf("%w: stage %q payload unreadable", ErrIncompleteInput, res.Stage)
	}
	return payload.Summary, nil
}

func sortedEvidence(sources []models.EvidenceSource) []models.EvidenceSource {
	out := append([]models.EvidenceSource(nil), sources...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Relevance != out[j].Relevance {
			return out[i].Relevance > out[j].Relevance
		}
		return out[i].Reference < out[j].Reference
	})
	return out
}

// canonicalJSON produces a stable byte encoding: struct fields in
// declaration order, no trailing newline variance, no HTML escaping.
func canonicalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
