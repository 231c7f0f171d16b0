package report

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahulnair/veriscope/pkg/models"
)

func testStages() []models.StageDefinition {
	return []models.StageDefinition{
		{Name: models.StageIngest, Ordinal: 0, Timeout: time.Minute, FallbackChain: []string{"media"}},
		{Name: models.StageAnalyze, Ordinal: 1, Timeout: time.Minute, FallbackChain: []string{"mock"}},
		{Name: models.StageSearch, Ordinal: 2, Timeout: time.Minute, FallbackChain: []string{"mock"}, Optional: true},
		{Name: models.StageVerify, Ordinal: 3, Timeout: time.Minute, FallbackChain: []string{"mock"}},
		{Name: models.StageSynthesize, Ordinal: 4, Timeout: time.Minute, FallbackChain: []string{"mock"}},
	}
}

func succeeded(stage string, payload any) models.StageResult {
	raw, _ := json.Marshal(payload)
	return models.StageResult{
		Stage:      stage,
		Outcome:    models.StageOutcomeSucceeded,
		Attempts:   1,
		Provider:   "mock",
		Payload:    raw,
		RecordedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func fullResults() []models.StageResult {
	return []models.StageResult{
		succeeded(models.StageIngest, map[string]any{"video_reference": "v", "duration_secs": 120}),
		succeeded(models.StageAnalyze, map[string]any{
			"segments": []models.SegmentAnalysis{{Index: 0, Transcript: "t"}},
			"claims":   []models.Claim{{ID: "s00-c00", Text: "claim", Segment: 0}},
		}),
		succeeded(models.StageSearch, map[string]any{
			"evidence": map[string]models.EvidenceResult{
				"s00-c00": {Sources: []models.EvidenceSource{
					{Reference: "https://b.example", Content: "b", Relevance: 0.5},
					{Reference: "https://a.example", Content: "a", Relevance: 0.9},
				}},
			},
		}),
		succeeded(models.StageVerify, map[string]any{
			"verdicts": []models.ClaimVerdict{
				{ClaimID: "s00-c01", Claim: "second", Verdict: models.VerdictRefuted, Confidence: 0.8},
				{ClaimID: "s00-c00", Claim: "claim", Verdict: models.VerdictSupported, Confidence: 0.9},
			},
		}),
		succeeded(models.StageSynthesize, map[string]any{"summary": "mostly accurate"}),
	}
}

func TestAssembleDeterministic(t *testing.T) {
	a := NewAssembler(Policy{})
	jobID := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	stages := testStages()

	first := fullResults()
	// Same results in a different order must produce identical bytes.
	second := []models.StageResult{first[4], first[2], first[0], first[3], first[1]}

	_, artifactA, err := a.Assemble(jobID, stages, first)
	require.NoError(t, err)
	_, artifactB, err := a.Assemble(jobID, stages, second)
	require.NoError(t, err)
	assert.Equal(t, artifactA, artifactB)
}

func TestAssembleSortsClaimsAndEvidence(t *testing.T) {
	a := NewAssembler(Policy{})
	rep, _, err := a.Assemble(uuid.New(), testStages(), fullResults())
	require.NoError(t, err)

	require.Len(t, rep.Claims, 2)
	assert.Equal(t, "s00-c00", rep.Claims[0].ClaimID)
	assert.Equal(t, "s00-c01", rep.Claims[1].ClaimID)

	// Evidence attached to s00-c00 is ordered by relevance, highest first.
	require.Len(t, rep.Claims[0].Evidence, 2)
	assert.Equal(t, "https://a.example", rep.Claims[0].Evidence[0].Reference)
	assert.Equal(t, "mostly accurate", rep.Summary)
	assert.False(t, rep.Partial)
}

func TestAssembleMissingRequiredStage(t *testing.T) {
	a := NewAssembler(Policy{})
	results := fullResults()[:4] // synthesize missing

	_, _, err := a.Assemble(uuid.New(), testStages(), results)
	assert.ErrorIs(t, err, ErrIncompleteInput)
}

func TestAssembleSkippedOptionalStageIsPartial(t *testing.T) {
	a := NewAssembler(Policy{})
	results := fullResults()
	results[2] = models.StageResult{
		Stage:      models.StageSearch,
		Outcome:    models.StageOutcomeSkipped,
		RecordedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	rep, _, err := a.Assemble(uuid.New(), testStages(), results)
	require.NoError(t, err)
	assert.True(t, rep.Partial)
	assert.Empty(t, rep.Claims[0].Evidence)
}

func TestAssembleMissingOptionalStagePolicy(t *testing.T) {
	results := []models.StageResult{
		fullResults()[0], fullResults()[1], fullResults()[3], fullResults()[4],
	}

	// Strict policy rejects a missing optional stage outright.
	_, _, err := NewAssembler(Policy{}).Assemble(uuid.New(), testStages(), results)
	assert.ErrorIs(t, err, ErrIncompleteInput)

	// AllowPartial accepts it and flags the report.
	rep, _, err := NewAssembler(Policy{AllowPartial: true}).Assemble(uuid.New(), testStages(), results)
	require.NoError(t, err)
	assert.True(t, rep.Partial)
}

func TestFSBlobStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewFSBlobStore(t.TempDir())
	require.NoError(t, err)

	uri, err := s.Put(ctx, "job-1/report.json", []byte(`{"ok":true}`))
	require.NoError(t, err)
	assert.Contains(t, uri, "file://")

	data, err := s.Get(ctx, uri)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(data))
}

func TestFSBlobStoreRejectsOutsideRoot(t *testing.T) {
	s, err := NewFSBlobStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Get(context.Background(), "file:///etc/passwd")
	assert.Error(t, err)
}
