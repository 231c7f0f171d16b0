// Package mock provides a configurable provider implementation for tests.
package mock

import (
	"context"
	"fmt"

	"github.com/rahulnair/veriscope/internal/provider"
	"github.com/rahulnair/veriscope/pkg/models"
)

// MockProvider satisfies provider.Provider for testing. Unset func fields
// fall back to benign defaults.
type MockProvider struct {
	Name_         string
	ProbeFunc     func(ctx context.Context) error
	IngestFunc    func(ctx context.Context, req provider.IngestRequest) (*provider.IngestManifest, error)
	AnalyzeFunc   func(ctx context.Context, videoRef string, seg models.Segment) (*models.SegmentAnalysis, error)
	SearchFunc    func(ctx context.Context, q models.EvidenceQuery) (*models.EvidenceResult, error)
	VerifyFunc    func(ctx context.Context, req models.VerifyRequest) (*models.ClaimVerdict, error)
	SummarizeFunc func(ctx context.Context, verdicts []models.ClaimVerdict) (string, error)
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) Probe(ctx context.Context) error {
	if m.ProbeFunc != nil {
		return m.ProbeFunc(ctx)
	}
	return nil
}

func (m *MockProvider) Ingest(ctx context.Context, req provider.IngestRequest) (*provider.IngestManifest, error) {
	if m.IngestFunc != nil {
		return m.IngestFunc(ctx, req)
	}
	return &provider.IngestManifest{
		VideoReference: req.VideoReference,
		DurationSecs:   120,
		Segments: []models.Segment{
			{Index: 0, StartSec: 0, EndSec: 60},
			{Index: 1, StartSec: 60, EndSec: 120},
		},
	}, nil
}

func (m *MockProvider) Analyze(ctx context.Context, videoRef string, seg models.Segment) (*models.SegmentAnalysis, error) {
	if m.AnalyzeFunc != nil {
		return m.AnalyzeFunc(ctx, videoRef, seg)
	}
	return &models.SegmentAnalysis{
		Index:      seg.Index,
		Transcript: fmt.Sprintf("transcript for segment %d", seg.Index),
		Claims:     []string{fmt.Sprintf("claim from segment %d", seg.Index)},
	}, nil
}

func (m *MockProvider) Search(ctx context.Context, q models.EvidenceQuery) (*models.EvidenceResult, error) {
	if m.SearchFunc != nil {
		return m.SearchFunc(ctx, q)
	}
	return &models.EvidenceResult{Sources: []models.EvidenceSource{
		{Reference: "https://example.org/source", Content: "mock evidence for " + q.Claim, Relevance: 0.9},
	}}, nil
}

func (m *MockProvider) Verify(ctx context.Context, req models.VerifyRequest) (*models.ClaimVerdict, error) {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, req)
	}
	return &models.ClaimVerdict{
		ClaimID:    req.Claim.ID,
		Claim:      req.Claim.Text,
		Verdict:    models.VerdictSupported,
		Confidence: 0.85,
		Rationale:  "mock verification",
		Evidence:   req.Evidence,
	}, nil
}

func (m *MockProvider) Summarize(ctx context.Context, verdicts []models.ClaimVerdict) (string, error) {
	if m.SummarizeFunc != nil {
		return m.SummarizeFunc(ctx, verdicts)
	}
	return fmt.Sprintf("mock summary of %d verified claims", len(verdicts)), nil
}

// NewProvider returns a MockProvider with default responses for every
// operation.
func NewProvider(name string) *MockProvider {
	return &MockProvider{Name_: name}
}

// NewUnavailableProvider returns a MockProvider whose probe always fails.
func NewUnavailableProvider(name string) *MockProvider {
	return &MockProvider{
		Name_: name,
		ProbeFunc: func(context.Context) error {
			return fmt.Errorf("%s: %w", name, provider.ErrUnavailable)
		},
	}
}

// NewFailingProvider returns a MockProvider that answers every operation
// with the given error.
func NewFailingProvider(name string, err error) *MockProvider {
	return &MockProvider{
		Name_: name,
		IngestFunc: func(context.Context, provider.IngestRequest) (*provider.IngestManifest, error) {
			return nil, err
		},
		AnalyzeFunc: func(context.Context, string, models.Segment) (*models.SegmentAnalysis, error) {
			return nil, err
		},
		SearchFunc: func(context.Context, models.EvidenceQuery) (*models.EvidenceResult, error) {
			return nil, err
		},
		VerifyFunc: func(context.Context, models.VerifyRequest) (*models.ClaimVerdict, error) {
			return nil, err
		},
		SummarizeFunc: func(context.Context, []models.ClaimVerdict) (string, error) {
			return "", err
		},
	}
}

// NewBlockingProvider returns a MockProvider that blocks until the context
// is cancelled, for timeout and cancellation tests.
func NewBlockingProvider(name string) *MockProvider {
	block := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	return &MockProvider{
		Name_: name,
		AnalyzeFunc: func(ctx context.Context, _ string, _ models.Segment) (*models.SegmentAnalysis, error) {
			return nil, block(ctx)
		},
		SearchFunc: func(ctx context.Context, _ models.EvidenceQuery) (*models.EvidenceResult, error) {
			return nil, block(ctx)
		},
		VerifyFunc: func(ctx context.Context, _ models.VerifyRequest) (*models.ClaimVerdict, error) {
			return nil, block(ctx)
		},
		SummarizeFunc: func(ctx context.Context, _ []models.ClaimVerdict) (string, error) {
			return "", block(ctx)
		},
	}
}

// Compile-time check that MockProvider implements Provider.
var _ provider.Provider = (*MockProvider)(nil)
