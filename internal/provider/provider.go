// Package provider defines the pluggable capability interface the pipeline
// executes against, and the registry that orders providers into per-stage
// fallback chains.
package provider

import (
	"context"

	"github.com/rahulnair/veriscope/pkg/models"
)

// IngestRequest asks a media provider to prepare a video for analysis.
type IngestRequest struct {
	VideoReference  string `json:"video_reference"`
	MaxDurationSecs int    `json:"max_duration_secs"`
	SegmentSecs     int    `json:"segment_secs"`
}

// IngestManifest is the ingestion output: the segment plan the analysis
// stage fans out over.
type IngestManifest struct {
	VideoReference string           `json:"video_reference"`
	DurationSecs   int              `json:"duration_secs"`
	Segments       []models.Segment `json:"segments"`
}

// Provider is a single external capability implementation. A provider
// declines operations outside its capability set with ErrUnsupported, which
// the executor treats like Unavailable: advance the fallback chain without
// consuming retry budget.
//
// Never call concrete providers directly from the pipeline; always go
// through the registry and this interface.
type Provider interface {
	// Name returns the identifier used in fallback chain configuration.
	Name() string
	// Probe reports whether the provider can serve requests right now.
	// A nil error means available; ErrUnavailable (possibly wrapped) means
	// the provider is absent or misconfigured, which is not a failure.
	Probe(ctx context.Context) error

	Ingest(ctx context.Context, req IngestRequest) (*IngestManifest, error)
	Analyze(ctx context.Context, videoRef string, seg models.Segment) (*models.SegmentAnalysis, error)
	Search(ctx context.Context, q models.EvidenceQuery) (*models.EvidenceResult, error)
	Verify(ctx context.Context, req models.VerifyRequest) (*models.ClaimVerdict, error)
	Summarize(ctx context.Context, verdicts []models.ClaimVerdict) (string, error)
}

// Unsupported declines every operation. Concrete providers embed it and
// override only the operations they implement.
type Unsupported struct{}

func (Unsupported) Ingest(context.Context, IngestRequest) (*IngestManifest, error) {
	return nil, ErrUnsupported
}

func (Unsupported) Analyze(context.Context, string, models.Segment) (*models.SegmentAnalysis, error) {
	return nil, ErrUnsupported
}

func (Unsupported) Search(context.Context, models.EvidenceQuery) (*models.EvidenceResult, error) {
	return nil, ErrUnsupported
}

func (Unsupported) Verify(context.Context, models.VerifyRequest) (*models.ClaimVerdict, error) {
	return nil, ErrUnsupported
}

func (Unsupported) Summarize(context.Context, []models.ClaimVerdict) (string, error) {
	return "", ErrUnsupported
}
