// Package media implements the ingestion capability: it checks that the
// submitted video reference is reachable and plans the time segments the
// analysis stage fans out over. Download and transcoding are delegated to
// the analysis backends; the orchestrator only needs the segment plan.
package media

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/rahulnair/veriscope/internal/provider"
	"github.com/rahulnair/veriscope/pkg/models"
)

type Provider struct {
	provider.Unsupported
	segmentSecs int
	maxSecs     int
	client      *http.Client
}

func NewProvider(segmentSecs, maxVideoSecs int) *Provider {
	return &Provider{segmentSecs: segmentSecs, maxSecs: maxVideoSecs, client: &http.Client{}}
}

func (p *Provider) Name() string { return "media" }

func (p *Provider) Probe(_ context.Context) error { return nil }

func (p *Provider) Ingest(ctx context.Context, req provider.IngestRequest) (*provider.IngestManifest, error) {
	u, err := url.Parse(req.VideoReference)
	if err != nil || u.Scheme == "" {
		return nil, fmt.Errorf("media: malformed video reference %q: %w", req.VideoReference, provider.ErrInvalidResponse)
	}

	// Reachability check for remote references. A down origin is transient;
	// the retry policy handles it.
	if u.Scheme == "http" || u.Scheme == "https" {
		head, err := http.NewRequestWithContext(ctx, http.MethodHead, req.VideoReference, nil)
		if err != nil {
			return nil, fmt.Errorf("media: build head request: %w", err)
		}
		resp, err := p.client.Do(head)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("media: reach %s: %v: %w", u.Host, err, provider.ErrTransient)
		}
		resp.Body.Close()
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("media: origin status %d: %w", resp.StatusCode, provider.ErrTransient)
		}
		if resp.StatusCode >= 400 && resp.StatusCode != http.StatusMethodNotAllowed {
			return nil, fmt.Errorf("media: origin status %d: %w", resp.StatusCode, provider.ErrTransient)
		}
	}

	segmentSecs := req.SegmentSecs
	if segmentSecs <= 0 {
		segmentSecs = p.segmentSecs
	}
	duration := req.MaxDurationSecs
	if duration <= 0 || duration > p.maxSecs {
		duration = p.maxSecs
	}

	manifest := &provider.IngestManifest{
		VideoReference: req.VideoReference,
		DurationSecs:   duration,
	}
	for start, idx := 0, 0; start < duration; start, idx = start+segmentSecs, idx+1 {
		end := start + segmentSecs
		if end > duration {
			end = duration
		}
		manifest.Segments = append(manifest.Segments, models.Segment{Index: idx, StartSec: start, EndSec: end})
	}
	return manifest, nil
}

var _ provider.Provider = (*Provider)(nil)
