package media

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahulnair/veriscope/internal/provider"
)

func TestIngestSegmentPlan(t *testing.T) {
	p := NewProvider(60, 3600)

	manifest, err := p.Ingest(context.Background(), provider.IngestRequest{
		VideoReference:  "file:///videos/talk.mp4",
		MaxDurationSecs: 150,
		SegmentSecs:     60,
	})
	require.NoError(t, err)

	assert.Equal(t, 150, manifest.DurationSecs)
	require.Len(t, manifest.Segments, 3)
	assert.Equal(t, 0, manifest.Segments[0].StartSec)
	assert.Equal(t, 60, manifest.Segments[0].EndSec)
	assert.Equal(t, 120, manifest.Segments[2].StartSec)
	// The last segment is clipped to the duration.
	assert.Equal(t, 150, manifest.Segments[2].EndSec)
	for i, seg := range manifest.Segments {
		assert.Equal(t, i, seg.Index)
	}
}

func TestIngestCapsDuration(t *testing.T) {
	p := NewProvider(60, 120)

	manifest, err := p.Ingest(context.Background(), provider.IngestRequest{
		VideoReference:  "file:///videos/long.mp4",
		MaxDurationSecs: 9000,
		SegmentSecs:     60,
	})
	require.NoError(t, err)
	assert.Equal(t, 120, manifest.DurationSecs)
	assert.Len(t, manifest.Segments, 2)
}

func TestIngestMalformedReference(t *testing.T) {
	p := NewProvider(60, 3600)

	_, err := p.Ingest(context.Background(), provider.IngestRequest{VideoReference: "no-scheme"})
	assert.ErrorIs(t, err, provider.ErrInvalidResponse)
}

func TestIngestChecksRemoteReachability(t *testing.T) {
	var method string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewProvider(60, 3600)
	_, err := p.Ingest(context.Background(), provider.IngestRequest{
		VideoReference:  srv.URL + "/v.mp4",
		MaxDurationSecs: 60,
		SegmentSecs:     60,
	})
	require.NoError(t, err)
	assert.Equal(t, http.MethodHead, method)
}

func TestIngestRemoteErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewProvider(60, 3600)
	_, err := p.Ingest(context.Background(), provider.IngestRequest{
		VideoReference: srv.URL + "/v.mp4",
	})
	assert.ErrorIs(t, err, provider.ErrTransient)
}
