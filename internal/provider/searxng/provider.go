// Package searxng implements the evidence search capability against a
// SearxNG metasearch instance.
package searxng

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rahulnair/veriscope/internal/config"
	"github.com/rahulnair/veriscope/internal/provider"
	"github.com/rahulnair/veriscope/pkg/models"
)

type Provider struct {
	provider.Unsupported
	cfg    config.SearxNGConfig
	client *http.Client
}

func NewProvider(cfg config.SearxNGConfig) *Provider {
	return &Provider{cfg: cfg, client: &http.Client{}}
}

func (p *Provider) Name() string { return "searxng" }

func (p *Provider) Probe(ctx context.Context) error {
	if p.cfg.BaseURL == "" {
		return fmt.Errorf("searxng: no base URL configured: %w", provider.ErrUnavailable)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+"/config", nil)
	if err != nil {
		return fmt.Errorf("searxng probe: %w", provider.ErrUnavailable)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("searxng probe: %v: %w", err, provider.ErrUnavailable)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("searxng probe: status %d: %w", resp.StatusCode, provider.ErrUnavailable)
	}
	return nil
}

type searchResponse struct {
	Results []struct {
		URL     string  `json:"url"`
		Title   string  `json:"title"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

func (p *Provider) Search(ctx context.Context, q models.EvidenceQuery) (*models.EvidenceResult, error) {
	query := q.Claim
	if q.Context != "" {
		query = q.Claim + " " + q.Context
	}

	endpoint := fmt.Sprintf("%s/search?q=%s&format=json", p.cfg.BaseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("searxng request: %v: %w", err, provider.ErrTransient)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("searxng: %w", provider.ErrRateLimited)
	case resp.StatusCode == http.StatusForbidden:
		// JSON format disabled on the instance; treat as not configured.
		return nil, fmt.Errorf("searxng: status 403: %w", provider.ErrUnavailable)
	default:
		return nil, fmt.Errorf("searxng: status %d: %w", resp.StatusCode, provider.ErrTransient)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", provider.ErrTransient)
	}
	var parsed searchResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("searxng: %w", provider.ErrInvalidResponse)
	}

	max := p.cfg.MaxResults
	if max <= 0 {
		max = 8
	}
	result := &models.EvidenceResult{}
	for i, r := range parsed.Results {
		if i >= max {
			break
		}
		content := strings.TrimSpace(r.Title)
		if r.Content != "" {
			content = content + ": " + strings.TrimSpace(r.Content)
		}
		result.Sources = append(result.Sources, models.EvidenceSource{
			Reference: r.URL,
			Content:   content,
			Relevance: r.Score,
		})
	}
	return result, nil
}

var _ provider.Provider = (*Provider)(nil)
