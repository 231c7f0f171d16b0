// Package ollama implements the provider interface against a local Ollama
// instance, used as the fallback when no hosted inference API is reachable.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rahulnair/veriscope/internal/config"
	"github.com/rahulnair/veriscope/internal/provider"
	"github.com/rahulnair/veriscope/pkg/models"
)

type Provider struct {
	provider.Unsupported
	cfg    config.OllamaConfig
	client *http.Client
}

func NewProvider(cfg config.OllamaConfig) *Provider {
	return &Provider{cfg: cfg, client: &http.Client{}}
}

func (p *Provider) Name() string { return "ollama" }

func (p *Provider) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("ollama probe: %w", provider.ErrUnavailable)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama probe: %v: %w", err, provider.ErrUnavailable)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama probe: status %d: %w", resp.StatusCode, provider.ErrUnavailable)
	}
	return nil
}

func (p *Provider) Analyze(ctx context.Context, videoRef string, seg models.Segment) (*models.SegmentAnalysis, error) {
	content, err := p.generate(ctx, provider.SystemPrompt("analyze"), provider.AnalyzePrompt(videoRef, seg))
	if err != nil {
		return nil, err
	}
	return provider.ParseAnalysis(content, seg.Index)
}

func (p *Provider) Verify(ctx context.Context, req models.VerifyRequest) (*models.ClaimVerdict, error) {
	content, err := p.generate(ctx, provider.SystemPrompt("verify"), provider.VerifyPrompt(req))
	if err != nil {
		return nil, err
	}
	return provider.ParseVerdict(content, req.Claim)
}

func (p *Provider) Summarize(ctx context.Context, verdicts []models.ClaimVerdict) (string, error) {
	content, err := p.generate(ctx, provider.SystemPrompt("summarize"), provider.SummarizePrompt(verdicts))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

type generateRequest struct {
	Model  string `json:"model"`
	System string `json:"system,omitempty"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

func (p *Provider) generate(ctx context.Context, system, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:  p.cfg.Model,
		System: system,
		Prompt: prompt,
	})
	if err != nil {
		return "", fmt.Errorf("marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.BaseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("ollama request: %v: %w", err, provider.ErrTransient)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama: status %d: %w", resp.StatusCode, provider.ErrTransient)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read generate response: %w", provider.ErrTransient)
	}
	var parsed generateResponse
	if err := json.Unmarshal(raw, &parsed); err != nil || parsed.Response == "" {
		return "", fmt.Errorf("ollama: %w", provider.ErrInvalidResponse)
	}
	return parsed.Response, nil
}

var _ provider.Provider = (*Provider)(nil)
