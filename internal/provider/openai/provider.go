// Package openai implements the provider interface against an
// OpenAI-compatible chat completions API.
package openai

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
	cfg    config.OpenAIConfig
	client *http.Client
}

// NewProvider builds the provider. The HTTP client carries no timeout of its
// own; the executor wraps every call in the stage timeout.
func NewProvider(cfg config.OpenAIConfig) *Provider {
	return &Provider{cfg: cfg, client: &http.Client{}}
}

func (p *Provider) Name() string { return "openai" }

// Probe treats a missing key or an auth failure as Unavailable; the stage
// falls back to the next provider without burning retries.
func (p *Provider) Probe(ctx context.Context) error {
	if p.cfg.APIKey == "" {
		return fmt.Errorf("openai: no API key configured: %w", provider.ErrUnavailable)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+"/v1/models", nil)
	if err != nil {
		return fmt.Errorf("openai probe: %w", provider.ErrUnavailable)
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("openai probe: %v: %w", err, provider.ErrUnavailable)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("openai probe: status %d: %w", resp.StatusCode, provider.ErrUnavailable)
	}
	return nil
}

func (p *Provider) Analyze(ctx context.Context, videoRef string, seg models.Segment) (*models.SegmentAnalysis, error) {
	content, err := p.complete(ctx, provider.SystemPrompt("analyze"), provider.AnalyzePrompt(videoRef, seg))
	if err != nil {
		return nil, err
	}
	return provider.ParseAnalysis(content, seg.Index)
}

func (p *Provider) Verify(ctx context.Context, req models.VerifyRequest) (*models.ClaimVerdict, error) {
	content, err := p.complete(ctx, provider.SystemPrompt("verify"), provider.VerifyPrompt(req))
	if err != nil {
		return nil, err
	}
	return provider.ParseVerdict(content, req.Claim)
}

func (p *Provider) Summarize(ctx context.Context, verdicts []models.ClaimVerdict) (string, error) {
	content, err := p.complete(ctx, provider.SystemPrompt("summarize"), provider.SummarizePrompt(verdicts))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (p *Provider) complete(ctx context.Context, system, user string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: p.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("openai request: %v: %w", err, provider.ErrTransient)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("openai: %w", provider.ErrRateLimited)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", fmt.Errorf("openai: status %d: %w", resp.StatusCode, provider.ErrUnavailable)
	default:
		return "", fmt.Errorf("openai: status %d: %w", resp.StatusCode, provider.ErrTransient)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read chat response: %w", provider.ErrTransient)
	}
	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil || len(parsed.Choices) == 0 {
		return "", fmt.Errorf("openai: %w", provider.ErrInvalidResponse)
	}
	return parsed.Choices[0].Message.Content, nil
}

var _ provider.Provider = (*Provider)(nil)
