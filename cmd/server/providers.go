package main

import (
	"fmt"

	"github.com/rahulnair/veriscope/internal/config"
	"github.com/rahulnair/veriscope/internal/provider"
	"github.com/rahulnair/veriscope/internal/provider/media"
	"github.com/rahulnair/veriscope/internal/provider/ollama"
	"github.com/rahulnair/veriscope/internal/provider/openai"
	"github.com/rahulnair/veriscope/internal/provider/searxng"
)

// buildRegistry registers every known provider and checks that each
// configured fallback chain resolves. Misconfigured chains surface here at
// startup, not mid-job.
func buildRegistry(cfg *config.Config) (*provider.Registry, error) {
	reg := provider.NewRegistry(cfg.Pipeline.ProbeTTL)

	providers := []provider.Provider{
		media.NewProvider(cfg.Pipeline.SegmentSeconds, cfg.Pipeline.DefaultMaxVideoSecs),
		openai.NewProvider(cfg.Providers.OpenAI),
		ollama.NewProvider(cfg.Providers.Ollama),
		searxng.NewProvider(cfg.Providers.SearxNG),
	}
	for _, p := range providers {
		if err := reg.Register(p); err != nil {
			return nil, fmt.Errorf("register provider: %w", err)
		}
	}

	for _, stage := range cfg.Pipeline.Stages {
		if _, err := reg.Chain(stage.FallbackChain); err != nil {
			return nil, fmt.Errorf("stage %q: %w", stage.Name, err)
		}
	}
	return reg, nil
}
