package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahulnair/veriscope/pkg/models"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/veriscope")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 8, cfg.Admission.GlobalMaxRunning)
	assert.Equal(t, 2, cfg.Admission.TenantMaxRunning)
	assert.Equal(t, 20, cfg.Admission.MaxQueuedPerTenant)
	assert.Equal(t, 2*time.Second, cfg.Admission.DispatchInterval)
	assert.Equal(t, 60, cfg.Pipeline.SegmentSeconds)
	assert.Equal(t, 3600, cfg.Pipeline.DefaultMaxVideoSecs)
	assert.False(t, cfg.Report.AllowPartial)

	require.Len(t, cfg.Pipeline.Stages, 5)
	names := make([]string, 0, 5)
	for i, s := range cfg.Pipeline.Stages {
		assert.Equal(t, i, s.Ordinal)
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{
		models.StageIngest,
		models.StageAnalyze,
		models.StageSearch,
		models.StageVerify,
		models.StageSynthesize,
	}, names)

	// Only the evidence search stage is optional.
	for _, s := range cfg.Pipeline.Stages {
		assert.Equal(t, s.Name == models.StageSearch, s.Optional, s.Name)
	}
}

func TestLoadMissingDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	_, err := Load()
	assert.ErrorContains(t, err, "DATABASE_URL")
}

func TestLoadMissingRedisURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/veriscope")
	t.Setenv("REDIS_URL", "")

	_, err := Load()
	assert.ErrorContains(t, err, "REDIS_URL")
}

func TestLoadStageOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("VERISCOPE_STAGE_ANALYZE_TIMEOUT_SECS", "90")
	t.Setenv("VERISCOPE_STAGE_ANALYZE_MAX_RETRIES", "5")
	t.Setenv("VERISCOPE_STAGE_SEARCH_FALLBACK", "searxng, ollama")

	cfg, err := Load()
	require.NoError(t, err)

	analyze := cfg.Pipeline.Stages[1]
	assert.Equal(t, 90*time.Second, analyze.Timeout)
	assert.Equal(t, 5, analyze.MaxRetries)

	search := cfg.Pipeline.Stages[2]
	assert.Equal(t, []string{"searxng", "ollama"}, search.FallbackChain)
}

func TestValidateStages(t *testing.T) {
	valid := func() []models.StageDefinition {
		return []models.StageDefinition{
			{Name: "ingest", Ordinal: 0, Timeout: time.Minute, FallbackChain: []string{"media"}},
			{Name: "analyze", Ordinal: 1, Timeout: time.Minute, FallbackChain: []string{"openai"}},
		}
	}

	require.NoError(t, ValidateStages(valid()))

	assert.ErrorContains(t, ValidateStages(nil), "at least one stage")

	bad := valid()
	bad[1].Ordinal = 5
	assert.ErrorContains(t, ValidateStages(bad), "ordinal")

	bad = valid()
	bad[0].Timeout = 0
	assert.ErrorContains(t, ValidateStages(bad), "timeout")

	bad = valid()
	bad[0].FallbackChain = nil
	assert.ErrorContains(t, ValidateStages(bad), "fallback chain")

	bad = valid()
	bad[1].MaxRetries = -1
	assert.ErrorContains(t, ValidateStages(bad), "max retries")

	bad = valid()
	bad[0].Name = ""
	assert.ErrorContains(t, ValidateStages(bad), "no name")
}
