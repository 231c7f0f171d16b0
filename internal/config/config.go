package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rahulnair/veriscope/pkg/models"
)

// Config holds all configuration for the Veriscope server. It is built once
// at startup and passed into components at construction time; nothing reads
// the environment after Load returns.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Admission AdmissionConfig
	Pipeline  PipelineConfig
	Providers ProvidersConfig
	Report    ReportConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// AdmissionConfig bounds how many jobs run and wait at once.
type AdmissionConfig struct {
	GlobalMaxRunning   int
	TenantMaxRunning   int
	MaxQueuedPerTenant int
	DispatchInterval   time.Duration
}

// PipelineConfig holds the stage table and executor tuning knobs.
type PipelineConfig struct {
	Stages              []models.StageDefinition
	RetryBaseDelay      time.Duration
	RetryMaxDelay       time.Duration
	ProgressInterval    time.Duration
	CancelGracePeriod   time.Duration
	CancelPollInterval  time.Duration
	SegmentSeconds      int
	DefaultMaxVideoSecs int
	ProbeTTL            time.Duration
}

type ProvidersConfig struct {
	RequestTimeout time.Duration
	OpenAI         OpenAIConfig
	Ollama         OllamaConfig
	SearxNG        SearxNGConfig
}

type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

type SearxNGConfig struct {
	BaseURL    string
	MaxResults int
}

type ReportConfig struct {
	AllowPartial bool
	ArtifactDir  string
}

// Load reads configuration from environment variables and returns a validated
// Config. Returns an error with a descriptive message if any required value
// is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("VERISCOPE_PORT", 8080),
			Env:  envString("VERISCOPE_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Admission: AdmissionConfig{
			GlobalMaxRunning:   envInt("VERISCOPE_GLOBAL_MAX_RUNNING", 8),
			TenantMaxRunning:   envInt("VERISCOPE_TENANT_MAX_RUNNING", 2),
			MaxQueuedPerTenant: envInt("VERISCOPE_MAX_QUEUED_PER_TENANT", 20),
			DispatchInterval:   envDuration("VERISCOPE_DISPATCH_INTERVAL", 2*time.Second),
		},
		Pipeline: PipelineConfig{
			Stages:              defaultStages(),
			RetryBaseDelay:      envDuration("VERISCOPE_RETRY_BASE_DELAY", 2*time.Second),
			RetryMaxDelay:       envDuration("VERISCOPE_RETRY_MAX_DELAY", 30*time.Second),
			ProgressInterval:    envDuration("VERISCOPE_PROGRESS_INTERVAL", 500*time.Millisecond),
			CancelGracePeriod:   envDuration("VERISCOPE_CANCEL_GRACE_PERIOD", 10*time.Second),
			CancelPollInterval:  envDuration("VERISCOPE_CANCEL_POLL_INTERVAL", time.Second),
			SegmentSeconds:      envInt("VERISCOPE_SEGMENT_SECONDS", 60),
			DefaultMaxVideoSecs: envInt("VERISCOPE_MAX_VIDEO_SECONDS", 3600),
			ProbeTTL:            envDuration("VERISCOPE_PROBE_TTL", time.Minute),
		},
		Providers: ProvidersConfig{
			RequestTimeout: envDuration("VERISCOPE_PROVIDER_TIMEOUT", 60*time.Second),
			OpenAI: OpenAIConfig{
				BaseURL: envString("OPENAI_BASE_URL", "https://api.openai.com"),
				APIKey:  os.Getenv("OPENAI_API_KEY"),
				Model:   envString("OPENAI_MODEL", "gpt-4o-mini"),
			},
			Ollama: OllamaConfig{
				BaseURL: envString("OLLAMA_BASE_URL", "http://localhost:11434"),
				Model:   envString("OLLAMA_MODEL", "llama3"),
			},
			SearxNG: SearxNGConfig{
				BaseURL:    os.Getenv("SEARXNG_BASE_URL"),
				MaxResults: envInt("SEARXNG_MAX_RESULTS", 8),
			},
		},
		Report: ReportConfig{
			AllowPartial: envBool("VERISCOPE_ALLOW_PARTIAL_REPORTS", false),
			ArtifactDir:  envString("VERISCOPE_ARTIFACT_DIR", "artifacts"),
		},
	}

	applyStageOverrides(cfg.Pipeline.Stages)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultStages is the fixed five-stage pipeline. The search stage is
// optional: a missing search backend degrades the report rather than failing
// the job.
func defaultStages() []models.StageDefinition {
	return []models.StageDefinition{
		{Name: models.StageIngest, Ordinal: 0, Timeout: 2 * time.Minute, MaxRetries: 2,
			FallbackChain: []string{"media"}},
		{Name: models.StageAnalyze, Ordinal: 1, Timeout: 5 * time.Minute, MaxRetries: 2,
			FallbackChain: []string{"openai", "ollama"}, SegmentFanOut: 4},
		{Name: models.StageSearch, Ordinal: 2, Timeout: 2 * time.Minute, MaxRetries: 1,
			FallbackChain: []string{"searxng"}, Optional: true},
		{Name: models.StageVerify, Ordinal: 3, Timeout: 3 * time.Minute, MaxRetries: 2,
			FallbackChain: []string{"openai", "ollama"}},
		{Name: models.StageSynthesize, Ordinal: 4, Timeout: 2 * time.Minute, MaxRetries: 1,
			FallbackChain: []string{"openai", "ollama"}},
	}
}

// applyStageOverrides lets operators tune individual stages through env vars
// of the form VERISCOPE_STAGE_<NAME>_{TIMEOUT_SECS,MAX_RETRIES,FALLBACK}.
func applyStageOverrides(stages []models.StageDefinition) {
	for i := range stages {
		prefix := "VERISCOPE_STAGE_" + strings.ToUpper(stages[i].Name)
		if secs := envInt(prefix+"_TIMEOUT_SECS", 0); secs > 0 {
			stages[i].Timeout = time.Duration(secs) * time.Second
		}
		if v := os.Getenv(prefix + "_MAX_RETRIES"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				stages[i].MaxRetries = n
			}
		}
		if v := os.Getenv(prefix + "_FALLBACK"); v != "" {
			var chain []string
			for _, name := range strings.Split(v, ",") {
				if name = strings.TrimSpace(name); name != "" {
					chain = append(chain, name)
				}
			}
			if len(chain) > 0 {
				stages[i].FallbackChain = chain
			}
		}
	}
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Admission.GlobalMaxRunning <= 0 {
		return fmt.Errorf("VERISCOPE_GLOBAL_MAX_RUNNING must be positive, got %d", c.Admission.GlobalMaxRunning)
	}
	if c.Admission.TenantMaxRunning <= 0 {
		return fmt.Errorf("VERISCOPE_TENANT_MAX_RUNNING must be positive, got %d", c.Admission.TenantMaxRunning)
	}
	if c.Admission.MaxQueuedPerTenant <= 0 {
		return fmt.Errorf("VERISCOPE_MAX_QUEUED_PER_TENANT must be positive, got %d", c.Admission.MaxQueuedPerTenant)
	}

	if err := ValidateStages(c.Pipeline.Stages); err != nil {
		return err
	}

	if c.Report.ArtifactDir == "" {
		return fmt.Errorf("VERISCOPE_ARTIFACT_DIR is required")
	}
	return nil
}

// ValidateStages checks the stage table invariants: at least one stage,
// sequential ordinals, positive timeouts, non-empty fallback chains.
func ValidateStages(stages []models.StageDefinition) error {
	if len(stages) == 0 {
		return fmt.Errorf("pipeline must define at least one stage")
	}
	for i, s := range stages {
		if s.Name == "" {
			return fmt.Errorf("stage %d has no name", i)
		}
		if s.Ordinal != i {
			return fmt.Errorf("stage %q has ordinal %d, want %d", s.Name, s.Ordinal, i)
		}
		if s.Timeout <= 0 {
			return fmt.Errorf("stage %q has non-positive timeout", s.Name)
		}
		if s.MaxRetries < 0 {
			return fmt.Errorf("stage %q has negative max retries", s.Name)
		}
		if len(s.FallbackChain) == 0 {
			return fmt.Errorf("stage %q has an empty fallback chain", s.Name)
		}
	}
	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
