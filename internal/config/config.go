// Package config defines the anvil configuration document and its loader.
// A single YAML (or JSON5) file configures the workspace, retrieval index,
// model gateway, loop budgets, preflight, and observability. Values support
// ${VAR} environment expansion and unknown fields are rejected.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration for anvil.
type Config struct {
	Workspace  WorkspaceConfig  `yaml:"workspace"`
	Index      IndexConfig      `yaml:"index"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	LLM        LLMConfig        `yaml:"llm"`
	Loop       LoopConfig       `yaml:"loop"`
	Preflight  PreflightConfig  `yaml:"preflight"`
	Tools      ToolsConfig      `yaml:"tools"`
	Tasks      TasksConfig      `yaml:"tasks"`
	Sessions   SessionsConfig   `yaml:"sessions"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// Load reads, parses, and validates the configuration file. Environment
// variables in the file are expanded before parsing and defaults are applied
// before validation.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeStrict(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with all defaults applied and no file read.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Validate checks cross-field constraints and returns all violations joined.
func (c *Config) Validate() error {
	var errs []error

	if c.LLM.DefaultProvider != "" {
		if _, ok := c.LLM.Providers[c.LLM.DefaultProvider]; !ok {
			errs = append(errs, fmt.Errorf("llm.default_provider %q has no matching providers entry", c.LLM.DefaultProvider))
		}
	}
	for name := range c.LLM.Providers {
		switch name {
		case ProviderAnthropic, ProviderOpenAI:
		default:
			errs = append(errs, fmt.Errorf("llm.providers: unknown provider %q", name))
		}
	}

	switch c.Loop.Mode {
	case "", ModePlanner, ModeBuilder:
	default:
		errs = append(errs, fmt.Errorf("loop.mode must be %q or %q, got %q", ModePlanner, ModeBuilder, c.Loop.Mode))
	}
	if c.Loop.MaxSteps < 1 {
		errs = append(errs, errors.New("loop.max_steps must be at least 1"))
	}
	if c.Loop.MaxToolCallsPerStep < 1 {
		errs = append(errs, errors.New("loop.max_tool_calls_per_step must be at least 1"))
	}

	if c.Preflight.FingerprintThreshold < 1 {
		errs = append(errs, errors.New("preflight.fingerprint_threshold must be at least 1"))
	}
	if c.Preflight.IntentThreshold < 1 {
		errs = append(errs, errors.New("preflight.intent_threshold must be at least 1"))
	}

	switch c.Embeddings.Provider {
	case "", EmbeddingsLocal, EmbeddingsOpenAI:
	default:
		errs = append(errs, fmt.Errorf("embeddings.provider must be %q or %q, got %q", EmbeddingsLocal, EmbeddingsOpenAI, c.Embeddings.Provider))
	}
	if c.Embeddings.Dimensions < 1 {
		errs = append(errs, errors.New("embeddings.dimensions must be at least 1"))
	}

	if c.Workspace.MinFreeMemory < 0 || c.Workspace.MinFreeMemory >= 1 {
		errs = append(errs, errors.New("workspace.min_free_memory must be in [0, 1)"))
	}

	if lvl := strings.TrimSpace(c.Logging.Level); lvl != "" {
		switch strings.ToLower(lvl) {
		case "debug", "info", "warn", "error":
		default:
			errs = append(errs, fmt.Errorf("logging.level %q is not one of debug|info|warn|error", lvl))
		}
	}

	return errors.Join(errs...)
}

func applyDefaults(cfg *Config) {
	if cfg.Workspace.Root == "" {
		cfg.Workspace.Root = "workspace"
	}
	if cfg.Workspace.MaxBytes == 0 {
		cfg.Workspace.MaxBytes = 5 << 30
	}
	if cfg.Workspace.MinFreeMemory == 0 {
		cfg.Workspace.MinFreeMemory = 0.10
	}

	if cfg.Index.Dir == "" {
		cfg.Index.Dir = "codeindex"
	}
	if cfg.Index.MaxFileBytes == 0 {
		cfg.Index.MaxFileBytes = 1 << 20
	}
	if cfg.Index.ChunkLines == 0 {
		cfg.Index.ChunkLines = 60
	}
	if cfg.Index.ChunkOverlap == 0 {
		cfg.Index.ChunkOverlap = 10
	}
	if len(cfg.Index.Include) == 0 {
		cfg.Index.Include = []string{
			"**/*.go", "**/*.py", "**/*.js", "**/*.ts", "**/*.md",
			"**/*.yaml", "**/*.yml", "**/*.json", "**/*.sh",
		}
	}
	if len(cfg.Index.Exclude) == 0 {
		cfg.Index.Exclude = []string{
			"**/node_modules/**", "**/.git/**", "**/vendor/**",
			"**/__pycache__/**", "**/.venv/**",
		}
	}

	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = EmbeddingsLocal
	}
	if cfg.Embeddings.Dimensions == 0 {
		cfg.Embeddings.Dimensions = 256
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "text-embedding-3-small"
	}
	if cfg.Embeddings.BatchSize == 0 {
		cfg.Embeddings.BatchSize = 64
	}

	if cfg.LLM.DefaultProvider == "" {
		cfg.LLM.DefaultProvider = ProviderAnthropic
	}
	if cfg.LLM.Providers == nil {
		cfg.LLM.Providers = map[string]LLMProviderConfig{
			ProviderAnthropic: {},
		}
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 4096
	}

	if cfg.Loop.Mode == "" {
		cfg.Loop.Mode = ModeBuilder
	}
	if cfg.Loop.MaxSteps == 0 {
		cfg.Loop.MaxSteps = 16
	}
	if cfg.Loop.MaxToolCallsPerStep == 0 {
		cfg.Loop.MaxToolCallsPerStep = 8
	}

	if cfg.Preflight.FingerprintThreshold == 0 {
		cfg.Preflight.FingerprintThreshold = 2
	}
	if cfg.Preflight.IntentThreshold == 0 {
		cfg.Preflight.IntentThreshold = 3
	}

	if cfg.Tools.Timeout == 0 {
		cfg.Tools.Timeout = 30 * time.Second
	}
	if cfg.Tools.MaxOutputBytes == 0 {
		cfg.Tools.MaxOutputBytes = 64 << 10
	}
	if cfg.Tools.Shell.Timeout == 0 {
		cfg.Tools.Shell.Timeout = 60 * time.Second
	}
	if cfg.Tools.Web.Timeout == 0 {
		cfg.Tools.Web.Timeout = 20 * time.Second
	}
	if cfg.Tools.Web.MaxBodyBytes == 0 {
		cfg.Tools.Web.MaxBodyBytes = 1 << 20
	}

	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}

	if cfg.Sessions.Path == "" {
		cfg.Sessions.Path = "data/sessions.db"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "anvil"
	}
	if cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = 1.0
	}
}
