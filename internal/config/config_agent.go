package config

import "time"

// Loop execution modes.
const (
	ModePlanner = "planner"
	ModeBuilder = "builder"
)

// LoopConfig bounds a single conversation turn.
type LoopConfig struct {
	// Mode is the starting execution mode: "planner" (no tools execute) or
	// "builder". Default: "builder".
	Mode string `yaml:"mode"`

	// MaxSteps bounds loop iterations per turn. Default: 16.
	MaxSteps int `yaml:"max_steps"`

	// MaxToolCallsPerStep bounds tool executions between step boundaries.
	// Default: 8.
	MaxToolCallsPerStep int `yaml:"max_tool_calls_per_step"`

	// Judge enables the advisory post-batch inspection. Default: true when
	// unset (set to false explicitly to disable).
	Judge *bool `yaml:"judge"`
}

// JudgeEnabled reports whether the judge runs. Unset means enabled.
func (c LoopConfig) JudgeEnabled() bool {
	return c.Judge == nil || *c.Judge
}

// PreflightConfig controls the circuit breaker thresholds.
type PreflightConfig struct {
	// FingerprintThreshold trips a specific (tool, arguments) pair after
	// this many failures. Default: 2.
	FingerprintThreshold int `yaml:"fingerprint_threshold"`

	// IntentThreshold exhausts a tool intent once accumulated failure
	// weight reaches it. Deterministic failures weigh double. Default: 3.
	IntentThreshold int `yaml:"intent_threshold"`

	// DisableOverride turns off the one-shot OVERRIDE token.
	DisableOverride bool `yaml:"disable_override"`
}

// ToolsConfig controls tool execution behavior.
type ToolsConfig struct {
	// Timeout is the per-call wall-clock limit. Default: 30s.
	Timeout time.Duration `yaml:"timeout"`

	// MaxOutputBytes truncates tool output beyond this size. Default: 64 KiB.
	MaxOutputBytes int `yaml:"max_output_bytes"`

	// Shell configures the run_command tool.
	Shell ShellToolConfig `yaml:"shell"`

	// Web configures the http_fetch tool.
	Web WebToolConfig `yaml:"web"`
}

// ShellToolConfig controls the run_command tool.
type ShellToolConfig struct {
	// Enabled turns the tool on. Default: false.
	Enabled bool `yaml:"enabled"`

	// Timeout is the command wall-clock limit. Default: 60s.
	Timeout time.Duration `yaml:"timeout"`

	// AllowedPrefixes restricts commands to these leading tokens when
	// non-empty (for example "go test", "git status").
	AllowedPrefixes []string `yaml:"allowed_prefixes"`
}

// WebToolConfig controls the http_fetch tool.
type WebToolConfig struct {
	// Enabled turns the tool on. Default: false.
	Enabled bool `yaml:"enabled"`

	// Timeout is the request limit. Default: 20s.
	Timeout time.Duration `yaml:"timeout"`

	// MaxBodyBytes truncates response bodies. Default: 1 MiB.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}
