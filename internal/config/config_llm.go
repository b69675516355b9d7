package config

// Gateway provider names.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// LLMConfig selects the model gateway.
type LLMConfig struct {
	// DefaultProvider names the providers entry used by the loop.
	// Default: "anthropic".
	DefaultProvider string `yaml:"default_provider"`

	// Providers holds per-provider credentials and model selection.
	Providers map[string]LLMProviderConfig `yaml:"providers"`

	// MaxTokens caps generated tokens per completion. Default: 4096.
	MaxTokens int `yaml:"max_tokens"`

	// SystemPrompt is prepended to every conversation when set.
	SystemPrompt string `yaml:"system_prompt"`
}

// LLMProviderConfig configures one gateway provider.
type LLMProviderConfig struct {
	// APIKey authenticates the provider. Supports ${VAR} expansion; falls
	// back to the provider's conventional environment variable when empty.
	APIKey string `yaml:"api_key"`

	// Model is the completion model identifier.
	Model string `yaml:"model"`

	// BaseURL overrides the provider endpoint.
	BaseURL string `yaml:"base_url"`

	// MaxRetries bounds retry attempts on 429/5xx responses. Default: 3.
	MaxRetries int `yaml:"max_retries"`
}
