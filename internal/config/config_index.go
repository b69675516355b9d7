package config

// Embedding provider names.
const (
	EmbeddingsLocal  = "local"
	EmbeddingsOpenAI = "openai"
)

// IndexConfig controls the retrieval index: which files are ingested and how
// they are chunked.
type IndexConfig struct {
	// Dir is the index directory relative to the workspace root.
	// Default: "codeindex".
	Dir string `yaml:"dir"`

	// Include are glob patterns selecting files for ingest, matched
	// against the walk-relative path or the base name. A "**" segment
	// crosses directory boundaries.
	Include []string `yaml:"include"`

	// Exclude are glob patterns removed from the include set.
	Exclude []string `yaml:"exclude"`

	// MaxFileBytes skips files larger than this. Default: 1 MiB.
	MaxFileBytes int64 `yaml:"max_file_bytes"`

	// ChunkLines is the window size for line-based chunkers. Default: 60.
	ChunkLines int `yaml:"chunk_lines"`

	// ChunkOverlap is the line overlap between windows. Default: 10.
	ChunkOverlap int `yaml:"chunk_overlap"`

	// Watch enables the filesystem watcher that re-ingests changed files.
	Watch bool `yaml:"watch"`
}

// EmbeddingsConfig selects and configures the embedding provider backing
// semantic search.
type EmbeddingsConfig struct {
	// Provider is "local" (deterministic hashing embedder, no network) or
	// "openai". Default: "local".
	Provider string `yaml:"provider"`

	// Model is the embedding model for remote providers.
	// Default: "text-embedding-3-small".
	Model string `yaml:"model"`

	// APIKey authenticates remote providers. Supports ${VAR} expansion.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider endpoint.
	BaseURL string `yaml:"base_url"`

	// Dimensions is the embedding vector width. Default: 256.
	Dimensions int `yaml:"dimensions"`

	// BatchSize bounds texts per embedding request. Default: 64.
	BatchSize int `yaml:"batch_size"`
}
