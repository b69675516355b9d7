// Package embeddings provides embedding providers for semantic search.
// Two implementations exist: a remote OpenAI provider and a deterministic
// local provider that needs no network or credentials.
package embeddings

import (
	"context"
	"fmt"
	"os"

	"github.com/haasonsaas/anvil/internal/config"
)

// Provider defines the interface for embedding providers.
type Provider interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Name returns the provider name.
	Name() string

	// Model returns the model identifier recorded in the vector store.
	Model() string

	// Dimension returns the embedding dimension.
	Dimension() int

	// MaxBatchSize returns the maximum number of texts per batch.
	MaxBatchSize() int
}

// New builds the provider selected by configuration.
func New(cfg config.EmbeddingsConfig) (Provider, error) {
	switch cfg.Provider {
	case "", config.EmbeddingsLocal:
		return NewLocal(cfg.Dimensions), nil
	case config.EmbeddingsOpenAI:
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		return NewOpenAI(OpenAIConfig{
			APIKey:  apiKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		})
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", cfg.Provider)
	}
}
