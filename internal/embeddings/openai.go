package embeddings

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// Default OpenAI embedding parameters.
const (
	defaultOpenAIModel = "text-embedding-3-small"
	openAIDimensions   = 1536
	openAIMaxBatch     = 2048
)

// OpenAIConfig configures the OpenAI embedding provider.
type OpenAIConfig struct {
	// APIKey authenticates requests. Required.
	APIKey string

	// BaseURL overrides the API endpoint, for proxies and compatible servers.
	BaseURL string

	// Model is the embedding model. Default: text-embedding-3-small.
	Model string
}

// OpenAI embeds text through the OpenAI embeddings API.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates an OpenAI embedding provider.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai embeddings: api key is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
	}, nil
}

// Name returns the provider name.
func (o *OpenAI) Name() string { return "openai" }

// Model returns the model identifier recorded in the vector store.
func (o *OpenAI) Model() string { return o.model }

// Dimension returns the embedding dimension.
func (o *OpenAI) Dimension() int { return openAIDimensions }

// MaxBatchSize returns the API's input limit per request.
func (o *OpenAI) MaxBatchSize() int { return openAIMaxBatch }

// Embed generates an embedding for a single text.
func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one request.
func (o *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) > openAIMaxBatch {
		return nil, fmt.Errorf("openai embeddings: batch of %d exceeds limit %d", len(texts), openAIMaxBatch)
	}

	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: texts,
		Model: openai.EmbeddingModel(o.model),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(out) {
			return nil, fmt.Errorf("openai embeddings: response index %d out of range", item.Index)
		}
		out[item.Index] = item.Embedding
	}
	return out, nil
}
