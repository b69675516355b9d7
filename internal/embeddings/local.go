package embeddings

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Local is a deterministic hashing embedder. Each token is hashed into a
// fixed number of buckets and the resulting bag-of-tokens vector is
// L2-normalized. It captures lexical overlap only, not meaning, but it needs
// no network or credentials, which makes it the default for tests and
// offline use.
type Local struct {
	dim int
}

// DefaultLocalDimensions is the vector width when none is configured.
const DefaultLocalDimensions = 256

// NewLocal creates a local provider with the given dimension.
func NewLocal(dim int) *Local {
	if dim <= 0 {
		dim = DefaultLocalDimensions
	}
	return &Local{dim: dim}
}

// Name returns the provider name.
func (l *Local) Name() string { return "local" }

// Model returns the model identifier recorded in the vector store.
func (l *Local) Model() string { return "local-hash" }

// Dimension returns the embedding dimension.
func (l *Local) Dimension() int { return l.dim }

// MaxBatchSize returns the maximum number of texts per batch. The local
// provider has no real limit; 512 keeps batch memory bounded.
func (l *Local) MaxBatchSize() int { return 512 }

// Embed generates an embedding for a single text.
func (l *Local) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float64, l.dim)
	for _, tok := range localTokens(text) {
		h := fnv.New64a()
		h.Write([]byte(tok))
		sum := h.Sum64()
		bucket := int(sum % uint64(l.dim))
		// Sign from a high bit keeps buckets from only accumulating mass.
		if sum&(1<<63) != 0 {
			vec[bucket]--
		} else {
			vec[bucket]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	out := make([]float32, l.dim)
	if norm == 0 {
		return out, nil
	}
	inv := 1 / math.Sqrt(norm)
	for i, v := range vec {
		out[i] = float32(v * inv)
	}
	return out, nil
}

// EmbedBatch generates embeddings for multiple texts.
func (l *Local) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := l.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// localTokens lowercases and splits on non-alphanumeric boundaries.
func localTokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
