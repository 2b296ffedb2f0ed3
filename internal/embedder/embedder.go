package embedder

import (
	"context"
	"fmt"
)

// Embedder turns text into fixed-dimension vectors.
type Embedder interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Model identifies the embedding model; it is recorded in the index.
	Model() string
	// Dimensions is the length of every returned vector.
	Dimensions() int
}

// EmbedSingle embeds one text.
func EmbedSingle(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(vecs))
	}
	return vecs[0], nil
}

// checkDims verifies that a backend honoured the configured dimensionality.
func checkDims(vecs [][]float32, want int) error {
	for i, v := range vecs {
		if len(v) != want {
			return fmt.Errorf("embedding %d has %d dimensions, index expects %d", i, len(v), want)
		}
	}
	return nil
}

// New returns the backend named by provider.
func New(ctx context.Context, provider, model, baseURL, apiKey string, dims int) (Embedder, error) {
	switch provider {
	case "ollama":
		return NewOllamaEmbedder(baseURL, model, dims), nil
	case "genai":
		return NewGenAIEmbedder(ctx, apiKey, model, dims)
	case "hashing":
		return NewHashingEmbedder(dims), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q: supported providers are ollama, genai, hashing", provider)
	}
}
