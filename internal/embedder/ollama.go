package embedder

import (
	"context"
	"fmt"
	"time"

	"regaudit/internal/ollama"
)

// OllamaEmbedder embeds batches through a local Ollama server's /api/embed.
type OllamaEmbedder struct {
	api   *ollama.Client
	model string
	dims  int
}

// NewOllamaEmbedder creates an embedder for model. dims is what the index
// expects; replies of any other length are rejected.
func NewOllamaEmbedder(baseURL, model string, dims int) *OllamaEmbedder {
	return &OllamaEmbedder{
		api:   ollama.New(baseURL, 2*time.Minute),
		model: model,
		dims:  dims,
	}
}

func (e *OllamaEmbedder) Model() string   { return e.model }
func (e *OllamaEmbedder) Dimensions() int { return e.dims }

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed returns one vector per text, in input order.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var out embedResponse
	if err := e.api.Post(ctx, "/api/embed", embedRequest{Model: e.model, Input: texts}, &out); err != nil {
		return nil, err
	}
	if got := len(out.Embeddings); got != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d texts", got, len(texts))
	}
	if err := checkDims(out.Embeddings, e.dims); err != nil {
		return nil, err
	}
	return out.Embeddings, nil
}
