package embedder

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GenAIEmbedder generates embeddings with the Gemini API.
type GenAIEmbedder struct {
	client *genai.Client
	model  string
	dims   int
}

// NewGenAIEmbedder creates a Gemini embedder that requests vectors of the
// given dimensionality.
func NewGenAIEmbedder(ctx context.Context, apiKey, model string, dims int) (*GenAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create GenAI client: %w", err)
	}

	return &GenAIEmbedder{client: client, model: model, dims: dims}, nil
}

// Model returns the configured model name.
func (e *GenAIEmbedder) Model() string { return e.model }

// Dimensions returns the requested vector length.
func (e *GenAIEmbedder) Dimensions() int { return e.dims }

// Embed generates embeddings for a batch of texts.
func (e *GenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		TaskType:             "RETRIEVAL_DOCUMENT",
		OutputDimensionality: genai.Ptr(int32(e.dims)),
	})
	if err != nil {
		return nil, fmt.Errorf("GenAI embed: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(result.Embeddings))
	}

	out := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		out[i] = emb.Values
	}
	if err := checkDims(out, e.dims); err != nil {
		return nil, err
	}
	return out, nil
}
