package llm

import (
	"context"
	"time"

	"regaudit/internal/ollama"
)

// Message is one turn of an Ollama chat.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OllamaChat completes prompts with a local Ollama server's /api/chat.
// Client enforces the per-call timeout; the transport timeout only guards
// against a hung connection.
type OllamaChat struct {
	api   *ollama.Client
	model string
}

// NewOllamaChat creates a chat provider for model.
func NewOllamaChat(baseURL, model string) *OllamaChat {
	return &OllamaChat{
		api:   ollama.New(baseURL, 10*time.Minute),
		model: model,
	}
}

type chatOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type chatRequest struct {
	Model    string      `json:"model"`
	Messages []Message   `json:"messages"`
	Stream   bool        `json:"stream"`
	Options  chatOptions `json:"options"`
}

type chatResponse struct {
	Model   string  `json:"model"`
	Message Message `json:"message"`
}

// Complete implements Provider with a single non-streaming chat turn.
func (c *OllamaChat) Complete(ctx context.Context, req *Request) (*Response, error) {
	msgs := make([]Message, 0, 2)
	if req.SystemPrompt != "" {
		msgs = append(msgs, Message{Role: "system", Content: req.SystemPrompt})
	}
	msgs = append(msgs, Message{Role: "user", Content: req.UserPrompt})

	var out chatResponse
	err := c.api.Post(ctx, "/api/chat", chatRequest{
		Model:    c.model,
		Messages: msgs,
		Options:  chatOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens},
	}, &out)
	if err != nil {
		return nil, err
	}

	model := out.Model
	if model == "" {
		model = c.model
	}
	return &Response{Content: out.Message.Content, Model: model}, nil
}
