package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrModelCall wraps every transport, timeout or service failure from a
// generative-model backend.
var ErrModelCall = errors.New("model call failed")

// Request holds the parameters for a completion call.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float64
	MaxTokens    int
}

// Response holds the result of a completion call.
type Response struct {
	Content string
	Model   string
}

// Provider is the interface for completion backends.
type Provider interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, req *Request) (*Response, error)

func (f ProviderFunc) Complete(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Client applies the per-call timeout and output-token cap to a Provider and
// maps every failure onto ErrModelCall.
type Client struct {
	provider    Provider
	timeout     time.Duration
	maxTokens   int
	tokenCap    int
	temperature float64
	logger      *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds each call. Zero disables the bound.
func WithTimeout(d time.Duration) Option { return func(c *Client) { c.timeout = d } }

// WithMaxTokens sets the default output-token budget and the hard cap no
// request may exceed.
func WithMaxTokens(defaultTokens, hardCap int) Option {
	return func(c *Client) {
		c.maxTokens = defaultTokens
		c.tokenCap = hardCap
	}
}

// WithTemperature sets the default sampling temperature.
func WithTemperature(t float64) Option { return func(c *Client) { c.temperature = t } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(c *Client) { c.logger = l } }

// NewClient wraps p.
func NewClient(p Provider, opts ...Option) *Client {
	c := &Client{
		provider:  p,
		timeout:   2 * time.Minute,
		maxTokens: 2000,
		tokenCap:  8192,
		logger:    zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Complete sends prompt with an optional system prompt and returns the text
// of the completion. maxTokens <= 0 uses the client default.
func (c *Client) Complete(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	if c.tokenCap > 0 && maxTokens > c.tokenCap {
		maxTokens = c.tokenCap
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.provider.Complete(ctx, &Request{
		SystemPrompt: system,
		UserPrompt:   prompt,
		Temperature:  c.temperature,
		MaxTokens:    maxTokens,
	})
	if err != nil {
		c.logger.Warn("model call failed", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return "", fmt.Errorf("%w: %w", ErrModelCall, err)
	}
	if resp == nil {
		return "", fmt.Errorf("%w: empty response", ErrModelCall)
	}
	c.logger.Debug("model call complete",
		zap.String("model", resp.Model),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("prompt_chars", len(prompt)),
		zap.Int("response_chars", len(resp.Content)))
	return resp.Content, nil
}

// NewProvider returns the backend named by provider.
func NewProvider(ctx context.Context, provider, model, baseURL, apiKey string) (Provider, error) {
	switch provider {
	case "ollama":
		return NewOllamaChat(baseURL, model), nil
	case "gemini":
		return NewGeminiProvider(ctx, apiKey, model)
	default:
		return nil, fmt.Errorf("unknown provider %q: supported providers are ollama, gemini", provider)
	}
}
