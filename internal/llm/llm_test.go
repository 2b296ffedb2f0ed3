package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_CapsTokensAndAppliesDefaults(t *testing.T) {
	var got *Request
	p := ProviderFunc(func(ctx context.Context, req *Request) (*Response, error) {
		got = req
		return &Response{Content: "ok"}, nil
	})
	c := NewClient(p, WithMaxTokens(1000, 4000), WithTemperature(0.3))

	out, err := c.Complete(context.Background(), "sys", "prompt", 0)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 1000, got.MaxTokens)
	assert.Equal(t, "sys", got.SystemPrompt)
	assert.InDelta(t, 0.3, got.Temperature, 1e-9)

	_, err = c.Complete(context.Background(), "", "prompt", 10000)
	require.NoError(t, err)
	assert.Equal(t, 4000, got.MaxTokens)
}

func TestClient_WrapsFailures(t *testing.T) {
	p := ProviderFunc(func(ctx context.Context, req *Request) (*Response, error) {
		return nil, errors.New("connection refused")
	})
	_, err := NewClient(p).Complete(context.Background(), "", "prompt", 0)
	assert.ErrorIs(t, err, ErrModelCall)
	assert.ErrorContains(t, err, "connection refused")
}

func TestClient_Timeout(t *testing.T) {
	p := ProviderFunc(func(ctx context.Context, req *Request) (*Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	_, err := NewClient(p, WithTimeout(10*time.Millisecond)).Complete(context.Background(), "", "prompt", 0)
	assert.ErrorIs(t, err, ErrModelCall)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOllamaChat_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, 512, req.Options.NumPredict)

		_ = json.NewEncoder(w).Encode(chatResponse{Model: "qwen3:8b", Message: Message{Role: "assistant", Content: "answer"}})
	}))
	defer srv.Close()

	resp, err := NewOllamaChat(srv.URL, "qwen3:8b").Complete(context.Background(),
		&Request{SystemPrompt: "be terse", UserPrompt: "q", MaxTokens: 512})
	require.NoError(t, err)
	assert.Equal(t, "answer", resp.Content)
	assert.Equal(t, "qwen3:8b", resp.Model)
}

func TestOllamaChat_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewOllamaChat(srv.URL, "m").Complete(context.Background(), &Request{UserPrompt: "q"})
	assert.ErrorContains(t, err, "503")
}

func TestParseHelpers(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripFences(`{"a":1}`))
	assert.Equal(t, "answer", Clean("<think>hmm</think>\n```\nanswer\n```"))
	assert.Equal(t, `{"x":{"y":2}}`, JSONObject(`Here you go: {"x":{"y":2}} thanks`))
	assert.Equal(t, `[1,2]`, JSONArray("list: [1,2]."))
	assert.Empty(t, JSONArray("none"))

	s, cut := Truncate("héllo wörld", 5)
	assert.True(t, cut)
	assert.Equal(t, "héllo", s)
	s, cut = Truncate("short", 10)
	assert.False(t, cut)
	assert.Equal(t, "short", s)
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(context.Background(), "ollama", "m", "http://localhost:11434", "")
	require.NoError(t, err)
	assert.IsType(t, &OllamaChat{}, p)

	_, err = NewProvider(context.Background(), "gemini", "m", "", "")
	assert.Error(t, err)

	_, err = NewProvider(context.Background(), "gpt", "m", "", "")
	assert.Error(t, err)
}
