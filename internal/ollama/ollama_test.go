package ollama

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

func TestPost_RoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/echo", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": in["msg"]})
	}))
	defer srv.Close()

	var out map[string]string
	require.NoError(t, New(srv.URL+"/", time.Second).Post(context.Background(), "/api/echo", map[string]string{"msg": "hi"}, &out))
	assert.Equal(t, "hi", out["echo"])
}

func TestPost_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	var out struct{}
	err := New(srv.URL, time.Second).Post(context.Background(), "/api/embed", struct{}{}, &out)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.Equal(t, "/api/embed", se.Endpoint)
	assert.Equal(t, "model not found", se.Body)
}

func TestPost_MalformedReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	var out struct{}
	err := New(srv.URL, time.Second).Post(context.Background(), "/api/chat", struct{}{}, &out)
	assert.ErrorContains(t, err, "decode /api/chat response")
}

func TestNew_DefaultURL(t *testing.T) {
	assert.Equal(t, DefaultURL, New("", time.Second).baseURL)
}
