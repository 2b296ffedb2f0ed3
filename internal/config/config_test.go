package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"GEMINI_API_KEY", "GOOGLE_API_KEY", "OLLAMA_HOST", "REGAUDIT_LLM_PROVIDER",
		"REGAUDIT_LLM_MODEL", "REGAUDIT_EMBED_PROVIDER", "REGAUDIT_REPORTS_BUCKET", "AWS_REGION",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.Chunk.Window)
	assert.Equal(t, 200, cfg.Chunk.Overlap)
	assert.Equal(t, 5, cfg.Index.TopK)
	assert.Equal(t, "cosine", cfg.Index.Metric)
	assert.Equal(t, filepath.Join(".regaudit", "index.db"), cfg.Index.Path)
	assert.Equal(t, filepath.Join(".regaudit", "processed_regulations.jsonl"), cfg.Ledger.Path)
	assert.Equal(t, filepath.Join(".regaudit", "reports"), cfg.Reports.Dir)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "regaudit.yaml")
	data := `
data_dir: /var/lib/regaudit
chunk:
  window: 500
  overlap: 50
index:
  metric: l2
  top_k: 3
llm:
  provider: gemini
  model: gemini-2.5-flash
  timeout: 45s
source:
  type: sec
  request_delay: 3s
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 500, cfg.Chunk.Window)
	assert.Equal(t, 50, cfg.Chunk.Overlap)
	assert.Equal(t, "l2", cfg.Index.Metric)
	assert.Equal(t, 3, cfg.Index.TopK)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, 45*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 3*time.Second, cfg.Source.RequestDelay)
	assert.Equal(t, "/var/lib/regaudit/index.db", cfg.Index.Path)
	// Untouched sections keep their defaults.
	assert.Equal(t, 768, cfg.Embedding.Dimensions)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEMINI_API_KEY", "gk")
	t.Setenv("REGAUDIT_LLM_PROVIDER", "gemini")
	t.Setenv("REGAUDIT_REPORTS_BUCKET", "audit-reports")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "gk", cfg.LLM.APIKey)
	assert.Equal(t, "gk", cfg.Embedding.APIKey)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, "s3", cfg.Reports.Storage)
	assert.Equal(t, "audit-reports", cfg.Reports.S3Bucket)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"overlap equals window", func(c *Config) { c.Chunk.Overlap = c.Chunk.Window }},
		{"zero window", func(c *Config) { c.Chunk.Window = 0 }},
		{"zero dimensions", func(c *Config) { c.Embedding.Dimensions = 0 }},
		{"unknown metric", func(c *Config) { c.Index.Metric = "dot" }},
		{"zero k", func(c *Config) { c.Index.TopK = 0 }},
		{"unknown llm", func(c *Config) { c.LLM.Provider = "gpt" }},
		{"tokens above cap", func(c *Config) { c.LLM.MaxOutputTokens = c.LLM.MaxOutputTokensCap + 1 }},
		{"s3 without bucket", func(c *Config) { c.Reports.Storage = "s3" }},
		{"unknown source", func(c *Config) { c.Source.Type = "ftp" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, DefaultConfig().Validate())
}
