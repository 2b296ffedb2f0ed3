// Package config holds every tunable value of a regaudit run in one structure
// that is built once and handed to the pipeline constructors.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file looked up in the working directory.
const DefaultPath = "regaudit.yaml"

// Config holds all regaudit configuration.
type Config struct {
	// DataDir holds the index, ledger and staged regulations unless the
	// individual paths below are set.
	DataDir     string `yaml:"data_dir"`
	PoliciesDir string `yaml:"policies_dir"`

	Chunk     ChunkConfig     `yaml:"chunk"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	LLM       LLMConfig       `yaml:"llm"`
	Limits    LimitsConfig    `yaml:"limits"`
	Source    SourceConfig    `yaml:"source"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Reports   ReportsConfig   `yaml:"reports"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ChunkConfig controls the sliding window used to split policy text.
// Consecutive chunks share Overlap runes, so each window advances by
// Window-Overlap.
type ChunkConfig struct {
	Window  int `yaml:"window"`
	Overlap int `yaml:"overlap"`
}

// EmbeddingConfig selects the embedding backend. Dimensions is fixed when the
// index is created; changing it requires a rebuild.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"` // ollama, genai, hashing
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	BatchSize  int    `yaml:"batch_size"`
}

// IndexConfig configures the on-disk vector index and retrieval.
type IndexConfig struct {
	Path         string `yaml:"path"`
	Metric       string `yaml:"metric"` // cosine, l2
	TopK         int    `yaml:"top_k"`
	SnapshotPath string `yaml:"snapshot_path"`
}

// LLMConfig configures the generative-model service.
type LLMConfig struct {
	Provider           string        `yaml:"provider"` // ollama, gemini
	Model              string        `yaml:"model"`
	BaseURL            string        `yaml:"base_url"`
	APIKey             string        `yaml:"api_key"`
	Timeout            time.Duration `yaml:"timeout"`
	MaxOutputTokens    int           `yaml:"max_output_tokens"`
	MaxOutputTokensCap int           `yaml:"max_output_tokens_cap"`
	Temperature        float64       `yaml:"temperature"`
}

// LimitsConfig bounds prompt sizes. Text beyond these lengths is cut before the
// model call.
type LimitsConfig struct {
	MaxExtractChars int `yaml:"max_extract_chars"`
	MaxReportChars  int `yaml:"max_report_chars"`
}

// SourceConfig configures where regulations come from.
type SourceConfig struct {
	Type         string        `yaml:"type"` // dir, sec
	Dir          string        `yaml:"dir"`
	BaseURL      string        `yaml:"base_url"`
	ListingURL   string        `yaml:"listing_url"`
	FetchLimit   int           `yaml:"fetch_limit"`
	RequestDelay time.Duration `yaml:"request_delay"`
	Timeout      time.Duration `yaml:"timeout"`
	Retries      int           `yaml:"retries"`
	Backoff      time.Duration `yaml:"backoff"`
	UserAgent    string        `yaml:"user_agent"`
	StagingDir   string        `yaml:"staging_dir"`
}

// LedgerConfig locates the processed-regulation ledger.
type LedgerConfig struct {
	Path string `yaml:"path"`
}

// ReportsConfig selects where finished reports are written.
type ReportsConfig struct {
	Storage  string `yaml:"storage"` // local, s3
	Dir      string `yaml:"dir"`
	S3Bucket string `yaml:"s3_bucket"`
	S3Region string `yaml:"s3_region"`
	S3Prefix string `yaml:"s3_prefix"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DataDir:     ".regaudit",
		PoliciesDir: "internal_docs",

		Chunk: ChunkConfig{
			Window:  1000,
			Overlap: 200,
		},

		Embedding: EmbeddingConfig{
			Provider:   "ollama",
			Model:      "nomic-embed-text",
			Dimensions: 768,
			BaseURL:    "http://localhost:11434",
			BatchSize:  32,
		},

		Index: IndexConfig{
			Metric: "cosine",
			TopK:   5,
		},

		LLM: LLMConfig{
			Provider:           "ollama",
			Model:              "qwen3:8b",
			BaseURL:            "http://localhost:11434",
			Timeout:            2 * time.Minute,
			MaxOutputTokens:    2000,
			MaxOutputTokensCap: 8192,
			Temperature:        0.2,
		},

		Limits: LimitsConfig{
			MaxExtractChars: 100000,
			MaxReportChars:  50000,
		},

		Source: SourceConfig{
			Type:         "dir",
			Dir:          "regulations",
			BaseURL:      "https://www.sec.gov",
			ListingURL:   "https://www.sec.gov/rules-regulations/rulemaking-activity",
			FetchLimit:   5,
			RequestDelay: 2 * time.Second,
			Timeout:      60 * time.Second,
			Retries:      3,
			Backoff:      time.Second,
			UserAgent:    "regaudit/1.0 (compliance gap analysis)",
		},

		Reports: ReportsConfig{
			Storage:  "local",
			S3Region: "us-east-1",
			S3Prefix: "reports/",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults.
// Environment overrides are applied last and derived paths are filled in.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.fillPaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fillPaths derives unset file locations from DataDir.
func (c *Config) fillPaths() {
	if c.Index.Path == "" {
		c.Index.Path = filepath.Join(c.DataDir, "index.db")
	}
	if c.Ledger.Path == "" {
		c.Ledger.Path = filepath.Join(c.DataDir, "processed_regulations.jsonl")
	}
	if c.Source.StagingDir == "" {
		c.Source.StagingDir = filepath.Join(c.DataDir, "regulations")
	}
	if c.Reports.Dir == "" {
		c.Reports.Dir = filepath.Join(c.DataDir, "reports")
	}
}

// Validate rejects configurations that would break index or prompt invariants.
func (c *Config) Validate() error {
	if c.Chunk.Window <= 0 {
		return fmt.Errorf("chunk.window must be positive, got %d", c.Chunk.Window)
	}
	if c.Chunk.Overlap < 0 || c.Chunk.Overlap >= c.Chunk.Window {
		return fmt.Errorf("chunk.overlap must be in [0, window), got %d", c.Chunk.Overlap)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	switch c.Embedding.Provider {
	case "ollama", "genai", "hashing":
	default:
		return fmt.Errorf("unknown embedding.provider %q (use ollama, genai or hashing)", c.Embedding.Provider)
	}
	switch c.Index.Metric {
	case "cosine", "l2":
	default:
		return fmt.Errorf("unknown index.metric %q (use cosine or l2)", c.Index.Metric)
	}
	if c.Index.TopK <= 0 {
		return fmt.Errorf("index.top_k must be positive, got %d", c.Index.TopK)
	}
	switch c.LLM.Provider {
	case "ollama", "gemini":
	default:
		return fmt.Errorf("unknown llm.provider %q (use ollama or gemini)", c.LLM.Provider)
	}
	if c.LLM.MaxOutputTokens <= 0 || c.LLM.MaxOutputTokens > c.LLM.MaxOutputTokensCap {
		return fmt.Errorf("llm.max_output_tokens must be in (0, %d], got %d", c.LLM.MaxOutputTokensCap, c.LLM.MaxOutputTokens)
	}
	if c.Limits.MaxExtractChars <= 0 || c.Limits.MaxReportChars <= 0 {
		return fmt.Errorf("limits must be positive")
	}
	switch c.Source.Type {
	case "dir", "sec":
	default:
		return fmt.Errorf("unknown source.type %q (use dir or sec)", c.Source.Type)
	}
	switch c.Reports.Storage {
	case "local":
	case "s3":
		if c.Reports.S3Bucket == "" {
			return fmt.Errorf("reports.s3_bucket is required for s3 storage")
		}
	default:
		return fmt.Errorf("unknown reports.storage %q (use local or s3)", c.Reports.Storage)
	}
	return nil
}
