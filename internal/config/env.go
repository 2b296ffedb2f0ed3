package config

import "os"

// applyEnvOverrides lets secrets and deployment-specific values come from the
// environment instead of the YAML file.
func (c *Config) applyEnvOverrides() {
	key := os.Getenv("GEMINI_API_KEY")
	if key == "" {
		key = os.Getenv("GOOGLE_API_KEY")
	}
	if key != "" {
		if c.LLM.APIKey == "" {
			c.LLM.APIKey = key
		}
		if c.Embedding.APIKey == "" {
			c.Embedding.APIKey = key
		}
	}

	if host := os.Getenv("OLLAMA_HOST"); host != "" {
		c.LLM.BaseURL = host
		c.Embedding.BaseURL = host
	}
	if v := os.Getenv("REGAUDIT_LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("REGAUDIT_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("REGAUDIT_EMBED_PROVIDER"); v != "" {
		c.Embedding.Provider = v
	}
	if v := os.Getenv("REGAUDIT_REPORTS_BUCKET"); v != "" {
		c.Reports.Storage = "s3"
		c.Reports.S3Bucket = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		c.Reports.S3Region = v
	}
}
