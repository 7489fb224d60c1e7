package config

import (
	"fmt"
	"os"
	"time"
)

// FeedbackConfig configures the chat-completions provider used to produce
// interview feedback for accepted transcripts.
type FeedbackConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Provider   string        `mapstructure:"provider"`     // "openai-compatible" or "static"
	Model      string        `mapstructure:"model"`        // Model name/ID
	APIKey     string        `mapstructure:"api_key"`      // API key (can be set directly or via env var)
	APIKeyEnv  string        `mapstructure:"api_key_env"`  // Environment variable name for API key
	BaseURL    string        `mapstructure:"base_url"`     // Base URL for OpenAI-compatible APIs
	BaseURLEnv string        `mapstructure:"base_url_env"` // Environment variable name for base URL
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxTokens  int           `mapstructure:"max_tokens"`
}

// ResolveEnvVars fills APIKey and BaseURL from their *_env variables.
// Direct values take precedence if already set.
func (c *FeedbackConfig) ResolveEnvVars() {
	if c.APIKeyEnv != "" && c.APIKey == "" {
		if val := os.Getenv(c.APIKeyEnv); val != "" {
			c.APIKey = val
		}
	}
	if c.BaseURLEnv != "" && c.BaseURL == "" {
		if val := os.Getenv(c.BaseURLEnv); val != "" {
			c.BaseURL = val
		}
	}
}

// Validate checks that an enabled feedback provider can actually be called.
func (c *FeedbackConfig) Validate() error {
	switch c.Provider {
	case "", "openai-compatible":
		if c.Model == "" {
			return fmt.Errorf("feedback: model is required")
		}
		if c.BaseURL == "" {
			return fmt.Errorf("feedback: base_url is required")
		}
		if c.APIKey == "" {
			return fmt.Errorf("feedback: api_key is required (set directly or via %s)", c.APIKeyEnv)
		}
	case "static":
	default:
		return fmt.Errorf("feedback: unknown provider %q", c.Provider)
	}
	return nil
}
