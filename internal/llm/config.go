package llm

import (
	"fmt"
)

const (
	defaultAPIURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	defaultModel  = "qwen3-max"
)

// Config holds the configuration for an OpenAI-compatible chat completion
// endpoint (DashScope compatible mode, OpenRouter, OpenAI, ...).
type Config struct {
	APIKey      string  `json:"api_key"`
	APIURL      string  `json:"api_url"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	Timeout     int     `json:"timeout"`
	// JSONMode asks the provider for a JSON object answer.
	JSONMode bool `json:"json_mode"`
}

// DefaultConfig returns a config pointing at the default provider and model.
func DefaultConfig(apiKey string) *Config {
	return &Config{
		APIKey:      apiKey,
		APIURL:      defaultAPIURL,
		Model:       defaultModel,
		MaxTokens:   8000,
		Temperature: 0.2,
		Timeout:     300,
		JSONMode:    true,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("API key is required")
	}
	if c.APIURL == "" {
		return fmt.Errorf("API URL is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.MaxTokens < 1 {
		return fmt.Errorf("max tokens must be greater than 0")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if c.Timeout < 1 {
		return fmt.Errorf("timeout must be greater than 0")
	}
	return nil
}

// GetHeaders returns the headers for the LLM API request
func (c *Config) GetHeaders() map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + c.APIKey,
		"Content-Type":  "application/json",
	}
}
