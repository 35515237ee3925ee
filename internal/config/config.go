package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Config holds all application configuration.
// Values come from a local .env file (when present), then the process
// environment, then Options.
//
// Environment Variables:
// LLM Configuration:
// - LLM_API_KEY: API key for the LLM provider (falls back to DASHSCOPE_API_KEY, then API_KEY)
// - LLM_API_URL: OpenAI-compatible endpoint, or API_BASE (default: DashScope compatible mode)
// - LLM_MODEL: Model name to use, or LLM_TYPE (default: qwen3-max)
// - LLM_MAX_TOKENS: Maximum tokens for responses (default: 8000)
// - LLM_TEMPERATURE: Temperature for responses (default: 0.2)
// - LLM_TIMEOUT: Request timeout in seconds (default: 300)
//
// Engine Configuration:
// - MAX_TRY: Conversion attempts per unit (default: 3)
// - MAX_CONCURRENCY: Concurrent service calls per process (default: 6)
// - LLM_RPM: Service calls per minute, 0 disables the limit (default: 88)
// - MERGE_N: Tables per unit (default: 1)
// - GRAMMAR_CHECK: Validate converted SQL (default: true)
// - DIALECT_MAP_FILE: YAML file overriding the format to dialect table (optional)
//
// Checkpoint Configuration:
// - CHECKPOINT_DB: SQLite database path (default: resources/checkpoints.db)
// - CHECKPOINT_RETENTION_HOURS: Prune snapshots older than this, 0 keeps everything (default: 0)
// - CHECKPOINT_PRUNE_CRON: Prune schedule (default: 0 3 * * *)
//
// HTTP Configuration:
// - HTTP_ADDR: Listen address (default: :8000)
// - UI_STATIC_DIR: Static UI directory served at / (optional)
//
// System Configuration:
// - LOG_LEVEL: DEBUG, INFO, WARN or ERROR (default: INFO)
type Config struct {
	LLM        LLMConfig        `json:"llm"`
	Engine     EngineConfig     `json:"engine"`
	Checkpoint CheckpointConfig `json:"checkpoint"`
	HTTP       HTTPConfig       `json:"http"`
	System     SystemConfig     `json:"system"`

	skipKeyCheck bool
}

// LLMConfig holds the configuration for the OpenAI-compatible client.
type LLMConfig struct {
	APIKey      string  `json:"api_key"`
	APIURL      string  `json:"api_url"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	Timeout     int     `json:"timeout"`
}

type EngineConfig struct {
	MaxTry         int     `json:"max_try"`
	MaxConcurrency int     `json:"max_concurrency"`
	RPM            float64 `json:"rpm"`
	MergeN         int     `json:"merge_n"`
	GrammarCheck   bool    `json:"grammar_check"`
	DialectMapFile string  `json:"dialect_map_file"`
}

type CheckpointConfig struct {
	DBPath         string `json:"db_path"`
	RetentionHours int    `json:"retention_hours"`
	PruneCron      string `json:"prune_cron"`
}

// Retention is how long snapshots are kept. Zero keeps them forever.
func (c CheckpointConfig) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

type HTTPConfig struct {
	Addr        string `json:"addr"`
	UIStaticDir string `json:"ui_static_dir"`
}

// UIEnabled reports whether a static UI directory is configured.
func (c HTTPConfig) UIEnabled() bool {
	return strings.TrimSpace(c.UIStaticDir) != ""
}

type SystemConfig struct {
	LogLevel     string `json:"log_level"`
	SettingsFile string `json:"settings_file"`
}

// String hides the API key.
func (c LLMConfig) String() string {
	key := "<unset>"
	if c.APIKey != "" {
		key = "<redacted>"
	}
	return fmt.Sprintf("{url:%s model:%s key:%s max_tokens:%d temperature:%.2f timeout:%ds}",
		c.APIURL, c.Model, key, c.MaxTokens, c.Temperature, c.Timeout)
}

// Option is a function type for configuring Config
type Option func(*Config)

// WithAPIKey overrides the LLM API key.
func WithAPIKey(key string) Option {
	return func(c *Config) {
		if strings.TrimSpace(key) != "" {
			c.LLM.APIKey = key
		}
	}
}

// WithCheckpointDB overrides the checkpoint database path.
func WithCheckpointDB(path string) Option {
	return func(c *Config) {
		if strings.TrimSpace(path) != "" {
			c.Checkpoint.DBPath = path
		}
	}
}

// WithHTTPAddr overrides the listen address.
func WithHTTPAddr(addr string) Option {
	return func(c *Config) {
		if strings.TrimSpace(addr) != "" {
			c.HTTP.Addr = addr
		}
	}
}

// WithoutAPIKeyCheck lets commands that never call the service (checkpoint
// inspection) load a config without credentials.
func WithoutAPIKeyCheck() Option {
	return func(c *Config) {
		c.skipKeyCheck = true
	}
}

// NewFromEnv creates a new Config instance with values from a .env file,
// environment variables and options.
func NewFromEnv(opts ...Option) (*Config, error) {
	// a missing .env file is the normal case
	_ = godotenv.Load()

	config := &Config{
		LLM: LLMConfig{
			APIKey:      firstEnvOr("", "LLM_API_KEY", "DASHSCOPE_API_KEY", "API_KEY"),
			APIURL:      firstEnvOr("https://dashscope.aliyuncs.com/compatible-mode/v1", "LLM_API_URL", "API_BASE"),
			Model:       firstEnvOr("qwen3-max", "LLM_MODEL", "LLM_TYPE"),
			MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 8000),
			Temperature: getEnvFloat("LLM_TEMPERATURE", 0.2),
			Timeout:     getEnvInt("LLM_TIMEOUT", 300),
		},
		Engine: EngineConfig{
			MaxTry:         getEnvInt("MAX_TRY", 3),
			MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 6),
			RPM:            getEnvFloat("LLM_RPM", 88),
			MergeN:         getEnvInt("MERGE_N", 1),
			GrammarCheck:   getEnvBool("GRAMMAR_CHECK", true),
			DialectMapFile: getEnvString("DIALECT_MAP_FILE", ""),
		},
		Checkpoint: CheckpointConfig{
			DBPath:         getEnvString("CHECKPOINT_DB", filepath.Join("resources", "checkpoints.db")),
			RetentionHours: getEnvInt("CHECKPOINT_RETENTION_HOURS", 0),
			PruneCron:      getEnvString("CHECKPOINT_PRUNE_CRON", "0 3 * * *"),
		},
		HTTP: HTTPConfig{
			Addr:        getEnvString("HTTP_ADDR", ":8000"),
			UIStaticDir: getEnvString("UI_STATIC_DIR", ""),
		},
		System: SystemConfig{
			LogLevel:     getEnvString("LOG_LEVEL", "INFO"),
			SettingsFile: RuntimeSettingsFilePath(),
		},
	}

	for _, opt := range opts {
		opt(config)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) validate() error {
	if c.LLM.APIKey == "" && !c.skipKeyCheck {
		return fmt.Errorf("LLM_API_KEY is required")
	}
	if c.Engine.MaxTry <= 0 {
		return fmt.Errorf("MAX_TRY must be greater than 0, got %d", c.Engine.MaxTry)
	}
	if c.Engine.MaxConcurrency <= 0 {
		return fmt.Errorf("MAX_CONCURRENCY must be greater than 0, got %d", c.Engine.MaxConcurrency)
	}
	if c.Engine.RPM < 0 {
		return fmt.Errorf("LLM_RPM must not be negative, got %g", c.Engine.RPM)
	}
	if c.Engine.MergeN <= 0 {
		return fmt.Errorf("MERGE_N must be greater than 0, got %d", c.Engine.MergeN)
	}
	if c.Checkpoint.RetentionHours < 0 {
		return fmt.Errorf("CHECKPOINT_RETENTION_HOURS must not be negative, got %d", c.Checkpoint.RetentionHours)
	}
	if _, err := cron.ParseStandard(c.Checkpoint.PruneCron); err != nil {
		return fmt.Errorf("invalid CHECKPOINT_PRUNE_CRON: %w", err)
	}
	return nil
}

// firstEnvOr returns the first non-empty variable among keys.
func firstEnvOr(defaultValue string, keys ...string) string {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			return value
		}
	}
	return defaultValue
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float value from environment variables with default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvBool accepts the forms strconv.ParseBool does
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
