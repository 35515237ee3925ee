package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"
)

const DefaultRuntimeSettingsFile = "resources/settings.json"

// RuntimeSettings are the values an operator may change through the HTTP
// API. They are persisted to a JSON file and applied on the next start.
type RuntimeSettings struct {
	LLMAPIURL string `json:"llm_api_url"`
	LLMAPIKey string `json:"llm_api_key"`
	LLMModel  string `json:"llm_model"`
	PruneCron string `json:"prune_cron"`
	MergeN    int    `json:"merge_n"`
}

func RuntimeSettingsFilePath() string {
	return getEnvString("SETTINGS_FILE", DefaultRuntimeSettingsFile)
}

func (s RuntimeSettings) Validate() error {
	if strings.TrimSpace(s.LLMAPIURL) == "" {
		return fmt.Errorf("llm_api_url is required")
	}
	if strings.TrimSpace(s.LLMAPIKey) == "" {
		return fmt.Errorf("llm_api_key is required")
	}
	if strings.TrimSpace(s.LLMModel) == "" {
		return fmt.Errorf("llm_model is required")
	}
	if strings.TrimSpace(s.PruneCron) == "" {
		return fmt.Errorf("prune_cron is required")
	}
	if _, err := cron.ParseStandard(s.PruneCron); err != nil {
		return fmt.Errorf("invalid prune_cron: %w", err)
	}
	if s.MergeN <= 0 {
		return fmt.Errorf("merge_n must be greater than 0")
	}
	return nil
}

// Redacted returns a copy safe to hand to clients.
func (s RuntimeSettings) Redacted() RuntimeSettings {
	if s.LLMAPIKey != "" {
		s.LLMAPIKey = "********"
	}
	return s
}

func (c *Config) RuntimeSettings() RuntimeSettings {
	return RuntimeSettings{
		LLMAPIURL: c.LLM.APIURL,
		LLMAPIKey: c.LLM.APIKey,
		LLMModel:  c.LLM.Model,
		PruneCron: c.Checkpoint.PruneCron,
		MergeN:    c.Engine.MergeN,
	}
}

func WithRuntimeSettings(settings RuntimeSettings) Option {
	return func(c *Config) {
		if strings.TrimSpace(settings.LLMAPIURL) != "" {
			c.LLM.APIURL = settings.LLMAPIURL
		}
		if strings.TrimSpace(settings.LLMAPIKey) != "" {
			c.LLM.APIKey = settings.LLMAPIKey
		}
		if strings.TrimSpace(settings.LLMModel) != "" {
			c.LLM.Model = settings.LLMModel
		}
		if strings.TrimSpace(settings.PruneCron) != "" {
			c.Checkpoint.PruneCron = settings.PruneCron
		}
		if settings.MergeN > 0 {
			c.Engine.MergeN = settings.MergeN
		}
	}
}

func LoadRuntimeSettingsFile(path string) (RuntimeSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuntimeSettings{}, err
	}
	var settings RuntimeSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return RuntimeSettings{}, fmt.Errorf("invalid settings file: %w", err)
	}
	return settings, nil
}

func WriteRuntimeSettingsFile(path string, settings RuntimeSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	content, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	content = append(content, '\n')

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, content, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

type RuntimeSettingsStore struct {
	path string

	mu      sync.RWMutex
	current RuntimeSettings
}

func NewRuntimeSettingsStore(path string, initial RuntimeSettings) (*RuntimeSettingsStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("settings file path is required")
	}
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	return &RuntimeSettingsStore{
		path:    path,
		current: initial,
	}, nil
}

func (s *RuntimeSettingsStore) GetRuntimeSettings() (RuntimeSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, nil
}

// UpdateRuntimeSettings persists next. An empty API key keeps the current
// one, so clients can resubmit a redacted form.
func (s *RuntimeSettingsStore) UpdateRuntimeSettings(next RuntimeSettings) (RuntimeSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(next.LLMAPIKey) == "" || next.LLMAPIKey == s.current.Redacted().LLMAPIKey {
		next.LLMAPIKey = s.current.LLMAPIKey
	}
	if err := next.Validate(); err != nil {
		return RuntimeSettings{}, err
	}
	if err := WriteRuntimeSettingsFile(s.path, next); err != nil {
		return RuntimeSettings{}, err
	}
	s.current = next
	return next, nil
}
