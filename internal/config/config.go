// Package config holds server configuration and its YAML loader.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds configuration for the genq server.
type ServerConfig struct {
	Addr      string `yaml:"addr"`       // Listen address (default ":8080")
	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // text, json

	// HistoryPath is the SQLite database recording settled generations
	// (default ~/.genq/history.db, ":memory:" for testing).
	HistoryPath string `yaml:"history_path"`

	// Model is the default generation model when a request names none.
	Model string `yaml:"model"`

	// OllamaHost overrides the Ollama server URL (default from
	// OLLAMA_HOST or http://127.0.0.1:11434).
	OllamaHost string `yaml:"ollama_host"`

	// BudgetTokens is a static output-token allowance reported to the
	// engine. 0 means unlimited.
	BudgetTokens int `yaml:"budget_tokens"`

	// PollIntervalSeconds is the allowance re-check cadence while a
	// task waits for budget. 0 uses the engine default.
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:      ":8080",
		LogLevel:  "info",
		LogFormat: "text",
		Model:     "llama3.2",
	}
}

// Load reads a YAML config file over the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
