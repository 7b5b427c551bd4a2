// Package config loads and persists the agent's configuration file at
// ~/.replyforge/config.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk agent configuration.
type Config struct {
	// APIURL is the ReplyForge backend base URL.
	APIURL string `yaml:"api_url"`

	// RedisURL is where job records and their transition channels live.
	RedisURL string `yaml:"redis_url"`

	// RedisPassword is the Redis password (optional).
	RedisPassword string `yaml:"redis_password,omitempty"`

	// BridgeURL is the WebSocket endpoint of the page script.
	BridgeURL string `yaml:"bridge_url"`

	// SystemPrompt overrides the default generation system prompt.
	SystemPrompt string `yaml:"system_prompt,omitempty"`

	// BulkPositiveEnabled gates the positive-only bulk mode.
	BulkPositiveEnabled bool `yaml:"bulk_positive_enabled"`

	// BulkFullEnabled gates the all-reviews bulk mode.
	BulkFullEnabled bool `yaml:"bulk_full_enabled"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		APIURL:              "https://api.replyforge.ai",
		RedisURL:            "redis://localhost:6379",
		BridgeURL:           "ws://127.0.0.1:8787/bridge",
		BulkPositiveEnabled: true,
		BulkFullEnabled:     true,
	}
}

// Dir returns the agent's data directory (~/.replyforge), creating it
// if needed.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	dir := filepath.Join(home, ".replyforge")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create config directory: %w", err)
	}
	return dir, nil
}

// DefaultPath returns the default config file location.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load reads the config at path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.APIURL == "" {
		cfg.APIURL = Default().APIURL
	}
	if cfg.RedisURL == "" {
		cfg.RedisURL = Default().RedisURL
	}
	if cfg.BridgeURL == "" {
		cfg.BridgeURL = Default().BridgeURL
	}
	return cfg, nil
}

// Save writes the config to path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
