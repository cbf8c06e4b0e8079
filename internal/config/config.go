// Package config reads and writes the global ~/.syncbox/config.toml.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Defaults applied by Load when a field is absent from the file.
const (
	DefaultDebounceSeconds    = 5
	DefaultMediaRetentionDays = 30
)

// Config represents the global configuration file.
type Config struct {
	DefaultProfile     string `toml:"default_profile"`
	DebounceSeconds    int    `toml:"debounce_seconds"`
	MediaRetentionDays int    `toml:"media_retention_days"`
	MediaDir           string `toml:"media_dir"`
}

// Default returns a config populated with default values.
func Default() *Config {
	return &Config{
		DebounceSeconds:    DefaultDebounceSeconds,
		MediaRetentionDays: DefaultMediaRetentionDays,
	}
}

// Load reads config from the given path, filling unset fields with defaults.
// Returns nil and an error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	if cfg.DebounceSeconds <= 0 {
		cfg.DebounceSeconds = DefaultDebounceSeconds
	}
	if cfg.MediaRetentionDays <= 0 {
		cfg.MediaRetentionDays = DefaultMediaRetentionDays
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
