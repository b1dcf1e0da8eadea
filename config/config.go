// Package config loads selmend configuration from a YAML file and applies
// engine defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level selmend configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Browser   BrowserConfig   `yaml:"browser"`
	Engine    EngineConfig    `yaml:"engine"`
	Retention RetentionConfig `yaml:"retention"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// StorageConfig controls the SQLite database.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// BrowserConfig controls the Chrome session used for live validation.
type BrowserConfig struct {
	// Enabled turns on live validation. Off, healing requires callers to
	// supply an HTML snapshot.
	Enabled bool `yaml:"enabled"`
	// Remote is the WebSocket URL of an external Chrome instance. Empty
	// means launch a local headless Chrome.
	Remote          string        `yaml:"remote"`
	NavigateTimeout time.Duration `yaml:"navigate_timeout"`
}

// EngineConfig tunes healing and candidate generation.
type EngineConfig struct {
	MinConfidence         float64 `yaml:"min_confidence"`
	MaxAttempts           int     `yaml:"max_attempts"`
	MaxSelectorLength     int     `yaml:"max_selector_length"`
	DataAttributes        *bool   `yaml:"data_attributes"`
	AvoidIndexedSelectors *bool   `yaml:"avoid_indexed_selectors"`
	// Calibration enables score calibration from observed outcomes.
	Calibration bool `yaml:"calibration"`
}

// RetentionConfig controls healing event cleanup.
type RetentionConfig struct {
	EventsDays int           `yaml:"events_days"`
	Interval   time.Duration `yaml:"interval"`
	Vacuum     bool          `yaml:"vacuum"`
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.ApplyDefaults()
	return &cfg
}

// ApplyDefaults fills zero-valued fields with engine defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "selmend.db"
	}
	if c.Browser.NavigateTimeout <= 0 {
		c.Browser.NavigateTimeout = 30 * time.Second
	}
	if c.Engine.MinConfidence <= 0 {
		c.Engine.MinConfidence = 0.5
	}
	if c.Engine.MaxAttempts <= 0 {
		c.Engine.MaxAttempts = 5
	}
	if c.Engine.MaxSelectorLength <= 0 {
		c.Engine.MaxSelectorLength = 150
	}
	if c.Engine.DataAttributes == nil {
		t := true
		c.Engine.DataAttributes = &t
	}
	if c.Engine.AvoidIndexedSelectors == nil {
		t := true
		c.Engine.AvoidIndexedSelectors = &t
	}
	if c.Retention.Interval <= 0 {
		c.Retention.Interval = 24 * time.Hour
	}
}
