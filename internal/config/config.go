// Package config loads phishbeads settings from .phishbeads/config.yaml
// with environment overrides.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the config file name inside the data directory.
const FileName = "config.yaml"

// Environment overrides.
const (
	EnvNodeURL   = "PHISHBEADS_NODE_URL"
	EnvContact   = "PHISHBEADS_CONTACT"
	EnvRedisAddr = "PHISHBEADS_REDIS_ADDR"
	EnvLogLevel  = "PHISHBEADS_LOG_LEVEL"
)

// Config is the full configuration.
type Config struct {
	Node    NodeConfig    `yaml:"node"`
	Reports ReportsConfig `yaml:"reports"`
	Sync    SyncConfig    `yaml:"sync"`
	Test    TestConfig    `yaml:"test"`
	Scan    ScanConfig    `yaml:"scan"`
	Guard   GuardConfig   `yaml:"guard"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// NodeConfig locates the back-end node.
type NodeConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
	Retries int           `yaml:"retries"`
}

// ReportsConfig controls incident reporting.
type ReportsConfig struct {
	Contact string `yaml:"contact"`
	// Interval between automatic reports in minutes; 0 disables them.
	Interval    int `yaml:"interval"`
	Concurrency int `yaml:"concurrency"`
}

// SyncConfig controls indicator synchronisation.
type SyncConfig struct {
	// Interval between automatic syncs in minutes; 0 disables them.
	Interval int `yaml:"interval"`
	// FullInterval between automatic full refreshes in minutes, which
	// prune withdrawn indicators; 0 disables them.
	FullInterval int     `yaml:"full_interval"`
	Filter       bool    `yaml:"filter"`
	FPRate       float64 `yaml:"fp_rate"`
}

// TestConfig enables demo detections.
type TestConfig struct {
	Enabled bool `yaml:"enabled"`
	Report  bool `yaml:"report"`
	// Rate is the percentage of clean emails flagged in demo mode.
	Rate int `yaml:"rate"`
}

// ScanConfig tunes folder scans.
type ScanConfig struct {
	Delay time.Duration `yaml:"delay"`
}

// GuardConfig selects the operation guard. An empty RedisAddr keeps claims
// in the database.
type GuardConfig struct {
	RedisAddr string        `yaml:"redis_addr"`
	TTL       time.Duration `yaml:"ttl"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig configures the metrics endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Node:    NodeConfig{URL: "https://demo.phishdetect.io", Timeout: 30 * time.Second, Retries: 3},
		Reports: ReportsConfig{Interval: 60, Concurrency: 4},
		Sync:    SyncConfig{Interval: 60, FullInterval: 24 * 60, Filter: true, FPRate: 0.001},
		Test:    TestConfig{Rate: 10},
		Scan:    ScanConfig{Delay: 50 * time.Millisecond},
		Guard:   GuardConfig{TTL: 10 * time.Minute},
		Log:     LogConfig{Level: "info", Format: "console"},
	}
}

// Load reads path over the defaults and applies environment overrides.
// An empty path or a missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvNodeURL); v != "" {
		c.Node.URL = v
	}
	if v := os.Getenv(EnvContact); v != "" {
		c.Reports.Contact = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		c.Guard.RedisAddr = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Node.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("node.url %q: must be an http(s) URL", c.Node.URL)
	}
	if c.Node.Retries < 0 {
		return fmt.Errorf("node.retries must not be negative")
	}
	if c.Reports.Interval < 0 || c.Sync.Interval < 0 || c.Sync.FullInterval < 0 {
		return fmt.Errorf("intervals must not be negative")
	}
	if c.Sync.FPRate <= 0 || c.Sync.FPRate >= 1 {
		return fmt.Errorf("sync.fp_rate %s: must be in (0,1)", strconv.FormatFloat(c.Sync.FPRate, 'g', -1, 64))
	}
	if c.Test.Rate < 0 || c.Test.Rate > 100 {
		return fmt.Errorf("test.rate %d: must be a percentage", c.Test.Rate)
	}
	if c.Scan.Delay < 0 {
		return fmt.Errorf("scan.delay must not be negative")
	}
	if c.Guard.TTL <= 0 {
		return fmt.Errorf("guard.ttl must be positive")
	}
	return nil
}

// Write stores cfg at path.
func Write(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
