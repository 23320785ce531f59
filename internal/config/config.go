package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	DataDir               string `toml:"data_dir"`
	TempDir               string `toml:"temp_dir"`
	BatchSize             int    `toml:"batch_size"`
	PreprocessThresholdMB int64  `toml:"preprocess_threshold_mb"`
	Timezone              string `toml:"timezone"`
	MaxConcurrentImports  int    `toml:"max_concurrent_imports"`
	ImportWaitTimeout     string `toml:"import_wait_timeout"`

	Log     LogConfig     `toml:"log"`
	Tracing TracingConfig `toml:"tracing"`
	NATS    NATSConfig    `toml:"nats"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // text or json
}

type TracingConfig struct {
	Enabled       bool    `toml:"enabled"`
	Endpoint      string  `toml:"endpoint"`
	Insecure      bool    `toml:"insecure"`
	SamplingRatio float64 `toml:"sampling_ratio"`
}

// NATSConfig enables publishing import progress when URL is set.
type NATSConfig struct {
	URL     string `toml:"url"`
	Subject string `toml:"subject"`
}

// DefaultPath is where Load looks when no path is given.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "chimp", "config.toml"), nil
}

// Load reads the config at path, or the default location when path is
// empty. A missing default file is not an error.
func Load(path string) (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:               filepath.Join(home, ".local", "share", "chimp", "sessions"),
		BatchSize:             5000,
		PreprocessThresholdMB: 64,
		MaxConcurrentImports:  2,
		ImportWaitTimeout:     "30s",
		Log:                   LogConfig{Level: "warn", Format: "text"},
		Tracing:               TracingConfig{Endpoint: "localhost:4317", Insecure: true, SamplingRatio: 1},
		NATS:                  NATSConfig{Subject: "chimp.import"},
	}

	explicit := path != ""
	if !explicit {
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if explicit {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// expand ~ in paths
	cfg.DataDir = expandHome(cfg.DataDir, home)
	cfg.TempDir = expandHome(cfg.TempDir, home)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.MaxConcurrentImports <= 0 {
		return fmt.Errorf("max_concurrent_imports must be positive, got %d", c.MaxConcurrentImports)
	}
	if _, err := c.WaitTimeout(); err != nil {
		return err
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Tracing.SamplingRatio < 0 || c.Tracing.SamplingRatio > 1 {
		return fmt.Errorf("tracing.sampling_ratio must be within [0, 1], got %v", c.Tracing.SamplingRatio)
	}
	return nil
}

// Location resolves Timezone; empty means the local zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone: %w", err)
	}
	return loc, nil
}

func (c *Config) WaitTimeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.ImportWaitTimeout)
	if err != nil {
		return 0, fmt.Errorf("import_wait_timeout: %w", err)
	}
	return d, nil
}

func (c *Config) PreprocessThreshold() int64 {
	return c.PreprocessThresholdMB << 20
}

func expandHome(path, home string) string {
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		return filepath.Join(home, path[2:])
	}
	return path
}
