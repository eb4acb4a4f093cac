// Package config loads sedock's settings from ~/.sedock/config.yaml and
// SEDOCK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// GlobalConfig holds every tunable. Command-line flags take precedence.
type GlobalConfig struct {
	Docker  DockerConfig  `yaml:"docker"`
	Monitor MonitorConfig `yaml:"monitor"`
	Check   CheckConfig   `yaml:"check"`
	Debug   DebugConfig   `yaml:"debug"`
}

// DockerConfig selects the daemon endpoint.
type DockerConfig struct {
	// Host overrides DOCKER_HOST when set.
	Host string `yaml:"host"`
}

// MonitorConfig tunes the event pipeline.
type MonitorConfig struct {
	Workers        int           `yaml:"workers"`
	QueueSize      int           `yaml:"queue_size"`
	EnqueueTimeout time.Duration `yaml:"enqueue_timeout"`
	DrainTimeout   time.Duration `yaml:"drain_timeout"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	Events         string        `yaml:"events"`
	Format         string        `yaml:"format"`
}

// CheckConfig tunes container collection.
type CheckConfig struct {
	Concurrency int    `yaml:"concurrency"`
	Format      string `yaml:"format"`
	// LogLines is the output tail shown by verbose checks.
	LogLines int `yaml:"log_lines"`
}

// DebugConfig controls the JSONL debug log.
type DebugConfig struct {
	// Dir defaults to ~/.sedock/debug. "off" disables the file.
	Dir           string `yaml:"dir"`
	RetentionDays int    `yaml:"retention_days"`
}

// DefaultGlobalConfig returns the built-in settings.
func DefaultGlobalConfig() *GlobalConfig {
	return &GlobalConfig{
		Monitor: MonitorConfig{
			Workers:        1,
			QueueSize:      1024,
			EnqueueTimeout: 50 * time.Millisecond,
			DrainTimeout:   2 * time.Second,
			CacheTTL:       5 * time.Second,
			Events:         "open,write,close",
			Format:         "table",
		},
		Check: CheckConfig{
			Concurrency: 4,
			Format:      "table",
			LogLines:    20,
		},
		Debug: DebugConfig{
			Dir:           filepath.Join(GlobalConfigDir(), "debug"),
			RetentionDays: 14,
		},
	}
}

// LoadGlobal reads path, or ~/.sedock/config.yaml when path is empty, and
// applies environment overrides. A missing default file is not an error;
// a missing explicit file is.
func LoadGlobal(path string) (*GlobalConfig, error) {
	cfg := DefaultGlobalConfig()

	explicit := path != ""
	if !explicit {
		path = filepath.Join(GlobalConfigDir(), "config.yaml")
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func applyEnv(cfg *GlobalConfig) error {
	if v := os.Getenv("SEDOCK_DOCKER_HOST"); v != "" {
		cfg.Docker.Host = v
	}
	if v := os.Getenv("SEDOCK_DEBUG_DIR"); v != "" {
		cfg.Debug.Dir = v
	}
	ints := []struct {
		env string
		dst *int
	}{
		{"SEDOCK_MONITOR_WORKERS", &cfg.Monitor.Workers},
		{"SEDOCK_MONITOR_QUEUE_SIZE", &cfg.Monitor.QueueSize},
		{"SEDOCK_CHECK_CONCURRENCY", &cfg.Check.Concurrency},
		{"SEDOCK_CHECK_LOG_LINES", &cfg.Check.LogLines},
		{"SEDOCK_DEBUG_RETENTION_DAYS", &cfg.Debug.RetentionDays},
	}
	for _, o := range ints {
		v := os.Getenv(o.env)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", o.env, err)
		}
		*o.dst = n
	}
	return nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *GlobalConfig) Validate() error {
	switch {
	case c.Monitor.Workers < 1:
		return fmt.Errorf("monitor.workers must be at least 1, got %d", c.Monitor.Workers)
	case c.Monitor.QueueSize < 1:
		return fmt.Errorf("monitor.queue_size must be at least 1, got %d", c.Monitor.QueueSize)
	case c.Monitor.EnqueueTimeout < 0, c.Monitor.DrainTimeout < 0, c.Monitor.CacheTTL < 0:
		return errors.New("monitor timeouts must not be negative")
	case c.Check.Concurrency < 1:
		return fmt.Errorf("check.concurrency must be at least 1, got %d", c.Check.Concurrency)
	case c.Check.LogLines < 1:
		return fmt.Errorf("check.log_lines must be at least 1, got %d", c.Check.LogLines)
	case c.Debug.RetentionDays < 0:
		return fmt.Errorf("debug.retention_days must not be negative, got %d", c.Debug.RetentionDays)
	}
	return nil
}

// DebugDir returns the debug log directory, or "" when disabled.
func (c *GlobalConfig) DebugDir() string {
	if c.Debug.Dir == "off" {
		return ""
	}
	return c.Debug.Dir
}

// GlobalConfigDir returns ~/.sedock, or SEDOCK_HOME when set.
func GlobalConfigDir() string {
	if dir := os.Getenv("SEDOCK_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sedock"
	}
	return filepath.Join(home, ".sedock")
}
