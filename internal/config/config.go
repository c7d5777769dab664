package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/hochfrequenz/simgrid/internal/domain"
)

// Config holds all application configuration
type Config struct {
	Run           RunConfig           `toml:"run"`
	Output        OutputConfig        `toml:"output"`
	Log           LogConfig           `toml:"log"`
	Notifications NotificationsConfig `toml:"notifications"`
}

// RunConfig holds execution settings
type RunConfig struct {
	Replications    int    `toml:"replications"`
	PoolSize        int    `toml:"pool_size"`
	Seed            int64  `toml:"seed"`
	ExclusionPolicy string `toml:"exclusion_policy"`
	MaxErrors       int    `toml:"max_errors"`
	// TaskTimeout is a Go duration string such as "90s"; empty disables it
	TaskTimeout string `toml:"task_timeout"`
}

// OutputConfig holds persistence settings
type OutputConfig struct {
	SavePath      string `toml:"save_path"`
	DatabasePath  string `toml:"database_path"`
	FlushSchedule string `toml:"flush_schedule"`
	Resume        bool   `toml:"resume"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Run: RunConfig{
			Replications:    1,
			PoolSize:        runtime.NumCPU(),
			ExclusionPolicy: string(domain.ExcludeOnError),
		},
		Output: OutputConfig{
			DatabasePath:  filepath.Join(home, ".simgrid", "simgrid.db"),
			FlushSchedule: "@every 30s",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "logfmt",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, &domain.ConfigurationError{Field: "config", Reason: path, Err: err}
	}

	cfg.Output.SavePath = ExpandPath(cfg.Output.SavePath)
	cfg.Output.DatabasePath = ExpandPath(cfg.Output.DatabasePath)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that cannot be enforced by the TOML schema
func (c *Config) Validate() error {
	if c.Run.Replications < 0 {
		return domain.Configf("run.replications", "must not be negative, got %d", c.Run.Replications)
	}
	if c.Run.PoolSize < 1 {
		return domain.Configf("run.pool_size", "must be at least 1, got %d", c.Run.PoolSize)
	}
	if c.Run.MaxErrors < 0 {
		return domain.Configf("run.max_errors", "must not be negative, got %d", c.Run.MaxErrors)
	}
	if !domain.ExclusionPolicy(c.Run.ExclusionPolicy).Valid() {
		return domain.Configf("run.exclusion_policy", "unknown policy %q", c.Run.ExclusionPolicy)
	}
	if _, err := c.Run.Timeout(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "", "logfmt", "json":
	default:
		return domain.Configf("log.format", "unknown format %q", c.Log.Format)
	}
	return nil
}

// Timeout parses TaskTimeout
func (r RunConfig) Timeout() (time.Duration, error) {
	if r.TaskTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(r.TaskTimeout)
	if err != nil || d < 0 {
		return 0, domain.Configf("run.task_timeout", "invalid duration %q", r.TaskTimeout)
	}
	return d, nil
}

// Policy returns the exclusion policy
func (r RunConfig) Policy() domain.ExclusionPolicy {
	return domain.ExclusionPolicy(r.ExclusionPolicy)
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "simgrid", "config.toml")
}

// Write stores the configuration as TOML
func (c *Config) Write(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
