// Package config handles configuration loading for cascade. It supports
// XDG config paths, a project-level cascade.yaml, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cascadehq/cascade/internal/rollup"
)

// Config holds all configuration for a cascade run.
type Config struct {
	PlanFile     string         `mapstructure:"plan_file"`
	StateFile    string         `mapstructure:"state_file"`
	LogsDir      string         `mapstructure:"logs_dir"`
	MaxWorkers   int            `mapstructure:"max_workers"`
	PollInterval time.Duration  `mapstructure:"poll_interval"`
	Worker       WorkerConfig   `mapstructure:"worker"`
	Tracker      TrackerConfig  `mapstructure:"tracker"`
	Pricing      rollup.Pricing `mapstructure:"pricing"`
}

// WorkerConfig holds the agent subprocess command line.
type WorkerConfig struct {
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
}

// TrackerConfig holds the issue tracker CLI settings.
type TrackerConfig struct {
	Command string `mapstructure:"command"`
}

// Load loads configuration with the following precedence (highest first):
// environment variables (CASCADE_*), an explicit config file if path is
// non-empty, cascade.yaml in the current directory, the user config at
// ~/.config/cascade/config.yaml, then built-in defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config from %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(userConfigDir())
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading user config: %w", err)
			}
		}

		if projectPath := findProjectConfig(); projectPath != "" {
			pv := viper.New()
			pv.SetConfigFile(projectPath)
			if err := pv.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("reading %s: %w", projectPath, err)
			}
			if err := v.MergeConfigMap(pv.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("CASCADE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config with built-in defaults and no file or
// environment overrides applied.
func Default() *Config {
	return &Config{
		PlanFile:     "CASCADE.md",
		StateFile:    "cascade_state.json",
		LogsDir:      "logs",
		MaxWorkers:   3,
		PollInterval: 2 * time.Second,
		Worker: WorkerConfig{
			Command: "claude",
			Args: []string{
				"--model", "sonnet",
				"--dangerously-skip-permissions",
				"--print",
				"--output-format", "json",
			},
		},
		Tracker: TrackerConfig{
			Command: "bd",
		},
		Pricing: rollup.DefaultPricing(),
	}
}

func (c *Config) validate() error {
	if c.MaxWorkers < 1 {
		return fmt.Errorf("max_workers must be at least 1, got %d", c.MaxWorkers)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.Worker.Command == "" {
		return fmt.Errorf("worker.command must not be empty")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	def := Default()

	v.SetDefault("plan_file", def.PlanFile)
	v.SetDefault("state_file", def.StateFile)
	v.SetDefault("logs_dir", def.LogsDir)
	v.SetDefault("max_workers", def.MaxWorkers)
	v.SetDefault("poll_interval", def.PollInterval.String())
	v.SetDefault("worker.command", def.Worker.Command)
	v.SetDefault("worker.args", def.Worker.Args)
	v.SetDefault("tracker.command", def.Tracker.Command)
	v.SetDefault("pricing.input", def.Pricing.InputPerMTok)
	v.SetDefault("pricing.output", def.Pricing.OutputPerMTok)
	v.SetDefault("pricing.cache_read", def.Pricing.CacheReadPerMTok)
	v.SetDefault("pricing.cache_creation", def.Pricing.CacheCreationPerMTok)
}

// userConfigDir returns the XDG config directory for cascade.
func userConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "cascade")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "cascade")
	}
	return filepath.Join(home, ".config", "cascade")
}

// findProjectConfig looks for cascade.yaml in the current directory.
func findProjectConfig() string {
	path := "cascade.yaml"
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}
