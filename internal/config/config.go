// Package config loads helmlens settings from defaults, a .helmlens.yaml
// file and HELMLENS_* environment variables.
package config

import (
	"fmt"
	"net"
	"path/filepath"
	"time"

	"github.com/oleksiyp/helmlens/pkg/chart"
	"go.uber.org/zap/zapcore"
)

// Config is the complete helmlens configuration
type Config struct {
	// Workspace bounds chart detection; empty means no bound
	Workspace        string        `mapstructure:"workspace"`
	Debounce         time.Duration `mapstructure:"debounce"`
	SelectionsFile   string        `mapstructure:"selections_file"`
	OverridePatterns []string      `mapstructure:"override_patterns"`
	Log              LogConfig     `mapstructure:"log"`
	Daemon           DaemonConfig  `mapstructure:"daemon"`
	Watch            WatchConfig   `mapstructure:"watch"`
}

// LogConfig configures the zap logger
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// DaemonConfig configures the background API server
type DaemonConfig struct {
	PIDFile         string `mapstructure:"pid_file"`
	LogFile         string `mapstructure:"log_file"`
	APIAddr         string `mapstructure:"api_addr"`
	WarningsWebhook string `mapstructure:"warnings_webhook"`
}

// WatchConfig configures file watching
type WatchConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Debounce: 300 * time.Millisecond,
		Log: LogConfig{
			Level:       "info",
			Development: true,
		},
		Daemon: DaemonConfig{
			PIDFile: "/tmp/helmlens.pid",
			LogFile: "/tmp/helmlens.log",
			APIAddr: "127.0.0.1:8765",
		},
		Watch: WatchConfig{
			Enabled: true,
		},
	}
}

// Validate checks the configuration for invalid values
func Validate(cfg *Config) error {
	if cfg.Debounce < 0 {
		return fmt.Errorf("debounce must not be negative: %s", cfg.Debounce)
	}
	if _, err := zapcore.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Log.Level, err)
	}
	if err := chart.ValidatePatterns(cfg.OverridePatterns); err != nil {
		return fmt.Errorf("invalid override pattern: %w", err)
	}
	if cfg.Daemon.APIAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.Daemon.APIAddr); err != nil {
			return fmt.Errorf("invalid daemon address %q: %w", cfg.Daemon.APIAddr, err)
		}
	}
	if cfg.Daemon.PIDFile == "" {
		return fmt.Errorf("daemon pid_file is required")
	}
	return nil
}

// SelectionsPath returns the selections file, defaulting to a file under
// the workspace (or dir when no workspace is set)
func (c *Config) SelectionsPath(dir string) string {
	if c.SelectionsFile != "" {
		return c.SelectionsFile
	}
	base := c.Workspace
	if base == "" {
		base = dir
	}
	return filepath.Join(base, ".helmlens", "selections.yaml")
}
