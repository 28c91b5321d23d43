package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader loads configuration for a directory
type Loader struct {
	rootDir string
	file    string
}

// NewLoader creates a loader searching rootDir, then $HOME, for .helmlens.yaml
func NewLoader(rootDir string) *Loader {
	return &Loader{rootDir: rootDir}
}

// WithFile makes the loader read exactly file instead of searching
func (l *Loader) WithFile(file string) *Loader {
	l.file = file
	return l
}

// Load loads configuration with the following priority (highest to lowest):
// 1. Environment variables (HELMLENS_*)
// 2. Config file (.helmlens.yaml)
// 3. Default values
func (l *Loader) Load() (*Config, error) {
	v := viper.New()

	if l.file != "" {
		v.SetConfigFile(l.file)
	} else {
		v.SetConfigName(".helmlens")
		v.SetConfigType("yaml")
		v.AddConfigPath(l.rootDir)
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	// HELMLENS_LOG_LEVEL -> log.level
	v.SetEnvPrefix("HELMLENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || l.file != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Workspace != "" {
		abs, err := filepath.Abs(cfg.Workspace)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve workspace: %w", err)
		}
		cfg.Workspace = abs
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can bind it on Unmarshal
func setDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("workspace", defaults.Workspace)
	v.SetDefault("debounce", defaults.Debounce)
	v.SetDefault("selections_file", defaults.SelectionsFile)
	v.SetDefault("override_patterns", defaults.OverridePatterns)

	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("log.development", defaults.Log.Development)

	v.SetDefault("daemon.pid_file", defaults.Daemon.PIDFile)
	v.SetDefault("daemon.log_file", defaults.Daemon.LogFile)
	v.SetDefault("daemon.api_addr", defaults.Daemon.APIAddr)
	v.SetDefault("daemon.warnings_webhook", defaults.Daemon.WarningsWebhook)

	v.SetDefault("watch.enabled", defaults.Watch.Enabled)
}

// LoadConfig loads configuration for the current working directory
func LoadConfig() (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	return NewLoader(wd).Load()
}
