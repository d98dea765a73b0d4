// Package config loads host configuration for the engine, the console
// sink, and the plugin loader.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dshills/flowrun-go/flow"
	"github.com/dshills/flowrun-go/flow/execlog"
)

// Config is the recognized runtime configuration.
//
// File keys (YAML/JSON/TOML, auto-detected) and their environment
// overrides (FLOWRUN_ prefix, dots become underscores):
//
//	execution.defaultTimeout  ms, default 30000
//	execution.maxParallel     int, default 10 (advisory)
//	execution.retryAttempts   int, default 3 (advisory)
//	execution.retryDelay      ms, default 1000 (advisory)
//	execution.logLevel        TRACE|DEBUG|INFO|WARN|ERROR, default INFO
//	plugins.directory         path, default "plugins"
//	plugins.enabled           bool, default false
type Config struct {
	Execution ExecutionConfig `mapstructure:"execution"`
	Plugins   PluginConfig    `mapstructure:"plugins"`
}

// ExecutionConfig holds the engine's execution parameters.
type ExecutionConfig struct {
	DefaultTimeout int    `mapstructure:"defaultTimeout"`
	MaxParallel    int    `mapstructure:"maxParallel"`
	RetryAttempts  int    `mapstructure:"retryAttempts"`
	RetryDelay     int    `mapstructure:"retryDelay"`
	LogLevel       string `mapstructure:"logLevel"`
}

// PluginConfig holds the plugin loader settings.
type PluginConfig struct {
	Directory string `mapstructure:"directory"`
	Enabled   bool   `mapstructure:"enabled"`
}

// Load reads configuration from the given file path (empty means
// defaults plus environment only) and applies environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("execution.defaultTimeout", 30000)
	v.SetDefault("execution.maxParallel", 10)
	v.SetDefault("execution.retryAttempts", 3)
	v.SetDefault("execution.retryDelay", 1000)
	v.SetDefault("execution.logLevel", "INFO")
	v.SetDefault("plugins.directory", "plugins")
	v.SetDefault("plugins.enabled", false)

	v.SetEnvPrefix("FLOWRUN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// EngineOptions converts the execution section to engine options.
func (c *Config) EngineOptions() []flow.Option {
	return []flow.Option{
		flow.WithDefaultTimeout(time.Duration(c.Execution.DefaultTimeout) * time.Millisecond),
		flow.WithMaxParallel(c.Execution.MaxParallel),
		flow.WithRetryAttempts(c.Execution.RetryAttempts),
		flow.WithRetryDelay(time.Duration(c.Execution.RetryDelay) * time.Millisecond),
	}
}

// LogLevel returns the configured minimum level for the console sink.
func (c *Config) LogLevel() execlog.Level {
	return execlog.ParseLevel(c.Execution.LogLevel)
}
