// Package config provides configuration management for agent-fleet.
// It supports loading configuration from defaults, a config file, environment
// variables, and CLI flags, in that ascending order of precedence.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all configuration sections for agent-fleet.
type Config struct {
	Database      DatabaseConfig      `mapstructure:"database"`
	Runtime       RuntimeConfig       `mapstructure:"runtime"`
	Agent         AgentConfig         `mapstructure:"agent"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// DatabaseConfig holds SQLite store configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// RuntimeConfig holds supervisor/orchestrator lifecycle configuration.
type RuntimeConfig struct {
	Dir               string  `mapstructure:"dir"`
	PollIntervalSecs  float64 `mapstructure:"pollIntervalSeconds"`
	DaemonTimeoutSecs float64 `mapstructure:"daemonTimeoutSeconds"`
	StopTimeoutSecs   float64 `mapstructure:"stopTimeoutSeconds"`
}

// AgentConfig holds the configured subprocess command for the agent runner.
type AgentConfig struct {
	Command []string `mapstructure:"command"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ObservabilityConfig holds optional local-only observability surfaces.
type ObservabilityConfig struct {
	// HTTPAddr, if non-empty, starts a read-only HTTP+WebSocket server
	// alongside the orchestrator loop (e.g. "127.0.0.1:8099").
	HTTPAddr string `mapstructure:"httpAddr"`
	// TracingEndpoint, if non-empty, ships OTLP traces to this collector.
	// Empty keeps tracing entirely in-process.
	TracingEndpoint string `mapstructure:"tracingEndpoint"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "agent_fleet.db")

	v.SetDefault("runtime.dir", "runtime")
	v.SetDefault("runtime.pollIntervalSeconds", 1.0)
	v.SetDefault("runtime.daemonTimeoutSeconds", 5.0)
	v.SetDefault("runtime.stopTimeoutSeconds", 10.0)

	v.SetDefault("agent.command", []string{"codex", "exec", "--json"})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("observability.httpAddr", "")
	v.SetDefault("observability.tracingEndpoint", "")
}

// Load reads configuration from defaults, an optional config file, environment
// variables prefixed AGENTFLEET_, and the --database/--runtime-dir CLI flags,
// which Load binds with BindPFlag.
func Load(configDir string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("AGENTFLEET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("agentfleet")
	v.SetConfigType("yaml")
	if configDir != "" {
		v.AddConfigPath(configDir)
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if flags != nil {
		if f := flags.Lookup("database"); f != nil {
			if err := v.BindPFlag("database.path", f); err != nil {
				return nil, fmt.Errorf("error binding flags: %w", err)
			}
		}
		if f := flags.Lookup("runtime-dir"); f != nil {
			if err := v.BindPFlag("runtime.dir", f); err != nil {
				return nil, fmt.Errorf("error binding flags: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	var errs []string

	if cfg.Database.Path == "" {
		errs = append(errs, "database.path must not be empty")
	}
	if cfg.Runtime.Dir == "" {
		errs = append(errs, "runtime.dir must not be empty")
	}
	if cfg.Runtime.PollIntervalSecs <= 0 {
		errs = append(errs, "runtime.pollIntervalSeconds must be positive")
	}
	if cfg.Runtime.DaemonTimeoutSecs <= 0 {
		errs = append(errs, "runtime.daemonTimeoutSeconds must be positive")
	}
	if cfg.Runtime.StopTimeoutSecs <= 0 {
		errs = append(errs, "runtime.stopTimeoutSeconds must be positive")
	}
	if len(cfg.Agent.Command) == 0 {
		errs = append(errs, "agent.command must not be empty")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "console": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, console, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
