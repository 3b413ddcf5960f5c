// Copyright 2026 The Terragon Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration for the orchestrator.
type Config struct {
	// Environment identifies the deployment type (development,
	// staging, production).
	Environment Environment `yaml:"environment"`

	// Server configures the HTTP service.
	Server ServerConfig `yaml:"server"`

	// Sandbox configures provider selection and readiness waiting.
	Sandbox SandboxConfig `yaml:"sandbox"`

	// Daemon configures the payloads installed into sandboxes.
	Daemon DaemonConfig `yaml:"daemon"`

	// GitHub configures the GitHub API client.
	GitHub GitHubConfig `yaml:"github"`

	// Per-environment overrides, applied after the base config is
	// loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per
// environment.
type ConfigOverrides struct {
	Server  *ServerConfig  `yaml:"server,omitempty"`
	Sandbox *SandboxConfig `yaml:"sandbox,omitempty"`
	Daemon  *DaemonConfig  `yaml:"daemon,omitempty"`
	GitHub  *GitHubConfig  `yaml:"github,omitempty"`
}

// ServerConfig configures the HTTP service.
type ServerConfig struct {
	// Listen is the address the HTTP server binds.
	// Default: 127.0.0.1:8480
	Listen string `yaml:"listen"`

	// PublicURL is the externally reachable base URL handed to
	// daemons as their callback target.
	PublicURL string `yaml:"public_url"`

	// ShutdownTimeout bounds graceful drain on exit.
	// Default: 10s
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// SandboxConfig configures provider selection and readiness waiting.
type SandboxConfig struct {
	// DefaultProvider is used when the user has no provider
	// preference. Default: memory
	DefaultProvider string `yaml:"default_provider"`

	// DefaultSize is the capacity class used when a request does not
	// specify one. Values: "small", "medium", "large".
	// Default: medium
	DefaultSize string `yaml:"default_size"`

	// ReadyTimeout bounds the wait for a fresh sandbox to accept
	// commands. Default: 2m
	ReadyTimeout string `yaml:"ready_timeout"`

	// ReadyPollInterval is the delay between readiness probes.
	// Default: 2s
	ReadyPollInterval string `yaml:"ready_poll_interval"`
}

// DaemonConfig configures the payloads installed into sandboxes.
type DaemonConfig struct {
	// DaemonBinary is the local path of the daemon executable to
	// install.
	DaemonBinary string `yaml:"daemon_binary"`

	// BridgeBinary is the local path of the MCP bridge executable to
	// install.
	BridgeBinary string `yaml:"bridge_binary"`
}

// GitHubConfig configures the GitHub API client.
type GitHubConfig struct {
	// BaseURL overrides the API root, for GitHub Enterprise.
	// Default: https://api.github.com
	BaseURL string `yaml:"base_url"`
}

// Default returns the default configuration. These defaults ensure all
// fields have sensible zero-values before the config file is loaded;
// the config file itself is required.
func Default() *Config {
	return &Config{
		Environment: Development,
		Server: ServerConfig{
			Listen:          "127.0.0.1:8480",
			ShutdownTimeout: "10s",
		},
		Sandbox: SandboxConfig{
			DefaultProvider:   "memory",
			DefaultSize:       "medium",
			ReadyTimeout:      "2m",
			ReadyPollInterval: "2s",
		},
		GitHub: GitHubConfig{
			BaseURL: "https://api.github.com",
		},
	}
}

// Load loads configuration from the TERRAGON_CONFIG environment
// variable.
//
// This is the only way to load configuration without an explicit path.
// There are no fallbacks or discovery: if TERRAGON_CONFIG is not set,
// this fails. Deterministic, auditable configuration with no hidden
// overrides.
func Load() (*Config, error) {
	configPath := os.Getenv("TERRAGON_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("TERRAGON_CONFIG environment variable not set; " +
			"set it to the path of your orchestrator.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables
// do not override config values; the only expansion performed is
// ${HOME} and similar path variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

// applyEnvironmentOverrides applies the environment-specific override
// section matching the configured environment.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}

	if overrides.Server != nil {
		if overrides.Server.Listen != "" {
			c.Server.Listen = overrides.Server.Listen
		}
		if overrides.Server.PublicURL != "" {
			c.Server.PublicURL = overrides.Server.PublicURL
		}
		if overrides.Server.ShutdownTimeout != "" {
			c.Server.ShutdownTimeout = overrides.Server.ShutdownTimeout
		}
	}

	if overrides.Sandbox != nil {
		if overrides.Sandbox.DefaultProvider != "" {
			c.Sandbox.DefaultProvider = overrides.Sandbox.DefaultProvider
		}
		if overrides.Sandbox.DefaultSize != "" {
			c.Sandbox.DefaultSize = overrides.Sandbox.DefaultSize
		}
		if overrides.Sandbox.ReadyTimeout != "" {
			c.Sandbox.ReadyTimeout = overrides.Sandbox.ReadyTimeout
		}
		if overrides.Sandbox.ReadyPollInterval != "" {
			c.Sandbox.ReadyPollInterval = overrides.Sandbox.ReadyPollInterval
		}
	}

	if overrides.Daemon != nil {
		if overrides.Daemon.DaemonBinary != "" {
			c.Daemon.DaemonBinary = overrides.Daemon.DaemonBinary
		}
		if overrides.Daemon.BridgeBinary != "" {
			c.Daemon.BridgeBinary = overrides.Daemon.BridgeBinary
		}
	}

	if overrides.GitHub != nil {
		if overrides.GitHub.BaseURL != "" {
			c.GitHub.BaseURL = overrides.GitHub.BaseURL
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in path
// fields.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Daemon.DaemonBinary = expandVars(c.Daemon.DaemonBinary, vars)
	c.Daemon.BridgeBinary = expandVars(c.Daemon.BridgeBinary, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}
	if c.Server.Listen == "" {
		errs = append(errs, fmt.Errorf("server.listen is required"))
	}
	if _, err := time.ParseDuration(c.Server.ShutdownTimeout); err != nil {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout: %w", err))
	}
	if c.Sandbox.DefaultProvider == "" {
		errs = append(errs, fmt.Errorf("sandbox.default_provider is required"))
	}
	switch c.Sandbox.DefaultSize {
	case "small", "medium", "large":
	default:
		errs = append(errs, fmt.Errorf("sandbox.default_size must be one of: small, medium, large"))
	}
	if _, err := time.ParseDuration(c.Sandbox.ReadyTimeout); err != nil {
		errs = append(errs, fmt.Errorf("sandbox.ready_timeout: %w", err))
	}
	if _, err := time.ParseDuration(c.Sandbox.ReadyPollInterval); err != nil {
		errs = append(errs, fmt.Errorf("sandbox.ready_poll_interval: %w", err))
	}
	if c.Daemon.DaemonBinary == "" {
		errs = append(errs, fmt.Errorf("daemon.daemon_binary is required"))
	}
	if c.Daemon.BridgeBinary == "" {
		errs = append(errs, fmt.Errorf("daemon.bridge_binary is required"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ShutdownTimeout returns the parsed graceful-drain bound. Call
// Validate first; invalid values fall back to 10 seconds.
func (c *Config) ShutdownTimeout() time.Duration {
	return parseDurationOr(c.Server.ShutdownTimeout, 10*time.Second)
}

// ReadyTimeout returns the parsed readiness-wait bound. Call Validate
// first; invalid values fall back to 2 minutes.
func (c *Config) ReadyTimeout() time.Duration {
	return parseDurationOr(c.Sandbox.ReadyTimeout, 2*time.Minute)
}

// ReadyPollInterval returns the parsed probe interval. Call Validate
// first; invalid values fall back to 2 seconds.
func (c *Config) ReadyPollInterval() time.Duration {
	return parseDurationOr(c.Sandbox.ReadyPollInterval, 2*time.Second)
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
