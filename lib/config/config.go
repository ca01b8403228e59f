// Copyright 2026 The Widgethost Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
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

// Config is the master configuration for the widget host.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Listen configures the network endpoints.
	Listen ListenConfig `yaml:"listen"`

	// Widgets configures widget rendering and messaging behavior.
	Widgets WidgetsConfig `yaml:"widgets"`

	// IntegrationManagers lists the widget marketplaces the host
	// trusts for tokens and configuration screens.
	IntegrationManagers []ManagerConfig `yaml:"integration_managers"`

	// Logging configures the slog handler.
	Logging LoggingConfig `yaml:"logging"`

	// EnvironmentOverrides contains per-environment overrides.
	// These are applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Listen  *ListenConfig  `yaml:"listen,omitempty"`
	Widgets *WidgetsConfig `yaml:"widgets,omitempty"`
	Logging *LoggingConfig `yaml:"logging,omitempty"`
}

// ListenConfig configures the network endpoints.
type ListenConfig struct {
	// Address is the host:port the widget attach endpoint listens on.
	// Default: 127.0.0.1:8448
	Address string `yaml:"address"`

	// MetricsAddress is the host:port the Prometheus endpoint listens
	// on. Empty disables metrics.
	MetricsAddress string `yaml:"metrics_address"`

	// TLSCert and TLSKey enable TLS when both are set.
	TLSCert string `yaml:"tls_cert"`
	TLSKey  string `yaml:"tls_key"`
}

// WidgetsConfig configures widget rendering and messaging behavior.
type WidgetsConfig struct {
	// BaseURL is the host's own public URL, substituted into widget
	// URL templates and used for the conference wrapper page.
	BaseURL string `yaml:"base_url"`

	// ConferenceDomain is the default conference server for widgets
	// whose data carries no domain.
	ConferenceDomain string `yaml:"conference_domain"`

	// EchoTimeout bounds the wait for a widget add or remove to be
	// reflected by the server, as a Go duration string. Default: 20s.
	EchoTimeout string `yaml:"echo_timeout"`

	// WaitForContentLoaded delays capability negotiation until each
	// widget reports content_loaded.
	WaitForContentLoaded bool `yaml:"wait_for_content_loaded"`
}

// ManagerConfig identifies one integration manager.
type ManagerConfig struct {
	// APIBase is the manager's API root, also used to recognize
	// manager-hosted widget URLs.
	APIBase string `yaml:"api_base"`

	// UIBase is the manager's configuration UI root.
	UIBase string `yaml:"ui_base"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error. Default: info.
	Level string `yaml:"level"`

	// Format is "text" or "json". Default: text (development),
	// json (production).
	Format string `yaml:"format"`
}

// Default returns the default configuration. These defaults are used
// as a base before loading the config file; the config file is still
// required.
func Default() *Config {
	return &Config{
		Environment: Development,
		Listen: ListenConfig{
			Address: "127.0.0.1:8448",
		},
		Widgets: WidgetsConfig{
			ConferenceDomain: "meet.element.io",
			EchoTimeout:      "20s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// EnvConfigPath is the environment variable naming the config file.
const EnvConfigPath = "WIDGETHOST_CONFIG"

// Load loads configuration from the WIDGETHOST_CONFIG environment
// variable. There are no fallbacks - if it is not set, this fails.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvConfigPath)
	if configPath == "" {
		return nil, fmt.Errorf("WIDGETHOST_CONFIG environment variable not set; " +
			"set it to the path of your config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables
// do not override config values. The only expansion performed is
// ${HOME} and similar path variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	return cfg, nil
}

// loadFile loads a single configuration file, merging into the current
// config. JSON and JSONC files are normalized to plain JSON first;
// YAML parses the result either way.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if strings.HasSuffix(path, ".json") || strings.HasSuffix(path, ".jsonc") {
		data = jsonc.ToJSON(data)
	}
	return yaml.Unmarshal(data, c)
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		// Production defaults: structured logs.
		if overrides == nil {
			overrides = &ConfigOverrides{
				Logging: &LoggingConfig{Format: "json"},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Listen != nil {
		if overrides.Listen.Address != "" {
			c.Listen.Address = overrides.Listen.Address
		}
		if overrides.Listen.MetricsAddress != "" {
			c.Listen.MetricsAddress = overrides.Listen.MetricsAddress
		}
		if overrides.Listen.TLSCert != "" {
			c.Listen.TLSCert = overrides.Listen.TLSCert
		}
		if overrides.Listen.TLSKey != "" {
			c.Listen.TLSKey = overrides.Listen.TLSKey
		}
	}

	if overrides.Widgets != nil {
		if overrides.Widgets.BaseURL != "" {
			c.Widgets.BaseURL = overrides.Widgets.BaseURL
		}
		if overrides.Widgets.ConferenceDomain != "" {
			c.Widgets.ConferenceDomain = overrides.Widgets.ConferenceDomain
		}
		if overrides.Widgets.EchoTimeout != "" {
			c.Widgets.EchoTimeout = overrides.Widgets.EchoTimeout
		}
		// WaitForContentLoaded is a bool, so it always applies.
		c.Widgets.WaitForContentLoaded = overrides.Widgets.WaitForContentLoaded
	}

	if overrides.Logging != nil {
		if overrides.Logging.Level != "" {
			c.Logging.Level = overrides.Logging.Level
		}
		if overrides.Logging.Format != "" {
			c.Logging.Format = overrides.Logging.Format
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in path
// fields.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Listen.TLSCert = expandVars(c.Listen.TLSCert, vars)
	c.Listen.TLSKey = expandVars(c.Listen.TLSKey, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

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

	if c.Listen.Address == "" {
		errs = append(errs, fmt.Errorf("listen.address is required"))
	}
	if (c.Listen.TLSCert == "") != (c.Listen.TLSKey == "") {
		errs = append(errs, fmt.Errorf("listen.tls_cert and listen.tls_key must be set together"))
	}

	if c.Widgets.BaseURL == "" {
		errs = append(errs, fmt.Errorf("widgets.base_url is required"))
	}
	if d, err := time.ParseDuration(c.Widgets.EchoTimeout); err != nil || d <= 0 {
		errs = append(errs, fmt.Errorf("widgets.echo_timeout must be a positive duration"))
	}

	levels := []string{"debug", "info", "warn", "error"}
	if !contains(levels, c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level must be one of: %v", levels))
	}
	formats := []string{"text", "json"}
	if !contains(formats, c.Logging.Format) {
		errs = append(errs, fmt.Errorf("logging.format must be one of: %v", formats))
	}

	for i, manager := range c.IntegrationManagers {
		if manager.APIBase == "" {
			errs = append(errs, fmt.Errorf("integration_managers[%d].api_base is required", i))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EchoTimeoutDuration parses Widgets.EchoTimeout, falling back to the
// default when unset or unparsable.
func (c *Config) EchoTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Widgets.EchoTimeout)
	if err != nil || d <= 0 {
		return 20 * time.Second
	}
	return d
}

// ManagerBases returns the API base URLs of all configured managers.
func (c *Config) ManagerBases() []string {
	bases := make([]string, 0, len(c.IntegrationManagers))
	for _, manager := range c.IntegrationManagers {
		bases = append(bases, manager.APIBase)
	}
	return bases
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
