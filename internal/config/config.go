// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

// Package config loads server configuration from a YAML file and
// command-line flags. Flags override file values; file values override
// flag defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// Default values for server configuration.
const (
	DefaultPluginsDir  = "plugins"
	DefaultDataDir     = "data"
	DefaultWebAddr     = "127.0.0.1:8080"
	DefaultMetricsAddr = "127.0.0.1:9100"
	DefaultHookTimeout = 5 * time.Second
	DefaultLogFormat   = "json"
)

// Config holds the full server configuration.
type Config struct {
	// PluginsDir is the directory scanned for installed plugins.
	PluginsDir string `koanf:"plugins_dir"`
	// DataDir holds persistent host state, including plugins.json.
	DataDir string `koanf:"data_dir"`
	// WebAddr is the plugin web surface listen address.
	WebAddr string `koanf:"web_addr"`
	// MetricsAddr is the metrics/health HTTP address (empty = disabled).
	MetricsAddr string `koanf:"metrics_addr"`
	// HookTimeout bounds each plugin hook and handler call.
	HookTimeout time.Duration `koanf:"hook_timeout"`
	// Repository is the plugin repository base URL (empty = installs disabled).
	Repository string `koanf:"repository"`
	// LogFormat is "json" or "text".
	LogFormat string `koanf:"log_format"`
}

// RegisterFlags declares every config key as a flag with its default.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("plugins-dir", DefaultPluginsDir, "directory scanned for installed plugins")
	flags.String("data-dir", DefaultDataDir, "directory for persistent host state")
	flags.String("web-addr", DefaultWebAddr, "plugin web surface listen address")
	flags.String("metrics-addr", DefaultMetricsAddr, "metrics/health HTTP address (empty = disabled)")
	flags.Duration("hook-timeout", DefaultHookTimeout, "per-call plugin hook time budget")
	flags.String("repository", "", "plugin repository base URL (empty = installs disabled)")
	flags.String("log-format", DefaultLogFormat, "log format (json or text)")
}

// Load builds the configuration from an optional YAML file and the
// given flag set. A missing explicit config file is an error; flags the
// user set override file values.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if configFile != "" {
		if err := k.Load(file.Provider(configFile), yaml.Parser()); err != nil {
			return nil, oops.In("config").With("path", configFile).Hint("failed to read config file").Wrap(err)
		}
	}

	// posflag keeps file values for flags the user did not set. The
	// callback maps "plugins-dir" style flags to "plugins_dir" keys.
	cb := func(f *pflag.Flag) (string, any) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if !f.Changed && k.Exists(key) {
			return "", nil
		}
		return key, posflag.FlagVal(flags, f)
	}
	if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, cb), nil); err != nil {
		return nil, oops.In("config").Wrap(err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, oops.In("config").Wrap(err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (cfg *Config) Validate() error {
	if cfg.PluginsDir == "" {
		return oops.In("config").New("plugins_dir is required")
	}
	if cfg.DataDir == "" {
		return oops.In("config").New("data_dir is required")
	}
	if cfg.HookTimeout <= 0 {
		return oops.In("config").With("hook_timeout", cfg.HookTimeout.String()).New("hook_timeout must be positive")
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return oops.In("config").With("log_format", cfg.LogFormat).New("log_format must be 'json' or 'text'")
	}
	return nil
}

// EnsureDirs creates the plugins and data directories if missing.
func (cfg *Config) EnsureDirs() error {
	for _, dir := range []string{cfg.PluginsDir, cfg.DataDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return oops.In("config").With("dir", dir).Wrap(err)
		}
	}
	return nil
}

// String renders the effective configuration for startup logging.
// The repository URL may carry credentials, so only its presence is shown.
func (cfg *Config) String() string {
	repo := "disabled"
	if cfg.Repository != "" {
		repo = "configured"
	}
	return fmt.Sprintf("plugins_dir=%s data_dir=%s web_addr=%s metrics_addr=%s hook_timeout=%s repository=%s log_format=%s",
		cfg.PluginsDir, cfg.DataDir, cfg.WebAddr, cfg.MetricsAddr, cfg.HookTimeout, repo, cfg.LogFormat)
}
