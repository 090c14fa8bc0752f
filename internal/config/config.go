// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flipkit Contributors

// Package config loads flipkit settings from a YAML file and command flags.
// Flags set on the command line win over the file, which wins over the
// flag defaults.
package config

import (
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/flipkit/flipkit/internal/logging"
)

// Default values.
const (
	DefaultLogFormat   = "text"
	DefaultLogLevel    = "info"
	DefaultMetricsAddr = "127.0.0.1:9100"
	DefaultPluginsDir  = "plugins"
)

// Config holds flipkit settings.
type Config struct {
	Log         LogConfig     `koanf:"log"`
	Metrics     MetricsConfig `koanf:"metrics"`
	Plugins     PluginsConfig `koanf:"plugins"`
	Gatekeepers []string      `koanf:"gatekeepers"`
}

// LogConfig configures logging.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// MetricsConfig configures the observability server.
type MetricsConfig struct {
	// Addr is the listen address; empty disables the server.
	Addr string `koanf:"addr"`
}

// PluginsConfig configures plugin discovery.
type PluginsConfig struct {
	Dir string `koanf:"dir"`
}

// flagKeys maps flag names to config keys. Flags not listed here are not
// configuration.
var flagKeys = map[string]string{
	"log-format":   "log.format",
	"log-level":    "log.level",
	"metrics-addr": "metrics.addr",
	"plugins-dir":  "plugins.dir",
	"gatekeeper":   "gatekeepers",
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Log:     LogConfig{Format: DefaultLogFormat, Level: DefaultLogLevel},
		Metrics: MetricsConfig{Addr: DefaultMetricsAddr},
		Plugins: PluginsConfig{Dir: DefaultPluginsDir},
	}
}

// BindFlags registers the configuration flags on fs.
func BindFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("log-format", d.Log.Format, "log format (json or text)")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.String("metrics-addr", d.Metrics.Addr, "metrics/health HTTP address (empty = disabled)")
	fs.String("plugins-dir", d.Plugins.Dir, "directory of plugin directories")
	fs.StringSlice("gatekeeper", nil, "enabled gatekeeper glob (repeatable)")
}

// Load reads the YAML file at path, if path is not empty, then applies the
// flags of fs that map to configuration keys.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.In("config").Code("config_load").With("path", path).Wrap(err)
		}
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.In("config").Code("config_load").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.In("config").Code("config_load").Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return oops.In("config").
			Code("invalid_config").
			With("log.format", c.Log.Format).
			Errorf("log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if _, ok := logging.LookupLevel(c.Log.Level); !ok {
		return oops.In("config").
			Code("invalid_config").
			With("log.level", c.Log.Level).
			Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	for i, g := range c.Gatekeepers {
		if g == "" {
			return oops.In("config").Code("invalid_config").With("index", i).Errorf("gatekeepers[%d] is empty", i)
		}
	}
	return nil
}
