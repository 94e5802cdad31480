// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

const (
	// DefaultConfigFile is loaded from the working directory, if present
	// and no config file was specified.
	DefaultConfigFile = `icexec-sim.yaml`

	// EnvPrefix prefixes environment variables overriding config keys,
	// e.g. ICEXEC_LOG_LEVEL.
	EnvPrefix = `ICEXEC_`

	DefaultLogLevel      = `info`
	DefaultWarningLimit  = 5
	DefaultWarningWindow = time.Second
)

// Config models the simulator configuration.
type Config struct {
	// LogLevel is one of the logiface level names, e.g. info or debug.
	LogLevel string `koanf:"log_level"`
	// QueueCapacity limits in-flight calls, zero is unlimited.
	QueueCapacity int `koanf:"queue_capacity"`
	// Start is the initial host time, in nanoseconds.
	Start uint64 `koanf:"start"`
	// WarningLimit is the number of unknown-handle warnings logged per
	// WarningWindow.
	WarningLimit  int           `koanf:"warning_limit"`
	WarningWindow time.Duration `koanf:"warning_window"`

	// ConfigFile is the config file that was loaded, if any.
	ConfigFile string `koanf:"-"`
}

// LoadConfig layers, lowest priority first: defaults, the config file, the
// environment, then any flags that were explicitly set.
func LoadConfig(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(map[string]interface{}{
		"log_level":      DefaultLogLevel,
		"queue_capacity": 0,
		"start":          0,
		"warning_limit":  DefaultWarningLimit,
		"warning_window": DefaultWarningWindow.String(),
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if cfgFile == `` {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			cfgFile = DefaultConfigFile
		}
	}
	if cfgFile != `` {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", cfgFile, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed || f.Name == `config` {
				return ``, nil
			}
			return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.ConfigFile = cfgFile

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the config is usable.
func (x *Config) Validate() error {
	var errs []error
	if _, err := ParseLevel(x.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if x.QueueCapacity < 0 {
		errs = append(errs, errors.New(`queue_capacity must not be negative`))
	}
	if x.WarningLimit <= 0 {
		errs = append(errs, errors.New(`warning_limit must be positive`))
	}
	if x.WarningWindow <= 0 {
		errs = append(errs, errors.New(`warning_window must be positive`))
	}
	return errors.Join(errs...)
}

// ParseLevel parses a logiface level name, case-insensitively.
func ParseLevel(s string) (logiface.Level, error) {
	for level := logiface.LevelDisabled; level <= logiface.LevelTrace; level++ {
		if strings.EqualFold(s, level.String()) {
			return level, nil
		}
	}
	return logiface.LevelDisabled, fmt.Errorf("invalid log level %q", s)
}
