// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package cli implements the icexec-sim command, which replays scenario files
// against a simulated host.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joeycumines/go-icexec"
	"github.com/joeycumines/go-icexec/internal/scenario"
	"github.com/joeycumines/go-icexec/simhost"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/spf13/cobra"
)

type configKey struct{}

// NewRootCmd returns the root command.
func NewRootCmd() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "icexec-sim",
		Short: "Replay scenarios against a simulated host",
		Long: `icexec-sim drives an icexec runtime through a scripted sequence of host
messages (updates, replies, rejects, timer ticks, upgrades), printing what the
runtime's tasks observe.`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}
			cfg, err := LoadConfig(cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKey{}, cfg))
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./"+DefaultConfigFile+")")
	rootCmd.PersistentFlags().String("log-level", "", "log level (disabled|emerg|alert|crit|err|warning|notice|info|debug|trace)")
	rootCmd.PersistentFlags().Int("queue-capacity", 0, "maximum in-flight calls, 0 for unlimited")
	rootCmd.PersistentFlags().Uint64("start", 0, "initial host time, in nanoseconds")
	rootCmd.PersistentFlags().Int("warning-limit", 0, "unknown-handle warnings per window")
	rootCmd.PersistentFlags().Duration("warning-window", 0, "unknown-handle warning window")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newValidateCommand())

	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// GetConfig retrieves the config from the command context.
func GetConfig(ctx context.Context) *Config {
	if ctx != nil {
		if c, ok := ctx.Value(configKey{}).(*Config); ok {
			return c
		}
	}
	return &Config{
		LogLevel:      DefaultLogLevel,
		WarningLimit:  DefaultWarningLimit,
		WarningWindow: DefaultWarningWindow,
	}
}

// NewLogger returns a JSON logger writing to w.
func NewLogger(w io.Writer, level logiface.Level) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		logiface.WithLevel[*stumpy.Event](level),
	).Logger()
}

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Replay a scenario",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := GetConfig(cmd.Context())
			sc, err := scenario.Load(args[0])
			if err != nil {
				return err
			}
			return runScenario(cmd.OutOrStdout(), cmd.ErrOrStderr(), cfg, sc)
		},
	}
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <scenario.yaml>...",
		Short: "Check scenario files are well-formed",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				sc, err := scenario.Load(path)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d steps)\n", path, len(sc.Steps))
			}
			return nil
		},
	}
}

func runScenario(stdout, stderr io.Writer, cfg *Config, sc *scenario.Scenario) error {
	level, err := ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := NewLogger(stderr, level)

	host, err := simhost.New(&simhost.Config{
		Logger: logger,
		Options: []icexec.Option{
			icexec.WithLogger(logger),
			icexec.WithWarningRateLimits(map[time.Duration]int{cfg.WarningWindow: cfg.WarningLimit}),
		},
		Start:         cfg.Start,
		QueueCapacity: cfg.QueueCapacity,
	})
	if err != nil {
		return err
	}

	logger.Info().
		Str(`scenario`, sc.Name).
		Int(`steps`, len(sc.Steps)).
		Log(`icexec-sim: running scenario`)

	report, err := (&scenario.Runner{Host: host, Out: stdout}).Run(sc)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(stdout, "summary: traps=%d in_flight=%d tasks=%d calls=%d timers=%d epoch=%d\n",
		report.Traps,
		report.InFlight,
		report.Stats.Tasks,
		report.Stats.Calls,
		report.Stats.Timers,
		report.Stats.Epoch,
	)
	return nil
}
