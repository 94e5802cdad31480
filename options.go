// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package icexec

import (
	"time"

	"github.com/joeycumines/logiface"
)

// runtimeOptions holds configuration options for Runtime creation.
type runtimeOptions struct {
	logger       *logiface.Logger[logiface.Event]
	warningRates map[time.Duration]int
}

// --- Runtime Options ---

// Option configures a Runtime instance.
type Option interface {
	applyRuntime(*runtimeOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyRuntimeFunc func(*runtimeOptions) error
}

func (o *optionImpl) applyRuntime(opts *runtimeOptions) error {
	return o.applyRuntimeFunc(opts)
}

// WithLogger sets the logger used by the runtime and its components. A nil
// logger disables logging, which is the default.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *runtimeOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithWarningRateLimits sets the per-category rate limits applied to
// repetitive warnings, e.g. replies for unknown call handles. See
// catrate.NewLimiter for the format. Defaults to call.DefaultWarningRates.
func WithWarningRateLimits(rates map[time.Duration]int) Option {
	return &optionImpl{func(opts *runtimeOptions) error {
		if len(rates) == 0 {
			return ErrInvalidRateLimits
		}
		for d, n := range rates {
			if d <= 0 || n <= 0 {
				return ErrInvalidRateLimits
			}
		}
		opts.warningRates = rates
		return nil
	}}
}

// resolveRuntimeOptions applies Option instances to runtimeOptions.
func resolveRuntimeOptions(opts []Option) (*runtimeOptions, error) {
	cfg := &runtimeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyRuntime(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
