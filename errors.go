// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package icexec

import (
	"errors"
	"fmt"
)

var (
	// ErrReentrant is returned by the host-facing entry points of Runtime
	// if called while another invocation is in progress.
	ErrReentrant = errors.New(`icexec: re-entrant invocation`)

	// ErrNilHost is returned by New for a nil host.
	ErrNilHost = errors.New(`icexec: nil host`)

	// ErrNotInitialized is returned by the package-level functions that
	// use the default runtime, before Init.
	ErrNotInitialized = errors.New(`icexec: default runtime not initialized`)

	// ErrInvalidRateLimits is returned by WithWarningRateLimits for an
	// empty map, or non-positive durations or counts.
	ErrInvalidRateLimits = errors.New(`icexec: invalid warning rate limits`)
)

// TrapError is returned by an entry point of Runtime if the invocation
// trapped (panicked). The runtime has already discarded every task and call
// continuation by the time it is returned.
type TrapError struct {
	// Value is the recovered panic value.
	Value any
	// Entry names the entry point that trapped, e.g. "update".
	Entry string
	// Stack is the stack trace captured at the point of recovery.
	Stack []byte
}

// Error implements the error interface.
func (e *TrapError) Error() string {
	return fmt.Sprintf(`icexec: %s trapped: %v`, e.Entry, e.Value)
}

// Unwrap returns the panic value, if it is an error.
func (e *TrapError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
