// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package executor

import (
	"errors"
)

var (
	// ErrRecovering is returned by Executor.Spawn while the executor is
	// tearing down state, after a trap.
	ErrRecovering = errors.New(`executor: spawn while recovering`)

	// ErrNoContext is returned when spawning or waking outside of any
	// executor context (see Executor.Enter).
	ErrNoContext = errors.New(`executor: no executor context`)

	// ErrNilFuture is returned by Executor.Spawn for a nil future.
	ErrNilFuture = errors.New(`executor: nil future`)

	// ErrContextActive is returned by Executor.Enter if a context is
	// already open.
	ErrContextActive = errors.New(`executor: context already active`)

	// ErrNoMethod is returned when spawning a bound task in the null
	// context.
	ErrNoMethod = errors.New(`executor: bound spawn outside of a method context`)

	// ErrQueryContext is returned when spawning a migratory task in a
	// query context.
	ErrQueryContext = errors.New(`executor: migratory spawn within a query context`)

	// ErrIncomplete matches IncompleteError, via errors.Is.
	ErrIncomplete = errors.New(`executor: local task incomplete`)
)
