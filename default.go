// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package icexec

import (
	"sync"
	"time"

	"github.com/joeycumines/go-icexec/call"
	"github.com/joeycumines/go-icexec/executor"
	"github.com/joeycumines/go-icexec/timers"
)

var (
	// process-wide runtime, see Init
	defaultRuntime struct {
		sync.RWMutex
		rt *Runtime
	}
)

// Init creates the process-wide default runtime, replacing any existing
// one, which is reset first.
func Init(host Host, opts ...Option) (*Runtime, error) {
	rt, err := New(host, opts...)
	if err != nil {
		return nil, err
	}
	defaultRuntime.Lock()
	old := defaultRuntime.rt
	defaultRuntime.rt = rt
	defaultRuntime.Unlock()
	if old != nil {
		old.Reset()
	}
	return rt, nil
}

// Default returns the process-wide default runtime, or nil if Init has not
// been called.
func Default() *Runtime {
	defaultRuntime.RLock()
	defer defaultRuntime.RUnlock()
	return defaultRuntime.rt
}

// Reset discards the state of the default runtime (see Runtime.Reset), and
// uninstalls it.
func Reset() {
	defaultRuntime.Lock()
	old := defaultRuntime.rt
	defaultRuntime.rt = nil
	defaultRuntime.Unlock()
	if old != nil {
		old.Reset()
	}
}

func mustDefault() (*Runtime, error) {
	if rt := Default(); rt != nil {
		return rt, nil
	}
	return nil, ErrNotInitialized
}

// Spawn starts f on the default runtime.
func Spawn(f executor.Future[struct{}]) error {
	rt, err := mustDefault()
	if err != nil {
		return err
	}
	return rt.Spawn(f)
}

// SpawnFunc starts body on the default runtime.
func SpawnFunc(body func(a *executor.Awaiter)) error {
	rt, err := mustDefault()
	if err != nil {
		return err
	}
	return rt.SpawnFunc(body)
}

// SpawnWeak starts f on the default runtime, bound to the current method.
func SpawnWeak(f executor.Future[struct{}]) error {
	rt, err := mustDefault()
	if err != nil {
		return err
	}
	return rt.SpawnWeak(f)
}

// SpawnLocal starts f on the default runtime, bound to the current method,
// which it must complete before.
func SpawnLocal(f executor.Future[struct{}]) error {
	rt, err := mustDefault()
	if err != nil {
		return err
	}
	return rt.SpawnLocal(f)
}

// Call starts building a call on the default runtime.
func Call(target call.Principal, method string) (*call.Builder, error) {
	rt, err := mustDefault()
	if err != nil {
		return nil, err
	}
	return rt.Call(target, method), nil
}

// SetTimer schedules a one-shot timer on the default runtime.
func SetTimer(delay time.Duration, fn timers.Func) (timers.ID, error) {
	rt, err := mustDefault()
	if err != nil {
		return 0, err
	}
	return rt.SetTimer(delay, fn), nil
}

// SetTimerInterval schedules a periodic timer on the default runtime.
func SetTimerInterval(period time.Duration, fn timers.Func) (timers.ID, error) {
	rt, err := mustDefault()
	if err != nil {
		return 0, err
	}
	return rt.SetTimerInterval(period, fn), nil
}

// ClearTimer cancels a timer on the default runtime.
func ClearTimer(id timers.ID) bool {
	if rt := Default(); rt != nil {
		return rt.ClearTimer(id)
	}
	return false
}

// IsRecovering reports whether the default runtime is discarding state.
func IsRecovering() bool {
	if rt := Default(); rt != nil {
		return rt.IsRecovering()
	}
	return false
}
