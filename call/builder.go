// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package call

import (
	"time"

	"github.com/joeycumines/go-icexec/executor"
)

// Builder configures a call, see Registry.Call. Calls default to
// BoundedWait, with DefaultTimeout.
type Builder struct {
	registry *Registry
	req      Request
}

// Call starts building a call to method on target.
func (x *Registry) Call(target Principal, method string) *Builder {
	return &Builder{
		registry: x,
		req: Request{
			Target:  target,
			Method:  method,
			Mode:    BoundedWait,
			Timeout: DefaultTimeout,
		},
	}
}

// WithArgs sets the encoded argument payload.
func (x *Builder) WithArgs(payload []byte) *Builder {
	x.req.Payload = payload
	return x
}

// WithCycles attaches cycles to the call.
func (x *Builder) WithCycles(cycles uint64) *Builder {
	x.req.Cycles = cycles
	return x
}

// WithBoundedWait selects BoundedWait, with the given timeout. A
// non-positive timeout selects DefaultTimeout.
func (x *Builder) WithBoundedWait(timeout time.Duration) *Builder {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	x.req.Mode = BoundedWait
	x.req.Timeout = timeout
	return x
}

// WithUnboundedWait selects UnboundedWait.
func (x *Builder) WithUnboundedWait() *Builder {
	x.req.Mode = UnboundedWait
	x.req.Timeout = 0
	return x
}

// Request returns a copy of the request built so far.
func (x *Builder) Request() Request { return x.req }

// Future allocates the call's continuation, returning the future that will
// dispatch it when first polled. The future must be polled to completion or
// dropped, see Registry.Begin.
func (x *Builder) Future() *Future { return x.registry.Begin(x.req) }

// Await dispatches the call and suspends the Async body until it resolves.
func (x *Builder) Await(a *executor.Awaiter) ([]byte, error) {
	return x.Future().Await(a)
}

// Notify dispatches the call immediately, as a one-way call.
func (x *Builder) Notify() error { return x.registry.Notify(x.req) }
