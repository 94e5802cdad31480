// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package call implements outbound inter-canister calls, as futures, backed
// by a registry of continuations that the host resolves by handle.
//
// A call is only dispatched to the host the first time its Future is polled.
// The host later delivers exactly one reply or reject per dispatched handle,
// possibly long after the awaiting task was destroyed, in which case the
// delivery is reclaimed silently. Dropping a future never cancels the host
// call.
package call

import (
	"errors"
	"fmt"
	"time"

	"github.com/joeycumines/go-icexec/internal/slotmap"
)

// DefaultTimeout is the bounded-wait timeout applied by Builder when none is
// given.
const DefaultTimeout = 300 * time.Second

type (
	// Handle is the opaque key the host uses to address a pending call's
	// continuation. It packs a slot index and generation, so a handle for
	// a reclaimed call never addresses a newer one. The zero Handle
	// denotes a one-way call, which has no continuation.
	Handle uint64

	// Mode selects how the host waits for a response.
	Mode uint8

	// Request describes an outbound call.
	Request struct {
		// Target is the callee.
		Target Principal
		// Method is the name of the callee's method.
		Method string
		// Payload is the opaque, already encoded argument.
		Payload []byte
		// Cycles is the amount of cycles attached to the call.
		Cycles uint64
		// Mode selects bounded or unbounded wait.
		Mode Mode
		// Timeout is the host-enforced deadline for BoundedWait calls,
		// with a granularity of one second.
		Timeout time.Duration
	}

	// Host is implemented by the environment that actually sends calls.
	Host interface {
		// Perform registers a pending call, with reply and reject
		// callbacks keyed by h, then dispatches it. A non-zero result
		// indicates the call was rejected synchronously, in which case
		// neither callback will ever be invoked for h. Perform must not
		// invoke the callbacks itself.
		Perform(h Handle, req *Request) RejectCode
	}

	// HostFunc adapts a function to the Host interface.
	HostFunc func(h Handle, req *Request) RejectCode
)

const (
	// UnboundedWait calls have no deadline, and are guaranteed a response
	// from the callee (or a system reject).
	UnboundedWait Mode = iota
	// BoundedWait calls are resolved by the host by Request.Timeout at the
	// latest, substituting a SysUnknown reject if no response arrived.
	BoundedWait
)

var (
	// ErrConsumed is the result of polling a future that already yielded
	// its outcome.
	ErrConsumed = errors.New(`call: result already consumed`)

	// ErrDropped is the result of polling a dropped future.
	ErrDropped = errors.New(`call: future dropped`)

	// ErrInvalidated is the result of polling a future whose continuation
	// was discarded by the runtime, e.g. after a trap or a reset.
	ErrInvalidated = errors.New(`call: continuation invalidated`)
)

var _ Host = HostFunc(nil)

// Perform calls f(h, req).
func (f HostFunc) Perform(h Handle, req *Request) RejectCode { return f(h, req) }

func (x Handle) key() slotmap.Key { return slotmap.Key(x) }

// IsZero reports whether x is the zero Handle.
func (x Handle) IsZero() bool { return x == 0 }

func (x Handle) String() string { return x.key().String() }

func (x Mode) String() string {
	switch x {
	case UnboundedWait:
		return `unbounded`
	case BoundedWait:
		return `bounded`
	default:
		return fmt.Sprintf(`mode(%d)`, uint8(x))
	}
}

// TimeoutSeconds returns the bounded-wait timeout in whole seconds, rounding
// up, with a minimum of one second. It returns zero for UnboundedWait.
func (x *Request) TimeoutSeconds() uint32 {
	if x.Mode != BoundedWait {
		return 0
	}
	d := x.Timeout
	if d <= 0 {
		d = DefaultTimeout
	}
	secs := (d + time.Second - 1) / time.Second
	if secs > time.Duration(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(secs)
}
