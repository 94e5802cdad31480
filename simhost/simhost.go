// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package simhost implements a deterministic, in-memory host for an
// icexec.Runtime, for tests and simulations.
//
// Like a real host, it only delivers one message at a time, it discards
// calls dispatched by a message that trapped, it invokes the cleanup
// callback if a reply or reject callback traps, and it resolves
// bounded-wait calls with a SysUnknown reject once their deadline passes.
// Unlike a real host, nothing happens unless driven by the caller: time only
// moves via Advance, and calls are only resolved via Reply or Reject.
package simhost

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/joeycumines/go-icexec"
	"github.com/joeycumines/go-icexec/call"
	"github.com/joeycumines/logiface"
)

type (
	// Host is a simulated host. It is not safe for concurrent use.
	Host struct {
		rt            *icexec.Runtime
		logger        *logiface.Logger[logiface.Event]
		inflight      []*Call
		staged        []*Call
		notifications []*Call
		now           uint64
		deadline      uint64
		seq           uint64
		capacity      int
		armed         bool
		busy          bool
	}

	// Config models optional configuration for New.
	Config struct {
		// Logger receives host-side diagnostics. It is not passed to the
		// runtime, use Options for that.
		Logger *logiface.Logger[logiface.Event]
		// Options configure the runtime.
		Options []icexec.Option
		// Start is the initial host time, in nanoseconds.
		Start uint64
		// QueueCapacity limits the number of in-flight calls, beyond which
		// calls are rejected synchronously with SysTransient. Zero is
		// unlimited.
		QueueCapacity int
	}

	// Call is a call dispatched by the runtime.
	Call struct {
		Request call.Request
		// Handle addresses the call's continuation. Zero for one-way
		// calls.
		Handle call.Handle
		// Time is the host time the call was dispatched at.
		Time uint64
		// Seq orders calls by dispatch.
		Seq uint64
	}
)

var (
	// ErrBusy is returned if the host is driven from within a message.
	ErrBusy = errors.New(`simhost: message in progress`)

	// ErrNotInFlight is returned when resolving a call that is not in
	// flight, e.g. because it was already resolved.
	ErrNotInFlight = errors.New(`simhost: call not in flight`)
)

var _ icexec.Host = (*Host)(nil)

// New initialises a host, and the runtime it drives. The config may be nil.
func New(config *Config) (*Host, error) {
	if config == nil {
		config = &Config{}
	}
	if config.QueueCapacity < 0 {
		return nil, fmt.Errorf(`simhost: negative queue capacity: %d`, config.QueueCapacity)
	}
	h := Host{
		logger:   config.Logger,
		now:      config.Start,
		capacity: config.QueueCapacity,
	}
	rt, err := icexec.New(&h, config.Options...)
	if err != nil {
		return nil, err
	}
	h.rt = rt
	return &h, nil
}

// Runtime returns the runtime driven by the host.
func (x *Host) Runtime() *icexec.Runtime { return x.rt }

// Time implements icexec.Host.
func (x *Host) Time() uint64 { return x.now }

// SetGlobalTimer implements icexec.Host.
func (x *Host) SetGlobalTimer(deadline uint64) {
	x.deadline = deadline
	x.armed = true
}

// Deadline returns the armed global timer deadline, if any.
func (x *Host) Deadline() (uint64, bool) { return x.deadline, x.armed }

// Perform implements icexec.Host.
func (x *Host) Perform(h call.Handle, req *call.Request) call.RejectCode {
	if !x.busy {
		x.logger.Err().
			Str(`method`, req.Method).
			Log(`simhost: call performed outside of a message`)
		return call.SysFatal
	}
	if x.capacity != 0 && len(x.inflight)+len(x.staged) >= x.capacity {
		return call.SysTransient
	}
	x.seq++
	c := &Call{
		Request: *req,
		Handle:  h,
		Time:    x.now,
		Seq:     x.seq,
	}
	c.Request.Payload = slices.Clone(req.Payload)
	x.staged = append(x.staged, c)
	return call.NoError
}

// message runs a single host message, committing the calls it dispatched,
// unless it trapped.
func (x *Host) message(fn func() error) error {
	if x.busy {
		return ErrBusy
	}
	x.busy = true
	x.staged = x.staged[:0]
	err := fn()
	x.busy = false

	var trap *icexec.TrapError
	if errors.As(err, &trap) {
		if len(x.staged) != 0 {
			x.logger.Info().
				Int(`calls`, len(x.staged)).
				Log(`simhost: discarded calls dispatched by trapped message`)
		}
		clear(x.staged)
		x.staged = x.staged[:0]
		return err
	}
	for _, c := range x.staged {
		if c.Handle.IsZero() {
			x.notifications = append(x.notifications, c)
		} else {
			x.inflight = append(x.inflight, c)
		}
	}
	clear(x.staged)
	x.staged = x.staged[:0]
	return err
}

// Update delivers an update message, running fn.
func (x *Host) Update(fn func()) error {
	return x.message(func() error { return x.rt.Update(fn) })
}

// Query delivers a query message, running fn.
func (x *Host) Query(fn func()) error {
	return x.message(func() error { return x.rt.Query(fn) })
}

// Reply resolves an in-flight call with a reply. If the reply callback
// traps, the cleanup callback is invoked, as a separate message.
func (x *Host) Reply(c *Call, payload []byte) error {
	if !x.take(c) {
		return ErrNotInFlight
	}
	return x.callback(c, func() error { return x.rt.Reply(c.Handle, payload) })
}

// Reject resolves an in-flight call with a rejection. If the reject callback
// traps, the cleanup callback is invoked, as a separate message.
func (x *Host) Reject(c *Call, code call.RejectCode, message string) error {
	if !x.take(c) {
		return ErrNotInFlight
	}
	return x.callback(c, func() error { return x.rt.Reject(c.Handle, code, message) })
}

func (x *Host) callback(c *Call, deliver func() error) error {
	err := x.message(deliver)
	var trap *icexec.TrapError
	if errors.As(err, &trap) {
		if cleanupErr := x.message(func() error { return x.rt.Cleanup(c.Handle) }); cleanupErr != nil {
			err = errors.Join(err, cleanupErr)
		}
	}
	return err
}

func (x *Host) take(c *Call) bool {
	i := slices.Index(x.inflight, c)
	if i < 0 {
		return false
	}
	x.inflight = slices.Delete(x.inflight, i, i+1)
	return true
}

// Advance moves time forward by d, then expires bounded-wait calls whose
// deadline passed, in dispatch order, then runs the global timer if it is
// due. Errors from every message are joined.
func (x *Host) Advance(d time.Duration) error {
	if x.busy {
		return ErrBusy
	}
	if d > 0 {
		x.now += uint64(d)
	}
	var errs []error
	for _, c := range x.expired() {
		if err := x.Reject(c, call.SysUnknown, `deadline expired`); err != nil {
			errs = append(errs, err)
		}
	}
	if x.armed && x.deadline <= x.now {
		x.armed = false
		if err := x.message(func() error { return x.rt.GlobalTimer(x.now) }); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (x *Host) expired() []*Call {
	var calls []*Call
	for _, c := range x.inflight {
		if secs := c.Request.TimeoutSeconds(); secs != 0 && c.Time+uint64(secs)*uint64(time.Second) <= x.now {
			calls = append(calls, c)
		}
	}
	return calls
}

// Upgrade simulates upgrading the instance without stopping it first: all
// runtime state is discarded, and the global timer is disarmed, but calls
// stay in flight, and may still be resolved.
func (x *Host) Upgrade() error {
	if x.busy {
		return ErrBusy
	}
	x.rt.Reset()
	x.armed = false
	return nil
}

// InFlight returns the calls awaiting a reply or reject, in dispatch order.
func (x *Host) InFlight() []*Call { return slices.Clone(x.inflight) }

// Notifications returns every one-way call dispatched so far.
func (x *Host) Notifications() []*Call { return slices.Clone(x.notifications) }

// Find returns the earliest dispatched in-flight call to method.
func (x *Host) Find(method string) (*Call, bool) {
	for _, c := range x.inflight {
		if c.Request.Method == method {
			return c, true
		}
	}
	return nil, false
}
