// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package call

import (
	"fmt"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/go-icexec/executor"
	"github.com/joeycumines/go-icexec/internal/slotmap"
	"github.com/joeycumines/logiface"
)

type (
	// Registry maps handles to the continuations of pending calls. It is
	// not safe for concurrent use.
	Registry struct {
		slots   *slotmap.Map[*slot]
		host    Host
		logger  *logiface.Logger[logiface.Event]
		limiter *catrate.Limiter
		epoch   uint64
	}

	// RegistryConfig models optional configuration for NewRegistry.
	RegistryConfig struct {
		// Logger receives diagnostics. May be nil.
		Logger *logiface.Logger[logiface.Event]
		// Limiter throttles the warnings logged for deliveries to unknown
		// or stale handles, per category. Nil uses DefaultWarningRates.
		//
		// Note that catrate measures wall-clock time, not host time, and
		// starts a background goroutine on first use, to expire old
		// events. Neither affects the single-threaded state of the
		// registry, but rate limiting is not deterministic under a
		// simulated clock.
		Limiter *catrate.Limiter
	}

	// SlotState is the state of a call's continuation.
	SlotState uint8

	slot struct {
		waker executor.Waker
		// method keeps the dispatching method alive until the slot is
		// freed
		method  executor.MethodHandle
		reject  *RejectError
		payload []byte
		epoch   uint64
		state   SlotState
		sent    bool
	}
)

const (
	// Waiting indicates the call is unsent, or sent and awaiting delivery.
	Waiting SlotState = iota
	// Replied indicates a reply was delivered, but not yet consumed.
	Replied
	// Rejected indicates a reject was delivered, but not yet consumed.
	Rejected
	// Dropped indicates the future was discarded before delivery. The
	// slot is reclaimed when the delivery arrives.
	Dropped
)

// DefaultWarningRates is the default rate limit applied to warnings about
// deliveries for unknown handles.
var DefaultWarningRates = map[time.Duration]int{
	time.Second: 5,
	time.Minute: 60,
}

// NewRegistry initialises a new Registry. The config may be nil.
func NewRegistry(host Host, config *RegistryConfig) *Registry {
	if host == nil {
		panic(`call: nil host`)
	}
	x := Registry{
		slots: slotmap.New[*slot](),
		host:  host,
	}
	if config != nil {
		x.logger = config.Logger
		x.limiter = config.Limiter
	}
	if x.limiter == nil {
		x.limiter = catrate.NewLimiter(DefaultWarningRates)
	}
	return &x
}

func (x SlotState) String() string {
	switch x {
	case Waiting:
		return `waiting`
	case Replied:
		return `replied`
	case Rejected:
		return `rejected`
	case Dropped:
		return `dropped`
	default:
		return fmt.Sprintf(`slotstate(%d)`, uint8(x))
	}
}

// SetEpoch records the identifier of the current host invocation, which is
// stamped on every call dispatched until the next SetEpoch.
func (x *Registry) SetEpoch(epoch uint64) { x.epoch = epoch }

// Epoch returns the value last passed to SetEpoch.
func (x *Registry) Epoch() uint64 { return x.epoch }

// Len returns the number of live slots, including dropped slots that are
// awaiting their delivery.
func (x *Registry) Len() int { return x.slots.Len() }

// State returns the state of the slot for h, if it is live.
func (x *Registry) State(h Handle) (SlotState, bool) {
	s, ok := x.slots.Get(h.key())
	if !ok {
		return 0, false
	}
	return s.state, true
}

// Begin allocates a continuation for req, returning the future that will
// dispatch it on first poll. The request is copied.
//
// The slot is held until the future completes or is dropped. A future that
// is abandoned without being polled to completion must be dropped (see
// Future.Drop), or its slot is never reclaimed.
func (x *Registry) Begin(req Request) *Future {
	h := Handle(x.slots.Insert(&slot{}))
	return &Future{registry: x, handle: h, req: req}
}

// Notify dispatches req immediately, as a one-way call, with no
// continuation. Only synchronous rejection is reported.
func (x *Registry) Notify(req Request) error {
	if code := x.host.Perform(0, &req); code != NoError {
		return &RejectError{Code: code, Message: syncRejectMessage, Sync: true}
	}
	x.logger.Debug().
		Str(`target`, req.Target.String()).
		Str(`method`, req.Method).
		Log(`call: one-way call dispatched`)
	return nil
}

// Method returns the handle of the method that dispatched the call for h,
// so that its callback can run in that method's context. It returns the
// zero MethodHandle if h is unknown, or the call was dispatched outside of
// a method context. The handle remains owned by the registry.
func (x *Registry) Method(h Handle) executor.MethodHandle {
	s, ok := x.slots.Get(h.key())
	if !ok {
		return executor.MethodHandle{}
	}
	return s.method
}

// free removes the slot for k, releasing its method handle.
func (x *Registry) free(k slotmap.Key) bool {
	s, ok := x.slots.Remove(k)
	if ok {
		s.method.Release()
	}
	return ok
}

// Waiter returns the waker stored by the last poll of the future for h, if
// the slot is live and waiting.
func (x *Registry) Waiter(h Handle) (executor.Waker, bool) {
	s, ok := x.slots.Get(h.key())
	if !ok || s.state != Waiting || s.waker.IsZero() {
		return executor.Waker{}, false
	}
	return s.waker, true
}

// Reply delivers the response for h. It never panics: deliveries for
// unknown handles are logged (rate limited) and ignored.
func (x *Registry) Reply(h Handle, payload []byte) {
	x.deliver(h, `reply`, func(s *slot) {
		s.state = Replied
		s.payload = payload
	})
}

// Reject delivers a rejection for h. It never panics: deliveries for
// unknown handles are logged (rate limited) and ignored.
func (x *Registry) Reject(h Handle, code RejectCode, message string) {
	x.deliver(h, `reject`, func(s *slot) {
		s.state = Rejected
		s.reject = &RejectError{Code: code, Message: message}
	})
}

func (x *Registry) deliver(h Handle, kind string, resolve func(s *slot)) {
	s, ok := x.slots.Get(h.key())
	if !ok {
		if _, allowed := x.limiter.Allow(`call:unknown-handle`); allowed {
			x.logger.Warning().
				Str(`handle`, h.String()).
				Str(`kind`, kind).
				Log(`call: delivery for unknown or stale handle ignored`)
		}
		return
	}

	switch s.state {
	case Dropped:
		x.free(h.key())
		x.logger.Debug().
			Str(`handle`, h.String()).
			Str(`kind`, kind).
			Log(`call: reclaimed dropped continuation`)
		return

	case Replied, Rejected:
		x.logger.Err().
			Str(`handle`, h.String()).
			Str(`kind`, kind).
			Str(`state`, s.state.String()).
			Log(`call: duplicate delivery ignored`)
		return
	}

	if !s.sent {
		x.logger.Err().
			Str(`handle`, h.String()).
			Str(`kind`, kind).
			Log(`call: delivery for unsent call ignored`)
		return
	}

	resolve(s)
	waker := s.waker
	s.waker = executor.Waker{}
	if err := waker.Wake(); err != nil {
		x.logger.Err().
			Str(`handle`, h.String()).
			Err(err).
			Log(`call: failed to wake task`)
	}
}

// Discard removes the slot for h, regardless of its state, reporting
// whether it existed.
func (x *Registry) Discard(h Handle) bool {
	return x.free(h.key())
}

// Invalidate discards every continuation, after a trap during the
// invocation identified by epoch. The host rolls back calls dispatched
// during that invocation, so their slots are freed, along with any unsent
// or already resolved slots. Calls dispatched by earlier invocations will
// still be delivered, so their slots are marked Dropped, to be reclaimed on
// delivery.
func (x *Registry) Invalidate(epoch uint64) (freed, dropped int) {
	x.slots.Range(func(k slotmap.Key, s *slot) bool {
		if !s.sent || s.epoch == epoch || s.state == Replied || s.state == Rejected {
			x.free(k)
			freed++
			return true
		}
		if s.state == Waiting {
			s.state = Dropped
			s.waker = executor.Waker{}
			dropped++
		}
		return true
	})
	return
}

// Reset discards every continuation, returning the number discarded. Any
// later delivery for the discarded handles is treated as unknown.
func (x *Registry) Reset() int {
	n := x.slots.Len()
	x.slots.Range(func(_ slotmap.Key, s *slot) bool {
		s.method.Release()
		return true
	})
	x.slots.Clear()
	return n
}
