// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package call

import (
	"github.com/joeycumines/go-icexec/executor"
)

const syncRejectMessage = `failed to enqueue the call`

type (
	// Future is the awaitable outcome of a call. It is created by
	// Registry.Begin (or Builder.Future), and dispatches the call the first
	// time it is polled.
	Future struct {
		registry *Registry
		req      Request
		handle   Handle
		stage    futureStage
		sent     bool
	}

	// Result is the outcome of a call: either the reply payload, or an
	// error, typically a *RejectError.
	Result struct {
		Err     error
		Payload []byte
	}

	futureStage uint8
)

const (
	stageUnsent futureStage = iota
	stageSent
	stageDone
	stageDropped
)

var (
	_ executor.Future[Result] = (*Future)(nil)
	_ executor.Dropper        = (*Future)(nil)
)

// Handle returns the handle the call is (or will be) dispatched with.
func (x *Future) Handle() Handle { return x.handle }

// Request returns the request the future dispatches.
func (x *Future) Request() *Request { return &x.req }

// Sent reports whether the call was dispatched to the host.
func (x *Future) Sent() bool { return x.sent }

// Poll dispatches the call on first poll, then yields its outcome once it
// has been delivered. After the outcome has been consumed, Poll returns
// ErrConsumed.
func (x *Future) Poll(cx *executor.Context) (Result, executor.Status) {
	switch x.stage {
	case stageDone:
		return Result{Err: ErrConsumed}, executor.Ready
	case stageDropped:
		return Result{Err: ErrDropped}, executor.Ready
	}

	r := x.registry
	s, ok := r.slots.Get(x.handle.key())
	if !ok {
		x.stage = stageDone
		return Result{Err: ErrInvalidated}, executor.Ready
	}

	if x.stage == stageUnsent {
		x.stage = stageSent
		s.sent = true
		s.epoch = r.epoch
		s.method = cx.ExtendMethod()
		if code := r.host.Perform(x.handle, &x.req); code != NoError {
			r.free(x.handle.key())
			x.stage = stageDone
			r.logger.Debug().
				Str(`handle`, x.handle.String()).
				Str(`method`, x.req.Method).
				Str(`code`, code.String()).
				Log(`call: rejected synchronously`)
			return Result{Err: &RejectError{Code: code, Message: syncRejectMessage, Sync: true}}, executor.Ready
		}
		x.sent = true
		r.logger.Debug().
			Str(`handle`, x.handle.String()).
			Str(`target`, x.req.Target.String()).
			Str(`method`, x.req.Method).
			Log(`call: dispatched`)
	}

	switch s.state {
	case Replied:
		r.free(x.handle.key())
		x.stage = stageDone
		return Result{Payload: s.payload}, executor.Ready

	case Rejected:
		r.free(x.handle.key())
		x.stage = stageDone
		return Result{Err: s.reject}, executor.Ready

	case Dropped:
		x.stage = stageDropped
		return Result{Err: ErrDropped}, executor.Ready
	}

	s.waker = cx.Waker()
	return Result{}, executor.Pending
}

// Drop discards the future. An unsent call is never sent, and its slot is
// freed. A sent call is NOT cancelled: its slot is marked Dropped, and
// reclaimed when the host delivers the outcome, without waking anything.
func (x *Future) Drop() {
	switch x.stage {
	case stageDone, stageDropped:
		return
	}
	defer func() { x.stage = stageDropped }()
	r := x.registry
	s, ok := r.slots.Get(x.handle.key())
	if !ok {
		return
	}
	if x.stage == stageUnsent || s.state != Waiting {
		r.free(x.handle.key())
		return
	}
	s.state = Dropped
	s.waker = executor.Waker{}
}

// Await suspends the Async body until the call resolves, returning the
// reply payload, or the error.
func (x *Future) Await(a *executor.Awaiter) ([]byte, error) {
	res := executor.Await[Result](a, x)
	return res.Payload, res.Err
}
