// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package executor

import (
	"iter"
)

type (
	// Awaiter is handed to the body of an Async future, and is used to
	// suspend it, see Await.
	Awaiter struct {
		yield     func(struct{}) bool
		cx        *Context
		cancelled bool
	}

	asyncFuture struct {
		body    func(a *Awaiter)
		awaiter *Awaiter
		next    func() (struct{}, bool)
		stop    func()
		done    bool
	}

	// unwind is the panic value used to unwind the body of a cancelled
	// Async future.
	unwind struct{}
)

var errUnwind any = &unwind{}

var (
	_ Future[struct{}] = (*asyncFuture)(nil)
	_ Dropper          = (*asyncFuture)(nil)
)

// Async returns a future that runs body as straight-line code, suspending
// it on each call to Await that is not immediately ready.
//
// If the future is dropped before completion (e.g. the task is cancelled),
// the pending Await drops the future it was waiting on, then unwinds the
// body, running deferred calls. The body must not recover that unwind, and
// must not retain the Awaiter beyond its own return.
//
// A panic raised by the body propagates to whoever polled the future.
func Async(body func(a *Awaiter)) Future[struct{}] {
	if body == nil {
		panic(`executor: nil async body`)
	}
	return &asyncFuture{body: body}
}

func (x *asyncFuture) Poll(cx *Context) (struct{}, Status) {
	if x.done {
		return struct{}{}, Ready
	}
	if x.next == nil {
		x.awaiter = &Awaiter{}
		x.next, x.stop = iter.Pull(func(yield func(struct{}) bool) {
			x.awaiter.yield = yield
			x.body(x.awaiter)
		})
	}
	x.awaiter.cx = cx
	_, ok := x.next()
	x.awaiter.cx = nil
	if ok {
		return struct{}{}, Pending
	}
	x.done = true
	return struct{}{}, Ready
}

func (x *asyncFuture) Drop() {
	if x.done {
		return
	}
	x.done = true
	if x.stop == nil {
		return
	}
	x.awaiter.cancelled = true
	defer func() {
		if r := recover(); r != nil && r != errUnwind {
			panic(r)
		}
	}()
	x.stop()
}

// Context returns the context of the current poll.
func (a *Awaiter) Context() *Context { return a.cx }

// Cancelled reports whether the enclosing Async future was dropped, which
// is only observable from deferred calls, while unwinding.
func (a *Awaiter) Cancelled() bool { return a.cancelled }

// Await polls f until it is ready, suspending the enclosing Async body each
// time it is pending.
func Await[T any](a *Awaiter, f Future[T]) T {
	for {
		if a.cancelled {
			drop(f)
			panic(errUnwind)
		}
		if v, status := f.Poll(a.cx); status == Ready {
			return v
		}
		if !a.yield(struct{}{}) {
			a.cancelled = true
			drop(f)
			panic(errUnwind)
		}
	}
}
