// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package executor

import (
	"fmt"
)

// Status is the outcome of a single Poll.
type Status uint8

const (
	// Pending indicates the future cannot make progress until its waker is
	// invoked.
	Pending Status = iota
	// Ready indicates the future has completed, and the returned value is
	// its result.
	Ready
)

type (
	// Future is a poll-based resumable computation.
	//
	// A future that returns Pending MUST have arranged for the waker from
	// the supplied Context to be invoked once it can make progress, or it
	// will never be polled again. Polling a future after it returned Ready
	// is implementation defined.
	Future[T any] interface {
		Poll(cx *Context) (T, Status)
	}

	// Dropper may be implemented by futures that hold resources that must
	// be released if the future is discarded before completion.
	Dropper interface {
		Drop()
	}

	// FutureFunc adapts a function to the Future interface.
	FutureFunc[T any] func(cx *Context) (T, Status)

	readyFuture[T any] struct {
		value T
	}

	joinFuture[T any] struct {
		futures []Future[T]
		results []T
		done    []bool
		left    int
	}
)

var (
	_ Future[struct{}] = FutureFunc[struct{}](nil)
	_ Future[struct{}] = (*readyFuture[struct{}])(nil)
	_ Future[[]int]    = (*joinFuture[int])(nil)
	_ Dropper          = (*joinFuture[int])(nil)
)

func (s Status) String() string {
	switch s {
	case Pending:
		return `pending`
	case Ready:
		return `ready`
	default:
		return fmt.Sprintf(`status(%d)`, uint8(s))
	}
}

// Poll calls f(cx).
func (f FutureFunc[T]) Poll(cx *Context) (T, Status) { return f(cx) }

// Done returns a future that completes immediately with v.
func Done[T any](v T) Future[T] { return &readyFuture[T]{value: v} }

func (x *readyFuture[T]) Poll(*Context) (T, Status) { return x.value, Ready }

// Join returns a future that polls every one of futures, until all of them
// are ready, yielding their results in argument order. Dropping the join
// drops every future that has not yet completed.
func Join[T any](futures ...Future[T]) Future[[]T] {
	return &joinFuture[T]{
		futures: futures,
		results: make([]T, len(futures)),
		done:    make([]bool, len(futures)),
		left:    len(futures),
	}
}

func (x *joinFuture[T]) Poll(cx *Context) ([]T, Status) {
	for i, f := range x.futures {
		if x.done[i] {
			continue
		}
		if v, status := f.Poll(cx); status == Ready {
			x.results[i] = v
			x.done[i] = true
			x.futures[i] = nil
			x.left--
		}
	}
	if x.left != 0 {
		return nil, Pending
	}
	return x.results, Ready
}

func (x *joinFuture[T]) Drop() {
	for i, f := range x.futures {
		if x.done[i] {
			continue
		}
		x.done[i] = true
		x.futures[i] = nil
		x.left--
		drop(f)
	}
}

// drop calls Drop if v implements Dropper.
func drop(v any) {
	if d, ok := v.(Dropper); ok {
		d.Drop()
	}
}
