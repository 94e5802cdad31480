// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package executor

import (
	"fmt"

	"github.com/joeycumines/go-icexec/internal/slotmap"
)

type (
	// ContextKind is the kind of method an executor context tracks.
	ContextKind uint8

	// MethodID identifies a method context opened by EnterMethod.
	MethodID uint64

	// MethodHandle keeps a method from returning while it is held, e.g. by
	// a call continuation, so that the method's bound tasks survive until
	// the callback runs. The zero value refers to no method.
	MethodHandle struct {
		exec   *Executor
		method slotmap.Key
	}

	// IncompleteError is returned by Executor.Exit if local tasks were
	// cancelled because their method returned before they completed.
	IncompleteError struct {
		// Tasks is the number of local tasks cancelled.
		Tasks int
	}

	method struct {
		// deferred holds bound tasks woken while another method was
		// current
		deferred []slotmap.Key
		handles  int
		kind     ContextKind
	}
)

const (
	// UpdateContext is a method that may spawn any kind of task, and runs
	// migratory tasks.
	UpdateContext ContextKind = iota
	// QueryContext is a method that may only spawn bound tasks. Migratory
	// tasks woken during a query wait for the next update context.
	QueryContext
)

func (x ContextKind) String() string {
	switch x {
	case UpdateContext:
		return `update`
	case QueryContext:
		return `query`
	default:
		return fmt.Sprintf(`contextkind(%d)`, uint8(x))
	}
}

func (x MethodID) String() string { return slotmap.Key(x).String() }

func (e *IncompleteError) Error() string {
	return fmt.Sprintf(`executor: %d local task(s) did not complete before their method returned`, e.Tasks)
}

// Is allows errors.Is(err, ErrIncomplete).
func (e *IncompleteError) Is(target error) bool { return target == ErrIncomplete }

// EnterMethod opens a context tracking a new method of the given kind. Exit
// must be called to close it.
func (x *Executor) EnterMethod(kind ContextKind) (MethodID, error) {
	if x.inContext {
		return 0, ErrContextActive
	}
	key := x.methods.Insert(&method{kind: kind})
	x.open(key)
	return MethodID(key), nil
}

// EnterFor re-opens the context of the method h refers to, e.g. to run the
// callback of a call made by that method. Bound tasks of the method that
// were woken in the meantime are queued. If the method already returned,
// or h is the zero value, the null context is opened instead. EnterFor does
// not release h.
func (x *Executor) EnterFor(h MethodHandle) error {
	if x.inContext {
		return ErrContextActive
	}
	var key slotmap.Key
	if h.exec == x && x.methods.Contains(h.method) {
		key = h.method
	}
	x.open(key)
	return nil
}

func (x *Executor) open(key slotmap.Key) {
	x.inContext = true
	x.method = key
	x.abandoned = 0
	if m, ok := x.methods.Get(key); ok {
		x.queue = append(x.queue, m.deferred...)
		m.deferred = nil
		if m.kind == QueryContext {
			return
		}
	}
	x.queue = append(x.queue, x.migratory...)
	x.migratory = nil
}

// Method returns the current method, and its kind. It returns false in the
// null context, or outside any context.
func (x *Executor) Method() (MethodID, ContextKind, bool) {
	if !x.inContext {
		return 0, 0, false
	}
	m, ok := x.methods.Get(x.method)
	if !ok {
		return 0, 0, false
	}
	return MethodID(x.method), m.kind, true
}

// Methods returns the number of methods that have not yet returned.
func (x *Executor) Methods() int { return x.methods.Len() }

// Extend returns a handle keeping the current method from returning, until
// it is released. It returns the zero MethodHandle in the null context, or
// outside any context.
func (x *Executor) Extend() MethodHandle {
	if !x.inContext {
		return MethodHandle{}
	}
	m, ok := x.methods.Get(x.method)
	if !ok {
		return MethodHandle{}
	}
	m.handles++
	return MethodHandle{exec: x, method: x.method}
}

// ExtendMethod calls Executor.Extend for the executor that is polling, or
// returns the zero MethodHandle if the context has no executor.
func (cx *Context) ExtendMethod() MethodHandle {
	if cx == nil || cx.waker.exec == nil {
		return MethodHandle{}
	}
	return cx.waker.exec.Extend()
}

// Method returns the method h refers to.
func (h MethodHandle) Method() MethodID { return MethodID(h.method) }

// IsZero reports whether h is the zero MethodHandle.
func (h MethodHandle) IsZero() bool { return h.exec == nil }

// Release gives up h, which must not be released again. If it was the last
// handle, and the method is not current, the method returns immediately,
// cancelling its bound tasks. Releasing the zero value, or a handle for a
// method that was forgotten by CancelAll, does nothing.
func (h MethodHandle) Release() {
	if h.exec == nil {
		return
	}
	x := h.exec
	m, ok := x.methods.Get(h.method)
	if !ok {
		return
	}
	m.handles--
	if m.handles <= 0 && (!x.inContext || x.method != h.method) {
		x.finish(h.method)
	}
}

// finish removes a returned method, cancelling every task bound to it.
func (x *Executor) finish(key slotmap.Key) {
	x.methods.Remove(key)
	var bound []slotmap.Key
	x.tasks.Range(func(k slotmap.Key, t *task) bool {
		if t.binding == key {
			bound = append(bound, k)
		}
		return true
	})
	for _, k := range bound {
		t, ok := x.tasks.Remove(k)
		if !ok {
			continue
		}
		if t.local && !x.recovering {
			x.abandoned++
			x.logger.Err().
				Str(`task`, TaskID(k).String()).
				Str(`method`, MethodID(key).String()).
				Log(`executor: local task did not complete before its method returned`)
		}
		x.dropTask(TaskID(k), t)
	}
}

func (x *Executor) takeAbandoned() error {
	n := x.abandoned
	x.abandoned = 0
	if n == 0 {
		return nil
	}
	return &IncompleteError{Tasks: n}
}

// kind returns the kind of the current method. The null context behaves as
// an update.
func (x *Executor) kind() ContextKind {
	if m, ok := x.methods.Get(x.method); ok {
		return m.kind
	}
	return UpdateContext
}

// runnable reports whether t may be polled in the current context.
func (x *Executor) runnable(t *task) bool {
	if !t.binding.IsZero() {
		return t.binding == x.method
	}
	return x.kind() != QueryContext
}

// postpone parks a ready task until a context it may run in is entered.
func (x *Executor) postpone(key slotmap.Key, t *task) {
	if t.binding.IsZero() {
		x.migratory = append(x.migratory, key)
		return
	}
	if m, ok := x.methods.Get(t.binding); ok {
		m.deferred = append(m.deferred, key)
		return
	}
	// unreachable in practice, finish cancels bound tasks
	t.state = TaskPending
}
