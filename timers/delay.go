// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package timers

import (
	"time"

	"github.com/joeycumines/go-icexec/executor"
)

// Delay is a future that completes once host time reaches its deadline.
type Delay struct {
	heap  *Heap
	waker executor.Waker
	at    uint64
	timer ID
	armed bool
	done  bool
}

var (
	_ executor.Future[struct{}] = (*Delay)(nil)
	_ executor.Dropper          = (*Delay)(nil)
)

// Delay returns a future that completes once d has elapsed, measured from
// now. The backing timer is only scheduled when the future is first polled.
func (x *Heap) Delay(d time.Duration) *Delay {
	return x.DelayUntil(deadline(x.clock.Time(), d))
}

// DelayUntil returns a future that completes once host time reaches at.
func (x *Heap) DelayUntil(at uint64) *Delay {
	return &Delay{heap: x, at: at}
}

// Deadline returns the time at which the future completes.
func (x *Delay) Deadline() uint64 { return x.at }

func (x *Delay) Poll(cx *executor.Context) (struct{}, executor.Status) {
	if x.done {
		return struct{}{}, executor.Ready
	}
	if x.heap.clock.Time() >= x.at {
		x.finish()
		return struct{}{}, executor.Ready
	}
	x.waker = cx.Waker()
	if !x.armed {
		x.armed = true
		x.timer = x.heap.insertAt(x.at, 0, Sync(x.fire))
	}
	return struct{}{}, executor.Pending
}

func (x *Delay) fire() {
	x.armed = false
	x.done = true
	if err := x.waker.Wake(); err != nil {
		x.heap.logger.Err().
			Err(err).
			Log(`timers: failed to wake delayed task`)
	}
}

func (x *Delay) finish() {
	x.done = true
	if x.armed {
		x.armed = false
		x.heap.Clear(x.timer)
	}
}

// Drop clears the backing timer.
func (x *Delay) Drop() { x.finish() }
