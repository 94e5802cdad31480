// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package timers implements one-shot and periodic timers, driven by a host
// that periodically "ticks" the heap with the current time.
//
// Timers fire no earlier than their deadline, but otherwise only as often as
// the host ticks. A periodic timer fires at most once per tick, then is
// rescheduled relative to the tick time, meaning missed periods are skipped,
// not replayed.
package timers

import (
	"container/heap"
	"math"
	"time"

	"github.com/joeycumines/go-icexec/executor"
	"github.com/joeycumines/go-icexec/internal/slotmap"
	"github.com/joeycumines/logiface"
)

type (
	// Heap schedules timers. It is not safe for concurrent use.
	Heap struct {
		entries *slotmap.Map[*entry]
		queue   timerQueue
		clock   Clock
		alarm   Alarm
		spawner Spawner
		logger  *logiface.Logger[logiface.Event]
		seq     uint64
		// armed is the deadline last passed to the alarm, valid if
		// isArmed
		armed   uint64
		isArmed bool
		ticking bool
	}

	// Config models the dependencies of a Heap.
	Config struct {
		// Clock provides the current time, in nanoseconds. Required.
		Clock Clock
		// Alarm is told the soonest deadline whenever it moves earlier,
		// and after each tick. May be nil.
		Alarm Alarm
		// Spawner runs the futures returned by timer functions. May be
		// nil, in which case such futures are logged and discarded.
		Spawner Spawner
		// Logger receives diagnostics. May be nil.
		Logger *logiface.Logger[logiface.Event]
	}

	// Clock provides host time, in nanoseconds.
	Clock interface {
		Time() uint64
	}

	// Alarm arms the host's timer, which must eventually result in a Tick,
	// at or after the deadline.
	Alarm interface {
		SetGlobalTimer(deadline uint64)
	}

	// Spawner starts a task.
	Spawner interface {
		Spawn(f executor.Future[struct{}]) (executor.TaskID, error)
	}

	// ClockFunc adapts a function to the Clock interface.
	ClockFunc func() uint64

	// ID identifies a timer. IDs of cleared or fired timers are never
	// reused.
	ID uint64

	// Func is the function run by a timer. It may return nil, indicating
	// all work was done synchronously, or a future, to be spawned as a
	// task.
	Func func() executor.Future[struct{}]

	entry struct {
		fn     Func
		due    uint64
		period time.Duration
	}

	item struct {
		due uint64
		seq uint64
		key slotmap.Key
	}

	timerQueue []item
)

var _ Clock = ClockFunc(nil)

// New initialises a new Heap.
func New(config *Config) *Heap {
	if config == nil || config.Clock == nil {
		panic(`timers: clock is required`)
	}
	return &Heap{
		entries: slotmap.New[*entry](),
		clock:   config.Clock,
		alarm:   config.Alarm,
		spawner: config.Spawner,
		logger:  config.Logger,
	}
}

// Time calls f.
func (f ClockFunc) Time() uint64 { return f() }

func (x ID) String() string { return slotmap.Key(x).String() }

// Sync adapts a plain function, for synchronous timers.
func Sync(fn func()) Func {
	return func() executor.Future[struct{}] {
		fn()
		return nil
	}
}

// SetTimer schedules fn to run once, after delay. A negative delay is
// treated as zero.
func (x *Heap) SetTimer(delay time.Duration, fn Func) ID {
	return x.insert(delay, 0, fn)
}

// SetTimerInterval schedules fn to run every period. Periods shorter than a
// nanosecond are treated as one nanosecond.
func (x *Heap) SetTimerInterval(period time.Duration, fn Func) ID {
	if period < 1 {
		period = 1
	}
	return x.insert(period, period, fn)
}

func (x *Heap) insert(delay, period time.Duration, fn Func) ID {
	return x.insertAt(deadline(x.clock.Time(), delay), period, fn)
}

func (x *Heap) insertAt(due uint64, period time.Duration, fn Func) ID {
	if fn == nil {
		panic(`timers: nil func`)
	}
	e := &entry{
		fn:     fn,
		due:    due,
		period: period,
	}
	key := x.entries.Insert(e)
	x.push(key, e)
	x.updateAlarm()
	return ID(key)
}

func (x *Heap) push(key slotmap.Key, e *entry) {
	x.seq++
	heap.Push(&x.queue, item{due: e.due, seq: x.seq, key: key})
}

// Clear cancels a timer, returning false if it had already fired (one-shot
// timers), or been cleared. It may be called from within any timer's
// function, including the timer being cleared.
func (x *Heap) Clear(id ID) bool {
	// the queue entry is discarded lazily
	_, ok := x.entries.Remove(slotmap.Key(id))
	return ok
}

// Len returns the number of scheduled timers.
func (x *Heap) Len() int { return x.entries.Len() }

// Next returns the soonest deadline of any scheduled timer.
func (x *Heap) Next() (uint64, bool) {
	x.discardCleared()
	if len(x.queue) == 0 {
		return 0, false
	}
	return x.queue[0].due, true
}

// Due returns the deadline of a scheduled timer.
func (x *Heap) Due(id ID) (uint64, bool) {
	e, ok := x.entries.Get(slotmap.Key(id))
	if !ok {
		return 0, false
	}
	return e.due, true
}

// Tick runs every timer due at or before now, in order of deadline, then
// scheduling order, returning the number run. Timers scheduled by timer
// functions during the tick are not run until the next tick. Periodic
// timers are rescheduled to now plus their period, once every due timer
// has run.
//
// A panic raised by a timer function propagates to the caller, though
// periodic timers that already ran are still rescheduled.
func (x *Heap) Tick(now uint64) (fired int) {
	var (
		limit      = x.seq
		reschedule []slotmap.Key
		deferred   []item
	)
	x.ticking = true
	defer func() {
		x.ticking = false
		for _, key := range reschedule {
			// may have been cleared by a later timer
			if e, ok := x.entries.Get(key); ok {
				e.due = deadline(now, e.period)
				x.push(key, e)
			}
		}
		for _, it := range deferred {
			heap.Push(&x.queue, it)
		}
		x.isArmed = false
		x.updateAlarm()
	}()

	for len(x.queue) != 0 && x.queue[0].due <= now {
		it := heap.Pop(&x.queue).(item)
		e, ok := x.entries.Get(it.key)
		if !ok {
			continue
		}
		if it.seq > limit {
			deferred = append(deferred, it)
			continue
		}
		if e.period == 0 {
			x.entries.Remove(it.key)
		} else {
			reschedule = append(reschedule, it.key)
		}
		fired++
		x.run(ID(it.key), e.fn)
	}
	return
}

func (x *Heap) run(id ID, fn Func) {
	f := fn()
	if f == nil {
		return
	}
	if x.spawner == nil {
		x.logger.Err().
			Str(`timer`, id.String()).
			Log(`timers: no spawner, discarding future`)
		return
	}
	if _, err := x.spawner.Spawn(f); err != nil {
		x.logger.Err().
			Str(`timer`, id.String()).
			Err(err).
			Log(`timers: failed to spawn future`)
	}
}

// Reset clears every timer, and forgets the armed deadline.
func (x *Heap) Reset() int {
	n := x.entries.Len()
	x.entries.Clear()
	clear(x.queue)
	x.queue = x.queue[:0]
	x.isArmed = false
	return n
}

// discardCleared pops queue items for cleared timers, until the head is
// live.
func (x *Heap) discardCleared() {
	for len(x.queue) != 0 && !x.entries.Contains(x.queue[0].key) {
		heap.Pop(&x.queue)
	}
}

func (x *Heap) updateAlarm() {
	if x.ticking {
		return
	}
	next, ok := x.Next()
	if !ok || (x.isArmed && next >= x.armed) {
		return
	}
	x.armed = next
	x.isArmed = true
	if x.alarm != nil {
		x.alarm.SetGlobalTimer(next)
	}
}

// deadline returns now+delay, saturating.
func deadline(now uint64, delay time.Duration) uint64 {
	if delay <= 0 {
		return now
	}
	if uint64(delay) > math.MaxUint64-now {
		return math.MaxUint64
	}
	return now + uint64(delay)
}

func (h timerQueue) Len() int { return len(h) }

func (h timerQueue) Less(i, j int) bool {
	if h[i].due != h[j].due {
		return h[i].due < h[j].due
	}
	return h[i].seq < h[j].seq
}

func (h timerQueue) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timerQueue) Push(x any) { *h = append(*h, x.(item)) }

func (h *timerQueue) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = item{}
	*h = old[:n-1]
	return x
}
