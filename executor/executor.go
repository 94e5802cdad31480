// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package executor implements a single-threaded, poll-based task executor,
// intended to be driven by a host that only ever calls in with one message
// at a time.
//
// Tasks are woken by a Waker, which either starts the poll loop (if none is
// running) or queues the task for the running loop to pick up. A task is
// never polled re-entrantly, and a waker whose task no longer exists is
// silently ignored.
//
// Each host message runs in an executor context. Contexts opened by
// EnterMethod track a method: tasks spawned by SpawnWeak or SpawnLocal are
// bound to it, only run while it is the current method, and are cancelled
// once it returns. A method returns when its context is exited and no
// MethodHandle for it remains. Tasks spawned by Spawn are migratory: they
// may outlive the method that spawned them, and run in whichever update
// context wakes them.
package executor

import (
	"fmt"

	"github.com/joeycumines/go-icexec/internal/slotmap"
	"github.com/joeycumines/logiface"
)

type (
	// Executor owns spawned tasks and drives them to completion.
	//
	// It is not safe for concurrent use. All methods must be called from
	// the goroutine that is handling the current host message.
	Executor struct {
		tasks   *slotmap.Map[*task]
		methods *slotmap.Map[*method]
		queue   []slotmap.Key
		// migratory holds migratory tasks woken in a query context
		migratory []slotmap.Key
		logger    *logiface.Logger[logiface.Event]
		current   slotmap.Key
		// method is the current method, zero in the null context
		method    slotmap.Key
		polls     uint64
		abandoned int
		inContext bool
		polling   bool
		// recovering is set while state is being torn down, see
		// SetRecovering
		recovering bool
	}

	// Config models optional configuration for New.
	Config struct {
		// Logger is used to report panics while dropping tasks, and other
		// diagnostics. May be nil.
		Logger *logiface.Logger[logiface.Event]
	}

	// TaskID identifies a spawned task. Once the task completes (or is
	// cancelled), its ID becomes dangling, and is never reused.
	TaskID uint64

	// TaskState is the lifecycle state of a task.
	TaskState uint8

	// Context is passed to Future.Poll, and carries the waker for the task
	// being polled.
	Context struct {
		waker Waker
	}

	// Waker reschedules the task it was created for. The zero value is
	// valid, and does nothing when woken.
	Waker struct {
		exec *Executor
		task TaskID
	}

	task struct {
		future  Future[struct{}]
		binding slotmap.Key
		state   TaskState
		local   bool
	}
)

const (
	// TaskPending indicates the task is suspended, awaiting a wake.
	TaskPending TaskState = iota
	// TaskReady indicates the task is in the ready queue.
	TaskReady
	// TaskCompleted indicates the task finished. Completed tasks are
	// reclaimed immediately, so this state is only observed transiently.
	TaskCompleted
)

// New initialises a new Executor. The config may be nil.
func New(config *Config) *Executor {
	x := Executor{
		tasks:   slotmap.New[*task](),
		methods: slotmap.New[*method](),
	}
	if config != nil {
		x.logger = config.Logger
	}
	return &x
}

// NewContext returns a context carrying the given waker, for polling
// futures outside of an executor, e.g. in tests.
func NewContext(waker Waker) *Context { return &Context{waker: waker} }

// Waker returns the waker for the task currently being polled. It is safe to
// call on a nil receiver, returning the zero Waker.
func (cx *Context) Waker() Waker {
	if cx == nil {
		return Waker{}
	}
	return cx.waker
}

// Wake schedules the task for polling. Waking a task that has already
// completed, or the zero Waker, does nothing, even outside any executor
// context. Otherwise, it returns ErrNoContext if called outside any
// executor context.
func (w Waker) Wake() error {
	if w.exec == nil {
		return nil
	}
	return w.exec.wake(slotmap.Key(w.task))
}

// Task returns the ID of the task this waker reschedules.
func (w Waker) Task() TaskID { return w.task }

// IsZero reports whether w is the zero Waker.
func (w Waker) IsZero() bool { return w.exec == nil }

func (x TaskID) String() string { return slotmap.Key(x).String() }

func (x TaskState) String() string {
	switch x {
	case TaskPending:
		return `pending`
	case TaskReady:
		return `ready`
	case TaskCompleted:
		return `completed`
	default:
		return fmt.Sprintf(`taskstate(%d)`, uint8(x))
	}
}

// Enter opens the null executor context, for the duration of a host
// message that is not tracked as a method. Only migratory tasks may be
// spawned. Exit must be called (typically deferred) to close it.
func (x *Executor) Enter() error {
	if x.inContext {
		return ErrContextActive
	}
	x.open(0)
	return nil
}

// Exit closes the current executor context. If it was a method context,
// and no MethodHandle for the method remains, the method returns, and every
// task still bound to it is cancelled. An IncompleteError is returned if
// any of those were local tasks, cancelled while not recovering. Exit is a
// no-op if no context is open.
func (x *Executor) Exit() error {
	if !x.inContext {
		return nil
	}
	key := x.method
	x.inContext = false
	x.method = 0
	if m, ok := x.methods.Get(key); ok && m.handles <= 0 {
		x.finish(key)
	}
	return x.takeAbandoned()
}

// InContext reports whether an executor context is open.
func (x *Executor) InContext() bool { return x.inContext }

// Polling reports whether the poll loop is running.
func (x *Executor) Polling() bool { return x.polling }

// Recovering reports whether the executor is tearing down state.
func (x *Executor) Recovering() bool { return x.recovering }

// SetRecovering toggles recovery mode. While recovering, Spawn fails with
// ErrRecovering, and wakes queue without polling.
func (x *Executor) SetRecovering(recovering bool) { x.recovering = recovering }

// Len returns the number of live tasks.
func (x *Executor) Len() int { return x.tasks.Len() }

// Queued returns the number of entries in the ready queue.
func (x *Executor) Queued() int { return len(x.queue) }

// Polls returns the total number of task polls performed.
func (x *Executor) Polls() uint64 { return x.polls }

// Current returns the task being polled, if any.
func (x *Executor) Current() (TaskID, bool) {
	if !x.polling || x.current.IsZero() {
		return 0, false
	}
	return TaskID(x.current), true
}

// State returns the state of a live task.
func (x *Executor) State(id TaskID) (TaskState, bool) {
	t, ok := x.tasks.Get(slotmap.Key(id))
	if !ok {
		return 0, false
	}
	return t.state, true
}

// Spawn registers f as a new migratory top-level task, and queues it. If no
// poll loop is running, one is started, meaning f will typically be polled
// (up until its first suspension) before Spawn returns. Migratory tasks
// cannot be spawned in a query context.
func (x *Executor) Spawn(f Future[struct{}]) (TaskID, error) {
	return x.spawn(f, false, false)
}

// SpawnWeak is like Spawn, but binds the task to the current method: it
// only runs while that method is current, and is cancelled if the method
// returns first. It fails with ErrNoMethod in the null context.
func (x *Executor) SpawnWeak(f Future[struct{}]) (TaskID, error) {
	return x.spawn(f, true, false)
}

// SpawnLocal is like SpawnWeak, but the task is expected to complete before
// its method returns: if it is cancelled by the method returning, outside
// of trap recovery, Exit returns an IncompleteError.
func (x *Executor) SpawnLocal(f Future[struct{}]) (TaskID, error) {
	return x.spawn(f, true, true)
}

func (x *Executor) spawn(f Future[struct{}], bound, local bool) (TaskID, error) {
	if f == nil {
		return 0, ErrNilFuture
	}
	if x.recovering {
		return 0, ErrRecovering
	}
	if !x.inContext {
		return 0, ErrNoContext
	}
	t := task{future: f, state: TaskReady}
	if bound {
		if x.method.IsZero() {
			return 0, ErrNoMethod
		}
		t.binding = x.method
		t.local = local
	} else if x.kind() == QueryContext {
		return 0, ErrQueryContext
	}
	key := x.tasks.Insert(&t)
	x.queue = append(x.queue, key)
	if !x.polling {
		x.Run()
	}
	return TaskID(key), nil
}

func (x *Executor) wake(key slotmap.Key) error {
	t, ok := x.tasks.Get(key)
	if !ok {
		// dangling waker, e.g. the task completed or was cancelled
		return nil
	}
	if !x.inContext {
		return ErrNoContext
	}
	if t.state == TaskReady {
		return nil
	}
	t.state = TaskReady
	x.queue = append(x.queue, key)
	if !x.polling && !x.recovering {
		x.Run()
	}
	return nil
}

// Run drains the ready queue, polling each task in FIFO order, including
// tasks woken while the loop is running. It is a no-op if the loop is
// already running (it never recurses).
//
// Panics raised by a task propagate to the caller, after resetting the
// polling state, leaving the remaining queue intact.
func (x *Executor) Run() {
	if x.polling || x.recovering {
		return
	}
	x.polling = true
	defer func() {
		x.polling = false
		x.current = 0
	}()
	for len(x.queue) != 0 {
		key := x.queue[0]
		x.queue[0] = 0
		x.queue = x.queue[1:]

		t, ok := x.tasks.Get(key)
		if !ok || t.state != TaskReady {
			continue
		}
		if !x.runnable(t) {
			x.postpone(key, t)
			continue
		}
		t.state = TaskPending
		x.current = key
		x.polls++
		_, status := t.future.Poll(&Context{waker: Waker{exec: x, task: TaskID(key)}})
		x.current = 0
		if status == Ready {
			t.state = TaskCompleted
			t.future = nil
			x.tasks.Remove(key)
		}
	}
	x.queue = x.queue[:0]
}

// Cancel destroys a live task without resuming it, dropping its
// computation. It returns false if the task does not exist.
func (x *Executor) Cancel(id TaskID) bool {
	t, ok := x.tasks.Remove(slotmap.Key(id))
	if !ok {
		return false
	}
	x.dropTask(id, t)
	return true
}

// CancelAll destroys every live task, clears the ready queue, and forgets
// every method (outstanding MethodHandle values become no-ops), returning
// the number of tasks destroyed.
func (x *Executor) CancelAll() int {
	keys := x.tasks.Keys()
	var n int
	for _, key := range keys {
		// tasks may be removed by the drop of an earlier task
		if t, ok := x.tasks.Remove(key); ok {
			n++
			x.dropTask(TaskID(key), t)
		}
	}
	clear(x.queue)
	x.queue = x.queue[:0]
	x.migratory = nil
	x.methods.Clear()
	return n
}

// dropTask runs after the task was removed, so any waker invoked by the
// drop is already dangling.
func (x *Executor) dropTask(id TaskID, t *task) {
	f := t.future
	t.future = nil
	t.state = TaskCompleted
	defer func() {
		if r := recover(); r != nil {
			x.logger.Err().
				Str(`task`, id.String()).
				Any(`panic`, r).
				Log(`executor: task panicked while being dropped`)
		}
	}()
	drop(f)
}
