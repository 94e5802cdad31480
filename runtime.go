// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package icexec

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/go-icexec/call"
	"github.com/joeycumines/go-icexec/executor"
	"github.com/joeycumines/go-icexec/timers"
	"github.com/joeycumines/logiface"
)

type (
	// Host is the environment the runtime is embedded in, which delivers
	// messages via the entry points of Runtime.
	Host interface {
		call.Host
		timers.Clock
		timers.Alarm
	}

	// Runtime ties together the task executor, call registry, and timers,
	// for one instance. Host-facing entry points (Update, Query, Reply,
	// Reject, Cleanup, GlobalTimer) each handle one host message,
	// recovering traps.
	// Application-facing methods (Spawn, Call, SetTimer, etc.) are intended
	// to be called from within those messages.
	//
	// A Runtime is not safe for concurrent use.
	Runtime struct {
		host   Host
		exec   *executor.Executor
		calls  *call.Registry
		timers *timers.Heap
		logger *logiface.Logger[logiface.Event]
		epoch  uint64
		traps  uint64
		active bool
	}

	// Stats is a snapshot of runtime state, see Runtime.Stats.
	Stats struct {
		// Tasks is the number of live tasks.
		Tasks int
		// Calls is the number of live call continuations.
		Calls int
		// Timers is the number of scheduled timers.
		Timers int
		// Epoch counts host invocations.
		Epoch uint64
		// Traps counts invocations that trapped.
		Traps uint64
	}
)

// New initialises a new Runtime.
func New(host Host, opts ...Option) (*Runtime, error) {
	if host == nil {
		return nil, ErrNilHost
	}
	cfg, err := resolveRuntimeOptions(opts)
	if err != nil {
		return nil, err
	}
	var limiter *catrate.Limiter
	if cfg.warningRates != nil {
		if limiter, err = newLimiter(cfg.warningRates); err != nil {
			return nil, err
		}
	}
	r := Runtime{
		host:   host,
		logger: cfg.logger,
		exec:   executor.New(&executor.Config{Logger: cfg.logger}),
	}
	r.calls = call.NewRegistry(host, &call.RegistryConfig{
		Logger:  cfg.logger,
		Limiter: limiter,
	})
	r.timers = timers.New(&timers.Config{
		Clock:   host,
		Alarm:   host,
		Spawner: r.exec,
		Logger:  cfg.logger,
	})
	return &r, nil
}

func newLimiter(rates map[time.Duration]int) (limiter *catrate.Limiter, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf(`%w: %v`, ErrInvalidRateLimits, r)
		}
	}()
	return catrate.NewLimiter(rates), nil
}

// Update handles an update method, running application code, fn, typically
// spawning tasks. Migratory tasks still pending when the method returns
// continue in later messages, while bound tasks are cancelled (see
// executor.Executor.Exit). Calls dispatched by the method keep it from
// returning until their callbacks run.
func (r *Runtime) Update(fn func()) error {
	return r.invoke(`update`, r.enterMethod(executor.UpdateContext), fn)
}

// Query handles a query method. Unlike Update, only bound tasks may be
// spawned, and migratory tasks are not run.
func (r *Runtime) Query(fn func()) error {
	return r.invoke(`query`, r.enterMethod(executor.QueryContext), fn)
}

// Reply handles the reply callback for a call, in the context of the method
// that made it.
func (r *Runtime) Reply(h call.Handle, payload []byte) error {
	return r.invoke(`reply`, r.enterCallback(h), func() { r.calls.Reply(h, payload) })
}

// Reject handles the reject callback for a call, in the context of the
// method that made it.
func (r *Runtime) Reject(h call.Handle, code call.RejectCode, message string) error {
	return r.invoke(`reject`, r.enterCallback(h), func() { r.calls.Reject(h, code, message) })
}

// Cleanup handles the cleanup callback the host invokes after the reply or
// reject callback for h trapped. The task that was waiting on h is destroyed
// without being resumed, and the continuation is discarded. If that was the
// last call keeping the method alive, the method's bound tasks are
// cancelled too. The runtime stays in recovery mode until the message ends.
func (r *Runtime) Cleanup(h call.Handle) error {
	return r.invoke(`cleanup`, r.enterCallback(h), func() {
		r.exec.SetRecovering(true)
		if waker, ok := r.calls.Waiter(h); ok {
			r.exec.Cancel(waker.Task())
		}
		if r.calls.Discard(h) {
			r.logger.Debug().
				Str(`handle`, h.String()).
				Log(`icexec: cleaned up continuation`)
		}
	})
}

// GlobalTimer handles the host's timer tick, running every timer due at or
// before now.
func (r *Runtime) GlobalTimer(now uint64) error {
	return r.invoke(`timer`, r.enterMethod(executor.UpdateContext), func() { r.timers.Tick(now) })
}

func (r *Runtime) enterMethod(kind executor.ContextKind) func() error {
	return func() error {
		_, err := r.exec.EnterMethod(kind)
		return err
	}
}

func (r *Runtime) enterCallback(h call.Handle) func() error {
	return func() error { return r.exec.EnterFor(r.calls.Method(h)) }
}

// invoke runs fn as a single host message, then drains ready tasks, then
// exits the executor context. A panic, or local tasks left incomplete by
// the method returning, is recovered as a *TrapError, after discarding all
// tasks and call continuations.
func (r *Runtime) invoke(entry string, enter func() error, fn func()) (err error) {
	if r.active {
		return ErrReentrant
	}
	r.active = true
	r.epoch++
	r.calls.SetEpoch(r.epoch)
	if n := r.exec.Queued(); n != 0 {
		r.logger.Warning().
			Str(`entry`, entry).
			Int(`queued`, n).
			Log(`icexec: ready queue not empty at entry`)
	}
	if err := enter(); err != nil {
		r.active = false
		return err
	}
	defer func() {
		if v := recover(); v != nil {
			err = r.recoverTrap(entry, v, debug.Stack())
			_ = r.exec.Exit()
		}
		r.exec.SetRecovering(false)
		r.active = false
	}()
	fn()
	r.exec.Run()
	if err := r.exec.Exit(); err != nil {
		panic(err)
	}
	return nil
}

func (r *Runtime) recoverTrap(entry string, value any, stack []byte) error {
	r.exec.SetRecovering(true)
	defer r.exec.SetRecovering(false)
	tasks := r.exec.CancelAll()
	freed, dropped := r.calls.Invalidate(r.epoch)
	r.traps++
	trap := &TrapError{Value: value, Entry: entry, Stack: stack}
	r.logger.Err().
		Err(trap).
		Uint64(`epoch`, r.epoch).
		Int(`tasks`, tasks).
		Int(`calls_freed`, freed).
		Int(`calls_dropped`, dropped).
		Log(`icexec: trapped, state discarded`)
	return trap
}

// Reset discards every task, call continuation, and timer, e.g. after the
// instance was upgraded. Replies for discarded calls are later logged as
// unknown, and ignored.
func (r *Runtime) Reset() {
	r.exec.SetRecovering(true)
	defer r.exec.SetRecovering(false)
	tasks := r.exec.CancelAll()
	calls := r.calls.Reset()
	timerCount := r.timers.Reset()
	r.logger.Info().
		Int(`tasks`, tasks).
		Int(`calls`, calls).
		Int(`timers`, timerCount).
		Log(`icexec: reset`)
}

// IsRecovering reports whether the runtime is discarding state, after a
// trap or during Cleanup or Reset.
func (r *Runtime) IsRecovering() bool { return r.exec.Recovering() }

// Stats returns a snapshot of the runtime state.
func (r *Runtime) Stats() Stats {
	return Stats{
		Tasks:  r.exec.Len(),
		Calls:  r.calls.Len(),
		Timers: r.timers.Len(),
		Epoch:  r.epoch,
		Traps:  r.traps,
	}
}

// Spawn starts f as a migratory top-level task, which may outlive the
// current method. It must be called from within an entry point, fails with
// executor.ErrRecovering while recovering, and with
// executor.ErrQueryContext within Query.
func (r *Runtime) Spawn(f executor.Future[struct{}]) error {
	_, err := r.exec.Spawn(f)
	return err
}

// SpawnFunc starts body as a top-level task, see executor.Async.
func (r *Runtime) SpawnFunc(body func(a *executor.Awaiter)) error {
	return r.Spawn(executor.Async(body))
}

// SpawnWeak starts f as a task bound to the current method, which is
// cancelled if the method returns before it completes.
func (r *Runtime) SpawnWeak(f executor.Future[struct{}]) error {
	_, err := r.exec.SpawnWeak(f)
	return err
}

// SpawnLocal starts f as a task bound to the current method, which must
// complete before the method returns, or the message traps.
func (r *Runtime) SpawnLocal(f executor.Future[struct{}]) error {
	_, err := r.exec.SpawnLocal(f)
	return err
}

// Call starts building a call to method on target.
func (r *Runtime) Call(target call.Principal, method string) *call.Builder {
	return r.calls.Call(target, method)
}

// SetTimer schedules fn to run once, after delay.
func (r *Runtime) SetTimer(delay time.Duration, fn timers.Func) timers.ID {
	return r.timers.SetTimer(delay, fn)
}

// SetTimerInterval schedules fn to run every period.
func (r *Runtime) SetTimerInterval(period time.Duration, fn timers.Func) timers.ID {
	return r.timers.SetTimerInterval(period, fn)
}

// ClearTimer cancels a timer, see timers.Heap.Clear.
func (r *Runtime) ClearTimer(id timers.ID) bool {
	return r.timers.Clear(id)
}

// Delay returns a future that completes once d has elapsed.
func (r *Runtime) Delay(d time.Duration) *timers.Delay {
	return r.timers.Delay(d)
}

// Sleep suspends the Async body for d.
func (r *Runtime) Sleep(a *executor.Awaiter, d time.Duration) {
	executor.Await[struct{}](a, r.timers.Delay(d))
}
