// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package scenario

import (
	"errors"
	"fmt"
	"io"

	"github.com/joeycumines/go-icexec"
	"github.com/joeycumines/go-icexec/call"
	"github.com/joeycumines/go-icexec/executor"
	"github.com/joeycumines/go-icexec/simhost"
	"github.com/joeycumines/go-icexec/timers"
)

// Runner replays scenarios against a simulated host, writing a line per
// observed event to Out.
type Runner struct {
	Host   *simhost.Host
	Out    io.Writer
	timers map[string]timers.ID
}

// Report summarises a run.
type Report struct {
	Stats icexec.Stats
	// InFlight is the number of calls still awaiting resolution.
	InFlight int
	// Traps is the number of messages that trapped.
	Traps int
}

// Run replays every step in order. Traps are reported, and do not stop the
// run. Any other failure, e.g. a reply for a call that is not in flight,
// stops the run.
func (x *Runner) Run(sc *Scenario) (*Report, error) {
	if x.Host == nil {
		return nil, errors.New(`scenario: nil host`)
	}
	if x.Out == nil {
		x.Out = io.Discard
	}
	if x.timers == nil {
		x.timers = make(map[string]timers.ID)
	}
	var report Report
	for i := range sc.Steps {
		step := &sc.Steps[i]
		err := x.step(step)
		var trap *icexec.TrapError
		if errors.As(err, &trap) {
			report.Traps++
			x.printf("trap: %s: %v\n", trap.Entry, trap.Value)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i+1, step.Op, err)
		}
	}
	report.Stats = x.Host.Runtime().Stats()
	report.InFlight = len(x.Host.InFlight())
	return &report, nil
}

func (x *Runner) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(x.Out, format, args...)
}

func (x *Runner) step(step *Step) error {
	h := x.Host
	rt := h.Runtime()
	switch step.Op {
	case OpSpawn:
		return h.Update(func() {
			if err := rt.SpawnFunc(x.task(step.Task, step.Actions)); err != nil {
				x.printf("task %s: spawn failed: %v\n", step.Task, err)
			}
		})

	case OpNotify:
		return h.Update(func() {
			b, err := x.builder(&step.Call)
			if err == nil {
				err = b.Notify()
			}
			x.printf("notify %s: %v\n", step.Call.Method, errString(err))
		})

	case OpReply, OpReject:
		c, ok := h.Find(step.Method)
		if !ok {
			return fmt.Errorf("no call to %q in flight", step.Method)
		}
		if step.Op == OpReply {
			return h.Reply(c, []byte(step.Payload))
		}
		return h.Reject(c, call.RejectCode(step.Code), step.Message)

	case OpAdvance:
		return h.Advance(step.Duration)

	case OpTimer, OpInterval:
		name := step.Name
		fn := timers.Sync(func() { x.printf("timer %s: fired at %d\n", name, h.Time()) })
		return h.Update(func() {
			if step.Op == OpInterval {
				x.timers[name] = rt.SetTimerInterval(step.Duration, fn)
			} else {
				x.timers[name] = rt.SetTimer(step.Duration, fn)
			}
		})

	case OpClear:
		id, ok := x.timers[step.Name]
		if !ok {
			return fmt.Errorf("unknown timer %q", step.Name)
		}
		delete(x.timers, step.Name)
		return h.Update(func() {
			x.printf("timer %s: cleared %v\n", step.Name, rt.ClearTimer(id))
		})

	case OpTrap:
		message := step.Message
		if message == `` {
			message = `trap`
		}
		return h.Update(func() { panic(message) })

	case OpUpgrade:
		clear(x.timers)
		if err := h.Upgrade(); err != nil {
			return err
		}
		x.printf("upgrade\n")
		return nil

	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
}

func (x *Runner) task(name string, actions []Action) func(a *executor.Awaiter) {
	rt := x.Host.Runtime()
	return func(a *executor.Awaiter) {
		defer func() {
			if a.Cancelled() {
				x.printf("task %s: destroyed\n", name)
			}
		}()
		x.printf("task %s: started\n", name)
		for i := range actions {
			action := &actions[i]
			switch {
			case action.Panic != ``:
				panic(action.Panic)

			case action.Sleep != 0:
				rt.Sleep(a, action.Sleep)
				x.printf("task %s: slept until %d\n", name, x.Host.Time())

			default:
				b, err := x.builder(action)
				if err != nil {
					x.printf("task %s: %s: %v\n", name, action.Method, err)
					return
				}
				payload, err := b.Await(a)
				if err != nil {
					x.printf("task %s: %s: %v\n", name, action.Method, err)
					continue
				}
				x.printf("task %s: %s: reply %q\n", name, action.Method, payload)
			}
		}
		x.printf("task %s: done\n", name)
	}
}

func (x *Runner) builder(action *Action) (*call.Builder, error) {
	target, err := action.target()
	if err != nil {
		return nil, err
	}
	b := x.Host.Runtime().Call(target, action.Method).
		WithArgs([]byte(action.Args)).
		WithCycles(action.Cycles)
	if action.Unbounded {
		b.WithUnboundedWait()
	} else {
		b.WithBoundedWait(action.Timeout)
	}
	return b, nil
}

func errString(err error) string {
	if err == nil {
		return `ok`
	}
	return err.Error()
}
