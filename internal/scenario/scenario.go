// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package scenario loads and replays scripted host interactions against a
// simulated host.
package scenario

import (
	"errors"
	"fmt"
	"time"

	"github.com/joeycumines/go-icexec/call"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Step operations.
const (
	OpSpawn    = `spawn`
	OpNotify   = `notify`
	OpReply    = `reply`
	OpReject   = `reject`
	OpAdvance  = `advance`
	OpTimer    = `timer`
	OpInterval = `interval`
	OpClear    = `clear`
	OpTrap     = `trap`
	OpUpgrade  = `upgrade`
)

type (
	// Scenario is a named sequence of steps.
	Scenario struct {
		Name  string `koanf:"name"`
		Steps []Step `koanf:"steps"`
	}

	// Step is a single host interaction. Which fields apply depends on Op.
	Step struct {
		// Op is the operation, one of the Op* constants.
		Op string `koanf:"op"`
		// Task names the task started by spawn.
		Task string `koanf:"task"`
		// Actions are run in order by the task started by spawn.
		Actions []Action `koanf:"actions"`
		// Call describes the one-way call made by notify.
		Call Action `koanf:"call"`
		// Method selects the earliest in-flight call, for reply or reject.
		Method string `koanf:"method"`
		// Payload is the reply payload.
		Payload string `koanf:"payload"`
		// Code is the reject code.
		Code uint32 `koanf:"code"`
		// Message is the reject message, or the trap panic value.
		Message string `koanf:"message"`
		// Duration is the amount of time to advance, or the timer delay
		// or period.
		Duration time.Duration `koanf:"duration"`
		// Name identifies a timer, for timer, interval, and clear.
		Name string `koanf:"name"`
	}

	// Action is a single step of a spawned task: a call, a sleep, or a
	// panic.
	Action struct {
		Method  string        `koanf:"method"`
		Target  string        `koanf:"target"`
		Args    string        `koanf:"args"`
		Panic   string        `koanf:"panic"`
		Cycles  uint64        `koanf:"cycles"`
		Timeout time.Duration `koanf:"timeout"`
		Sleep   time.Duration `koanf:"sleep"`
		// Unbounded selects unbounded wait, Timeout is ignored.
		Unbounded bool `koanf:"unbounded"`
	}
)

// Load reads a scenario from a YAML file.
func Load(path string) (*Scenario, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("error reading scenario file %s: %w", path, err)
	}
	return decode(k)
}

func decode(k *koanf.Koanf) (*Scenario, error) {
	var sc Scenario
	if err := k.Unmarshal("", &sc); err != nil {
		return nil, fmt.Errorf("unable to decode scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate checks every step is well-formed.
func (x *Scenario) Validate() error {
	var errs []error
	for i := range x.Steps {
		if err := x.Steps[i].validate(); err != nil {
			errs = append(errs, fmt.Errorf("step %d (%s): %w", i+1, x.Steps[i].Op, err))
		}
	}
	return errors.Join(errs...)
}

func (x *Step) validate() error {
	switch x.Op {
	case OpSpawn:
		if x.Task == `` {
			return errors.New(`task is required`)
		}
		for i := range x.Actions {
			if err := x.Actions[i].validate(); err != nil {
				return fmt.Errorf("action %d: %w", i+1, err)
			}
		}
	case OpNotify:
		if x.Call.Method == `` {
			return errors.New(`call.method is required`)
		}
		return x.Call.validate()
	case OpReply:
		if x.Method == `` {
			return errors.New(`method is required`)
		}
	case OpReject:
		if x.Method == `` {
			return errors.New(`method is required`)
		}
		if _, err := call.ParseRejectCode(x.Code); err != nil {
			return err
		}
	case OpAdvance:
		if x.Duration < 0 {
			return errors.New(`duration must not be negative`)
		}
	case OpTimer, OpInterval:
		if x.Name == `` {
			return errors.New(`name is required`)
		}
		if x.Op == OpInterval && x.Duration <= 0 {
			return errors.New(`duration must be positive`)
		}
	case OpClear:
		if x.Name == `` {
			return errors.New(`name is required`)
		}
	case OpTrap, OpUpgrade:
	default:
		return fmt.Errorf("unknown op %q", x.Op)
	}
	return nil
}

func (x *Action) validate() error {
	var n int
	if x.Method != `` {
		n++
	}
	if x.Sleep != 0 {
		n++
	}
	if x.Panic != `` {
		n++
	}
	if n != 1 {
		return errors.New(`exactly one of method, sleep, or panic is required`)
	}
	if x.Sleep < 0 || x.Timeout < 0 {
		return errors.New(`durations must not be negative`)
	}
	if _, err := x.target(); err != nil {
		return err
	}
	return nil
}

func (x *Action) target() (call.Principal, error) {
	if x.Target == `` {
		return call.ManagementCanister, nil
	}
	return call.ParsePrincipal(x.Target)
}
