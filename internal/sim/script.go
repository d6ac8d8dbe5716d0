// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sim

import (
	"context"
	"fmt"
	"sync"

	"github.com/ManuGH/helixinit/internal/initctx"
	"github.com/ManuGH/helixinit/internal/initerr"
	"github.com/ManuGH/helixinit/internal/log"
	"github.com/ManuGH/helixinit/internal/phase"
	"github.com/ManuGH/helixinit/internal/registry"
	"github.com/ManuGH/helixinit/internal/subsystem"
)

// Trace records the calls and compensations of scripted subsystems in order.
type Trace struct {
	mu     sync.Mutex
	events []string
}

func (t *Trace) add(format string, args ...any) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, fmt.Sprintf(format, args...))
}

// Events returns a copy of the recorded events.
func (t *Trace) Events() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.events...)
}

// Stub is the service a scripted subsystem publishes for a provided tag.
type Stub struct {
	Provider string
	Tag      phase.Capability
}

// Script is a subsystem whose behavior comes from a manifest spec.
type Script struct {
	registry.Base
	spec  Spec
	trace *Trace

	mu    sync.Mutex
	calls map[string]int

	// Consumed holds the stubs fetched for needed tags during the last init.
	Consumed []Stub
}

// NewScript builds a scripted subsystem.
func NewScript(d subsystem.Descriptor, spec Spec, trace *Trace) *Script {
	return &Script{Base: registry.Base{Desc: d}, spec: spec, trace: trace, calls: make(map[string]int)}
}

// Calls returns how often step ran.
func (s *Script) Calls(step string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[step]
}

// step counts the call and returns the scripted fault, if any applies.
func (s *Script) step(name string) error {
	s.mu.Lock()
	s.calls[name]++
	n := s.calls[name]
	s.mu.Unlock()

	s.trace.add("%s %s", name, s.Desc.Name)
	for _, f := range s.spec.Faults {
		if f.Step != name || (f.Times > 0 && n > f.Times) {
			continue
		}
		msg := f.Message
		if msg == "" {
			msg = fmt.Sprintf("injected %s fault in %s (call %d)", f.Kind, name, n)
		}
		if f.Panic {
			panic(msg)
		}
		return initerr.New(f.Kind, msg)
	}
	return nil
}

func (s *Script) Validate() error {
	if err := s.step(StepValidate); err != nil {
		return err
	}
	return s.Base.Validate()
}

func (s *Script) CheckDeps(v registry.View) error {
	if err := s.step(StepCheckDeps); err != nil {
		return err
	}
	return s.Base.CheckDeps(v)
}

// Init fetches needed services, records resource usage, registers one
// rollback action per simulated side effect and publishes provided tags.
func (s *Script) Init(c *initctx.Context) error {
	consumed := make([]Stub, 0, len(s.spec.Needs))
	for _, tag := range s.spec.Needs {
		stub, err := initctx.Service[Stub](c, tag)
		if err != nil {
			return err
		}
		consumed = append(consumed, stub)
	}
	s.mu.Lock()
	s.Consumed = consumed
	s.mu.Unlock()

	if s.spec.Usage > 0 {
		c.ResourceUsed(s.spec.Usage)
	}
	name := s.Desc.Name
	for i := 1; i <= s.spec.Actions; i++ {
		handle := uint64(i)
		if err := c.Undo("sim", handle, func(context.Context) error {
			s.trace.add("undo %s#%d", name, handle)
			return nil
		}); err != nil {
			return err
		}
	}
	for _, tag := range s.spec.Provides {
		if err := c.Publish(tag, Stub{Provider: name, Tag: tag}); err != nil {
			return err
		}
	}
	if err := s.step(StepInit); err != nil {
		return err
	}
	c.Logger().Debug().
		Str(log.FieldEvent, "sim.init").
		Int("actions", s.spec.Actions).
		Uint64("usage", s.spec.Usage).
		Msg("scripted init done")
	return nil
}

func (s *Script) Start() error { return s.step(StepStart) }
func (s *Script) Suspend() error { return s.step(StepSuspend) }
func (s *Script) Resume() error { return s.step(StepResume) }
func (s *Script) Cleanup() error { return s.step(StepCleanup) }

func (s *Script) Shutdown(*initctx.Context) error { return s.step(StepShutdown) }
