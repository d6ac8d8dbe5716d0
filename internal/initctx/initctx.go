// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package initctx provides the phase-scoped broker handed to a subsystem for
// the duration of a single lifecycle call. Kernel services are reachable only
// through it and only when the current phase grants their capability tag.
package initctx

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ManuGH/helixinit/internal/initerr"
	"github.com/ManuGH/helixinit/internal/phase"
	"github.com/ManuGH/helixinit/internal/rollback"
	"github.com/ManuGH/helixinit/internal/subsystem"
)

// Directory holds the kernel services published by provider subsystems, keyed
// by capability tag. It lives as long as the orchestrator.
type Directory struct {
	mu       sync.RWMutex
	services map[phase.Capability]entry
}

type entry struct {
	provider subsystem.ID
	svc      any
}

// NewDirectory returns an empty service directory.
func NewDirectory() *Directory {
	return &Directory{services: make(map[phase.Capability]entry)}
}

// Lookup returns the service published under tag.
func (d *Directory) Lookup(tag phase.Capability) (any, subsystem.ID, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.services[tag]
	return e.svc, e.provider, ok
}

// Withdraw removes every service published by id. It returns the withdrawn tags.
func (d *Directory) Withdraw(id subsystem.ID) []phase.Capability {
	d.mu.Lock()
	defer d.mu.Unlock()
	var tags []phase.Capability
	for tag, e := range d.services {
		if e.provider == id {
			delete(d.services, tag)
			tags = append(tags, tag)
		}
	}
	return tags
}

// Tags returns the published tags.
func (d *Directory) Tags() phase.Set {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var s phase.Set
	for tag := range d.services {
		s = s.With(tag)
	}
	return s
}

func (d *Directory) publish(tag phase.Capability, id subsystem.ID, svc any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.services[tag] = entry{provider: id, svc: svc}
}

// Context is the call-scoped broker. It must not be retained past the call it
// was handed to.
type Context struct {
	ctx     context.Context
	desc    subsystem.Descriptor
	phase   phase.Phase
	granted phase.Set
	dir     *Directory
	chain   *rollback.Chain
	logger  zerolog.Logger

	used        uint64
	allocations int
	actions     int
}

// Params wires a new Context.
type Params struct {
	Descriptor subsystem.Descriptor
	Phase      phase.Phase
	Directory  *Directory
	Chain      *rollback.Chain
	Logger     zerolog.Logger
}

// New builds a Context for one lifecycle call. The granted capabilities are
// those of p.Phase.
func New(ctx context.Context, p Params) *Context {
	if ctx == nil {
		ctx = context.Background()
	}
	dir := p.Directory
	if dir == nil {
		dir = NewDirectory()
	}
	return &Context{
		ctx:     ctx,
		desc:    p.Descriptor,
		phase:   p.Phase,
		granted: p.Phase.Grants(),
		dir:     dir,
		chain:   p.Chain,
		logger:  p.Logger,
	}
}

// Context returns the standard context bounding this call.
func (c *Context) Context() context.Context { return c.ctx }

// Phase returns the phase the call runs in.
func (c *Context) Phase() phase.Phase { return c.phase }

// Granted returns the capability set of the current phase.
func (c *Context) Granted() phase.Set { return c.granted }

// Subsystem returns the descriptor of the subsystem being driven.
func (c *Context) Subsystem() subsystem.Descriptor { return c.desc }

// Logger returns a logger annotated with the subsystem.
func (c *Context) Logger() *zerolog.Logger { return &c.logger }

// Lookup returns the raw service published under tag. It fails with Config if
// the phase does not grant tag and with Dependency if no provider published it.
func (c *Context) Lookup(tag phase.Capability) (any, error) {
	if !c.granted.Has(tag) {
		return nil, initerr.Newf(initerr.Config,
			"service %s not available in phase %s", tag, c.phase).For(c.desc)
	}
	svc, _, ok := c.dir.Lookup(tag)
	if !ok {
		return nil, initerr.Newf(initerr.Dependency,
			"no provider published service %s", tag).For(c.desc)
	}
	return svc, nil
}

// Service returns the service published under tag as T. The capability gate
// is checked first, so an ungranted tag always fails with Config even when a
// provider exists.
func Service[T any](c *Context, tag phase.Capability) (T, error) {
	var zero T
	raw, err := c.Lookup(tag)
	if err != nil {
		return zero, err
	}
	svc, ok := raw.(T)
	if !ok {
		return zero, initerr.Newf(initerr.Config,
			"service %s has type %T, not %T", tag, raw, zero).For(c.desc)
	}
	return svc, nil
}

// Publish makes svc available under tag. Only tags the subsystem declares in
// Provides may be published.
func (c *Context) Publish(tag phase.Capability, svc any) error {
	if !c.desc.ProvidesTag(tag) {
		return initerr.Newf(initerr.Config,
			"%s does not declare capability %s", c.desc.Label(), tag).For(c.desc)
	}
	c.dir.publish(tag, c.desc.ID, svc)
	return nil
}

// RegisterRollback appends a compensating action to the enclosing chain,
// attributed to this subsystem.
func (c *Context) RegisterRollback(a rollback.Action) error {
	if c.chain == nil {
		return initerr.New(initerr.Internal, "no rollback chain bound to context").For(c.desc)
	}
	a.Subsystem = c.desc.ID
	if a.Name == "" {
		a.Name = c.desc.Label()
	}
	if err := c.chain.Push(a); err != nil {
		return initerr.Wrap(initerr.Resource, err, "register rollback "+a.String()).For(c.desc)
	}
	c.actions++
	return nil
}

// Undo is a shorthand for RegisterRollback with a resource kind and handle.
func (c *Context) Undo(resource string, handle uint64, fn func(context.Context) error) error {
	return c.RegisterRollback(rollback.Action{Resource: resource, Handle: handle, Undo: fn})
}

// ResourceUsed records amount units allocated during this call.
func (c *Context) ResourceUsed(amount uint64) {
	c.used += amount
	c.allocations++
}

// Usage reports what this call allocated and registered.
func (c *Context) Usage() Usage {
	return Usage{Bytes: c.used, Allocations: c.allocations, Actions: c.actions}
}

// Usage is the resource ledger of one call.
type Usage struct {
	Bytes       uint64 `json:"bytes"`
	Allocations int    `json:"allocations"`
	Actions     int    `json:"rollback_actions"`
}

func (u Usage) String() string {
	return fmt.Sprintf("%dB in %d allocations, %d rollback actions", u.Bytes, u.Allocations, u.Actions)
}

// Add returns the sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		Bytes:       u.Bytes + o.Bytes,
		Allocations: u.Allocations + o.Allocations,
		Actions:     u.Actions + o.Actions,
	}
}
