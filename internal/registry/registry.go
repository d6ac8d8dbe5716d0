// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package registry owns every registered subsystem, its lifecycle state and the
// dependency graph used to order initialization.
package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/ManuGH/helixinit/internal/initctx"
	"github.com/ManuGH/helixinit/internal/initerr"
	"github.com/ManuGH/helixinit/internal/phase"
	"github.com/ManuGH/helixinit/internal/subsystem"
)

// ErrNotFound is wrapped by lookups of unregistered ids.
var ErrNotFound = errors.New("subsystem not registered")

// Transition describes one applied state change.
type Transition struct {
	ID    subsystem.ID
	Name  string
	Phase phase.Phase
	From  subsystem.State
	To    subsystem.State
	At    time.Time
}

// Entry is a registered subsystem with its mutable bookkeeping.
type Entry struct {
	Desc      subsystem.Descriptor
	Impl      Subsystem
	State     subsystem.State
	Since     time.Time
	Attempts  int
	Usage     initctx.Usage
	LastError *initerr.InitError
	seq       int
}

// Option configures a Registry.
type Option func(*Registry)

// WithDescriptorHook rewrites each descriptor at registration, e.g. to apply
// operator policy overrides.
func WithDescriptorHook(fn func(subsystem.Descriptor) subsystem.Descriptor) Option {
	return func(r *Registry) { r.hook = fn }
}

// WithTransitionHook is called after every applied state change, outside the
// registry lock.
func WithTransitionHook(fn func(Transition)) Option {
	return func(r *Registry) { r.onTransition = append(r.onTransition, fn) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// Registry holds all subsystems. Reads are safe from any goroutine; writes are
// expected from the orchestrator only.
type Registry struct {
	mu      sync.RWMutex
	entries map[subsystem.ID]*Entry
	seq     int

	hook         func(subsystem.Descriptor) subsystem.Descriptor
	onTransition []func(Transition)
	now          func() time.Time
}

// New returns an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[subsystem.ID]*Entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddTransitionHook installs fn after construction.
func (r *Registry) AddTransitionHook(fn func(Transition)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onTransition = append(r.onTransition, fn)
}

// Register adds impl in state Registered. It fails with Config when the id is
// taken or when the registration would create a dependency on a later phase,
// in either direction: a dependency declared here on a later-phase subsystem,
// or an earlier-phase subsystem already depending on this one.
func (r *Registry) Register(impl Subsystem) (subsystem.ID, error) {
	if impl == nil {
		return 0, initerr.New(initerr.Config, "nil subsystem")
	}
	d := impl.Descriptor()
	if d.Name == "" && d.ID == 0 {
		return 0, initerr.New(initerr.Config, "descriptor has neither name nor id")
	}
	d = d.Normalize()
	if r.hook != nil {
		d = r.hook(d)
	}
	if !d.Phase.Valid() {
		return 0, initerr.Newf(initerr.Config, "invalid phase %d", int(d.Phase)).For(d)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.entries[d.ID]; ok {
		return 0, initerr.Newf(initerr.Config, "id %s already registered by %s", d.ID, prev.Desc.Label()).For(d)
	}
	if err := r.checkForward(d); err != nil {
		return 0, err
	}

	r.seq++
	r.entries[d.ID] = &Entry{
		Desc:  d,
		Impl:  impl,
		State: subsystem.Registered,
		Since: r.now(),
		seq:   r.seq,
	}
	return d.ID, nil
}

func (r *Registry) checkForward(d subsystem.Descriptor) error {
	for _, dep := range d.Dependencies {
		if e, ok := r.entries[dep]; ok && e.Desc.Phase > d.Phase {
			return initerr.Newf(initerr.Config,
				"forward dependency on %s (%s) from phase %s", e.Desc.Label(), e.Desc.Phase, d.Phase).For(d)
		}
	}
	for _, tag := range d.Needs {
		for _, e := range r.entries {
			if e.Desc.ProvidesTag(tag) && e.Desc.Phase > d.Phase {
				return initerr.Newf(initerr.Config,
					"forward dependency on %s provider %s (%s) from phase %s", tag, e.Desc.Label(), e.Desc.Phase, d.Phase).For(d)
			}
		}
	}
	for _, e := range r.entries {
		if e.Desc.Phase >= d.Phase {
			continue
		}
		if e.Desc.DependsOn(d.ID) {
			return initerr.Newf(initerr.Config,
				"%s (%s) already depends on it; phase %s is later", e.Desc.Label(), e.Desc.Phase, d.Phase).For(d)
		}
		for _, tag := range d.Provides {
			if e.Desc.NeedsTag(tag) {
				return initerr.Newf(initerr.Config,
					"%s (%s) needs %s; provider phase %s is later", e.Desc.Label(), e.Desc.Phase, tag, d.Phase).For(d)
			}
		}
	}
	return nil
}

// Len returns the number of registered subsystems.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Lookup returns the descriptor of id.
func (r *Registry) Lookup(id subsystem.ID) (subsystem.Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return subsystem.Descriptor{}, false
	}
	return e.Desc, true
}

// LookupName resolves a subsystem by name.
func (r *Registry) LookupName(name string) (subsystem.Descriptor, bool) {
	return r.Lookup(subsystem.IDFromName(name))
}

// Impl returns the implementation registered under id.
func (r *Registry) Impl(id subsystem.ID) (Subsystem, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.Impl, true
}

// Entry returns a copy of the bookkeeping of id.
func (r *Registry) Entry(id subsystem.ID) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Entries returns copies of every entry in registration order.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	sortEntries(out)
	return out
}

// StateOf returns the current state of id.
func (r *Registry) StateOf(id subsystem.ID) (subsystem.State, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return 0, initerr.Wrap(initerr.Dependency, ErrNotFound, id.String())
	}
	return e.State, nil
}

// SetState applies a transition from the lifecycle table. Any other change is
// an orchestrator defect reported as Internal.
func (r *Registry) SetState(id subsystem.ID, to subsystem.State) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return initerr.Wrap(initerr.Internal, ErrNotFound, "set state of "+id.String())
	}
	from := e.State
	if err := subsystem.CheckTransition(from, to); err != nil {
		r.mu.Unlock()
		return initerr.Wrap(initerr.Internal, err, "lifecycle").For(e.Desc)
	}
	at := r.now()
	e.State = to
	e.Since = at
	tr := Transition{ID: id, Name: e.Desc.Name, Phase: e.Desc.Phase, From: from, To: to, At: at}
	hooks := r.onTransition
	r.mu.Unlock()

	for _, fn := range hooks {
		fn(tr)
	}
	return nil
}

// RecordAttempt stores the outcome of one init attempt.
func (r *Registry) RecordAttempt(id subsystem.ID, usage initctx.Usage, err *initerr.InitError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		e.Attempts++
		e.Usage = e.Usage.Add(usage)
		if err != nil {
			e.LastError = err
		}
	}
}

// Providers returns the ids of every subsystem providing tag, ascending.
func (r *Registry) Providers(tag phase.Capability) []subsystem.ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []subsystem.ID
	for id, e := range r.entries {
		if e.Desc.ProvidesTag(tag) {
			out = append(out, id)
		}
	}
	sortIDs(out)
	return out
}

// InPhase returns the ids registered for p, ascending.
func (r *Registry) InPhase(p phase.Phase) []subsystem.ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []subsystem.ID
	for id, e := range r.entries {
		if e.Desc.Phase == p {
			out = append(out, id)
		}
	}
	sortIDs(out)
	return out
}

// Dependents returns every subsystem that depends on id directly or through a
// tag id provides, ascending.
func (r *Registry) Dependents(id subsystem.ID) []subsystem.ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	target, ok := r.entries[id]
	if !ok {
		return nil
	}
	var out []subsystem.ID
	for oid, e := range r.entries {
		if oid == id {
			continue
		}
		if e.Desc.DependsOn(id) || needsAnyOf(e.Desc, target.Desc.Provides) {
			out = append(out, oid)
		}
	}
	sortIDs(out)
	return out
}

func needsAnyOf(d subsystem.Descriptor, tags []phase.Capability) bool {
	for _, t := range tags {
		if d.NeedsTag(t) {
			return true
		}
	}
	return false
}
