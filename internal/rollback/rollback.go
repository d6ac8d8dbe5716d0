// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package rollback implements the LIFO chain of compensating actions that
// undoes partially completed initialization.
package rollback

import (
	"context"
	"errors"
	"fmt"

	"github.com/ManuGH/helixinit/internal/initerr"
	"github.com/ManuGH/helixinit/internal/subsystem"
)

var (
	// ErrChainFull is returned by Push on a bounded chain at capacity.
	ErrChainFull = errors.New("rollback chain full")

	// ErrNoUndo is returned by Push for an action without an undo function.
	ErrNoUndo = errors.New("rollback action has no undo function")
)

// Action is one compensating step: what resource, how to release it.
type Action struct {
	Subsystem subsystem.ID
	Name      string
	// Resource names the kind of side effect (e.g. "irq-handler", "region").
	Resource string
	Handle   uint64
	// Critical actions stop the unwind when they fail.
	Critical bool
	Undo     func(ctx context.Context) error
}

func (a Action) String() string {
	if a.Resource == "" {
		return a.Name
	}
	return fmt.Sprintf("%s/%s#%d", a.Name, a.Resource, a.Handle)
}

// Result reports the outcome of one executed action.
type Result struct {
	Action Action
	Err    error
}

// Stats counts actions across the life of a chain.
type Stats struct {
	Executed  int `json:"executed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Discarded int `json:"discarded"`
	Pending   int `json:"pending"`
}

// Observer is notified after every executed action.
type Observer func(Result)

// Chain is a LIFO sequence of compensating actions. It is owned by a single
// goroutine and is not safe for concurrent use.
type Chain struct {
	label    string
	capacity int
	actions  []Action
	stats    Stats
	observe  Observer
}

// Option configures a Chain.
type Option func(*Chain)

// WithCapacity bounds the chain; zero means unbounded.
func WithCapacity(n int) Option {
	return func(c *Chain) { c.capacity = n }
}

// WithObserver installs a callback run after each executed action.
func WithObserver(o Observer) Option {
	return func(c *Chain) { c.observe = o }
}

// New returns an empty chain identified by label in diagnostics.
func New(label string, opts ...Option) *Chain {
	c := &Chain{label: label}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Label returns the chain label.
func (c *Chain) Label() string { return c.label }

// Len returns the number of pending actions. It doubles as a mark for UnwindTo.
func (c *Chain) Len() int { return len(c.actions) }

// Push appends a compensating action.
func (c *Chain) Push(a Action) error {
	if a.Undo == nil {
		return ErrNoUndo
	}
	if c.capacity > 0 && len(c.actions) >= c.capacity {
		return fmt.Errorf("%w: %s holds %d", ErrChainFull, c.label, c.capacity)
	}
	c.actions = append(c.actions, a)
	return nil
}

// Pending returns a copy of the pending actions in push order.
func (c *Chain) Pending() []Action {
	out := make([]Action, len(c.actions))
	copy(out, c.actions)
	return out
}

// Stats returns the counters.
func (c *Chain) Stats() Stats {
	s := c.stats
	s.Pending = len(c.actions)
	return s
}

// Unwind executes every pending action in reverse push order.
func (c *Chain) Unwind(ctx context.Context) ([]Result, error) {
	return c.UnwindTo(ctx, 0)
}

// UnwindTo executes, newest first, every action pushed after mark. Failing
// non-critical actions are recorded and the unwind continues. A failing
// critical action stops the unwind, leaves older actions pending and is
// reported as an Internal error.
func (c *Chain) UnwindTo(ctx context.Context, mark int) ([]Result, error) {
	if mark < 0 {
		mark = 0
	}
	var (
		results []Result
		errs    []error
	)
	for len(c.actions) > mark {
		last := len(c.actions) - 1
		a := c.actions[last]
		c.actions = c.actions[:last]

		r := c.run(ctx, a)
		results = append(results, r)
		if r.Err == nil {
			continue
		}
		if a.Critical {
			ie := initerr.Wrap(initerr.Internal, r.Err, "critical rollback action "+a.String()+" failed")
			ie.Subsystem = a.Subsystem
			ie.Name = a.Name
			return results, errors.Join(append(errs, ie)...)
		}
		errs = append(errs, fmt.Errorf("rollback %s: %w", a, r.Err))
	}
	return results, errors.Join(errs...)
}

// UnwindSubsystem executes, newest first, the pending actions of id and keeps
// the relative order of every other action.
func (c *Chain) UnwindSubsystem(ctx context.Context, id subsystem.ID) ([]Result, error) {
	var (
		results []Result
		errs    []error
	)
	for i := len(c.actions) - 1; i >= 0; i-- {
		a := c.actions[i]
		if a.Subsystem != id {
			continue
		}
		c.actions = append(c.actions[:i], c.actions[i+1:]...)

		r := c.run(ctx, a)
		results = append(results, r)
		if r.Err == nil {
			continue
		}
		if a.Critical {
			ie := initerr.Wrap(initerr.Internal, r.Err, "critical rollback action "+a.String()+" failed")
			ie.Subsystem = a.Subsystem
			ie.Name = a.Name
			return results, errors.Join(append(errs, ie)...)
		}
		errs = append(errs, fmt.Errorf("rollback %s: %w", a, r.Err))
	}
	return results, errors.Join(errs...)
}

// DiscardTo drops, without executing, every action pushed after mark.
func (c *Chain) DiscardTo(mark int) int {
	if mark < 0 {
		mark = 0
	}
	if mark >= len(c.actions) {
		return 0
	}
	n := len(c.actions) - mark
	c.actions = c.actions[:mark]
	c.stats.Discarded += n
	return n
}

// Commit forgets every pending action. It is used once a phase passed its
// barrier and its effects must persist.
func (c *Chain) Commit() int {
	n := len(c.actions)
	c.actions = nil
	return n
}

func (c *Chain) run(ctx context.Context, a Action) (r Result) {
	r.Action = a
	defer func() {
		if p := recover(); p != nil {
			r.Err = fmt.Errorf("panic in rollback action: %v", p)
		}
		c.stats.Executed++
		if r.Err != nil {
			c.stats.Failed++
		} else {
			c.stats.Succeeded++
		}
		if c.observe != nil {
			c.observe(r)
		}
	}()
	r.Err = a.Undo(ctx)
	return r
}
