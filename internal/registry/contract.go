// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package registry

import (
	"github.com/ManuGH/helixinit/internal/initctx"
	"github.com/ManuGH/helixinit/internal/initerr"
	"github.com/ManuGH/helixinit/internal/phase"
	"github.com/ManuGH/helixinit/internal/subsystem"
)

// Subsystem is the contract every orchestrated kernel component implements.
// Lifecycle methods are invoked one at a time by the orchestrator and return
// an *initerr.InitError or any error Classify understands.
type Subsystem interface {
	// Descriptor returns the static metadata. It must not change after registration.
	Descriptor() subsystem.Descriptor

	// Validate is a static self check without side effects.
	Validate() error

	// CheckDeps verifies the dependencies this subsystem needs are usable.
	CheckDeps(v View) error

	// Init acquires resources. Every irreversible side effect registers a
	// compensating action through ctx.
	Init(ctx *initctx.Context) error

	// Start moves an initialized subsystem into its serving state.
	Start() error

	Suspend() error
	Resume() error

	// Shutdown stops serving. Cleanup releases what Shutdown left behind.
	Shutdown(ctx *initctx.Context) error
	Cleanup() error
}

// View is the read-only registry surface a subsystem may consult from CheckDeps.
type View interface {
	StateOf(id subsystem.ID) (subsystem.State, error)
	Lookup(id subsystem.ID) (subsystem.Descriptor, bool)
	Providers(tag phase.Capability) []subsystem.ID
}

// VerifyDeps reports a Dependency error unless every direct dependency of d and
// every provider of a tag d needs is Active.
func VerifyDeps(v View, d subsystem.Descriptor) error {
	for _, dep := range d.Dependencies {
		if err := requireActive(v, d, dep); err != nil {
			return err
		}
	}
	for _, tag := range d.Needs {
		providers := v.Providers(tag)
		if len(providers) == 0 {
			return initerr.Newf(initerr.Dependency, "no subsystem provides %s", tag).For(d)
		}
		for _, p := range providers {
			if err := requireActive(v, d, p); err != nil {
				return err
			}
		}
	}
	return nil
}

func requireActive(v View, d subsystem.Descriptor, dep subsystem.ID) error {
	st, err := v.StateOf(dep)
	if err != nil {
		return initerr.Wrap(initerr.Dependency, err, "dependency "+dep.String()).For(d)
	}
	if st != subsystem.Active {
		name := dep.String()
		if dd, ok := v.Lookup(dep); ok {
			name = dd.Label()
		}
		return initerr.Newf(initerr.Dependency, "dependency %s is %s, not Active", name, st).For(d)
	}
	return nil
}

// Base implements every lifecycle method as a no-op success and CheckDeps as
// VerifyDeps. Concrete subsystems embed it and override what they need.
type Base struct {
	Desc subsystem.Descriptor
}

func (b *Base) Descriptor() subsystem.Descriptor { return b.Desc }

func (b *Base) Validate() error {
	if b.Desc.Name == "" && b.Desc.ID == 0 {
		return initerr.New(initerr.Config, "subsystem has neither name nor id")
	}
	if !b.Desc.Phase.Valid() {
		return initerr.Newf(initerr.Config, "invalid phase %d", int(b.Desc.Phase)).For(b.Desc)
	}
	return nil
}

func (b *Base) CheckDeps(v View) error { return VerifyDeps(v, b.Desc.Normalize()) }

func (b *Base) Init(*initctx.Context) error { return nil }

func (b *Base) Start() error { return nil }

func (b *Base) Suspend() error { return nil }

func (b *Base) Resume() error { return nil }

func (b *Base) Shutdown(*initctx.Context) error { return nil }

func (b *Base) Cleanup() error { return nil }
