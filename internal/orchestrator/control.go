// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/helixinit/internal/initctx"
	"github.com/ManuGH/helixinit/internal/initerr"
	"github.com/ManuGH/helixinit/internal/journal"
	"github.com/ManuGH/helixinit/internal/log"
	"github.com/ManuGH/helixinit/internal/metrics"
	"github.com/ManuGH/helixinit/internal/registry"
	"github.com/ManuGH/helixinit/internal/rollback"
	"github.com/ManuGH/helixinit/internal/subsystem"
	"github.com/ManuGH/helixinit/internal/telemetry"
)

// Suspend moves an Active subsystem to Suspended. A failing suspend returns
// the subsystem to Active.
func (o *Orchestrator) Suspend(ctx context.Context, id subsystem.ID) error {
	return o.control(ctx, "suspend", id, func(ctx context.Context, e registry.Entry) error {
		if err := o.reg.SetState(id, subsystem.Suspending); err != nil {
			return err
		}
		if err := invoke(e.Impl.Suspend); err != nil {
			if rerr := o.reg.SetState(id, subsystem.Active); rerr != nil {
				return errors.Join(err, rerr)
			}
			return err
		}
		return o.reg.SetState(id, subsystem.Suspended)
	})
}

// Resume moves a Suspended subsystem back to Active. A failing resume leaves
// the subsystem Stopped.
func (o *Orchestrator) Resume(ctx context.Context, id subsystem.ID) error {
	return o.control(ctx, "resume", id, func(ctx context.Context, e registry.Entry) error {
		if err := o.reg.SetState(id, subsystem.Resuming); err != nil {
			return err
		}
		if err := invoke(e.Impl.Resume); err != nil {
			if rerr := o.reg.SetState(id, subsystem.Stopped); rerr != nil {
				return errors.Join(err, rerr)
			}
			return err
		}
		return o.reg.SetState(id, subsystem.Active)
	})
}

// Shutdown stops one running subsystem and cleans it up. It refuses while any
// dependent is still up.
func (o *Orchestrator) Shutdown(ctx context.Context, id subsystem.ID) error {
	return o.control(ctx, "shutdown", id, func(ctx context.Context, e registry.Entry) error {
		if e.State != subsystem.Active && e.State != subsystem.Suspended {
			return initerr.Newf(initerr.Config, "cannot shut down %s: state is %s", e.Desc.Label(), e.State)
		}
		for _, dep := range o.reg.Dependents(id) {
			st, err := o.reg.StateOf(dep)
			if err != nil {
				return err
			}
			if !st.Down() {
				d, _ := o.reg.Lookup(dep)
				return initerr.Newf(initerr.Dependency, "dependent %s is still %s", d.Label(), st)
			}
		}
		return o.stopOne(ctx, e)
	})
}

// stopOne runs shutdown under a single-slot chain, then cleanup. Compensations
// registered by a failing shutdown are unwound and the state is left alone.
func (o *Orchestrator) stopOne(ctx context.Context, e registry.Entry) error {
	chain := rollback.New("control "+e.Desc.Label(),
		rollback.WithCapacity(1),
		rollback.WithObserver(o.rollbackObserver("control", e.Desc.Phase)))
	ictx := initctx.New(ctx, initctx.Params{
		Descriptor: e.Desc,
		Phase:      e.Desc.Phase,
		Directory:  o.dir,
		Chain:      chain,
		Logger:     o.subsystemLogger(ctx, e.Desc),
	})
	if err := invoke(func() error { return e.Impl.Shutdown(ictx) }); err != nil {
		if _, rbErr := chain.Unwind(ctx); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	chain.Commit()

	id := e.Desc.ID
	if err := o.reg.SetState(id, subsystem.Stopped); err != nil {
		return err
	}
	o.dir.Withdraw(id)
	if err := invoke(e.Impl.Cleanup); err != nil {
		return err
	}
	return o.reg.SetState(id, subsystem.Cleaned)
}

func (o *Orchestrator) control(ctx context.Context, op string, id subsystem.ID, fn func(context.Context, registry.Entry) error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.booted.Load() {
		return ErrNotBooted
	}
	e, ok := o.reg.Entry(id)
	if !ok {
		return fmt.Errorf("%s %s: %w", op, id, registry.ErrNotFound)
	}

	ctx, span := o.tracer.Start(ctx, op+" "+e.Desc.Label(), trace.WithAttributes(
		telemetry.SubsystemAttributes(id.String(), e.Desc.Label(), e.Desc.Priority, e.Desc.Mandatory)...,
	))
	defer span.End()
	logger := o.subsystemLogger(ctx, e.Desc)

	err := fn(ctx, e)
	metrics.RecordControlOp(op, err == nil)
	ev := journal.Event{
		Kind:        journal.Control,
		Phase:       e.Desc.Phase.String(),
		SubsystemID: uint64(id),
		Subsystem:   e.Desc.Label(),
		Message:     op,
	}
	if err != nil {
		ie := o.classify(err, e.Desc)
		telemetry.RecordFailure(span, ie, ie.Kind.String(), ie.Severity.String())
		logger.Warn().Err(err).
			Str(log.FieldEvent, "control."+op).
			Str(log.FieldErrorKind, ie.Kind.String()).
			Msg("control operation failed")
		ev.ErrorKind = ie.Kind.String()
		ev.Message = op + ": " + err.Error()
		o.record(ctx, ev)
		return err
	}
	logger.Info().Str(log.FieldEvent, "control."+op).Msg("control operation complete")
	o.record(ctx, ev)
	return nil
}

// ShutdownAll tears every subsystem down in reverse global dependency order
// and marks it Removed. Subsystems that never initialized are left as they
// are. Failures are collected and the teardown continues.
func (o *Orchestrator) ShutdownAll(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	ctx, span := o.tracer.Start(ctx, "shutdown")
	defer span.End()

	order, err := o.reg.GlobalOrder()
	if err != nil {
		// A boot that failed ordering still needs teardown; registration
		// order is the best remaining guess.
		order = order[:0]
		for _, e := range o.reg.Entries() {
			order = append(order, e.Desc.ID)
		}
	}
	slices.Reverse(order)

	var errs []error
	stopped := 0
	for _, id := range order {
		e, ok := o.reg.Entry(id)
		if !ok {
			continue
		}
		// A dependent that failed to stop keeps its dependencies up.
		if user, st, busy := o.runningDependent(id); busy {
			d, _ := o.reg.Lookup(user)
			errs = append(errs, fmt.Errorf("%s: %w", e.Desc.Label(),
				initerr.Newf(initerr.Dependency, "dependent %s is still %s", d.Label(), st)))
			continue
		}
		if err := o.removeOne(ctx, e); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Desc.Label(), err))
			continue
		}
		if st, _ := o.reg.StateOf(id); st == subsystem.Removed {
			stopped++
		}
	}
	joined := errors.Join(errs...)
	metrics.RecordControlOp("shutdown_all", joined == nil)
	o.booted.Store(false)

	ev := o.logger.Info()
	if joined != nil {
		ev = o.logger.Error().Err(joined)
		telemetry.RecordFailure(span, joined, initerr.KindOf(joined).String(), "")
	}
	ev.Str(log.FieldEvent, "shutdown.complete").
		Int("removed", stopped).
		Int("failed", len(errs)).
		Msg("teardown finished")
	done := journal.Event{Kind: journal.ShutdownDone, Message: fmt.Sprintf("removed %d", stopped)}
	if joined != nil {
		done.Message = joined.Error()
	}
	o.record(ctx, done)
	return joined
}

func (o *Orchestrator) removeOne(ctx context.Context, e registry.Entry) error {
	id := e.Desc.ID
	switch {
	case e.State.Running():
		if e.State != subsystem.Active && e.State != subsystem.Suspended {
			return fmt.Errorf("in transition (%s)", e.State)
		}
		if err := o.stopOne(ctx, e); err != nil {
			return err
		}
	case e.State == subsystem.Stopped:
		// Subsystems torn down by a rollback already ran cleanup.
		if !o.cleaned[id] {
			if err := invoke(e.Impl.Cleanup); err != nil {
				return err
			}
		}
		if err := o.reg.SetState(id, subsystem.Cleaned); err != nil {
			return err
		}
	case e.State == subsystem.Cleaned:
	default:
		return nil
	}
	return o.reg.SetState(id, subsystem.Removed)
}
