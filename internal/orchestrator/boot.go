// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package orchestrator

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/helixinit/internal/initctx"
	"github.com/ManuGH/helixinit/internal/initerr"
	"github.com/ManuGH/helixinit/internal/journal"
	"github.com/ManuGH/helixinit/internal/log"
	"github.com/ManuGH/helixinit/internal/metrics"
	"github.com/ManuGH/helixinit/internal/phase"
	"github.com/ManuGH/helixinit/internal/registry"
	"github.com/ManuGH/helixinit/internal/rollback"
	"github.com/ManuGH/helixinit/internal/subsystem"
	"github.com/ManuGH/helixinit/internal/telemetry"
)

// lifecycleResource tags the compensation that shuts an Active subsystem down.
const lifecycleResource = "lifecycle"

// RunBoot drives every phase in order. It returns a *FatalError when a
// mandatory subsystem fails, when a phase barrier is not met, or when a phase
// cannot be ordered. Optional failures leave the subsystem Stopped and the boot
// continues degraded.
func (o *Orchestrator) RunBoot(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ran {
		return ErrAlreadyBooted
	}
	o.ran = true

	ctx, span := o.tracer.Start(ctx, "boot", trace.WithAttributes(
		attribute.String(telemetry.BootIDKey, o.bootID),
		attribute.Int("boot.subsystems", o.reg.Len()),
	))
	defer span.End()

	start := time.Now()
	logger := log.WithContext(ctx, o.logger)
	logger.Info().
		Str(log.FieldEvent, "boot.start").
		Int("subsystems", o.reg.Len()).
		Msg("boot sequence starting")
	o.record(ctx, journal.Event{Kind: journal.BootStart})

	phases := phase.All()
	for i, p := range phases {
		if fatal := o.runPhase(ctx, p); fatal != nil {
			for _, rest := range phases[i+1:] {
				o.tracker.Skip(rest)
				o.setPhaseStatus(rest)
			}
			o.fatal = fatal
			metrics.RecordBootAbort(fatal.Kind.String())
			telemetry.RecordFailure(span, fatal, fatal.Kind.String(), initerr.PolicyFor(fatal.Kind).Severity.String())
			logger.Error().Err(fatal).
				Str(log.FieldEvent, "boot.abort").
				Str(log.FieldSubsystem, fatal.Name).
				Str(log.FieldPhase, fatal.Phase.String()).
				Str(log.FieldErrorKind, fatal.Kind.String()).
				Msg("boot halted")
			o.record(ctx, journal.Event{
				Kind:        journal.BootAbort,
				Phase:       fatal.Phase.String(),
				SubsystemID: uint64(fatal.Subsystem),
				Subsystem:   fatal.Name,
				ErrorKind:   fatal.Kind.String(),
				Message:     fatal.Error(),
			})
			return fatal
		}
	}

	o.booted.Store(true)
	degraded := make([]string, 0, len(o.degraded))
	for _, id := range o.degraded {
		if d, ok := o.reg.Lookup(id); ok {
			degraded = append(degraded, d.Label())
		}
	}
	logger.Info().
		Str(log.FieldEvent, "boot.complete").
		Int64(log.FieldDuration, time.Since(start).Milliseconds()).
		Strs("degraded", degraded).
		Msg("boot sequence complete")
	o.record(ctx, journal.Event{Kind: journal.BootComplete, Phase: phase.Runtime.String()})
	return nil
}

// runPhase initializes the subsystems of p in order under one rollback chain
// and then checks the barrier.
func (o *Orchestrator) runPhase(ctx context.Context, p phase.Phase) *FatalError {
	ctx, span := o.tracer.Start(ctx, "phase "+p.String())
	defer span.End()
	logger := log.WithContext(ctx, o.logger).With().Str(log.FieldPhase, p.String()).Logger()

	order, err := o.reg.OrderForPhase(p)
	if err != nil {
		ie := initerr.Classify(err)
		ie.Phase = p
		o.tracker.Begin(p, 0)
		o.tracker.Fail(p, ie.Error())
		o.setPhaseStatus(p)
		o.reportFailure(ctx, logger, ie, 0)
		telemetry.RecordFailure(span, ie, ie.Kind.String(), ie.Severity.String())
		o.record(ctx, journal.Event{Kind: journal.PhaseFail, Phase: p.String(), ErrorKind: ie.Kind.String(), Message: ie.Error()})
		return &FatalError{Phase: p, Kind: ie.Kind, Err: ie}
	}

	span.SetAttributes(telemetry.PhaseAttributes(o.bootID, p.String(), len(order))...)
	o.tracker.Begin(p, len(order))
	o.setPhaseStatus(p)
	logger.Info().
		Str(log.FieldEvent, "phase.start").
		Int("subsystems", len(order)).
		Str("grants", p.Grants().String()).
		Msg("phase starting")
	o.record(ctx, journal.Event{Kind: journal.PhaseStart, Phase: p.String()})

	chain := rollback.New(p.String(), rollback.WithObserver(o.rollbackObserver("phase", p)))
	for _, id := range order {
		if fatal := o.bootSubsystem(ctx, p, id, chain); fatal != nil {
			o.failPhase(ctx, span, p, fatal)
			return fatal
		}
	}

	if fatal := o.barrier(ctx, p, chain); fatal != nil {
		o.failPhase(ctx, span, p, fatal)
		return fatal
	}

	// Effects of a phase that passed its barrier persist; release now goes
	// through Shutdown/Cleanup.
	chain.Commit()
	o.tracker.Complete(p)
	o.setPhaseStatus(p)
	logger.Info().
		Str(log.FieldEvent, "phase.complete").
		Int64(log.FieldDuration, o.tracker.Get(p).Duration.Milliseconds()).
		Msg("phase barrier passed")
	o.record(ctx, journal.Event{Kind: journal.PhaseComplete, Phase: p.String()})
	return nil
}

func (o *Orchestrator) failPhase(ctx context.Context, span trace.Span, p phase.Phase, fatal *FatalError) {
	o.tracker.Fail(p, fatal.Error())
	o.setPhaseStatus(p)
	telemetry.RecordFailure(span, fatal, fatal.Kind.String(), initerr.PolicyFor(fatal.Kind).Severity.String())
	o.record(ctx, journal.Event{
		Kind:        journal.PhaseFail,
		Phase:       p.String(),
		SubsystemID: uint64(fatal.Subsystem),
		Subsystem:   fatal.Name,
		ErrorKind:   fatal.Kind.String(),
		Message:     fatal.Error(),
	})
}

// bootSubsystem validates one subsystem and runs its init attempts. It returns
// a FatalError only when boot must halt.
func (o *Orchestrator) bootSubsystem(ctx context.Context, p phase.Phase, id subsystem.ID, chain *rollback.Chain) *FatalError {
	entry, ok := o.reg.Entry(id)
	if !ok {
		ie := initerr.Newf(initerr.Internal, "ordered subsystem %s vanished from registry", id)
		return &FatalError{Subsystem: id, Phase: p, Kind: ie.Kind, Err: ie}
	}
	d, impl := entry.Desc, entry.Impl

	ctx, span := o.tracer.Start(ctx, "init "+d.Label(), trace.WithAttributes(
		telemetry.SubsystemAttributes(d.ID.String(), d.Label(), d.Priority, d.Mandatory)...,
	))
	defer span.End()
	logger := o.subsystemLogger(ctx, d)

	if err := o.reg.SetState(id, subsystem.Validating); err != nil {
		return o.escalate(ctx, span, logger, d, o.classify(err, d), chain)
	}
	if err := invoke(impl.Validate); err != nil {
		ie := o.classify(err, d)
		o.reportFailure(ctx, logger, ie, 0)
		o.stop(id)
		return o.escalate(ctx, span, logger, d, ie, chain)
	}
	if err := o.reg.SetState(id, subsystem.Ready); err != nil {
		return o.escalate(ctx, span, logger, d, o.classify(err, d), chain)
	}

	maxAttempts := o.attemptsFor(d)
	bo := o.newBackoff()
	reclaimed := false
	for attempt := 1; ; attempt++ {
		mark := chain.Len()
		started := time.Now()
		usage, err := o.attempt(ctx, d, impl, chain)
		ie := o.classify(err, d)
		o.reg.RecordAttempt(id, usage, ie)
		metrics.ObserveInit(p.String(), ie == nil, time.Since(started))
		span.SetAttributes(attribute.Int(telemetry.AttemptKey, attempt))

		if ie == nil {
			if err := o.activate(ctx, d, impl, chain); err != nil {
				ie = o.classify(err, d)
				o.reportFailure(ctx, logger, ie, attempt)
				o.stop(id)
				return o.escalate(ctx, span, logger, d, ie, chain)
			}
			logger.Info().
				Str(log.FieldEvent, "subsystem.active").
				Int(log.FieldAttempt, attempt).
				Uint64("resource_bytes", usage.Bytes).
				Int("rollback_actions", usage.Actions).
				Msg("subsystem active")
			return nil
		}

		ie.Attempts = attempt
		o.reportFailure(ctx, logger, ie, attempt)
		o.undoAttempt(ctx, logger, d, ie, chain, mark)

		retry := ie.Retryable && attempt < maxAttempts
		if !retry && ie.Kind == initerr.Resource && !reclaimed && !d.Mandatory {
			// An optional subsystem starved of resources may still come up
			// once heavy optional peers are reclaimed.
			reclaimed = true
			retry = o.reclaim(ctx, p, d, chain) > 0
		}
		if !retry {
			o.stop(id)
			return o.escalate(ctx, span, logger, d, ie, chain)
		}

		if st, _ := o.reg.StateOf(id); st == subsystem.Initializing {
			if err := o.reg.SetState(id, subsystem.Ready); err != nil {
				return o.escalate(ctx, span, logger, d, o.classify(err, d), chain)
			}
		}
		delay := bo.NextBackOff()
		metrics.RecordRetry(p.String())
		logger.Info().
			Str(log.FieldEvent, "subsystem.retry").
			Int(log.FieldAttempt, attempt).
			Dur("delay", delay).
			Msg("retrying init")
		o.record(ctx, journal.Event{
			Kind: journal.Retry, Phase: p.String(), SubsystemID: uint64(id), Subsystem: d.Label(),
			ErrorKind: ie.Kind.String(), Message: delay.String(),
		})
		if err := o.sleep(ctx, delay); err != nil {
			o.stop(id)
			return o.escalate(ctx, span, logger, d, initerr.Wrap(initerr.Timeout, err, "retry wait interrupted").For(d), chain)
		}
	}
}

// attempt runs check_deps, init and start for one try.
func (o *Orchestrator) attempt(ctx context.Context, d subsystem.Descriptor, impl registry.Subsystem, chain *rollback.Chain) (initctx.Usage, error) {
	if err := invoke(func() error { return impl.CheckDeps(o.reg) }); err != nil {
		return initctx.Usage{}, err
	}
	// The orchestrator re-verifies independently of the subsystem's own check.
	if err := registry.VerifyDeps(o.reg, d); err != nil {
		return initctx.Usage{}, err
	}
	if err := o.reg.SetState(d.ID, subsystem.Initializing); err != nil {
		return initctx.Usage{}, err
	}

	callCtx, cancel := o.callContext(ctx)
	defer cancel()
	ictx := initctx.New(callCtx, initctx.Params{
		Descriptor: d,
		Phase:      d.Phase,
		Directory:  o.dir,
		Chain:      chain,
		Logger:     o.subsystemLogger(ctx, d),
	})
	if err := invoke(func() error { return impl.Init(ictx) }); err != nil {
		return ictx.Usage(), err
	}
	if err := invoke(impl.Start); err != nil {
		return ictx.Usage(), err
	}
	return ictx.Usage(), nil
}

// activate pushes the shutdown+cleanup compensation onto the phase chain and
// marks the subsystem Active. On failure the subsystem is torn down.
func (o *Orchestrator) activate(ctx context.Context, d subsystem.Descriptor, impl registry.Subsystem, chain *rollback.Chain) error {
	mark := chain.Len()
	err := chain.Push(rollback.Action{
		Subsystem: d.ID,
		Name:      d.Label(),
		Resource:  lifecycleResource,
		Undo: func(ctx context.Context) error {
			return o.teardown(ctx, d, impl)
		},
	})
	if err == nil {
		if err = o.reg.SetState(d.ID, subsystem.Active); err == nil {
			return nil
		}
		chain.DiscardTo(mark)
	}
	// Start already ran.
	return errors.Join(err, o.teardown(ctx, d, impl))
}

// teardown is the compensating action of an Active subsystem: it leaves the
// subsystem Stopped after Shutdown and Cleanup ran.
func (o *Orchestrator) teardown(ctx context.Context, d subsystem.Descriptor, impl registry.Subsystem) error {
	if err := o.reg.SetState(d.ID, subsystem.Stopped); err != nil {
		return err
	}
	o.dir.Withdraw(d.ID)
	ictx := initctx.New(ctx, initctx.Params{
		Descriptor: d,
		Phase:      d.Phase,
		Directory:  o.dir,
		Logger:     o.subsystemLogger(ctx, d),
	})
	if err := invoke(func() error { return impl.Shutdown(ictx) }); err != nil {
		return err
	}
	if err := invoke(impl.Cleanup); err != nil {
		return err
	}
	o.cleaned[d.ID] = true
	return nil
}

// undoAttempt releases what a failed attempt registered. Under RollbackNo the
// actions are dropped unexecuted.
func (o *Orchestrator) undoAttempt(ctx context.Context, logger zerolog.Logger, d subsystem.Descriptor, ie *initerr.InitError, chain *rollback.Chain, mark int) {
	o.dir.Withdraw(d.ID)
	if ie.Rollback == initerr.RollbackNo {
		if n := chain.DiscardTo(mark); n > 0 {
			logger.Warn().
				Str(log.FieldEvent, "rollback.discarded").
				Int("actions", n).
				Msg("failure policy forbids rollback, dropping compensating actions")
		}
		return
	}
	if _, err := chain.UnwindTo(ctx, mark); err != nil {
		logger.Error().Err(err).
			Str(log.FieldEvent, "rollback.attempt_failed").
			Msg("undoing failed attempt did not complete")
	}
}

// escalate decides the fate of boot after a subsystem gave up. Mandatory
// failures unwind the whole phase and halt. Internal failures always unwind
// the whole phase; if that takes down a mandatory peer the barrier halts boot.
// Other optional failures quarantine only the failing subsystem.
func (o *Orchestrator) escalate(ctx context.Context, span trace.Span, logger zerolog.Logger, d subsystem.Descriptor, ie *initerr.InitError, chain *rollback.Chain) *FatalError {
	telemetry.RecordFailure(span, ie, ie.Kind.String(), ie.Severity.String())

	var (
		rbErr   error
		unwound []subsystem.ID
	)
	if d.Mandatory || ie.Kind == initerr.Internal {
		unwound, rbErr = o.unwindPhase(ctx, logger, d.Phase, chain, ie)
	}

	if d.Mandatory {
		return &FatalError{
			Subsystem: d.ID,
			Name:      d.Label(),
			Phase:     d.Phase,
			Kind:      ie.Kind,
			Err:       ie,
			Rollback:  rbErr,
		}
	}

	o.degraded = append(o.degraded, d.ID)
	for _, id := range unwound {
		if e, ok := o.reg.Entry(id); ok && id != d.ID && !e.Desc.Mandatory {
			o.degraded = append(o.degraded, id)
		}
	}
	logger.Warn().
		Str(log.FieldEvent, "subsystem.quarantined").
		Str(log.FieldErrorKind, ie.Kind.String()).
		Int("peers_stopped", len(unwound)).
		Msg("optional subsystem stopped, boot continues degraded")
	return nil
}

// unwindPhase runs every pending compensation of the phase and returns the
// subsystems whose lifecycle action took them down, newest first.
func (o *Orchestrator) unwindPhase(ctx context.Context, logger zerolog.Logger, p phase.Phase, chain *rollback.Chain, cause *initerr.InitError) ([]subsystem.ID, error) {
	pending := chain.Len()
	results, err := chain.Unwind(ctx)
	var stopped []subsystem.ID
	for _, r := range results {
		if r.Action.Resource != lifecycleResource {
			continue
		}
		if st, serr := o.reg.StateOf(r.Action.Subsystem); serr == nil && st.Down() {
			stopped = append(stopped, r.Action.Subsystem)
		}
	}
	stats := chain.Stats()
	ev := logger.Warn()
	if err != nil {
		ev = logger.Error().Err(err)
	}
	ev.Str(log.FieldEvent, "phase.rollback").
		Str(log.FieldErrorKind, cause.Kind.String()).
		Int("actions", pending).
		Int("failed", stats.Failed).
		Int("left_pending", stats.Pending).
		Msg("phase rolled back")
	return stopped, err
}

// reclaim rolls back optional Active subsystems of phase p whose ledger usage
// reaches the reclaim threshold, newest first. It returns how many were reclaimed.
func (o *Orchestrator) reclaim(ctx context.Context, p phase.Phase, failing subsystem.Descriptor, chain *rollback.Chain) int {
	if o.policy.ReclaimThreshold == 0 {
		return 0
	}
	var victims []subsystem.ID
	for _, a := range chain.Pending() {
		if a.Subsystem == failing.ID || a.Resource != lifecycleResource {
			continue
		}
		if slices.Contains(o.reg.Dependents(a.Subsystem), failing.ID) {
			continue
		}
		e, ok := o.reg.Entry(a.Subsystem)
		if !ok || e.Desc.Mandatory || e.State != subsystem.Active {
			continue
		}
		if e.Usage.Bytes >= o.policy.ReclaimThreshold {
			victims = append(victims, a.Subsystem)
		}
	}

	reclaimed := 0
	for i := len(victims) - 1; i >= 0; i-- {
		id := victims[i]
		e, _ := o.reg.Entry(id)
		// Newer victims go first, so a dependent that was itself reclaimed
		// no longer pins its dependency here.
		if user, _, busy := o.runningDependent(id); busy {
			skipLogger := o.subsystemLogger(ctx, e.Desc)
			skipLogger.Debug().
				Str(log.FieldEvent, "subsystem.reclaim_skipped").
				Str("dependent", user.String()).
				Msg("reclaim candidate still in use")
			continue
		}
		_, err := chain.UnwindSubsystem(ctx, id)
		logger := o.subsystemLogger(ctx, e.Desc)
		ev := logger.Warn()
		if err != nil {
			ev = logger.Error().Err(err)
		}
		ev.Str(log.FieldEvent, "subsystem.reclaim").
			Str("for", failing.Label()).
			Uint64("resource_bytes", e.Usage.Bytes).
			Msg("reclaimed optional subsystem after resource failure")
		o.record(ctx, journal.Event{
			Kind: journal.Reclaim, Phase: p.String(), SubsystemID: uint64(id), Subsystem: e.Desc.Label(),
			Message: "reclaimed for " + failing.Label(),
		})
		if st, _ := o.reg.StateOf(id); st == subsystem.Stopped {
			o.degraded = append(o.degraded, id)
			reclaimed++
		}
	}
	return reclaimed
}

// runningDependent returns a dependent of id that still holds it.
func (o *Orchestrator) runningDependent(id subsystem.ID) (subsystem.ID, subsystem.State, bool) {
	for _, dep := range o.reg.Dependents(id) {
		if st, err := o.reg.StateOf(dep); err == nil && st.Running() {
			return dep, st, true
		}
	}
	return 0, 0, false
}

// barrier requires every mandatory subsystem of p to be Active.
func (o *Orchestrator) barrier(ctx context.Context, p phase.Phase, chain *rollback.Chain) *FatalError {
	for _, id := range o.reg.InPhase(p) {
		e, ok := o.reg.Entry(id)
		if !ok || !e.Desc.Mandatory || e.State == subsystem.Active {
			continue
		}
		kind := initerr.Internal
		ie := initerr.Newf(initerr.Internal, "barrier: mandatory subsystem is %s", e.State).For(e.Desc)
		if e.LastError != nil {
			kind = e.LastError.Kind
			ie = e.LastError
		}
		logger := o.subsystemLogger(ctx, e.Desc)
		_, rbErr := o.unwindPhase(ctx, logger, p, chain, ie)
		logger.Error().
			Str(log.FieldEvent, "phase.barrier_failed").
			Str(log.FieldNewState, e.State.String()).
			Msg("mandatory subsystem not active at phase barrier")
		return &FatalError{Subsystem: id, Name: e.Desc.Label(), Phase: p, Kind: kind, Err: ie, Rollback: rbErr}
	}
	return nil
}

// stop moves a failed subsystem to Stopped from wherever the failure left it.
func (o *Orchestrator) stop(id subsystem.ID) {
	st, err := o.reg.StateOf(id)
	if err != nil || st == subsystem.Stopped {
		return
	}
	if err := o.reg.SetState(id, subsystem.Stopped); err != nil {
		o.logger.Error().Err(err).
			Str(log.FieldEvent, "subsystem.stop_failed").
			Str(log.FieldSubsystemID, id.String()).
			Msg("could not quarantine subsystem")
	}
}

func (o *Orchestrator) classify(err error, d subsystem.Descriptor) *initerr.InitError {
	ie := initerr.Classify(err)
	if ie == nil {
		return nil
	}
	if ie.Subsystem == 0 {
		ie = ie.For(d)
	}
	return ie
}
