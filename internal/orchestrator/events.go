// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package orchestrator

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/helixinit/internal/initerr"
	"github.com/ManuGH/helixinit/internal/journal"
	"github.com/ManuGH/helixinit/internal/log"
	"github.com/ManuGH/helixinit/internal/metrics"
	"github.com/ManuGH/helixinit/internal/phase"
	"github.com/ManuGH/helixinit/internal/registry"
	"github.com/ManuGH/helixinit/internal/rollback"
	"github.com/ManuGH/helixinit/internal/subsystem"
)

// record stamps ev with the boot id and the next sequence number. Journal
// failures are logged and never fail the boot.
func (o *Orchestrator) record(ctx context.Context, ev journal.Event) {
	ev.BootID = o.bootID
	ev.Seq = o.seq.Add(1)
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	if err := o.journal.Record(ctx, ev); err != nil {
		o.logger.Warn().Err(err).
			Str(log.FieldEvent, "journal.write_failed").
			Str("journal_kind", string(ev.Kind)).
			Msg("failed to record boot event")
	}
}

func (o *Orchestrator) onTransition(tr registry.Transition) {
	metrics.RecordTransition(tr.Name, tr.Phase.String(), tr.From.String(), tr.To.String())
	o.logger.Debug().
		Str(log.FieldEvent, "subsystem.transition").
		Str(log.FieldSubsystem, tr.Name).
		Str(log.FieldPhase, tr.Phase.String()).
		Str(log.FieldOldState, tr.From.String()).
		Str(log.FieldNewState, tr.To.String()).
		Msg("state transition")
	o.record(context.Background(), journal.Event{
		Time:        tr.At,
		Kind:        journal.Transition,
		Phase:       tr.Phase.String(),
		SubsystemID: uint64(tr.ID),
		Subsystem:   tr.Name,
		OldState:    tr.From.String(),
		NewState:    tr.To.String(),
	})
}

// rollbackObserver reports every executed compensating action of a chain.
func (o *Orchestrator) rollbackObserver(scope string, p phase.Phase) rollback.Observer {
	return func(r rollback.Result) {
		metrics.RecordRollbackAction(scope, r.Err == nil)
		ev := o.logger.Info()
		if r.Err != nil {
			ev = o.logger.Error().Err(r.Err)
		}
		ev.Str(log.FieldEvent, "rollback.action").
			Str(log.FieldRollback, scope).
			Str(log.FieldPhase, p.String()).
			Str(log.FieldSubsystem, r.Action.Name).
			Str("action", r.Action.String()).
			Bool("critical", r.Action.Critical).
			Msg("compensating action executed")

		msg := r.Action.String()
		if r.Err != nil {
			msg += ": " + r.Err.Error()
		}
		o.record(context.Background(), journal.Event{
			Kind:        journal.RollbackRun,
			Phase:       p.String(),
			SubsystemID: uint64(r.Action.Subsystem),
			Subsystem:   r.Action.Name,
			Message:     msg,
		})
	}
}

func (o *Orchestrator) subsystemLogger(ctx context.Context, d subsystem.Descriptor) zerolog.Logger {
	return log.WithContext(ctx, o.logger).With().
		Str(log.FieldSubsystem, d.Label()).
		Str(log.FieldSubsystemID, d.ID.String()).
		Str(log.FieldPhase, d.Phase.String()).
		Logger()
}

// reportFailure logs, counts and journals one classified failure. Internal
// failures carry the call site of the defect.
func (o *Orchestrator) reportFailure(ctx context.Context, logger zerolog.Logger, ie *initerr.InitError, attempt int) {
	metrics.RecordFailure(ie.Phase.String(), ie.Kind.String())

	ev := logger.Warn()
	if ie.Kind == initerr.Internal || ie.Severity == initerr.Critical {
		ev = logger.Error()
	}
	ev = ev.Err(ie).
		Str(log.FieldEvent, "subsystem.failure").
		Str(log.FieldErrorKind, ie.Kind.String()).
		Str(log.FieldSeverity, ie.Severity.String()).
		Bool("retryable", ie.Retryable).
		Str(log.FieldRollback, ie.Rollback.String()).
		Int(log.FieldAttempt, attempt)
	if ie.CallSite != "" {
		ev = ev.Str(log.FieldCallSite, ie.CallSite)
	}
	ev.Msg("lifecycle call failed")

	o.record(ctx, journal.Event{
		Kind:        journal.Failure,
		Phase:       ie.Phase.String(),
		SubsystemID: uint64(ie.Subsystem),
		Subsystem:   ie.Name,
		ErrorKind:   ie.Kind.String(),
		Message:     ie.Error(),
	})
}

func (o *Orchestrator) setPhaseStatus(p phase.Phase) {
	pr := o.tracker.Get(p)
	metrics.SetPhaseStatus(p.String(), int(pr.Status), pr.Duration)
}
