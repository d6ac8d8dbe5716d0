// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys for consistent tracing across the boot sequence.
const (
	// Boot attributes
	BootIDKey    = "boot.id"
	PhaseKey     = "boot.phase"
	PhaseSizeKey = "boot.phase.subsystems"

	// Subsystem attributes
	SubsystemIDKey        = "subsystem.id"
	SubsystemNameKey      = "subsystem.name"
	SubsystemPriorityKey  = "subsystem.priority"
	SubsystemMandatoryKey = "subsystem.mandatory"
	AttemptKey            = "subsystem.attempt"

	// Rollback attributes
	RollbackScopeKey   = "rollback.scope"
	RollbackActionsKey = "rollback.actions"
	RollbackFailedKey  = "rollback.failed"

	// Error attributes
	ErrorKindKey     = "error.kind"
	ErrorSeverityKey = "error.severity"
)

// PhaseAttributes creates phase span attributes.
func PhaseAttributes(bootID, phase string, subsystems int) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if bootID != "" {
		attrs = append(attrs, attribute.String(BootIDKey, bootID))
	}
	return append(attrs,
		attribute.String(PhaseKey, phase),
		attribute.Int(PhaseSizeKey, subsystems),
	)
}

// SubsystemAttributes creates subsystem span attributes.
func SubsystemAttributes(id, name string, priority int, mandatory bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(SubsystemIDKey, id),
		attribute.String(SubsystemNameKey, name),
		attribute.Int(SubsystemPriorityKey, priority),
		attribute.Bool(SubsystemMandatoryKey, mandatory),
	}
}

// RollbackAttributes creates rollback span attributes.
func RollbackAttributes(scope string, actions, failed int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(RollbackScopeKey, scope),
		attribute.Int(RollbackActionsKey, actions),
		attribute.Int(RollbackFailedKey, failed),
	}
}

// RecordFailure marks span as failed with the classified kind and severity.
func RecordFailure(span trace.Span, err error, kind, severity string) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(
		attribute.String(ErrorKindKey, kind),
		attribute.String(ErrorSeverityKey, severity),
	)
}
