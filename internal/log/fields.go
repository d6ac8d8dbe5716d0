// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldBootID      = "boot_id"
	FieldSubsystemID = "subsystem_id"
	FieldSubsystem   = "subsystem"
	FieldTraceID     = "trace_id"
	FieldSpanID      = "span_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldPhase     = "phase"
	FieldAttempt   = "attempt"
	FieldDuration  = "duration_ms"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Failure fields
	FieldErrorKind = "error_kind"
	FieldSeverity  = "severity"
	FieldCallSite  = "call_site"
	FieldRollback  = "rollback"

	// Path / URL fields
	FieldPath       = "path"
	FieldListenAddr = "listen_addr"
)
