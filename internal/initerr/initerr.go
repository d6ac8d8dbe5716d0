// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package initerr classifies subsystem initialization failures and maps each
// class onto its retry and rollback policy.
package initerr

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/ManuGH/helixinit/internal/phase"
	"github.com/ManuGH/helixinit/internal/subsystem"
)

// InitError is a classified initialization failure.
type InitError struct {
	Kind      Kind
	Severity  Severity
	Retryable bool
	Rollback  RollbackPolicy
	Message   string

	Subsystem subsystem.ID
	Name      string
	Phase     phase.Phase
	Attempts  int

	// CallSite is set for Internal errors to locate the orchestrator defect.
	CallSite string
	Cause    error
}

// New builds an error of kind k with the kind's table policy.
func New(k Kind, msg string) *InitError {
	e := &InitError{Kind: k, Message: msg}
	e.applyPolicy()
	if k == Internal {
		e.CallSite = callSite(1)
	}
	return e
}

// Newf is New with formatting.
func Newf(k Kind, format string, args ...any) *InitError {
	e := New(k, fmt.Sprintf(format, args...))
	if k == Internal {
		e.CallSite = callSite(1)
	}
	return e
}

// Wrap builds an error of kind k carrying cause.
func Wrap(k Kind, cause error, msg string) *InitError {
	e := New(k, msg)
	e.Cause = cause
	if k == Internal {
		e.CallSite = callSite(1)
	}
	return e
}

func (e *InitError) applyPolicy() {
	p := PolicyFor(e.Kind)
	e.Severity = p.Severity
	e.Retryable = p.Retryable
	e.Rollback = p.Rollback
}

// For returns a copy of e attributed to the given subsystem.
func (e *InitError) For(d subsystem.Descriptor) *InitError {
	cp := *e
	cp.Subsystem = d.ID
	cp.Name = d.Name
	cp.Phase = d.Phase
	return &cp
}

func (e *InitError) Error() string {
	var b strings.Builder
	if e.Name != "" {
		fmt.Fprintf(&b, "%s: ", e.Name)
	} else if e.Subsystem != 0 {
		fmt.Fprintf(&b, "%s: ", e.Subsystem)
	}
	b.WriteString(e.Kind.String())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *InitError) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel of e's kind.
func (e *InitError) Is(target error) bool {
	return target == e.Kind.Sentinel()
}

// KindOf returns the kind of err after classification.
func KindOf(err error) Kind {
	return Classify(err).Kind
}

// Classify maps any error onto an InitError without side effects on err.
// A nil error classifies to nil. Errors already classified are returned as is.
// Unrecognized causes are Internal. Their CallSite is the location that
// classified them, since a returned error carries no origin; panics recovered
// with RecoveredAt keep the panicking frame instead.
func Classify(raw error) *InitError {
	if raw == nil {
		return nil
	}
	var ie *InitError
	if errors.As(raw, &ie) {
		return ie
	}

	kind, known := kindOfCause(raw)
	e := &InitError{Kind: kind, Cause: raw}
	e.applyPolicy()
	if kind == Internal {
		e.CallSite = callSite(1)
		if !known {
			e.Message = "unclassified failure"
		}
	}
	return e
}

func kindOfCause(err error) (Kind, bool) {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return Timeout, true
	case errors.Is(err, ErrTimeout):
		return Timeout, true
	case errors.Is(err, ErrResource):
		return Resource, true
	case errors.Is(err, ErrDependency):
		return Dependency, true
	case errors.Is(err, ErrHardware):
		return Hardware, true
	case errors.Is(err, ErrConfig):
		return Config, true
	case errors.Is(err, ErrInternal), errors.Is(err, subsystem.ErrInvalidTransition):
		return Internal, true
	}
	return Internal, false
}

// RecoveredAt returns the location of the frame that panicked. It must be
// called directly from the deferred function that recovered.
func RecoveredAt() string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		f, more := frames.Next()
		if !strings.HasPrefix(f.Function, "runtime.") {
			return shortSite(f.File, f.Line)
		}
		if !more {
			return "unknown"
		}
	}
}

func callSite(skip int) string {
	_, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return "unknown"
	}
	return shortSite(file, line)
}

func shortSite(file string, line int) string {
	if i := strings.LastIndex(file, "/"); i >= 0 {
		if j := strings.LastIndex(file[:i], "/"); j >= 0 {
			file = file[j+1:]
		}
	}
	return fmt.Sprintf("%s:%d", file, line)
}
