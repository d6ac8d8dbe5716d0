// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import "errors"

var (
	// ErrMissingLogger is returned when logger is not provided
	ErrMissingLogger = errors.New("logger is required")

	// ErrMissingKernel is returned when no orchestrator is provided
	ErrMissingKernel = errors.New("kernel is required")

	// ErrManagerStarted is returned when Start is called twice
	ErrManagerStarted = errors.New("manager already started")

	// ErrManagerNotStarted is returned when trying to shutdown a manager that hasn't started
	ErrManagerNotStarted = errors.New("manager not started")

	// ErrServerStartFailed is returned when the diagnostics listener cannot be bound
	ErrServerStartFailed = errors.New("server failed to start")
)
