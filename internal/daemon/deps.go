// SPDX-License-Identifier: MIT

package daemon

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Kernel is the part of the orchestrator the daemon drives.
type Kernel interface {
	RunBoot(ctx context.Context) error
	ShutdownAll(ctx context.Context) error
}

// ServerConfig shapes the diagnostics HTTP server.
type ServerConfig struct {
	// ListenAddr is the diagnostics listen address; empty disables the server.
	ListenAddr      string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns conservative timeouts for a local diagnostics port.
func DefaultServerConfig(listen string) ServerConfig {
	return ServerConfig{
		ListenAddr:      listen,
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Deps contains dependencies required by the daemon Manager.
type Deps struct {
	// Logger is the structured logger for the daemon
	Logger zerolog.Logger

	// Kernel boots and tears down the registered subsystems
	Kernel Kernel

	// Handler serves the diagnostics endpoints (optional)
	Handler http.Handler
}

// Validate checks if the dependencies are valid.
func (d *Deps) Validate() error {
	if d.Logger.GetLevel() == zerolog.Disabled {
		return ErrMissingLogger
	}
	if d.Kernel == nil {
		return ErrMissingKernel
	}
	return nil
}
