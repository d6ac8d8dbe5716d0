// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon runs a booted kernel as a long-lived process: it serves
// diagnostics until the context ends and then tears everything down.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/helixinit/internal/log"
)

// ShutdownHook is a function that performs cleanup during graceful shutdown.
// Hooks are executed in reverse registration order (LIFO).
type ShutdownHook func(ctx context.Context) error

// Manager manages the daemon lifecycle: boot, serving, shutdown.
type Manager interface {
	// Start boots the kernel, serves diagnostics and blocks until ctx ends.
	Start(ctx context.Context) error

	// Shutdown stops the server, the subsystems and then runs the hooks.
	Shutdown(ctx context.Context) error

	// RegisterShutdownHook registers a function to be called during shutdown
	RegisterShutdownHook(name string, hook ShutdownHook)

	// Addr returns the bound diagnostics address once serving, else "".
	Addr() string
}

type manager struct {
	serverCfg ServerConfig
	deps      Deps

	server *http.Server
	addr   string

	shutdownHooks []namedHook

	started  bool
	stopping bool
	mu       sync.Mutex

	logger zerolog.Logger
}

type namedHook struct {
	name string
	hook ShutdownHook
}

// NewManager creates a new daemon manager with the given configuration and dependencies.
func NewManager(serverCfg ServerConfig, deps Deps) (Manager, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dependencies: %w", err)
	}
	if serverCfg.ShutdownTimeout <= 0 {
		serverCfg.ShutdownTimeout = 10 * time.Second
	}
	return &manager{
		serverCfg: serverCfg,
		deps:      deps,
		logger:    deps.Logger.With().Str(log.FieldComponent, "daemon").Logger(),
	}, nil
}

func (m *manager) Addr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addr
}

// Start boots the kernel. A failed boot tears down whatever came up and
// returns the boot error without serving. Otherwise the diagnostics server
// runs until ctx is cancelled or the server fails.
func (m *manager) Start(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("start context is nil")
	}

	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrManagerStarted
	}
	m.started = true
	m.mu.Unlock()

	bootStart := time.Now()
	if err := m.deps.Kernel.RunBoot(ctx); err != nil {
		m.logger.Error().
			Err(err).
			Str(log.FieldEvent, "daemon.boot_failed").
			Dur(log.FieldDuration, time.Since(bootStart)).
			Msg("boot halted, tearing down")
		if shutdownErr := m.shutdownDetached(ctx); shutdownErr != nil {
			return errors.Join(err, shutdownErr)
		}
		return err
	}
	m.logger.Info().
		Str(log.FieldEvent, "daemon.booted").
		Dur(log.FieldDuration, time.Since(bootStart)).
		Msg("kernel booted")

	ln, err := m.listen()
	if err != nil {
		if shutdownErr := m.shutdownDetached(ctx); shutdownErr != nil {
			return errors.Join(err, shutdownErr)
		}
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if ln != nil {
		g.Go(func() error {
			m.logger.Info().
				Str(log.FieldEvent, "daemon.listening").
				Str(log.FieldListenAddr, ln.Addr().String()).
				Msg("diagnostics server listening")
			if err := m.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				m.logger.Error().Err(err).Str(log.FieldEvent, "daemon.server_failed").Msg("diagnostics server failed")
				return fmt.Errorf("diagnostics server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			m.logger.Info().Str(log.FieldEvent, "daemon.signal").Msg("shutdown signal received")
		}
		return m.shutdownDetached(ctx)
	})
	return g.Wait()
}

// shutdownDetached bounds shutdown independently of the (possibly cancelled) parent.
func (m *manager) shutdownDetached(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.serverCfg.ShutdownTimeout)
	defer cancel()
	return m.Shutdown(shutdownCtx)
}

func (m *manager) listen() (net.Listener, error) {
	if m.serverCfg.ListenAddr == "" || m.deps.Handler == nil {
		m.logger.Info().Str(log.FieldEvent, "daemon.server_disabled").Msg("diagnostics server disabled")
		return nil, nil
	}
	ln, err := net.Listen("tcp", m.serverCfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrServerStartFailed, m.serverCfg.ListenAddr, err)
	}
	m.mu.Lock()
	m.server = &http.Server{
		Handler:           m.deps.Handler,
		ReadTimeout:       m.serverCfg.ReadTimeout,
		ReadHeaderTimeout: m.serverCfg.ReadTimeout / 2,
		WriteTimeout:      m.serverCfg.WriteTimeout,
		IdleTimeout:       m.serverCfg.IdleTimeout,
	}
	m.addr = ln.Addr().String()
	m.mu.Unlock()
	return ln, nil
}

func (m *manager) Shutdown(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("shutdown context is nil")
	}

	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		return nil
	}
	if !m.started {
		m.mu.Unlock()
		return ErrManagerNotStarted
	}
	m.stopping = true
	server := m.server
	hooks := append([]namedHook(nil), m.shutdownHooks...)
	m.mu.Unlock()

	m.logger.Info().Str(log.FieldEvent, "daemon.shutdown").Msg("shutting down")

	var errs []error
	if server != nil {
		if err := server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("diagnostics server shutdown: %w", err))
		}
	}

	start := time.Now()
	if err := m.deps.Kernel.ShutdownAll(ctx); err != nil {
		errs = append(errs, fmt.Errorf("subsystem shutdown: %w", err))
	}
	m.logger.Debug().
		Str(log.FieldEvent, "daemon.kernel_stopped").
		Dur(log.FieldDuration, time.Since(start)).
		Msg("subsystems shut down")

	for i := len(hooks) - 1; i >= 0; i-- {
		hook := hooks[i]
		hookStart := time.Now()
		if err := hook.hook(ctx); err != nil {
			m.logger.Error().
				Err(err).
				Str("hook", hook.name).
				Dur(log.FieldDuration, time.Since(hookStart)).
				Msg("shutdown hook failed")
			errs = append(errs, fmt.Errorf("hook %s: %w", hook.name, err))
			continue
		}
		m.logger.Debug().
			Str("hook", hook.name).
			Dur(log.FieldDuration, time.Since(hookStart)).
			Msg("shutdown hook completed")
	}

	if len(errs) > 0 {
		m.logger.Error().Int("error_count", len(errs)).Msg("shutdown completed with errors")
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	m.logger.Info().Str(log.FieldEvent, "daemon.stopped").Msg("daemon stopped cleanly")
	return nil
}

// RegisterShutdownHook registers a cleanup function to be called during shutdown.
// Hooks are executed in reverse registration order (LIFO).
func (m *manager) RegisterShutdownHook(name string, hook ShutdownHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownHooks = append(m.shutdownHooks, namedHook{name: name, hook: hook})
}
