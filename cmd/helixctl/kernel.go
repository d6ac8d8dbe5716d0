// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/ManuGH/helixinit/internal/health"
	"github.com/ManuGH/helixinit/internal/journal"
	"github.com/ManuGH/helixinit/internal/orchestrator"
	"github.com/ManuGH/helixinit/internal/registry"
	"github.com/ManuGH/helixinit/internal/sim"
	"github.com/ManuGH/helixinit/internal/telemetry"
	"github.com/ManuGH/helixinit/internal/version"
)

// kernel bundles an orchestrator with the resources it writes to.
type kernel struct {
	orch     *orchestrator.Orchestrator
	sink     journal.Sink
	store    *journal.SQLite
	provider *telemetry.Provider
}

// loadRegistry registers the manifest's scripted subsystems under the policy's
// descriptor overrides.
func (o *options) loadRegistry() (*registry.Registry, error) {
	if o.manifestPath == "" {
		return nil, errManifestRequired
	}
	m, err := sim.LoadManifest(o.manifestPath)
	if err != nil {
		return nil, err
	}
	var opts []registry.Option
	if hook := o.cfg.DescriptorHook(); hook != nil {
		opts = append(opts, registry.WithDescriptorHook(hook))
	}
	reg := registry.New(opts...)
	if _, err := m.Register(reg, nil); err != nil {
		return nil, err
	}
	return reg, nil
}

func (o *options) openKernel(ctx context.Context) (*kernel, error) {
	reg, err := o.loadRegistry()
	if err != nil {
		return nil, err
	}
	provider, err := telemetry.NewProvider(ctx, o.cfg.TelemetryConfig())
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	k := &kernel{provider: provider}
	if path := o.cfg.Journal.Path; path != "" {
		store, err := journal.OpenSQLite(path, o.cfg.JournalConfig())
		if err != nil {
			_ = provider.Shutdown(ctx)
			return nil, err
		}
		k.store = store
		k.sink = store
	} else {
		k.sink = journal.NewMemory()
	}

	k.orch, err = orchestrator.New(reg,
		orchestrator.WithPolicy(o.cfg.Policy()),
		orchestrator.WithJournal(k.sink))
	if err != nil {
		_ = k.close(ctx)
		return nil, err
	}
	return k, nil
}

// healthManager registers the checkers that apply to this kernel.
func (k *kernel) healthManager() *health.Manager {
	hm := health.NewManager(version.Version)
	hm.RegisterChecker(health.NewBootChecker(k.orch))
	hm.RegisterChecker(health.NewSubsystemChecker(k.orch.Registry()))
	if k.store != nil {
		hm.RegisterChecker(health.NewJournalChecker(k.store))
	}
	return hm
}

func (k *kernel) close(ctx context.Context) error {
	return errors.Join(k.sink.Close(), k.provider.Shutdown(ctx))
}
