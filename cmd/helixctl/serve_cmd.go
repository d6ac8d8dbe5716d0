// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ManuGH/helixinit/internal/daemon"
	"github.com/ManuGH/helixinit/internal/diagnostics"
	"github.com/ManuGH/helixinit/internal/log"
	"github.com/ManuGH/helixinit/internal/telemetry"
)

func newServeCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Boot and serve diagnostics until interrupted",
		Long:  "Boot the manifest and serve the read-only diagnostics endpoints until SIGINT or SIGTERM, then shut every subsystem down in reverse order.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return o.serve(ctx)
		},
	}
}

func (o *options) serve(ctx context.Context) error {
	k, err := o.openKernel(ctx)
	if err != nil {
		return err
	}

	router := diagnostics.NewRouter(diagnostics.RouterConfig{
		Snapshot:   func() diagnostics.Snapshot { return diagnostics.Capture(k.orch) },
		Health:     k.healthManager(),
		RateLimit:  o.cfg.Diagnostics.RateLimit,
		TracerName: telemetry.InstrumentationName,
	})
	mgr, err := daemon.NewManager(daemon.DefaultServerConfig(o.cfg.Diagnostics.Listen), daemon.Deps{
		Logger:  log.WithComponent("daemon"),
		Kernel:  k.orch,
		Handler: router,
	})
	if err != nil {
		_ = k.close(ctx)
		return err
	}
	mgr.RegisterShutdownHook("telemetry", k.provider.Shutdown)
	mgr.RegisterShutdownHook("journal", func(context.Context) error { return k.sink.Close() })
	if path := o.cfg.Diagnostics.SnapshotPath; path != "" {
		mgr.RegisterShutdownHook("snapshot", func(context.Context) error {
			return diagnostics.WriteFile(path, diagnostics.Capture(k.orch))
		})
	}
	return mgr.Start(ctx)
}
