// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ManuGH/helixinit/internal/diagnostics"
	"github.com/ManuGH/helixinit/internal/log"
)

const defaultSnapshotPath = "helix-snapshot.json"

func newBootCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "boot",
		Short: "Run a boot and print the subsystem state table",
		Long:  "Run every phase of the manifest, print the state table and shut the booted subsystems down again. Exits non-zero when a mandatory subsystem halts the boot.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			snap, bootErr, err := o.bootOnce(cmd.Context())
			if err != nil {
				return err
			}
			if err := diagnostics.WriteTable(cmd.OutOrStdout(), snap); err != nil {
				return err
			}
			if path := o.cfg.Diagnostics.SnapshotPath; path != "" {
				if err := diagnostics.WriteFile(path, snap); err != nil {
					return err
				}
			}
			return bootErr
		},
	}
}

func newDiagCmd(o *options) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "diag",
		Short: "Run a boot and write the JSON state snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			snap, bootErr, err := o.bootOnce(cmd.Context())
			if err != nil {
				return err
			}
			path := out
			if path == "" {
				path = o.cfg.Diagnostics.SnapshotPath
			}
			if path == "" {
				path = defaultSnapshotPath
			}
			if err := diagnostics.WriteFile(path, snap); err != nil {
				return err
			}
			if bootErr != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "boot aborted: %v\n", bootErr)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "snapshot %s written to %s\n", snap.BootID, path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "snapshot path (defaults to diagnostics.snapshotPath)")
	return cmd
}

// bootOnce runs a full boot, captures the state table and then stops every
// subsystem that came up. bootErr is the boot outcome; err is any other failure.
func (o *options) bootOnce(ctx context.Context) (snap diagnostics.Snapshot, bootErr, err error) {
	k, err := o.openKernel(ctx)
	if err != nil {
		return snap, nil, err
	}
	defer func() {
		err = errors.Join(err, k.close(context.WithoutCancel(ctx)))
	}()

	bootErr = k.orch.RunBoot(ctx)
	snap = diagnostics.Capture(k.orch)

	if stopErr := k.orch.ShutdownAll(ctx); stopErr != nil {
		logger := log.WithComponent("helixctl")
		logger.Warn().Err(stopErr).Str(log.FieldEvent, "shutdown.partial").Msg("some subsystems did not shut down")
	}
	return snap, bootErr, nil
}
