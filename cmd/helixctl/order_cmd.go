// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ManuGH/helixinit/internal/phase"
)

func newOrderCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "order",
		Short: "Print the per-phase initialization order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := o.loadRegistry()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PHASE\t#\tNAME\tID\tPRIORITY\tMANDATORY")
			for _, p := range phase.All() {
				ids, err := reg.OrderForPhase(p)
				if err != nil {
					return fmt.Errorf("phase %s: %w", p, err)
				}
				for i, id := range ids {
					d, _ := reg.Lookup(id)
					fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%d\t%t\n", p, i+1, d.Name, d.ID, d.Priority, d.Mandatory)
				}
			}
			return tw.Flush()
		},
	}
}

func newValidateCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the policy, the manifest and the ordering without booting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := o.loadRegistry()
			if err != nil {
				return err
			}
			phases := 0
			for _, p := range phase.All() {
				ids, err := reg.OrderForPhase(p)
				if err != nil {
					return fmt.Errorf("phase %s: %w", p, err)
				}
				if len(ids) > 0 {
					phases++
				}
			}
			if _, err := reg.GlobalOrder(); err != nil {
				return fmt.Errorf("shutdown order: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d subsystems across %d phases\n", reg.Len(), phases)
			return nil
		},
	}
}
