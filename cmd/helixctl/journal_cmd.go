// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ManuGH/helixinit/internal/journal"
)

func newJournalCmd(o *options) *cobra.Command {
	var verify bool
	cmd := &cobra.Command{
		Use:   "journal [boot-id]",
		Short: "List recorded boots or print the events of one boot",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if o.cfg.Journal.Path == "" {
				return errors.New("journal.path is not configured")
			}
			store, err := journal.OpenSQLite(o.cfg.Journal.Path, o.cfg.JournalConfig())
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if verify {
				problems, err := store.Verify(ctx)
				if err != nil {
					return err
				}
				if len(problems) > 0 {
					return fmt.Errorf("journal integrity: %s", strings.Join(problems, "; "))
				}
				fmt.Fprintln(out, "journal ok")
			}

			if len(args) == 0 {
				boots, err := store.Boots(ctx)
				if err != nil {
					return err
				}
				for _, id := range boots {
					fmt.Fprintln(out, id)
				}
				return nil
			}

			events, err := store.Events(ctx, args[0])
			if err != nil {
				return err
			}
			if len(events) == 0 {
				return fmt.Errorf("no events for boot %s", args[0])
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SEQ\tTIME\tEVENT\tPHASE\tSUBSYSTEM\tDETAIL")
			for _, ev := range events {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
					ev.Seq, ev.Time.Format(time.TimeOnly), ev.Kind, ev.Phase, ev.Subsystem, detail(ev))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&verify, "verify", false, "run an integrity check first")
	return cmd
}

func detail(ev journal.Event) string {
	var parts []string
	if ev.OldState != "" || ev.NewState != "" {
		parts = append(parts, ev.OldState+"->"+ev.NewState)
	}
	if ev.ErrorKind != "" {
		parts = append(parts, ev.ErrorKind)
	}
	if ev.Message != "" {
		parts = append(parts, ev.Message)
	}
	return strings.Join(parts, " ")
}
