// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ManuGH/helixinit/internal/config"
	"github.com/ManuGH/helixinit/internal/log"
	"github.com/ManuGH/helixinit/internal/version"
)

var errManifestRequired = errors.New("--manifest is required")

// options carries the persistent flags and the policy loaded from them.
type options struct {
	configPath   string
	manifestPath string
	logLevel     string

	cfg config.Config
}

func newRootCmd() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:           "helixctl",
		Short:         "Boot and inspect a subsystem manifest",
		Long:          "helixctl runs the phased subsystem boot described by a manifest, applies the boot policy and reports the resulting state table.",
		SilenceUsage:  true,
		SilenceErrors: false,
		Version:       version.String(),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return o.load(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&o.configPath, "config", "", "path to the boot policy (YAML)")
	flags.StringVar(&o.manifestPath, "manifest", "", "path to the subsystem manifest (YAML)")
	flags.StringVar(&o.logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	root.AddCommand(
		newBootCmd(o),
		newOrderCmd(o),
		newValidateCmd(o),
		newServeCmd(o),
		newDiagCmd(o),
		newJournalCmd(o),
	)
	return root
}

// load reads the policy and configures logging before any command runs.
func (o *options) load(cmd *cobra.Command) error {
	cfg, err := config.NewLoader(strings.TrimSpace(o.configPath), nil).Load()
	if err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	o.cfg = cfg

	lc := cfg.LogConfig()
	lc.Output = cmd.ErrOrStderr()
	log.Configure(lc)
	return nil
}
