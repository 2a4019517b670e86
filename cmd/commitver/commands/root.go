// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Commitver - Commitver assigns every commit of a repository a monotonically evolving decimal version and keeps an append-only ledger of those assignments.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package commands contains the Cobra command tree of the commitver CLI.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd constructs the commitver root Cobra command.
func NewRootCmd() *cobra.Command {
	version := os.Getenv("COMMITVER_VERSION")
	if version == "" {
		version = "0.0.0-dev"
	}

	a := &app{}
	cmd := &cobra.Command{
		Use:   "commitver",
		Short: "Commitver - decimal commit versioning with an append-only ledger",
		Long: `Commitver assigns every commit on a tracked branch a decimal version derived
from what the commit changed, and records each assignment in append-only JSON
ledger files that later runs resume from.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.finish(cmd.Context())
		},
	}

	// Global flags
	f := cmd.PersistentFlags()
	f.StringVar(&a.configPath, "config", "", "path to commitver.yaml (default: searched upwards from the working directory)")
	f.StringVar(&a.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	f.StringVar(&a.logFormat, "log-format", "auto", "log format: auto, text or json")
	f.BoolVar(&a.trace, "trace", false, "print OpenTelemetry spans to stderr")
	f.StringVar(&a.metricsFile, "metrics-file", "", "write Prometheus metrics in textfile format to this path")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number of commitver",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "commitver version %s\n", version)
		},
	})

	cmd.AddCommand(newTrackCmd(a))
	cmd.AddCommand(newReplayCmd(a))
	cmd.AddCommand(newRunCmd(a))
	cmd.AddCommand(newLedgerCmd(a))
	cmd.AddCommand(newCalcCmd())
	cmd.AddCommand(newClassifyCmd(a))
	cmd.AddCommand(newConfigCmd(a))

	return cmd
}
