// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"github.com/spf13/cobra"

	"github.com/bartekus/commitver/internal/engine"
)

func newTrackCmd(a *app) *cobra.Command {
	var opts engine.TrackOptions

	cmd := &cobra.Command{
		Use:   "track [owner/name...]",
		Short: "Version the commits that arrived since the last ledger file",
		Long: `Track fetches the commits pushed since each repository's checkpoint, assigns
them versions and appends one ledger file per repository. With no arguments
every configured repository is tracked.

Exit codes: 3 when a checkpoint commit is missing upstream (see --resync),
4 when the newest ledger file is corrupt (see --allow-reset).`,
		RunE: a.withFinish(func(cmd *cobra.Command, args []string) error {
			d, err := a.deps()
			if err != nil {
				return err
			}
			opts.Lookback = d.cfg.Lookback
			jobs, err := a.trackJobs(d, args, opts)
			if err != nil {
				return err
			}
			return a.newRunner(d, jobs, cmd).RunAll(cmd.Context())
		}),
	}

	cmd.Flags().BoolVar(&opts.Resync, "resync", false, "reprocess the fetched window when the checkpoint commit is missing upstream")
	cmd.Flags().BoolVar(&opts.AllowReset, "allow-reset", false, "start without a checkpoint when the newest ledger file is corrupt")
	return cmd
}
