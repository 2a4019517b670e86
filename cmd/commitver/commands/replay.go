// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"github.com/spf13/cobra"

	"github.com/bartekus/commitver/cmd/commitver/internal/clierr"
	"github.com/bartekus/commitver/internal/engine"
	"github.com/bartekus/commitver/internal/runner"
)

func newReplayCmd(a *app) *cobra.Command {
	var opts engine.ReplayOptions

	cmd := &cobra.Command{
		Use:   "replay <owner/name>",
		Short: "Rebuild a repository's ledger from its first commit",
		Long: `Replay walks the branch from its first commit and writes the ledger in
chunked files. Existing ledger files are left alone unless --force is given,
in which case they are moved under <ledger_dir>/archive/ first.`,
		Args: cobra.ExactArgs(1),
		RunE: a.withFinish(func(cmd *cobra.Command, args []string) error {
			d, err := a.deps()
			if err != nil {
				return err
			}
			targets, err := d.cfg.Targets(args)
			if err != nil {
				return clierr.Usage(err)
			}
			if !cmd.Flags().Changed("chunk-size") {
				opts.ChunkSize = d.cfg.Replay.ChunkSize
			}

			rp := engine.NewReplayer(d.source, d.classifier, d.store, a.engineOptions(d.cfg)...)
			job := &runner.ReplayJob{Replayer: rp, Target: targets[0], Options: opts}
			return a.newRunner(d, []runner.Job{job}, cmd).RunAll(cmd.Context())
		}),
	}

	cmd.Flags().IntVar(&opts.ChunkSize, "chunk-size", 0, "commits per ledger file (default: replay.chunk_size)")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "archive existing ledger files and rebuild")
	return cmd
}
