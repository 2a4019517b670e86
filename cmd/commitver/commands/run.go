// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bartekus/commitver/cmd/commitver/internal/clierr"
	"github.com/bartekus/commitver/internal/engine"
	"github.com/bartekus/commitver/internal/runner"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		opts    engine.TrackOptions
		runJSON bool
	)

	// setup builds a runner over every configured repository.
	setup := func(cmd *cobra.Command) (*runner.Runner, error) {
		d, err := a.deps()
		if err != nil {
			return nil, err
		}
		opts.Lookback = d.cfg.Lookback
		jobs, err := a.trackJobs(d, nil, opts)
		if err != nil {
			return nil, err
		}
		return a.newRunner(d, jobs, cmd), nil
	}

	stateStore := func() (*runner.StateStore, error) {
		cfg, err := a.config()
		if err != nil {
			return nil, err
		}
		return runner.NewStateStore(cfg.StateDir), nil
	}

	cmd := &cobra.Command{
		Use:   "run <all|resume|report|reset|owner/name...>",
		Short: "Orchestrate tracking across every configured repository",
		Long: `Run tracks the configured repositories with bounded concurrency and keeps
the outcome in <state_dir>/last-run.json, so a later "run resume" re-runs only
the repositories that failed.`,
		RunE: a.withFinish(func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			r, err := setup(cmd)
			if err != nil {
				return err
			}
			err = r.RunList(cmd.Context(), args)
			var runErr *runner.RunError
			if err != nil && !errors.As(err, &runErr) {
				return clierr.Usage(err)
			}
			return err
		}),
	}
	cmd.PersistentFlags().BoolVar(&runJSON, "json", false, "output results in JSON")
	cmd.PersistentFlags().BoolVar(&opts.Resync, "resync", false, "reprocess the fetched window when a checkpoint commit is missing upstream")
	cmd.PersistentFlags().BoolVar(&opts.AllowReset, "allow-reset", false, "start without a checkpoint when the newest ledger file is corrupt")

	cmd.AddCommand(&cobra.Command{
		Use:   "all",
		Short: "Track every configured repository",
		RunE: a.withFinish(func(cmd *cobra.Command, args []string) error {
			r, err := setup(cmd)
			if err != nil {
				return err
			}
			return r.RunAll(cmd.Context())
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "resume",
		Short: "Re-run only the repositories that failed last time",
		RunE: a.withFinish(func(cmd *cobra.Command, args []string) error {
			r, err := setup(cmd)
			if err != nil {
				return err
			}
			return r.Resume(cmd.Context())
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Clear run state",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := stateStore()
			if err != nil {
				return err
			}
			return store.Reset()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "report",
		Short: "Show last run status",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := stateStore()
			if err != nil {
				return err
			}
			last, err := store.ReadLastRun()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if runJSON {
				report := struct {
					*runner.LastRun
					Results []*runner.JobResult `json:"results,omitempty"`
				}{LastRun: last}
				if last != nil {
					for _, repo := range last.Repos {
						res, err := store.ReadResult(repo)
						if err != nil {
							return err
						}
						if res != nil {
							report.Results = append(report.Results, res)
						}
					}
				}
				encoder := json.NewEncoder(out)
				encoder.SetIndent("", "  ")
				return encoder.Encode(report)
			}

			if last == nil {
				_, _ = fmt.Fprintln(out, "No run state found.")
				return nil
			}

			_, _ = fmt.Fprintf(out, "Status: %s\n", last.Status)
			_, _ = fmt.Fprintf(out, "Finished: %s\n", last.FinishedAt.Format("2006-01-02T15:04:05Z"))
			for _, repo := range last.Repos {
				res, err := store.ReadResult(repo)
				if err != nil {
					return err
				}
				if res == nil {
					continue
				}
				_, _ = fmt.Fprintf(out, "  %-4s %s", res.Status, res.Repo)
				if res.Commits > 0 {
					_, _ = fmt.Fprintf(out, " %d commits %s -> %s", res.Commits, res.From, res.To)
				}
				if res.Note != "" {
					_, _ = fmt.Fprintf(out, " (%s)", res.Note)
				}
				_, _ = fmt.Fprintln(out)
			}
			if len(last.Failed) == 0 {
				_, _ = fmt.Fprintln(out, "All passed.")
			}
			return nil
		},
	})

	return cmd
}
