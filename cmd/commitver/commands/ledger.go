// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bartekus/commitver/cmd/commitver/internal/clierr"
	"github.com/bartekus/commitver/internal/ledger"
	"github.com/bartekus/commitver/internal/source"
)

// Output formats of "ledger show".
const (
	formatMarkdown = "markdown"
	formatJSON     = "json"
	formatYAML     = "yaml"
)

func newLedgerCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and annotate ledger files",
	}

	store := func() (*ledger.Store, error) {
		cfg, err := a.config()
		if err != nil {
			return nil, err
		}
		return ledger.NewStore(cfg.LedgerDir), nil
	}

	cmd.AddCommand(newLedgerLatestCmd(store))
	cmd.AddCommand(newLedgerShowCmd(store))
	cmd.AddCommand(&cobra.Command{
		Use:   "mark-summarized <file>",
		Short: "Set the one-time summarized flag on a ledger file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := store()
			if err != nil {
				return err
			}
			if err := s.MarkSummarized(args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "marked %s as summarized\n", args[0])
			return nil
		},
	})
	return cmd
}

func repoArg(arg string) (string, error) {
	repo, err := source.ParseRepo(arg)
	if err != nil {
		return "", clierr.Usage(err)
	}
	return repo.String(), nil
}

func newLedgerLatestCmd(store func() (*ledger.Store, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "latest <owner/name>",
		Short: "Print the newest ledger file and its checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := repoArg(args[0])
			if err != nil {
				return err
			}
			s, err := store()
			if err != nil {
				return err
			}
			latest, err := s.FindLatest(repo)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if latest == nil {
				_, _ = fmt.Fprintf(out, "No ledger files for %s.\n", repo)
				return nil
			}
			cp, _ := latest.History.Checkpoint()
			_, _ = fmt.Fprintf(out, "File:       %s\n", latest.Filename)
			_, _ = fmt.Fprintf(out, "Branch:     %s\n", latest.History.Branch)
			_, _ = fmt.Fprintf(out, "Commits:    %d\n", len(latest.History.Commits))
			_, _ = fmt.Fprintf(out, "Checkpoint: %s\n", cp.SHA)
			_, _ = fmt.Fprintf(out, "Version:    %s\n", cp.Version)
			_, _ = fmt.Fprintf(out, "Summarized: %t\n", latest.History.Summarized)
			return nil
		},
	}
}

// showDoc is the json and yaml shape of "ledger show".
type showDoc struct {
	Repo    string                `json:"repo" yaml:"repo"`
	Files   []string              `json:"files" yaml:"files"`
	Commits []ledger.CommitRecord `json:"commits" yaml:"commits"`
}

func newLedgerShowCmd(store func() (*ledger.Store, error)) *cobra.Command {
	var (
		format string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "show <owner/name>",
		Short: "Render a repository's ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := repoArg(args[0])
			if err != nil {
				return err
			}
			if format != formatMarkdown && format != formatJSON && format != formatYAML {
				return clierr.Usage(fmt.Errorf("unknown format %q (must be markdown, json or yaml)", format))
			}
			s, err := store()
			if err != nil {
				return err
			}
			entries, err := s.LoadAll(repo)
			if err != nil {
				return err
			}

			if format == formatMarkdown {
				_, err := io.WriteString(cmd.OutOrStdout(), ledger.RenderMarkdown(repo, entries, limit))
				return err
			}

			doc := showDoc{Repo: repo, Files: []string{}, Commits: []ledger.CommitRecord{}}
			for _, e := range entries {
				doc.Files = append(doc.Files, e.Filename)
				doc.Commits = append(doc.Commits, e.History.Commits...)
			}
			if limit > 0 && len(doc.Commits) > limit {
				doc.Commits = doc.Commits[len(doc.Commits)-limit:]
			}
			return encode(cmd.OutOrStdout(), format, doc)
		},
	}

	cmd.Flags().StringVar(&format, "format", formatMarkdown, "output format: markdown, json or yaml")
	cmd.Flags().IntVar(&limit, "limit", 0, "show only the newest N commits (0 shows all)")
	return cmd
}

func encode(w io.Writer, format string, v any) error {
	if format == formatYAML {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
