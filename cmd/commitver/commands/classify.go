// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bartekus/commitver/cmd/commitver/internal/clierr"
	"github.com/bartekus/commitver/internal/classifier"
)

// classifyReport is the --json output of "classify".
type classifyReport struct {
	Tier       string  `json:"tier"`
	DecidedBy  string  `json:"decided_by"`
	Confidence float64 `json:"confidence,omitempty"`
	Reason     string  `json:"reason,omitempty"`
	Directive  string  `json:"directive,omitempty"`
}

func newClassifyCmd(a *app) *cobra.Command {
	var (
		diffFile string
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "classify <message>",
		Short: "Show which tier a commit message would receive",
		Long: `Classify runs the tier decision for one commit message without fetching or
writing anything. The configured model is consulted only when no keyword
matches; pass --diff-file to give it the commit's diff.`,
		Args: cobra.MinimumNArgs(1),
		RunE: a.withFinish(func(cmd *cobra.Command, args []string) error {
			message := strings.Join(args, " ")
			var diff string
			if diffFile != "" {
				data, err := os.ReadFile(diffFile)
				if err != nil {
					return clierr.Usage(fmt.Errorf("reading diff file: %w", err))
				}
				diff = string(data)
			}

			cfg, err := a.config()
			if err != nil {
				return err
			}
			cls, err := a.classifier(cfg)
			if err != nil {
				return err
			}

			dec := cls.Decide(cmd.Context(), message, diff)
			report := classifyReport{
				Tier:       string(dec.Tier),
				DecidedBy:  dec.DecidedBy,
				Confidence: dec.Confidence,
				Reason:     dec.Reason,
			}
			if d := classifier.ParseDirective(message); d.Kind != classifier.DirectiveNone {
				report.Directive = d.Kind.String()
				if d.Kind == classifier.DirectiveSet {
					report.Directive += " " + d.Version.String()
				}
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return encode(out, formatJSON, report)
			}
			_, _ = fmt.Fprintf(out, "tier:       %s\n", report.Tier)
			_, _ = fmt.Fprintf(out, "decided by: %s\n", report.DecidedBy)
			if report.Confidence > 0 {
				_, _ = fmt.Fprintf(out, "confidence: %.2f\n", report.Confidence)
			}
			if report.Reason != "" {
				_, _ = fmt.Fprintf(out, "reason:     %s\n", report.Reason)
			}
			if report.Directive != "" {
				_, _ = fmt.Fprintf(out, "directive:  %s (overrides the tier)\n", report.Directive)
			}
			return nil
		}),
	}

	cmd.Flags().StringVar(&diffFile, "diff-file", "", "unified diff to show the model")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output the decision as JSON")
	return cmd
}
