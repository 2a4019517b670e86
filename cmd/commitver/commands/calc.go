// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bartekus/commitver/cmd/commitver/internal/clierr"
	"github.com/bartekus/commitver/internal/version"
)

func newCalcCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calc",
		Short: "Evaluate the version algebra without touching any ledger",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "parse <version>",
		Short: "Show how a version string is read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v := version.Parse(args[0])
			d := v.Digits()
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "version:   %s\n", v)
			_, _ = fmt.Fprintf(out, "major:     %d\n", v.Major())
			_, _ = fmt.Fprintf(out, "precision: %d\n", v.Precision())
			_, _ = fmt.Fprintf(out, "digits:    %v\n", d[:])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "bump <version> <tier>...",
		Short: "Apply one or more tier bumps in order",
		Long:  "Tiers: major, refactor, feat, minor, fix, tiny. skip leaves the version unchanged.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v := version.Parse(args[0])
			for _, arg := range args[1:] {
				t, err := version.ParseTier(arg)
				if err != nil {
					return clierr.Usage(err)
				}
				next := version.Bump(v, t)
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s --%s--> %s\n", v, t, next)
				v = next
			}
			return nil
		},
	})
	return cmd
}
