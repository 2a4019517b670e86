// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bartekus/commitver/cmd/commitver/internal/clierr"
	"github.com/bartekus/commitver/internal/config"
	"github.com/bartekus/commitver/internal/projectroot"
)

const redacted = "<redacted>"

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or inspect commitver.yaml",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default commitver.yaml",
		Long:  "Init writes the default configuration to --config, or to ./commitver.yaml. An existing file is never replaced.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.configPath
			if path == "" {
				path = projectroot.ConfigFile
			}
			if err := config.WriteDefault(path); err != nil {
				return clierr.Usage(err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.config()
			if err != nil {
				return err
			}
			if cfg.Host.Token != "" {
				cfg.Host.Token = redacted
			}
			if cfg.Classifier.APIKey != "" {
				cfg.Classifier.APIKey = redacted
			}
			data, err := config.Marshal(cfg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if cfg.Path != "" {
				_, _ = fmt.Fprintf(out, "# loaded from %s\n", cfg.Path)
			} else {
				_, _ = fmt.Fprintln(out, "# no commitver.yaml found, showing defaults")
			}
			_, err = out.Write(data)
			return err
		},
	})
	return cmd
}
