// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"
	"os"

	"github.com/bartekus/commitver/cmd/commitver/commands"
	"github.com/bartekus/commitver/cmd/commitver/internal/clierr"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "commitver:", err)
		os.Exit(clierr.ExitCodeOf(err))
	}
}
