// SPDX-License-Identifier: GPL-3.0-or-later

// Package cli implements the dronemesh command line interface.
package cli

import "github.com/spf13/cobra"

// NewRootCmd creates the root command with all subcommands attached.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "dronemesh",
		Short:         "Drone mesh network simulator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newRunCmd(),
		newVersionCmd(),
	)
	return root
}
