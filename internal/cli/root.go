// Package cli wires the trading stack together behind a cobra command
// tree: config loading, broker selection, storage, notifications and the
// engine loop.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is stamped by the build; "dev" for local builds.
var Version = "dev"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "sensextrader",
		Short:         "Algorithmic options and equity trader for NSE/BSE",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(
		newRunCmd(),
		newVersionCmd(),
	)
	return cmd
}

// Execute runs the command tree and exits non-zero on error.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Stderr.WriteString("error: " + err.Error() + "\n")
		os.Exit(1)
	}
}
