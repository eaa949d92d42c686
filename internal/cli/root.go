// Package cli implements the hivemq-testcontainer command.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "hivemq-testcontainer",
		Short:        "Run HiveMQ brokers in Docker and package HiveMQ extensions",
		SilenceUsage: true,
	}

	cmd.AddCommand(runCmd())
	cmd.AddCommand(packageCmd())
	cmd.AddCommand(versionCmd())
	return cmd
}
