// Package cli wires the portscope commands.
package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"portscope/logging"
)

// Root builds and returns the root command.
func Root() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:           "portscope",
		Short:         "Concurrent TCP port scanner with an HTTP job API",
		SilenceUsage:  true,
		SilenceErrors: true,
		// This runs before all commands and all sub-commands
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.Configure()
			if verbose {
				logging.SetLevel(slog.LevelDebug)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show debug logs")

	cmd.AddCommand(serve(&verbose), scan(), version())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return Root().Execute()
}
