package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"portscope/api"
	"portscope/config"
	"portscope/logging"
)

func serve(verbose *bool) *cobra.Command {
	var envFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scan API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var files []string
			if envFile != "" {
				files = append(files, envFile)
			}
			cfg, err := config.Load(files...)
			if err != nil {
				return err
			}
			if *verbose {
				cfg.LogLevel = slog.LevelDebug
			}
			logging.SetLevel(cfg.LogLevel)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return api.Run(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", "", "Read settings from this .env file (default .env)")

	return cmd
}
