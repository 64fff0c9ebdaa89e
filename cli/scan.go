package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"portscope/scanner"
)

const pollInterval = 250 * time.Millisecond

func scan() *cobra.Command {
	var (
		workers    int
		timeout    time.Duration
		jsonOutput bool
		probesFile string
	)

	cmd := &cobra.Command{
		Use:   "scan HOST PORTS",
		Short: "Scan one host in the foreground",
		Example: "  portscope scan 127.0.0.1 22,80,443\n" +
			"  portscope scan --json --workers 64 scanme.nmap.org 1-1024",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := scanner.Options{}
			if probesFile != "" {
				probes, stats, err := scanner.LoadProbes(probesFile)
				if err != nil {
					return err
				}
				if len(stats.ErrorLines) > 0 {
					fmt.Fprintf(cmd.ErrOrStderr(), "Skipped %d unusable probe lines\n", len(stats.ErrorLines))
				}
				opts.Probes = scanner.NewProbeCache(probes)
			}

			registry := scanner.NewRegistry(scanner.NewCoordinator(opts))
			defer registry.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			snap, err := runScan(ctx, registry, scanner.ScanRequest{
				Host:     args[0],
				PortSpec: args[1],
				Workers:  workers,
				Timeout:  timeout,
			}, logWriter(cmd, jsonOutput), pollInterval)
			if err != nil {
				return err
			}

			if jsonOutput {
				if err := outputJSON(cmd.OutOrStdout(), snap); err != nil {
					return err
				}
			} else {
				outputPlainText(cmd.OutOrStdout(), snap)
			}
			if snap.State == scanner.JobFailed {
				return fmt.Errorf("scan of %s failed", snap.Host)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&workers, "workers", "w", 100, "Requested number of concurrent probes (clamped to 2x cores)")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", time.Second, "Per-connection timeout")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the final snapshot in JSON format")
	cmd.Flags().StringVar(&probesFile, "probes", "", "nmap-service-probes file used to refine service detection")

	return cmd
}

// logWriter sends progress lines to stdout for plain output and to stderr
// when stdout carries JSON.
func logWriter(cmd *cobra.Command, jsonOutput bool) io.Writer {
	if jsonOutput {
		return cmd.ErrOrStderr()
	}
	return cmd.OutOrStdout()
}

// runScan starts req on registry and streams new log entries to w until the
// scan is terminal. Cancelling ctx requests a stop; the scan still drains
// its in-flight probes before the final snapshot is returned.
func runScan(ctx context.Context, registry *scanner.Registry, req scanner.ScanRequest, w io.Writer, every time.Duration) (scanner.Snapshot, error) {
	id, err := registry.Create(req)
	if err != nil {
		return scanner.Snapshot{}, err
	}
	job, err := registry.Job(id)
	if err != nil {
		return scanner.Snapshot{}, err
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	cancelled := ctx.Done()
	cursor := 0
	for {
		select {
		case <-job.Done():
			snap := job.Snapshot(cursor)
			printLogs(w, snap.Logs)
			return job.Snapshot(0), nil
		case <-cancelled:
			_ = registry.RequestStop(id)
			cancelled = nil
		case <-ticker.C:
		}

		snap := job.Snapshot(cursor)
		printLogs(w, snap.Logs)
		cursor = snap.NextLogIndex
	}
}
