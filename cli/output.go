package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"portscope/scanner"
)

const maxBannerWidth = 100

func printLogs(w io.Writer, logs []scanner.LogEntry) {
	for _, entry := range logs {
		fmt.Fprintf(w, "%s [%s] %s\n", entry.Time.Format("15:04:05"), entry.Level, entry.Message)
	}
}

// outputJSON marshals and prints the snapshot in JSON format.
func outputJSON(w io.Writer, snap scanner.Snapshot) error {
	jsonData, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("error encoding to JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(jsonData))
	return err
}

// outputPlainText prints one line per open port followed by a summary.
// Banners are cut to their first line.
func outputPlainText(w io.Writer, snap scanner.Snapshot) {
	if len(snap.Results) > 0 {
		fmt.Fprintln(w)
	}
	for _, result := range snap.Results {
		line := fmt.Sprintf("%s:%d - open - %s", snap.Host, result.Port, result.Service)
		if detail := strings.TrimSpace(result.Server + " " + result.Version); detail != "" {
			line += " (" + detail + ")"
		}
		if result.TLS != nil {
			line += fmt.Sprintf(" [%s, cert %s]", result.TLS.Version, result.TLS.Certificate.Subject)
		}
		if banner := extractFirstLine(result.Banner); banner != "" {
			if len(banner) > maxBannerWidth {
				banner = banner[:maxBannerWidth] + "..."
			}
			line += " - " + banner
		}
		fmt.Fprintln(w, line)
	}

	fmt.Fprintf(w, "\n%s: %d/%d ports probed, %d open, %d closed, %d filtered",
		snap.State, snap.Probed, snap.Total, len(snap.Results), snap.Closed, snap.Filtered)
	if snap.DurationSeconds != nil {
		fmt.Fprintf(w, " in %.2fs", *snap.DurationSeconds)
	}
	fmt.Fprintln(w)
}

// extractFirstLine returns the first line of a multi-line string.
func extractFirstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return strings.TrimRight(line, "\r")
}
