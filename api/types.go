package api

import (
	"time"

	"portscope/scanner"
)

// CreateScanRequest is the payload for starting a scan.
type CreateScanRequest struct {
	// Host is the single target to scan.
	Host string `json:"host" binding:"required" example:"scanme.nmap.org" description:"Hostname, IPv4 or IPv6 literal of the target. Names are resolved once when the scan starts; a resolution failure moves the scan to failed."`
	// Ports expresses the port selection using comma-separated values and ranges.
	Ports string `json:"ports" binding:"required" example:"22,80,443,8000-8100" description:"Combination of single ports and inclusive ranges (e.g. 22,80,1000-1050). Whitespace around tokens is ignored and duplicates are removed keeping the first occurrence."`
	// Workers is the requested concurrency.
	Workers int `json:"workers" example:"50" description:"Requested number of concurrent probes. Advisory: the scanner clamps it to twice the number of server cores and reports the effective value. Omit or send 0 for the server default."`
	// Timeout is the per-connection timeout in seconds.
	Timeout float64 `json:"timeout" example:"1.5" description:"Per-connection timeout in seconds. Omit or send 0 for the server default."`
}

// ScanAcceptedResponse is returned when a scan was created.
type ScanAcceptedResponse struct {
	ID     string           `json:"id" format:"uuid" example:"a3f5c62e-1234-4f72-a84a-1c2d3e4f5678" description:"Identifier to poll with GET /scans/{id}."`
	Status scanner.JobState `json:"status" enums:"pending,running" example:"pending" description:"State of the scan at the time the response was written."`
}

// StopResponse acknowledges a stop request.
type StopResponse struct {
	ID           string           `json:"id" format:"uuid" example:"a3f5c62e-1234-4f72-a84a-1c2d3e4f5678"`
	Acknowledged bool             `json:"acknowledged" example:"true" description:"Always true; stopping a finished or already stopping scan is accepted without effect."`
	Status       scanner.JobState `json:"status" enums:"pending,running,completed,failed,stopped" example:"running" description:"State at acknowledgement time. In-flight probes finish within their timeout before the scan reports stopped."`
}

// ArchivedScan is a finished scan as kept in the history archive.
type ArchivedScan struct {
	Snapshot   scanner.Snapshot `json:"snapshot"`
	ArchivedAt time.Time        `json:"archived_at" format:"date-time" example:"2024-01-02T15:06:30Z"`
}

// HealthResponse reports process readiness.
type HealthResponse struct {
	Status  string `json:"status" example:"ok"`
	Archive string `json:"archive" enums:"enabled,disabled,unavailable" example:"enabled"`
	Jobs    int    `json:"jobs" example:"3" description:"Scans currently held in memory."`
}

// ErrorResponse provides a consistent structure for API error payloads.
type ErrorResponse struct {
	// Error is a human-readable explanation of why the request failed.
	Error string `json:"error" example:"scan not found" description:"Human readable error message describing why the request was rejected."`
	// Field names the offending request field for validation errors.
	Field string `json:"field,omitempty" example:"ports"`
}
