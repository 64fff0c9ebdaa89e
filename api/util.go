package api

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"portscope/scanner"
)

const maxTimeoutSeconds = 300

// Defaults fill in request fields the client left out.
type Defaults struct {
	Workers int
	Timeout time.Duration
}

func toScanRequest(req CreateScanRequest, d Defaults) (scanner.ScanRequest, error) {
	out := scanner.ScanRequest{
		Host:     strings.TrimSpace(req.Host),
		PortSpec: req.Ports,
		Workers:  req.Workers,
		Timeout:  time.Duration(req.Timeout * float64(time.Second)),
	}

	switch {
	case req.Workers < 0:
		return out, &scanner.ValidationError{Field: "workers", Reason: "must not be negative"}
	case req.Workers == 0:
		out.Workers = d.Workers
	}

	switch {
	case req.Timeout < 0:
		return out, &scanner.ValidationError{Field: "timeout", Reason: "must not be negative"}
	case req.Timeout > maxTimeoutSeconds:
		return out, &scanner.ValidationError{Field: "timeout", Reason: fmt.Sprintf("must be at most %d seconds", maxTimeoutSeconds)}
	case req.Timeout == 0:
		out.Timeout = d.Timeout
	}

	return out, nil
}

// parseCursor reads the logs_index query value; empty means 0.
func parseCursor(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("logs_index must be a non-negative integer")
	}
	return n, nil
}

func validScanID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
