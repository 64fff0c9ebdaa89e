package scanner

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// PortState is the classification of a single connect attempt.
type PortState string

const (
	StateOpen     PortState = "open"
	StateClosed   PortState = "closed"
	StateFiltered PortState = "filtered"
)

// Dialer opens TCP connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Resolver resolves target names. *net.Resolver satisfies it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// ProbeOutcome is the result of one TCP connect attempt. Conn is set only for
// open ports and must be closed by the caller.
type ProbeOutcome struct {
	Port  int
	State PortState
	Conn  net.Conn
	// Refused is true when the peer actively rejected the connection. A closed
	// outcome without Refused came from some other failure kept in Err.
	Refused bool
	Err     error
}

// Probe attempts a TCP connection to host:port. The dial is bounded by timeout
// through its context, so the call cannot outlive timeout by more than the
// scheduler's latency.
//
//   - Open: handshake completed
//   - Closed: connection refused or reset, or any other immediate failure
//   - Filtered: no answer before the deadline
func Probe(ctx context.Context, dialer Dialer, host string, port int, timeout time.Duration) ProbeOutcome {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	address := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := dialer.DialContext(dialCtx, "tcp", address)
	if err == nil {
		return ProbeOutcome{Port: port, State: StateOpen, Conn: conn}
	}

	switch {
	case isTimeout(err) || errors.Is(dialCtx.Err(), context.DeadlineExceeded):
		return ProbeOutcome{Port: port, State: StateFiltered, Err: err}
	case isConnectionRefused(err):
		return ProbeOutcome{Port: port, State: StateClosed, Refused: true, Err: err}
	default:
		return ProbeOutcome{Port: port, State: StateClosed, Err: err}
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isConnectionRefused checks if the error is a refused or reset connection.
// RST on connect means the port is definitively closed.
func isConnectionRefused(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	// Windows reports WSAECONNREFUSED with a different errno.
	errStr := err.Error()
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "actively refused") ||
		strings.Contains(errStr, "connection reset")
}
