package scanner

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound indicates the job id is unknown or was already evicted.
	ErrJobNotFound = errors.New("job not found")
	// ErrNoCertificate is returned when a TLS peer completed the handshake without presenting a certificate.
	ErrNoCertificate = errors.New("no peer certificate")
	// ErrRegistryClosed is returned by Create after Close.
	ErrRegistryClosed = errors.New("registry closed")
)

// ValidationError reports a malformed scan request. A request that fails
// validation never creates a job.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
