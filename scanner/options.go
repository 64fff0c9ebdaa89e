package scanner

import (
	"net"
	"runtime"
	"time"
)

const (
	defaultBannerTimeout = 2 * time.Second
	defaultTLSTimeout    = 5 * time.Second
	resolveTimeout       = 10 * time.Second
)

// Options configures a Coordinator. Zero fields take the defaults applied by
// NewCoordinator.
type Options struct {
	Dialer   Dialer
	Resolver Resolver
	// CoreCount reports the number of usable cores; runtime.NumCPU by default.
	CoreCount func() int

	BannerTimeout time.Duration
	TLSTimeout    time.Duration

	// TLSPorts and WebPorts replace the built-in port sets when non-nil.
	TLSPorts map[int]bool
	WebPorts map[int]bool

	// Probes refines classification from an nmap-service-probes database.
	Probes *ProbeCache

	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Dialer == nil {
		o.Dialer = &net.Dialer{}
	}
	if o.Resolver == nil {
		o.Resolver = net.DefaultResolver
	}
	if o.CoreCount == nil {
		o.CoreCount = runtime.NumCPU
	}
	if o.BannerTimeout <= 0 {
		o.BannerTimeout = defaultBannerTimeout
	}
	if o.TLSTimeout <= 0 {
		o.TLSTimeout = defaultTLSTimeout
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

func (o Options) isTLSPort(port int) bool {
	if o.TLSPorts != nil {
		return o.TLSPorts[port]
	}
	return IsTLSPort(port)
}

func (o Options) isWebPort(port int) bool {
	if o.WebPorts != nil {
		return o.WebPorts[port]
	}
	return IsWebPort(port)
}
