package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"

	"golang.org/x/sync/errgroup"

	"portscope/logging"
)

// Coordinator runs scan jobs. One Coordinator serves any number of jobs.
type Coordinator struct {
	opts Options
}

// portReport is what a worker hands to the aggregator for one port.
type portReport struct {
	port     int
	state    PortState
	refused  bool
	err      error
	result   *PortResult
	warnings []string
}

// NewCoordinator creates a coordinator, filling unset options with defaults.
func NewCoordinator(opts Options) *Coordinator {
	return &Coordinator{opts: opts.withDefaults()}
}

// Run drives job from pending to a terminal state and returns once every
// worker has exited. Cancelling ctx has the same effect as a stop request.
func (c *Coordinator) Run(ctx context.Context, job *Job) {
	ctx = logging.ContextAttrs(ctx, slog.String("job_id", job.id), slog.String("host", job.request.Host))

	cores := c.opts.CoreCount()
	if cores < 1 {
		cores = 1
	}
	limit := cores * 2
	requested := job.request.Workers
	effective := min(requested, limit)

	job.start(effective, cores)
	slog.InfoContext(ctx, "scan started", "ports", len(job.ports), "workers", effective)
	job.logf(LogInfo, "Starting scan of %s: %d ports with %d workers", job.request.Host, len(job.ports), effective)
	if effective < requested {
		job.logf(LogWarning, "Requested %d workers exceeds the recommended maximum of %d (%d cores x 2); using %d",
			requested, limit, cores, effective)
	}

	addr, err := c.resolve(ctx, job.request.Host)
	if err != nil {
		job.logf(LogError, "Failed to resolve %s: %v", job.request.Host, err)
		job.finish(JobFailed)
		slog.WarnContext(ctx, "scan failed during setup", "error", err)
		return
	}
	if addr != job.request.Host {
		job.logf(LogInfo, "Resolved %s to %s", job.request.Host, addr)
	}

	queue := make(chan int)
	reports := make(chan portReport)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(queue)
		for _, port := range job.ports {
			if job.stopRequested() || gctx.Err() != nil {
				return nil
			}
			select {
			case queue <- port:
			case <-job.stop:
				return nil
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	workers := min(effective, len(job.ports))
	for range workers {
		g.Go(func() error {
			for port := range queue {
				reports <- c.scanPort(gctx, job, addr, port)
			}
			return nil
		})
	}

	go func() {
		_ = g.Wait()
		close(reports)
	}()

	for r := range reports {
		job.record(r)
	}

	c.summarize(ctx, job)
}

func (c *Coordinator) summarize(ctx context.Context, job *Job) {
	state := job.conclude(ctx.Err() != nil)

	job.mu.RLock()
	open, probed := len(job.results), job.probed
	job.mu.RUnlock()
	slog.InfoContext(ctx, "scan finished", "state", string(state), "open", open, "probed", probed)
}

// resolve returns the address to dial. IP literals are used as given;
// names resolve to their first IPv4 address, or the first address at all.
func (c *Coordinator) resolve(ctx context.Context, host string) (string, error) {
	if _, err := netip.ParseAddr(host); err == nil {
		return host, nil
	}

	ctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()
	addrs, err := c.opts.Resolver.LookupHost(ctx, host)
	if err != nil {
		return "", err
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("no addresses for %s", host)
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && ip.To4() != nil {
			return a, nil
		}
	}
	return addrs[0], nil
}

// httpRequest is the payload sent to silent web ports: the database's
// GetRequest probe when one is loaded, a HEAD request otherwise.
func (c *Coordinator) httpRequest(host string) []byte {
	if data := c.opts.Probes.HTTPRequest(); data != nil {
		return data
	}
	return headRequest(host)
}

// scanPort probes one port and, when it is open, grabs and classifies its
// banner and inspects TLS.
func (c *Coordinator) scanPort(ctx context.Context, job *Job, addr string, port int) portReport {
	timeout := job.request.Timeout
	out := Probe(ctx, c.opts.Dialer, addr, port, timeout)
	if out.State != StateOpen {
		return portReport{port: port, state: out.State, refused: out.Refused, err: out.Err}
	}
	defer func() {
		_ = out.Conn.Close()
	}()

	report := portReport{port: port, state: StateOpen}
	tlsPort := c.opts.isTLSPort(port)
	webPort := c.opts.isWebPort(port)

	var request []byte
	if webPort && !tlsPort {
		request = c.httpRequest(job.request.Host)
	}
	banner, err := grabBanner(out.Conn, min(c.opts.BannerTimeout, timeout), request)
	if err != nil {
		report.warnings = append(report.warnings, fmt.Sprintf("Port %d banner grab failed: %v", port, err))
	}

	class := Classify(port, banner)
	if class.Evidence != EvidenceBanner {
		if refined, ok := c.opts.Probes.MatchBanner(banner); ok {
			class = refined
		}
	}

	result := &PortResult{
		Port:     port,
		Service:  class.Service,
		Version:  class.Version,
		Server:   class.Server,
		Banner:   banner,
		Evidence: class.Evidence,
	}

	if tlsPort || IsTLSService(class.Service) {
		info, err := InspectTLS(ctx, c.opts.Dialer, addr, job.request.Host, port, c.opts.TLSTimeout, webPort)
		if err != nil {
			report.warnings = append(report.warnings, fmt.Sprintf("Port %d TLS inspection failed: %v", port, err))
		} else {
			result.TLS = info
			if result.Server == "" && info.Server != "" {
				result.Server = info.Server
				if result.Version == "" {
					result.Version = versionPattern.FindString(info.Server)
				}
			}
		}
	}

	report.result = result
	return report
}
