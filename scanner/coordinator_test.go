package scanner

import (
	"bufio"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestScanSSHBanner(t *testing.T) {
	t.Parallel()
	port := bannerServer(t, "SSH-2.0-OpenSSH_9.6\r\n")
	reg := newTestRegistry(t, Options{})

	id, err := reg.Create(ScanRequest{Host: "127.0.0.1", PortSpec: joinPorts(port), Workers: 4, Timeout: time.Second})
	require.NoError(t, err)
	snap := waitDone(t, reg, id)

	require.Equal(t, JobCompleted, snap.State)
	require.Equal(t, 100, snap.ProgressPercent)
	require.Equal(t, 1, snap.Probed)
	require.Len(t, snap.Results, 1)

	res := snap.Results[0]
	require.Equal(t, port, res.Port)
	require.Equal(t, "SSH", res.Service)
	require.Equal(t, "9.6", res.Version)
	require.Equal(t, "OpenSSH", res.Server)
	require.Equal(t, EvidenceBanner, res.Evidence)
	require.Nil(t, res.TLS)

	require.Contains(t, logMessages(snap, LogSuccess), "Port "+joinPorts(port)+" is open: SSH (9.6)")
	require.Contains(t, logMessages(snap, LogSuccess), "Scan completed. Found 1 open ports.")
}

func TestScanClosedAndFiltered(t *testing.T) {
	t.Parallel()
	dialer := &scriptedDialer{
		refuse:    map[int]bool{7: true},
		blackhole: map[int]bool{9999: true},
	}
	reg := newTestRegistry(t, Options{Dialer: dialer})

	id, err := reg.Create(ScanRequest{Host: "192.0.2.10", PortSpec: "7,9999", Workers: 2, Timeout: 100 * time.Millisecond})
	require.NoError(t, err)
	snap := waitDone(t, reg, id)

	require.Equal(t, JobCompleted, snap.State)
	require.Empty(t, snap.Results)
	require.Equal(t, 2, snap.Probed)
	require.Equal(t, 1, snap.Closed)
	require.Equal(t, 1, snap.Filtered)
	require.Equal(t, 100, snap.ProgressPercent)

	info := logMessages(snap, LogInfo)
	require.Contains(t, info, "Port 7 is closed")
	require.Contains(t, info, "Port 9999 is filtered (no response)")
	require.Contains(t, logMessages(snap, LogWarning), "Scan completed. No open ports found.")
}

func TestScanRealClosedPort(t *testing.T) {
	t.Parallel()
	port := closedPort(t)
	reg := newTestRegistry(t, Options{})

	id, err := reg.Create(ScanRequest{Host: "127.0.0.1", PortSpec: joinPorts(port), Workers: 1, Timeout: time.Second})
	require.NoError(t, err)
	snap := waitDone(t, reg, id)

	require.Equal(t, JobCompleted, snap.State)
	require.Equal(t, 1, snap.Closed)
	require.Empty(t, snap.Results)
}

func TestScanTLSSelfSigned(t *testing.T) {
	t.Parallel()
	port := tlsServer(t, "scan.test", "portscope-test/1.2")
	reg := newTestRegistry(t, Options{
		TLSPorts:      map[int]bool{port: true},
		WebPorts:      map[int]bool{port: true},
		BannerTimeout: 100 * time.Millisecond,
	})

	id, err := reg.Create(ScanRequest{Host: "127.0.0.1", PortSpec: joinPorts(port), Workers: 1, Timeout: 2 * time.Second})
	require.NoError(t, err)
	snap := waitDone(t, reg, id)

	require.Equal(t, JobCompleted, snap.State)
	require.Len(t, snap.Results, 1)
	res := snap.Results[0]
	require.NotNil(t, res.TLS)
	require.Equal(t, "scan.test", res.TLS.Certificate.Subject)
	require.Equal(t, "scan.test", res.TLS.Certificate.Issuer)
	require.True(t, res.TLS.Certificate.SelfSigned)
	require.Equal(t, "portscope-test/1.2", res.Server)
	require.Equal(t, "1.2", res.Version)
}

func TestScanTLSFailureIsWarning(t *testing.T) {
	t.Parallel()
	port := bannerServer(t, "SSH-2.0-OpenSSH_9.6\r\n")
	reg := newTestRegistry(t, Options{TLSPorts: map[int]bool{port: true}, WebPorts: map[int]bool{}})

	id, err := reg.Create(ScanRequest{Host: "127.0.0.1", PortSpec: joinPorts(port), Workers: 1, Timeout: time.Second})
	require.NoError(t, err)
	snap := waitDone(t, reg, id)

	require.Equal(t, JobCompleted, snap.State)
	require.Len(t, snap.Results, 1)
	require.Nil(t, snap.Results[0].TLS)
	require.Equal(t, "SSH", snap.Results[0].Service)

	var found bool
	for _, w := range logMessages(snap, LogWarning) {
		found = found || strings.Contains(w, "TLS inspection failed")
	}
	require.True(t, found)
}

func TestWorkerClamp(t *testing.T) {
	t.Parallel()
	dialer := &scriptedDialer{refuse: map[int]bool{7: true}}
	reg := newTestRegistry(t, Options{Dialer: dialer, CoreCount: func() int { return 8 }})

	id, err := reg.Create(ScanRequest{Host: "192.0.2.10", PortSpec: "7", Workers: 1000, Timeout: time.Second})
	require.NoError(t, err)
	snap := waitDone(t, reg, id)

	require.Equal(t, 16, snap.EffectiveWorkers)
	require.Equal(t, 1000, snap.RequestedWorkers)
	require.Equal(t, 8, snap.SystemCores)
	require.Equal(t, 16, snap.MaxRecommendedWorkers)
	require.Contains(t, logMessages(snap, LogWarning),
		"Requested 1000 workers exceeds the recommended maximum of 16 (8 cores x 2); using 16")
}

func TestWorkerCountBelowLimitIsKept(t *testing.T) {
	t.Parallel()
	dialer := &scriptedDialer{refuse: map[int]bool{7: true, 8: true}}
	reg := newTestRegistry(t, Options{Dialer: dialer, CoreCount: func() int { return 8 }})

	id, err := reg.Create(ScanRequest{Host: "192.0.2.10", PortSpec: "7-8", Workers: 3, Timeout: time.Second})
	require.NoError(t, err)
	snap := waitDone(t, reg, id)

	require.Equal(t, 3, snap.EffectiveWorkers)
	for _, w := range logMessages(snap, LogWarning) {
		require.NotContains(t, w, "Requested")
	}
}

func TestScanResolvesHostname(t *testing.T) {
	t.Parallel()
	dialer := &scriptedDialer{refuse: map[int]bool{7: true}}
	reg := newTestRegistry(t, Options{
		Dialer:   dialer,
		Resolver: staticResolver{"scanme.test": {"::1", "127.0.0.1"}},
	})

	id, err := reg.Create(ScanRequest{Host: "scanme.test", PortSpec: "7", Workers: 1, Timeout: time.Second})
	require.NoError(t, err)
	snap := waitDone(t, reg, id)

	require.Equal(t, JobCompleted, snap.State)
	require.Contains(t, logMessages(snap, LogInfo), "Resolved scanme.test to 127.0.0.1")
}

func TestScanResolutionFailure(t *testing.T) {
	t.Parallel()
	dialer := &scriptedDialer{}
	reg := newTestRegistry(t, Options{Dialer: dialer, Resolver: staticResolver{}})

	id, err := reg.Create(ScanRequest{Host: "nonexistent.invalid", PortSpec: "1-100", Workers: 4, Timeout: time.Second})
	require.NoError(t, err)
	snap := waitDone(t, reg, id)

	require.Equal(t, JobFailed, snap.State)
	require.Equal(t, 0, snap.Probed)
	require.Equal(t, 100, snap.ProgressPercent)
	require.NotNil(t, snap.FinishedAt)
	require.Len(t, logMessages(snap, LogError), 1)
	require.Contains(t, logMessages(snap, LogError)[0], "Failed to resolve nonexistent.invalid")
	require.Zero(t, dialer.dials.Load())
}

func TestMidScanStop(t *testing.T) {
	t.Parallel()
	dialer := &scriptedDialer{blackhole: map[int]bool{}}
	for p := 1; p <= 200; p++ {
		dialer.blackhole[p] = true
	}
	reg := newTestRegistry(t, Options{Dialer: dialer, CoreCount: func() int { return 1 }})

	id, err := reg.Create(ScanRequest{Host: "192.0.2.10", PortSpec: "1-200", Workers: 2, Timeout: 200 * time.Millisecond})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, err := reg.Get(id, 0)
		return err == nil && snap.Probed >= 2
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, reg.RequestStop(id))
	snap := waitDone(t, reg, id)

	require.Equal(t, JobStopped, snap.State)
	require.Less(t, snap.Probed, snap.Total)
	require.Equal(t, 200, snap.Total)
	require.Equal(t, 100, snap.ProgressPercent)
	require.Empty(t, snap.Results)
	require.Contains(t, logMessages(snap, LogWarning), "Stop requested; waiting for in-flight probes to finish")
}

func TestNoResultsInsertedAfterStop(t *testing.T) {
	t.Parallel()
	open := map[int]string{}
	for p := 1; p <= 50; p++ {
		open[p] = "SSH-2.0-OpenSSH_9.6\r\n"
	}
	dialer := &scriptedDialer{gate: make(chan struct{}), open: open}
	reg := newTestRegistry(t, Options{
		Dialer:        dialer,
		CoreCount:     func() int { return 1 },
		BannerTimeout: 50 * time.Millisecond,
	})

	id, err := reg.Create(ScanRequest{Host: "192.0.2.10", PortSpec: "1-50", Workers: 2, Timeout: 5 * time.Second})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return dialer.inside.Load() == 2 }, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, reg.RequestStop(id))
	close(dialer.gate)

	snap := waitDone(t, reg, id)
	require.Equal(t, JobStopped, snap.State)
	require.Empty(t, snap.Results)
	require.Equal(t, 2, snap.Probed)

	discarded := 0
	for _, m := range logMessages(snap, LogInfo) {
		if strings.HasPrefix(m, "Discarded result for port") {
			discarded++
		}
	}
	require.Equal(t, 2, discarded)
}

func TestProgressIsMonotonic(t *testing.T) {
	t.Parallel()
	refuse := map[int]bool{}
	for p := 1; p <= 60; p++ {
		refuse[p] = true
	}
	dialer := &scriptedDialer{refuse: refuse, delay: 5 * time.Millisecond}
	reg := newTestRegistry(t, Options{Dialer: dialer, CoreCount: func() int { return 1 }})

	id, err := reg.Create(ScanRequest{Host: "192.0.2.10", PortSpec: "1-60", Workers: 2, Timeout: time.Second})
	require.NoError(t, err)
	job, err := reg.Job(id)
	require.NoError(t, err)

	var (
		lastProbed, lastPercent int
		cursor                  int
		seen                    []LogEntry
	)
	for {
		snap, err := reg.Get(id, cursor)
		require.NoError(t, err)
		require.GreaterOrEqual(t, snap.Probed, lastProbed)
		require.GreaterOrEqual(t, snap.ProgressPercent, lastPercent)
		require.LessOrEqual(t, snap.Probed, snap.Total)
		if !snap.State.Terminal() {
			require.LessOrEqual(t, snap.ProgressPercent, 99)
		}
		lastProbed, lastPercent = snap.Probed, snap.ProgressPercent
		seen = append(seen, snap.Logs...)
		cursor = snap.NextLogIndex
		if snap.State.Terminal() {
			break
		}
		time.Sleep(3 * time.Millisecond)
	}
	<-job.Done()

	final, err := reg.Get(id, 0)
	require.NoError(t, err)
	require.Equal(t, JobCompleted, final.State)
	require.Equal(t, final.Total, final.Probed)
	require.Equal(t, 100, final.ProgressPercent)
	require.Equal(t, 60, final.Closed)

	// Incremental polling saw every entry exactly once and in order.
	require.Len(t, seen, len(final.Logs))
	for i, e := range seen {
		require.Equal(t, i, e.Index)
	}
}

func TestCoordinatorRunDirect(t *testing.T) {
	t.Parallel()
	dialer := &scriptedDialer{refuse: map[int]bool{1: true, 2: true}}
	coord := NewCoordinator(Options{Dialer: dialer, CoreCount: func() int { return 2 }})

	ports, err := ParsePortSpec("1-2")
	require.NoError(t, err)
	job := newJob("direct", ScanRequest{Host: "192.0.2.10", PortSpec: "1-2", Workers: 2, Timeout: time.Second}, ports, time.Now)

	coord.Run(t.Context(), job)

	snap := job.Snapshot(0)
	require.Equal(t, JobCompleted, snap.State)
	require.Equal(t, 2, snap.Closed)
	require.NotNil(t, snap.DurationSeconds)
	require.GreaterOrEqual(t, *snap.DurationSeconds, 0.0)
}

// silentWebServer waits for a request on each connection, reports it and
// answers with a minimal HTTP header block.
func silentWebServer(t *testing.T) (int, <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)

	requests := make(chan string, 4)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			r := bufio.NewReader(conn)
			var req strings.Builder
			for {
				line, err := r.ReadString('\n')
				req.WriteString(line)
				if err != nil || line == "\r\n" {
					break
				}
			}
			requests <- req.String()
			_, _ = io.WriteString(conn, "HTTP/1.0 200 OK\r\nServer: nginx/1.25.3\r\n\r\n")
			_ = conn.Close()
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		wg.Wait()
	})
	return ln.Addr().(*net.TCPAddr).Port, requests
}

func TestScanWebPortUsesProbeDatabaseRequest(t *testing.T) {
	t.Parallel()
	probes, _, err := ParseProbes(strings.NewReader(probeFixture))
	require.NoError(t, err)

	port, requests := silentWebServer(t)
	reg := newTestRegistry(t, Options{
		WebPorts:      map[int]bool{port: true},
		TLSPorts:      map[int]bool{},
		BannerTimeout: 100 * time.Millisecond,
		Probes:        NewProbeCache(probes),
	})

	id, err := reg.Create(ScanRequest{Host: "127.0.0.1", PortSpec: joinPorts(port), Workers: 1, Timeout: 2 * time.Second})
	require.NoError(t, err)
	snap := waitDone(t, reg, id)

	require.Equal(t, "GET / HTTP/1.0\r\n\r\n", <-requests)
	require.Len(t, snap.Results, 1)
	require.Equal(t, "HTTP", snap.Results[0].Service)
	require.Equal(t, "nginx/1.25.3", snap.Results[0].Server)
	require.Equal(t, "1.25.3", snap.Results[0].Version)
}

func TestScanWebPortDefaultsToHead(t *testing.T) {
	t.Parallel()
	port, requests := silentWebServer(t)
	reg := newTestRegistry(t, Options{
		WebPorts:      map[int]bool{port: true},
		TLSPorts:      map[int]bool{},
		BannerTimeout: 100 * time.Millisecond,
	})

	id, err := reg.Create(ScanRequest{Host: "127.0.0.1", PortSpec: joinPorts(port), Workers: 1, Timeout: 2 * time.Second})
	require.NoError(t, err)
	waitDone(t, reg, id)

	require.True(t, strings.HasPrefix(<-requests, "HEAD / HTTP/1.0\r\nHost: 127.0.0.1\r\n"))
}
