package scanner

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const probeFixture = `# Minimal service probe database
Probe TCP NULL q||
totalwaitms 6000
match ssh m|^SSH-([\d.]+)-OpenSSH_([\w._-]+)| p/OpenSSH/ v/$2/ i/protocol $1/ cpe:/a:openbsd:openssh:$2/
softmatch ftp m/^220 / p/generic ftp/
match broken m|^(?<=x)abc| p/bad/
match weird m=^WEIRD=i p/Weird/

Probe TCP GetRequest q|GET / HTTP/1.0\r\n\r\n|
ports 80,8080
match http m|^HTTP/1\.[01] \d\d\d .*\r\nServer: ([^\r\n]+)|s p/$1/
`

func TestParseProbes(t *testing.T) {
	t.Parallel()
	probes, stats, err := ParseProbes(strings.NewReader(probeFixture))
	require.NoError(t, err)
	require.Len(t, probes, 2)
	require.Equal(t, 2, stats.Probes)
	require.Equal(t, 4, stats.Matches)
	require.Len(t, stats.ErrorLines, 1)
	require.Contains(t, stats.ErrorLines[0], "line 6")

	require.Equal(t, "NULL", probes[0].Name)
	require.Empty(t, probes[0].Data)
	require.Equal(t, "GetRequest", probes[1].Name)
	require.Equal(t, []byte("GET / HTTP/1.0\r\n\r\n"), probes[1].Data)

	ssh := probes[0].Matches[0]
	require.Equal(t, map[string]string{
		"p":   "OpenSSH",
		"v":   "$2",
		"i":   "protocol $1",
		"cpe": "a:openbsd:openssh:$2",
	}, ssh.VersionInfo)
	require.True(t, probes[0].Matches[1].Soft)
}

func TestProbeCacheMatchBanner(t *testing.T) {
	t.Parallel()
	probes, _, err := ParseProbes(strings.NewReader(probeFixture))
	require.NoError(t, err)
	cache := NewProbeCache(probes)
	require.Len(t, cache.GetTCPProbes(), 2)
	require.Equal(t, []byte("GET / HTTP/1.0\r\n\r\n"), cache.HTTPRequest())

	c, ok := cache.MatchBanner("SSH-2.0-OpenSSH_9.6")
	require.True(t, ok)
	require.Equal(t, Classification{Service: "ssh", Server: "OpenSSH", Version: "9.6", Evidence: EvidenceProbeDB}, c)

	c, ok = cache.MatchBanner("HTTP/1.1 200 OK\r\nServer: nginx")
	require.True(t, ok)
	require.Equal(t, "http", c.Service)
	require.Equal(t, "nginx", c.Server)

	c, ok = cache.MatchBanner("weird greeting")
	require.True(t, ok)
	require.Equal(t, "Weird", c.Server)

	c, ok = cache.MatchBanner("220 welcome")
	require.True(t, ok)
	require.Equal(t, "ftp", c.Service)
	require.Equal(t, "generic ftp", c.Server)

	_, ok = cache.MatchBanner("nothing to see")
	require.False(t, ok)

	var empty *ProbeCache
	_, ok = empty.MatchBanner("SSH-2.0-OpenSSH_9.6")
	require.False(t, ok)
}

func TestLoadProbes(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nmap-service-probes")
	require.NoError(t, os.WriteFile(path, []byte(probeFixture), 0o600))

	probes, _, err := LoadProbes(path)
	require.NoError(t, err)
	require.Len(t, probes, 2)

	_, _, err = LoadProbes(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

func TestProbeCacheIgnoresNonTCPProbes(t *testing.T) {
	t.Parallel()
	probes, _, err := ParseProbes(strings.NewReader(`Probe UDP GetRequest q|udp payload|
match udpsvc m|^UDP| p/udp/
Probe TCP NULL q||
match ssh m|^SSH-| p/ssh/
`))
	require.NoError(t, err)
	require.Len(t, probes, 2)

	cache := NewProbeCache(probes)
	require.Len(t, cache.GetTCPProbes(), 1)
	require.Nil(t, cache.HTTPRequest())

	_, ok := cache.MatchBanner("UDP reply")
	require.False(t, ok)
	c, ok := cache.MatchBanner("SSH-2.0-dropbear")
	require.True(t, ok)
	require.Equal(t, "ssh", c.Service)

	var empty *ProbeCache
	require.Nil(t, empty.GetTCPProbes())
	require.Nil(t, empty.HTTPRequest())
}
