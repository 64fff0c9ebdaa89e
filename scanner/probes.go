package scanner

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// ServiceProbe is a single probe from an nmap-service-probes database.
type ServiceProbe struct {
	Protocol string  // TCP or UDP
	Name     string  // Probe name, e.g. "GetRequest"
	Data     []byte  // Data the probe sends to the server
	Matches  []Match // Patterns matched against the response
}

// Match represents a single service detection rule.
type Match struct {
	ServiceName string
	Pattern     *regexp.Regexp
	Soft        bool
	// VersionInfo holds the raw p/ v/ i/ templates of the rule; "$1".."$9"
	// refer to capture groups of Pattern.
	VersionInfo map[string]string
}

// LoadStats reports what a probe file contained besides usable rules.
type LoadStats struct {
	Probes     int
	Matches    int
	ErrorLines []string
}

// LoadProbes reads and parses an nmap-service-probes file.
func LoadProbes(filePath string) ([]ServiceProbe, LoadStats, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, LoadStats{}, fmt.Errorf("cannot open file %s: %w", filePath, err)
	}
	defer file.Close()

	return ParseProbes(file)
}

// ParseProbes parses probe definitions from r. Lines that cannot be used,
// typically PCRE-only regex syntax, are skipped and reported in LoadStats.
func ParseProbes(r io.Reader) ([]ServiceProbe, LoadStats, error) {
	var (
		probes          []ServiceProbe
		currentProbe    ServiceProbe
		hasCurrentProbe bool
		stats           LoadStats
	)
	warn := func(lineNum int, err error) {
		stats.ErrorLines = append(stats.ErrorLines, fmt.Sprintf("line %d: %v", lineNum, err))
		slog.Debug("probe line skipped", "line", lineNum, "error", err)
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		switch {
		case strings.HasPrefix(line, "Probe "):
			probe, err := parseProbe(line)
			if err != nil {
				warn(lineNum, err)
				continue
			}
			if hasCurrentProbe {
				probes = append(probes, currentProbe)
			}
			currentProbe = probe
			hasCurrentProbe = true

		case strings.HasPrefix(line, "match ") || strings.HasPrefix(line, "softmatch "):
			if !hasCurrentProbe {
				warn(lineNum, fmt.Errorf("match found without preceding Probe"))
				continue
			}
			match, err := parseMatch(line)
			if err != nil {
				warn(lineNum, err)
				continue
			}
			currentProbe.Matches = append(currentProbe.Matches, match)
			stats.Matches++
		}
		// ports, sslports, rarity, fallback and totalwaitms directives carry
		// no information the classifier uses.
	}

	if hasCurrentProbe {
		probes = append(probes, currentProbe)
	}
	if err := scanner.Err(); err != nil {
		return nil, stats, fmt.Errorf("error reading probes: %w", err)
	}

	stats.Probes = len(probes)
	return probes, stats, nil
}

// parseProbe parses a line like:
// Probe TCP GetRequest q|GET / HTTP/1.0\r\n\r\n|
func parseProbe(line string) (ServiceProbe, error) {
	line = strings.TrimPrefix(line, "Probe ")

	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 3 {
		return ServiceProbe{}, fmt.Errorf("invalid Probe format")
	}

	data, err := parseProbeData(parts[2])
	if err != nil {
		return ServiceProbe{}, fmt.Errorf("cannot parse probe data: %w", err)
	}

	return ServiceProbe{
		Protocol: parts[0],
		Name:     parts[1],
		Data:     data,
	}, nil
}

// parseProbeData converts q|...| into bytes, resolving \r, \n, \x00 escapes.
// Options such as "no-payload" after the closing delimiter are ignored.
func parseProbeData(dataStr string) ([]byte, error) {
	if len(dataStr) < 3 || dataStr[0] != 'q' {
		return nil, fmt.Errorf("probe data must be in format q|...|")
	}
	delim := dataStr[1]
	end := strings.IndexByte(dataStr[2:], delim)
	if end < 0 {
		return nil, fmt.Errorf("unterminated probe data")
	}
	content := dataStr[2 : 2+end]

	unquoted, err := strconv.Unquote("\"" + strings.ReplaceAll(content, `"`, `\"`) + "\"")
	if err != nil {
		return nil, fmt.Errorf("cannot unquote probe data: %w", err)
	}
	return []byte(unquoted), nil
}

// parseMatch parses a line like:
// match ssh m|^SSH-([\d.]+)-OpenSSH_([\w._-]+)| p/OpenSSH/ v/$2/
func parseMatch(line string) (Match, error) {
	soft := strings.HasPrefix(line, "softmatch ")
	line = strings.TrimPrefix(strings.TrimPrefix(line, "softmatch "), "match ")

	serviceName, rest, ok := strings.Cut(line, " ")
	if !ok || len(rest) < 3 || rest[0] != 'm' {
		return Match{}, fmt.Errorf("invalid match format")
	}

	delim := rest[1]
	end := strings.IndexByte(rest[2:], delim)
	if end < 0 {
		return Match{}, fmt.Errorf("unterminated match pattern")
	}
	pattern := rest[2 : 2+end]
	tail := rest[2+end+1:]

	flags, templates, _ := strings.Cut(tail, " ")
	regexStr := pattern
	if strings.Contains(flags, "s") {
		regexStr = "(?s)" + regexStr
	}
	if strings.Contains(flags, "i") {
		regexStr = "(?i)" + regexStr
	}

	regex, err := regexp.Compile(regexStr)
	if err != nil {
		return Match{}, fmt.Errorf("cannot compile regex: %w", err)
	}

	return Match{
		ServiceName: serviceName,
		Pattern:     regex,
		Soft:        soft,
		VersionInfo: parseVersionInfo(templates),
	}, nil
}

// parseVersionInfo splits "p/vsftpd/ v/$1/ cpe:/a:.../" into its fields.
func parseVersionInfo(s string) map[string]string {
	info := make(map[string]string)
	for s = strings.TrimSpace(s); s != ""; s = strings.TrimSpace(s) {
		key, rest, ok := strings.Cut(s, "/")
		if !ok || len(key) == 0 {
			break
		}
		if strings.HasSuffix(key, ":") {
			key = strings.TrimSuffix(key, ":")
		}
		value, after, ok := strings.Cut(rest, "/")
		if !ok {
			break
		}
		info[key] = value
		// skip trailing flags such as the "a" in cpe:/.../a
		if i := strings.IndexByte(after, ' '); i >= 0 {
			s = after[i:]
		} else {
			s = ""
		}
	}
	return info
}

// ProbeCache indexes the TCP probes of a loaded database.
type ProbeCache struct {
	tcpProbes []ServiceProbe
}

// NewProbeCache creates and initializes probe cache. Non-TCP probes are
// dropped.
func NewProbeCache(probes []ServiceProbe) *ProbeCache {
	cache := &ProbeCache{}
	for _, probe := range probes {
		if probe.Protocol == "TCP" {
			cache.tcpProbes = append(cache.tcpProbes, probe)
		}
	}
	return cache
}

// GetTCPProbes returns all TCP probes
func (pc *ProbeCache) GetTCPProbes() []ServiceProbe {
	if pc == nil {
		return nil
	}
	return pc.tcpProbes
}

func (pc *ProbeCache) tcpProbesNamed(name string) []ServiceProbe {
	var out []ServiceProbe
	for _, probe := range pc.GetTCPProbes() {
		if probe.Name == name {
			out = append(out, probe)
		}
	}
	return out
}

// HTTPRequest returns the payload of the GetRequest probe, or nil when the
// database has none.
func (pc *ProbeCache) HTTPRequest() []byte {
	for _, probe := range pc.tcpProbesNamed("GetRequest") {
		if len(probe.Data) > 0 {
			return probe.Data
		}
	}
	return nil
}

// MatchBanner checks banner against the rules of the NULL probe (services
// that speak first) and GetRequest (HTTP answers). Hard matches win over soft
// ones.
func (pc *ProbeCache) MatchBanner(banner string) (Classification, bool) {
	if pc == nil || banner == "" {
		return Classification{}, false
	}

	var soft *Classification
	for _, name := range []string{"NULL", "GetRequest"} {
		for _, probe := range pc.tcpProbesNamed(name) {
			for _, match := range probe.Matches {
				groups := match.Pattern.FindStringSubmatch(banner)
				if groups == nil {
					continue
				}
				c := Classification{
					Service:  match.ServiceName,
					Server:   expandTemplate(match.VersionInfo["p"], groups),
					Version:  expandTemplate(match.VersionInfo["v"], groups),
					Evidence: EvidenceProbeDB,
				}
				if !match.Soft {
					return c, true
				}
				if soft == nil {
					soft = &c
				}
			}
		}
	}
	if soft != nil {
		return *soft, true
	}
	return Classification{}, false
}

var templateRef = regexp.MustCompile(`\$(\d)`)

func expandTemplate(tmpl string, groups []string) string {
	if tmpl == "" {
		return ""
	}
	return templateRef.ReplaceAllStringFunc(tmpl, func(ref string) string {
		i := int(ref[1] - '0')
		if i < len(groups) {
			return groups[i]
		}
		return ""
	})
}
