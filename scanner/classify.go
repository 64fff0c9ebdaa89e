package scanner

import (
	"regexp"
	"strings"
)

// Evidence names the signal a service label came from.
type Evidence string

const (
	EvidenceNone    Evidence = "none"
	EvidencePort    Evidence = "port"
	EvidenceBanner  Evidence = "banner"
	EvidenceProbeDB Evidence = "probe-db"
)

const unknownService = "unknown"

// Classification is the best-effort identity of the service behind a port.
type Classification struct {
	Service  string   `json:"service"`
	Version  string   `json:"version,omitempty"`
	Server   string   `json:"server,omitempty"`
	Evidence Evidence `json:"evidence"`
}

// wellKnownPorts maps a port to the service usually found there.
var wellKnownPorts = map[int]string{
	21:    "FTP",
	22:    "SSH",
	23:    "Telnet",
	25:    "SMTP",
	53:    "DNS",
	80:    "HTTP",
	110:   "POP3",
	111:   "RPCBind",
	123:   "NTP",
	135:   "MSRPC",
	137:   "NetBIOS",
	138:   "NetBIOS",
	139:   "NetBIOS",
	143:   "IMAP",
	389:   "LDAP",
	443:   "HTTPS",
	445:   "SMB",
	465:   "SMTPS",
	587:   "SMTP",
	636:   "LDAPS",
	853:   "DNS-over-TLS",
	989:   "FTPS",
	990:   "FTPS",
	993:   "IMAPS",
	995:   "POP3S",
	1433:  "MSSQL",
	1521:  "Oracle",
	1723:  "PPTP",
	2049:  "NFS",
	3306:  "MySQL",
	3389:  "RDP",
	5432:  "PostgreSQL",
	5900:  "VNC",
	5985:  "WinRM",
	5986:  "WinRM-TLS",
	6379:  "Redis",
	8000:  "HTTP-Alt",
	8008:  "HTTP-Alt",
	8080:  "HTTP-Proxy",
	8081:  "HTTP-Alt",
	8443:  "HTTPS-Alt",
	8888:  "HTTP-Alt",
	9200:  "Elasticsearch",
	11211: "Memcached",
	27017: "MongoDB",
}

// webPorts get a HEAD request when they stay silent after connect.
var webPorts = map[int]bool{
	80: true, 443: true, 8000: true, 8008: true, 8080: true, 8081: true, 8443: true, 8888: true,
}

// tlsPorts speak TLS from the first byte by convention.
var tlsPorts = map[int]bool{
	443: true, 465: true, 636: true, 853: true, 989: true, 990: true, 993: true, 995: true, 5986: true, 8443: true,
}

var tlsServices = map[string]bool{
	"HTTPS": true, "HTTPS-Alt": true, "IMAPS": true, "POP3S": true, "SMTPS": true, "LDAPS": true, "FTPS": true,
}

// bannerPattern identifies a service from the first bytes it sends. detail
// may use the named groups "server" and "version".
type bannerPattern struct {
	service string
	match   *regexp.Regexp
	detail  *regexp.Regexp
}

// versionPattern pulls a dotted version out of a free-form server string.
var versionPattern = regexp.MustCompile(`\d+(?:\.\d+)+`)

// bannerPatterns is evaluated in order; the first match wins.
var bannerPatterns = []bannerPattern{
	{
		service: "SSH",
		match:   regexp.MustCompile(`^SSH-\d+\.\d+-`),
		detail:  regexp.MustCompile(`^SSH-\d+\.\d+-(?P<server>[^_\s-]+)(?:[_-]v?(?P<version>\d[\w.]*))?`),
	},
	{
		service: "HTTP",
		match:   regexp.MustCompile(`^HTTP/\d(?:\.\d)?\s+\d{3}`),
		detail:  regexp.MustCompile(`(?im)^Server:[ \t]*(?P<server>[^\r\n]+)`),
	},
	{
		service: "SMTP",
		match:   regexp.MustCompile(`(?i)^220[ -].*\bE?SMTP\b`),
		detail:  regexp.MustCompile(`(?i)\bE?SMTP[ \t]+(?P<server>[a-z][\w-]*)(?:[ \t/]v?(?P<version>\d+\.\d+[\w.]*))?`),
	},
	{
		service: "FTP",
		match:   regexp.MustCompile(`(?i)^220[ -].*(?:\bftp|ftpd|filezilla)`),
		detail:  regexp.MustCompile(`(?i)(?P<server>[a-z][\w-]*ftpd?|filezilla)[\s/(]*(?:server\s+)?v?(?P<version>\d+\.\d+(?:\.\d+)?[a-z]?)`),
	},
	{
		service: "POP3",
		match:   regexp.MustCompile(`^\+OK`),
		detail:  regexp.MustCompile(`(?i)(?P<server>dovecot|courier|cyrus)`),
	},
	{
		service: "IMAP",
		match:   regexp.MustCompile(`^\* (?:OK|PREAUTH)`),
		detail:  regexp.MustCompile(`(?i)(?P<server>dovecot|courier|cyrus)`),
	},
	{
		service: "MySQL",
		match:   regexp.MustCompile(`(?s)^.{4}\n\d+\.\d+\.\d+.*(?:mysql_native_password|caching_sha2_password)`),
		detail:  regexp.MustCompile(`(?s)^.{4}\n(?P<version>\d+\.\d+\.\d+(?:-\w+)?)`),
	},
	{
		service: "VNC",
		match:   regexp.MustCompile(`^RFB \d{3}\.\d{3}`),
		detail:  regexp.MustCompile(`^RFB (?P<version>\d{3}\.\d{3})`),
	},
	{
		service: "Redis",
		match:   regexp.MustCompile(`^-(?:NOAUTH|ERR|DENIED)\b|^\+PONG`),
	},
}

// Classify identifies the service on port from the banner it produced. The
// well-known port is the primary signal; a banner that matches a pattern
// overrides it unless the port label already names a variant of the same
// service (HTTPS for HTTP, SMTPS for SMTP).
func Classify(port int, banner string) Classification {
	c := Classification{Service: unknownService, Evidence: EvidenceNone}
	if name, ok := wellKnownPorts[port]; ok {
		c.Service = name
		c.Evidence = EvidencePort
	}

	banner = strings.TrimSpace(banner)
	if banner == "" {
		return c
	}

	for _, p := range bannerPatterns {
		if !p.match.MatchString(banner) {
			continue
		}
		if c.Evidence != EvidencePort || !strings.HasPrefix(c.Service, p.service) {
			c.Service = p.service
		}
		c.Evidence = EvidenceBanner
		if p.detail != nil {
			c.Server, c.Version = extractDetail(p.detail, banner)
		}
		if c.Version == "" && c.Server != "" {
			c.Version = versionPattern.FindString(c.Server)
		}
		return c
	}

	return c
}

func extractDetail(re *regexp.Regexp, banner string) (server, version string) {
	m := re.FindStringSubmatch(banner)
	if m == nil {
		return "", ""
	}
	for i, name := range re.SubexpNames() {
		switch name {
		case "server":
			server = m[i]
		case "version":
			version = m[i]
		}
	}
	return server, version
}

// IsWebPort reports whether port gets an HTTP probe when silent.
func IsWebPort(port int) bool {
	return webPorts[port]
}

// IsTLSPort reports whether port conventionally wraps its protocol in TLS.
func IsTLSPort(port int) bool {
	return tlsPorts[port]
}

// IsTLSService reports whether a service label implies TLS transport.
func IsTLSService(service string) bool {
	return tlsServices[service]
}
