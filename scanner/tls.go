package scanner

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"
)

// Certificate holds the fields of a peer certificate worth showing to an operator.
type Certificate struct {
	Subject            string    `json:"subject"`
	Issuer             string    `json:"issuer"`
	SubjectDN          string    `json:"subject_dn"`
	IssuerDN           string    `json:"issuer_dn"`
	NotBefore          time.Time `json:"not_before"`
	NotAfter           time.Time `json:"not_after"`
	SerialNumber       string    `json:"serial_number"`
	SerialHex          string    `json:"serial_hex"`
	SignatureAlgorithm string    `json:"signature_algorithm"`
	Version            int       `json:"version"`
	DNSNames           []string  `json:"dns_names,omitempty"`
	SelfSigned         bool      `json:"self_signed"`
}

// TLSInfo describes a completed handshake.
type TLSInfo struct {
	Version     string      `json:"version"`
	CipherSuite string      `json:"cipher_suite"`
	Certificate Certificate `json:"certificate"`
	// Server is the HTTP Server header returned over TLS, when asked for.
	Server string `json:"server,omitempty"`
}

// InspectTLS dials host:port, performs a TLS handshake without verifying the
// peer and extracts the leaf certificate. serverName is sent as SNI unless it
// is an IP literal. When httpProbe is set a HEAD request is sent over the
// session to learn the Server header. The whole exchange is bounded by timeout.
func InspectTLS(ctx context.Context, dialer Dialer, host, serverName string, port int, timeout time.Duration, httpProbe bool) (*TLSInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	defer func() {
		_ = conn.Close()
	}()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	cfg := &tls.Config{
		// Introspection only: whatever the server presents is reported as-is.
		InsecureSkipVerify: true, //nolint:gosec
		MinVersion:         tls.VersionTLS10,
	}
	if _, err := netip.ParseAddr(serverName); err != nil && serverName != "" {
		cfg.ServerName = serverName
	}

	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, fmt.Errorf("tls handshake: %w", err)
	}

	state := tlsConn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return nil, ErrNoCertificate
	}

	info := &TLSInfo{
		Version:     tls.VersionName(state.Version),
		CipherSuite: tls.CipherSuiteName(state.CipherSuite),
		Certificate: describeCertificate(state.PeerCertificates[0]),
	}

	if httpProbe {
		if headers, err := requestHTTPHeaders(tlsConn, headRequest(serverNameOr(serverName, host)), remaining(ctx)); err == nil {
			info.Server = Classify(port, headers).Server
		}
	}

	return info, nil
}

func describeCertificate(cert *x509.Certificate) Certificate {
	return Certificate{
		Subject:            commonNameOr(cert.Subject.CommonName, cert.Subject.String()),
		Issuer:             commonNameOr(cert.Issuer.CommonName, cert.Issuer.String()),
		SubjectDN:          cert.Subject.String(),
		IssuerDN:           cert.Issuer.String(),
		NotBefore:          cert.NotBefore.UTC(),
		NotAfter:           cert.NotAfter.UTC(),
		SerialNumber:       cert.SerialNumber.String(),
		SerialHex:          colonHex(cert.SerialNumber.Bytes()),
		SignatureAlgorithm: cert.SignatureAlgorithm.String(),
		Version:            cert.Version,
		DNSNames:           cert.DNSNames,
		SelfSigned:         isSelfSigned(cert),
	}
}

func isSelfSigned(cert *x509.Certificate) bool {
	if !bytes.Equal(cert.RawSubject, cert.RawIssuer) {
		return false
	}
	return cert.CheckSignature(cert.SignatureAlgorithm, cert.RawTBSCertificate, cert.Signature) == nil
}

func commonNameOr(cn, fallback string) string {
	if cn != "" {
		return cn
	}
	return fallback
}

func serverNameOr(serverName, host string) string {
	if serverName != "" {
		return serverName
	}
	return host
}

func colonHex(b []byte) string {
	if len(b) == 0 {
		return "00"
	}
	parts := make([]string, len(b))
	for i, c := range b {
		parts[i] = fmt.Sprintf("%02X", c)
	}
	return strings.Join(parts, ":")
}

func remaining(ctx context.Context) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return defaultBannerTimeout
	}
	return time.Until(deadline)
}
