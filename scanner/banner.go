package scanner

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

const (
	bannerBufferSize = 4096
	maxHeaderBytes   = 8192
	userAgent        = "portscope"
)

// GrabBanner reads whatever the service sends unprompted on an established
// connection. When nothing arrives before timeout and httpProbe is set, a
// minimal HEAD request is issued and the response headers are returned instead.
//
// A silent service yields an empty banner and a nil error. Errors are only
// returned when the connection broke while reading.
func GrabBanner(conn net.Conn, host string, timeout time.Duration, httpProbe bool) (string, error) {
	var request []byte
	if httpProbe {
		request = headRequest(host)
	}
	return grabBanner(conn, timeout, request)
}

// grabBanner is GrabBanner with an explicit fallback payload; a nil request
// disables the fallback.
func grabBanner(conn net.Conn, timeout time.Duration, request []byte) (string, error) {
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	buffer := make([]byte, bannerBufferSize)
	n, err := conn.Read(buffer)
	if n > 0 {
		return sanitizeBanner(buffer[:n]), nil
	}
	if err != nil && !isTimeout(err) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read banner: %w", err)
	}
	if len(request) == 0 {
		return "", nil
	}

	return requestHTTPHeaders(conn, request, timeout)
}

func headRequest(host string) []byte {
	return fmt.Appendf(nil, "HEAD / HTTP/1.0\r\nHost: %s\r\nUser-Agent: %s\r\nConnection: close\r\n\r\n", host, userAgent)
}

// requestHTTPHeaders writes request to conn and returns the header block of
// the answer.
func requestHTTPHeaders(conn net.Conn, request []byte, timeout time.Duration) (string, error) {
	_ = conn.SetDeadline(time.Now().Add(timeout))
	if _, err := conn.Write(request); err != nil {
		return "", fmt.Errorf("write http probe: %w", err)
	}

	var response []byte
	chunk := make([]byte, bannerBufferSize)
	for len(response) < maxHeaderBytes {
		n, err := conn.Read(chunk)
		response = append(response, chunk[:n]...)
		if bytes.Contains(response, []byte("\r\n\r\n")) {
			break
		}
		if err != nil {
			if len(response) > 0 || isTimeout(err) || errors.Is(err, io.EOF) {
				break
			}
			return "", fmt.Errorf("read http probe: %w", err)
		}
	}

	headers, _, _ := bytes.Cut(response, []byte("\r\n\r\n"))
	return sanitizeBanner(headers), nil
}

// sanitizeBanner keeps printable text and line breaks, so binary handshakes
// (MySQL, RDP) still produce a readable banner.
func sanitizeBanner(raw []byte) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, c := range raw {
		switch {
		case c == '\r' || c == '\n' || c == '\t':
			b.WriteByte(c)
		case c >= 0x20 && c < 0x7f:
			b.WriteByte(c)
		default:
			b.WriteByte('.')
		}
	}
	return strings.TrimSpace(b.String())
}
