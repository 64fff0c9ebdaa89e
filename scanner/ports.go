package scanner

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	minPort = 1
	maxPort = 65535
)

// ParsePortSpec expands a port expression such as "22,80,1000-1010" into the
// ports it names. Ranges are inclusive, whitespace around tokens is ignored and
// duplicates are dropped while keeping the order of first occurrence, so the
// scan order is deterministic for a given expression.
func ParsePortSpec(spec string) ([]int, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, &ValidationError{Field: "ports", Reason: "port specification is empty"}
	}

	seen := make(map[int]struct{})
	var ports []int
	add := func(p int) {
		if _, dup := seen[p]; dup {
			return
		}
		seen[p] = struct{}{}
		ports = append(ports, p)
	}

	for _, token := range strings.Split(spec, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			return nil, &ValidationError{Field: "ports", Reason: "empty token in port specification"}
		}

		start, end, err := parsePortToken(token)
		if err != nil {
			return nil, err
		}
		for p := start; p <= end; p++ {
			add(p)
		}
	}

	return ports, nil
}

func parsePortToken(token string) (int, int, error) {
	lo, hi, isRange := strings.Cut(token, "-")
	start, err := parsePortNumber(lo, token)
	if err != nil {
		return 0, 0, err
	}
	if !isRange {
		return start, start, nil
	}

	end, err := parsePortNumber(hi, token)
	if err != nil {
		return 0, 0, err
	}
	if start > end {
		return 0, 0, &ValidationError{Field: "ports", Reason: fmt.Sprintf("range start greater than end: %s", token)}
	}
	return start, end, nil
}

func parsePortNumber(raw, token string) (int, error) {
	raw = strings.TrimSpace(raw)
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &ValidationError{Field: "ports", Reason: fmt.Sprintf("port is not a number: %q", token)}
	}
	if n < minPort || n > maxPort {
		return 0, &ValidationError{Field: "ports", Reason: fmt.Sprintf("port %d outside %d-%d", n, minPort, maxPort)}
	}
	return n, nil
}
