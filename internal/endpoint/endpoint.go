// Package endpoint parses the `[{http|https}://]HOST:PORT` endpoint
// grammar shared by the client, server, and proxy CLI subcommands
// (spec.md §6), reflecting the original's `cli/_options/common.py`
// (SPEC_FULL.md §12).
package endpoint

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Endpoint is a parsed listen/dial address plus the scheme the caller
// wants to speak on it.
type Endpoint struct {
	Scheme string // "http" or "https"; defaults to "https"
	Host   string // may be "" or "[::]" for a wildcard bind
	Port   int
}

// Parse accepts `[{http|https}://]HOST:PORT`. An empty host or the
// literal `[::]` both mean "bind every interface" (spec.md §6).
func Parse(raw string) (Endpoint, error) {
	scheme := "https"
	rest := raw

	if i := strings.Index(raw, "://"); i >= 0 {
		scheme = raw[:i]
		rest = raw[i+3:]
		if scheme != "http" && scheme != "https" {
			return Endpoint{}, fmt.Errorf("endpoint: unsupported scheme %q", scheme)
		}
	}

	host, portStr, err := net.SplitHostPort(rest)
	if err != nil {
		return Endpoint{}, fmt.Errorf("endpoint: invalid HOST:PORT in %q: %w", raw, err)
	}
	if host == "::" {
		// SplitHostPort strips the brackets; keep the wildcard spelling.
		host = "[::]"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return Endpoint{}, fmt.Errorf("endpoint: invalid port in %q", raw)
	}

	return Endpoint{Scheme: scheme, Host: host, Port: port}, nil
}

// Addr returns the net.Listen/net.Dial-compatible "host:port" form,
// treating a wildcard host as an empty bind address.
func (e Endpoint) Addr() string {
	host := e.Host
	if host == "[::]" {
		host = ""
	}
	return net.JoinHostPort(host, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s://%s", e.Scheme, e.Addr())
}
