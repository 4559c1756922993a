// Package client implements the per-origin connection/stream pool
// (spec.md §4.9, component C9): picking or opening a connection for an
// origin, allocating a stream on it, and dispatching inbound events back
// to the stream that owns them.
package client

import "fmt"

// Origin is the (scheme, host, port) triple the pool groups connections by
// (spec.md §3, Pool; GLOSSARY).
type Origin struct {
	Scheme string
	Host   string
	Port   int
}

func (o Origin) String() string {
	return fmt.Sprintf("%s://%s:%d", o.Scheme, o.Host, o.Port)
}
