// Package event defines the version-independent event and header model
// shared by proto1, proto2 and proto3: the wire format each state machine
// parses into and serializes out of.
package event

import (
	"bytes"
	"strings"
)

// Header is a single (name, value) pair as carried on the wire. Names
// starting with ":" are pseudo-headers (method/scheme/authority/path for
// requests, status for responses); they precede regular headers in a
// HeaderList.
type Header struct {
	Name  string
	Value string
}

// IsPseudo reports whether h is a pseudo-header.
func (h Header) IsPseudo() bool {
	return len(h.Name) > 0 && h.Name[0] == ':'
}

// Equal compares headers the way the wire does: case-insensitive name,
// byte-equal value.
func (h Header) Equal(o Header) bool {
	return strings.EqualFold(h.Name, o.Name) && h.Value == o.Value
}

// HeaderList is an ordered sequence of headers. Pseudo-headers, by
// convention, precede regular ones.
type HeaderList []Header

// Get returns the value of the first occurrence of name (case-insensitive),
// and whether it was found.
func (hl HeaderList) Get(name string) (string, bool) {
	for _, h := range hl {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// GetAll returns the values of every occurrence of name, in order.
func (hl HeaderList) GetAll(name string) []string {
	var out []string
	for _, h := range hl {
		if strings.EqualFold(h.Name, name) {
			out = append(out, h.Value)
		}
	}
	return out
}

// Pseudo returns the value of pseudo-header ":"+name.
func (hl HeaderList) Pseudo(name string) (string, bool) {
	return hl.Get(":" + name)
}

// Normalize lowercases every regular header name (pseudo-headers are
// already lowercase by construction) and leaves ordering and values
// untouched. This is the normalization referenced by the HTTP/1 round-trip
// law in spec.md §8.
func (hl HeaderList) Normalize() HeaderList {
	out := make(HeaderList, len(hl))
	for i, h := range hl {
		out[i] = Header{Name: strings.ToLower(h.Name), Value: h.Value}
	}
	return out
}

// Equal compares two header lists for the round-trip law: same length,
// same (lowercase name, value) pairs in order.
func (hl HeaderList) Equal(o HeaderList) bool {
	a, b := hl.Normalize(), o.Normalize()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Clone returns an independent copy of the list.
func (hl HeaderList) Clone() HeaderList {
	out := make(HeaderList, len(hl))
	copy(out, hl)
	return out
}

// Without returns a copy of hl with every header named name removed
// (case-insensitive).
func (hl HeaderList) Without(name string) HeaderList {
	out := make(HeaderList, 0, len(hl))
	for _, h := range hl {
		if !strings.EqualFold(h.Name, name) {
			out = append(out, h)
		}
	}
	return out
}

// Split separates pseudo-headers from regular headers, preserving relative
// order within each group.
func (hl HeaderList) Split() (pseudo, regular HeaderList) {
	for _, h := range hl {
		if h.IsPseudo() {
			pseudo = append(pseudo, h)
		} else {
			regular = append(regular, h)
		}
	}
	return
}

// CanonicalCache maps a lowercase HTTP/1 header name to its canonical wire
// capitalization, mirroring the teacher's serverConn.canonHeader cache
// (server.go, canonicalHeader) used to avoid re-deriving the same
// capitalization on every field.
type CanonicalCache struct {
	m map[string]string
}

// NewCanonicalCache returns an empty cache.
func NewCanonicalCache() *CanonicalCache {
	return &CanonicalCache{m: make(map[string]string)}
}

// Canonical returns the canonical ("Content-Length"-style) capitalization
// of a lowercase header name, computing and caching it on first use.
func (c *CanonicalCache) Canonical(name string) string {
	if cv, ok := c.m[name]; ok {
		return cv
	}
	cv := canonicalHeaderKey(name)
	c.m[name] = cv
	return cv
}

// canonicalHeaderKey title-cases each hyphen-separated segment, the same
// rule net/http.CanonicalHeaderKey applies.
func canonicalHeaderKey(name string) string {
	var buf bytes.Buffer
	upper := true
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == '-' {
			upper = true
			buf.WriteByte(c)
			continue
		}
		if upper && c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		} else if !upper && c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		upper = false
		buf.WriteByte(c)
	}
	return buf.String()
}
