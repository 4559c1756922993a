// Package alpn implements the ALPN-selecting factory (spec.md §4.11,
// component C11): a single transport/tcpio-facing factory that composes an
// HTTP/1 and an HTTP/2 ProtocolFactory and picks between them by the
// protocol negotiated during the TLS handshake.
package alpn

import (
	"github.com/akamai/hface/proto"
	"github.com/akamai/hface/proto1"
	"github.com/akamai/hface/proto2"
)

// ALPN protocol identifiers, RFC 7301 / RFC 9113 Appendix A naming.
const (
	ProtoHTTP1 = "http/1.1"
	ProtoH2    = "h2"
)

// ProtocolFactory constructs a fresh proto.ByteStreamProtocol instance for
// one of the ALPN identifiers it advertises.
type ProtocolFactory interface {
	ALPNProtocols() []string
	NewProtocol() proto.ByteStreamProtocol
}

type http1Factory struct{ role proto.Role }

// NewHTTP1Factory returns a ProtocolFactory producing proto1.Protocol
// instances for role.
func NewHTTP1Factory(role proto.Role) ProtocolFactory { return http1Factory{role} }

func (f http1Factory) ALPNProtocols() []string                { return []string{ProtoHTTP1} }
func (f http1Factory) NewProtocol() proto.ByteStreamProtocol  { return proto1.New(f.role) }

type http2Factory struct{ role proto.Role }

// NewHTTP2Factory returns a ProtocolFactory producing proto2.Protocol
// instances for role.
func NewHTTP2Factory(role proto.Role) ProtocolFactory { return http2Factory{role} }

func (f http2Factory) ALPNProtocols() []string               { return []string{ProtoH2} }
func (f http2Factory) NewProtocol() proto.ByteStreamProtocol { return proto2.New(f.role) }

// Selector is the HTTPOverTCPFactory of spec.md §4.11: it composes
// multiple version-specific factories and picks one by negotiated ALPN
// protocol, falling back to a configurable default when no ALPN was
// negotiated at all (plain-TCP listeners, or a TLS stack that skipped
// ALPN).
type Selector struct {
	factories []ProtocolFactory
	byProto   map[string]ProtocolFactory
	alpnOrder []string
	fallback  string
}

// NewSelector composes factories in the given order. fallback names the
// ALPN identifier to use when the connection negotiated none; it must be
// one of the identifiers the composed factories advertise. Per spec.md
// §4.11 the normal fallback is "http/1.1".
func NewSelector(fallback string, factories ...ProtocolFactory) *Selector {
	s := &Selector{
		factories: factories,
		byProto:   make(map[string]ProtocolFactory),
		fallback:  fallback,
	}
	for _, f := range factories {
		for _, p := range f.ALPNProtocols() {
			if _, seen := s.byProto[p]; !seen {
				s.alpnOrder = append(s.alpnOrder, p)
			}
			s.byProto[p] = f
		}
	}
	return s
}

// ALPNProtocols returns the union, in insertion order and de-duplicated, of
// every composed factory's advertised protocols — what a TLS listener
// should offer during the handshake.
func (s *Selector) ALPNProtocols() []string {
	out := make([]string, len(s.alpnOrder))
	copy(out, s.alpnOrder)
	return out
}

// NewProtocol picks the factory whose ALPNProtocols contains negotiated (or
// the fallback factory if negotiated is empty) and delegates construction
// to it.
func (s *Selector) NewProtocol(negotiated string) (proto.ByteStreamProtocol, error) {
	name := negotiated
	if name == "" {
		name = s.fallback
	}
	f, ok := s.byProto[name]
	if !ok {
		return nil, &UnsupportedProtocolError{Negotiated: negotiated}
	}
	return f.NewProtocol(), nil
}

// UnsupportedProtocolError reports an ALPN negotiation result this
// selector has no composed factory for.
type UnsupportedProtocolError struct {
	Negotiated string
}

func (e *UnsupportedProtocolError) Error() string {
	return "alpn: no factory for negotiated protocol " + e.Negotiated
}
