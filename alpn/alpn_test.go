package alpn_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akamai/hface/alpn"
	"github.com/akamai/hface/proto"
	"github.com/akamai/hface/proto1"
	"github.com/akamai/hface/proto2"
)

func newSelector() *alpn.Selector {
	return alpn.NewSelector(alpn.ProtoHTTP1,
		alpn.NewHTTP1Factory(proto.RoleServer),
		alpn.NewHTTP2Factory(proto.RoleServer))
}

func TestALPNProtocolsIsUnionInOrder(t *testing.T) {
	s := newSelector()
	assert.Equal(t, []string{alpn.ProtoHTTP1, alpn.ProtoH2}, s.ALPNProtocols())
}

func TestNewProtocolSelectsByNegotiated(t *testing.T) {
	s := newSelector()

	p, err := s.NewProtocol(alpn.ProtoH2)
	require.NoError(t, err)
	assert.Equal(t, proto.HTTP2, p.Version())

	p, err = s.NewProtocol(alpn.ProtoHTTP1)
	require.NoError(t, err)
	assert.Equal(t, proto.HTTP1, p.Version())
}

func TestNewProtocolFallsBackWhenNothingNegotiated(t *testing.T) {
	s := newSelector()
	p, err := s.NewProtocol("")
	require.NoError(t, err)
	assert.Equal(t, proto.HTTP1, p.Version())
}

func TestNewProtocolRejectsUnknownALPNIdentifier(t *testing.T) {
	s := newSelector()
	_, err := s.NewProtocol("spdy/3.1")
	require.Error(t, err)
	var target *alpn.UnsupportedProtocolError
	assert.ErrorAs(t, err, &target)
}

func TestFactoriesProduceFreshInstances(t *testing.T) {
	f := alpn.NewHTTP1Factory(proto.RoleServer)
	a := f.NewProtocol()
	b := f.NewProtocol()
	assert.NotSame(t, a, b)

	_, ok := a.(*proto1.Protocol)
	assert.True(t, ok)

	f2 := alpn.NewHTTP2Factory(proto.RoleServer)
	_, ok = f2.NewProtocol().(*proto2.Protocol)
	assert.True(t, ok)
}
