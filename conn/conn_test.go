package conn_test

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akamai/hface/conn"
	"github.com/akamai/hface/event"
	"github.com/akamai/hface/proto"
	"github.com/akamai/hface/proto1"
	"github.com/akamai/hface/transport/tcpio"
)

func TestConnCapturesAttributesAtConstruction(t *testing.T) {
	clientRaw, serverRaw := net.Pipe()
	defer clientRaw.Close()
	defer serverRaw.Close()

	p := proto1.New(proto.RoleClient)
	c := conn.New(tcpio.New(clientRaw, p, nil), p)

	assert.Equal(t, proto.HTTP1, c.Version())
	assert.False(t, c.Multiplexed())
	assert.Equal(t, event.HTTP1ErrorCodes, c.ErrorCodes())
	assert.Equal(t, clientRaw.LocalAddr(), c.LocalAddr())
	assert.Equal(t, clientRaw.RemoteAddr(), c.RemoteAddr())
}

func TestConnOpenAndCloseAreIdempotent(t *testing.T) {
	clientRaw, serverRaw := net.Pipe()
	defer serverRaw.Close()

	p := proto1.New(proto.RoleClient)
	c := conn.New(tcpio.New(clientRaw, p, nil), p)

	require.NoError(t, c.Open())
	require.NoError(t, c.Open())
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}
