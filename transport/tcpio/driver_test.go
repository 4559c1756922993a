package tcpio_test

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akamai/hface/conn"
	"github.com/akamai/hface/event"
	"github.com/akamai/hface/proto"
	"github.com/akamai/hface/proto1"
	"github.com/akamai/hface/transport/tcpio"
)

// TestHTTP1RoundTripOverPipe drives a real client/server proto1 pair over
// an in-memory net.Pipe through two tcpio.Driver/conn.Conn facades, as
// close as this module gets to an end-to-end test without a real socket.
func TestHTTP1RoundTripOverPipe(t *testing.T) {
	clientRaw, serverRaw := net.Pipe()
	defer clientRaw.Close()
	defer serverRaw.Close()

	clientProto := proto1.New(proto.RoleClient)
	serverProto := proto1.New(proto.RoleServer)

	clientConn := conn.New(tcpio.New(clientRaw, clientProto, nil), clientProto)
	serverConn := conn.New(tcpio.New(serverRaw, serverProto, nil), serverProto)

	require.NoError(t, clientConn.Open())
	require.NoError(t, serverConn.Open())

	sid, err := clientConn.GetAvailableStreamID()
	require.NoError(t, err)

	reqHeaders := event.HeaderList{
		{Name: ":method", Value: "GET"},
		{Name: ":scheme", Value: "http"},
		{Name: ":authority", Value: "example.com"},
		{Name: ":path", Value: "/"},
	}
	// net.Pipe is synchronous: a write returns only once the other end reads
	// it, so each side sends from its own goroutine while the other receives.
	reqErr := make(chan error, 1)
	go func() { reqErr <- clientConn.SendHeaders(sid, reqHeaders, true) }()

	ev, err := serverConn.ReceiveEvent()
	require.NoError(t, err)
	require.NoError(t, <-reqErr)
	hr, ok := ev.(event.HeadersReceived)
	require.True(t, ok)
	method, _ := hr.Headers.Pseudo("method")
	assert.Equal(t, "GET", method)
	assert.True(t, hr.EndStream)

	respHeaders := event.HeaderList{{Name: ":status", Value: "200"}}
	respErr := make(chan error, 2)
	go func() {
		respErr <- serverConn.SendHeaders(hr.StreamID(), respHeaders, false)
		respErr <- serverConn.SendData(hr.StreamID(), []byte("hello"), true)
	}()

	ev, err = clientConn.ReceiveEvent()
	require.NoError(t, err)
	require.NoError(t, <-respErr)
	chr, ok := ev.(event.HeadersReceived)
	require.True(t, ok)
	status, _ := chr.Headers.Pseudo("status")
	assert.Equal(t, "200", status)

	ev, err = clientConn.ReceiveEvent()
	require.NoError(t, err)
	require.NoError(t, <-respErr)
	dr, ok := ev.(event.DataReceived)
	require.True(t, ok)
	assert.Equal(t, "hello", string(dr.Data))
	assert.True(t, dr.EndStream)
}

func TestDriverCloseReleasesSocket(t *testing.T) {
	clientRaw, serverRaw := net.Pipe()
	defer serverRaw.Close()

	p := proto1.New(proto.RoleClient)
	d := tcpio.New(clientRaw, p, nil)
	c := conn.New(d, p)

	require.NoError(t, c.Open())
	require.NoError(t, c.Close())
	require.NoError(t, c.Close()) // idempotent per spec.md §8

	clientRaw.SetWriteDeadline(time.Now().Add(time.Second))
	_, err := clientRaw.Write([]byte("x"))
	assert.Error(t, err)
}
