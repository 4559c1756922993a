package proto1_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akamai/hface/event"
	"github.com/akamai/hface/proto"
	"github.com/akamai/hface/proto1"
)

func TestHTTP1GetRoundTrip(t *testing.T) {
	// spec.md §8 scenario 1.
	client := proto1.New(proto.RoleClient)
	sid, err := client.GetAvailableStreamID()
	require.NoError(t, err)
	require.EqualValues(t, 1, sid)

	err = client.SubmitHeaders(sid, event.HeaderList{
		{Name: ":method", Value: "GET"},
		{Name: ":scheme", Value: "https"},
		{Name: ":authority", Value: "localhost"},
		{Name: ":path", Value: "/"},
	}, true)
	require.NoError(t, err)

	out := client.BytesToSend()
	assert.Equal(t, "GET / HTTP/1.1\r\nHost: localhost\r\n\r\n", string(out))

	require.NoError(t, client.BytesReceived([]byte("HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\nIt works!\n")))

	ev, ok := client.NextEvent()
	require.True(t, ok)
	hr, ok := ev.(event.HeadersReceived)
	require.True(t, ok)
	assert.False(t, hr.EndStream)
	v, _ := hr.Headers.Pseudo("status")
	assert.Equal(t, "200", v)

	ev, ok = client.NextEvent()
	require.True(t, ok)
	dr, ok := ev.(event.DataReceived)
	require.True(t, ok)
	assert.Equal(t, "It works!\n", string(dr.Data))
	assert.True(t, dr.EndStream)

	_, ok = client.NextEvent()
	assert.False(t, ok)
	assert.True(t, client.IsAvailable())
}

func TestHTTP1PostWithoutLengthUsesChunkedEncoding(t *testing.T) {
	// spec.md §8 scenario 2.
	client := proto1.New(proto.RoleClient)
	sid, _ := client.GetAvailableStreamID()
	require.NoError(t, client.SubmitHeaders(sid, event.HeaderList{
		{Name: ":method", Value: "POST"},
		{Name: ":scheme", Value: "https"},
		{Name: ":authority", Value: "e.com"},
		{Name: ":path", Value: "/"},
	}, false))
	require.NoError(t, client.SubmitData(sid, []byte("hi"), true))

	out := client.BytesToSend()
	assert.Equal(t, "POST / HTTP/1.1\r\nHost: e.com\r\nTransfer-Encoding: chunked\r\n\r\n2\r\nhi\r\n0\r\n\r\n", string(out))
}

func TestHTTP2PrefaceRejectedByHTTP1Server(t *testing.T) {
	// spec.md §8 scenario 3 (applied to C1 directly; the ALPN layer would
	// normally keep this from happening, but the parser must still be
	// defensive).
	server := proto1.New(proto.RoleServer)
	err := server.BytesReceived([]byte("PRI * HTTP/2.0\r\n"))
	require.Error(t, err)
	var connErr proto.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.EqualValues(t, 400, connErr.ErrorCode)

	ev, ok := server.NextEvent()
	require.True(t, ok)
	ct, ok := ev.(event.ConnectionTerminated)
	require.True(t, ok)
	assert.EqualValues(t, 400, ct.ErrorCode)
	assert.True(t, server.HasExpired())
}

func TestHTTP1ConnectTunnel(t *testing.T) {
	// spec.md §8 scenario 5.
	server := proto1.New(proto.RoleServer)
	require.NoError(t, server.BytesReceived([]byte("CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\n\r\n")))

	ev, ok := server.NextEvent()
	require.True(t, ok)
	hr := ev.(event.HeadersReceived)
	method, _ := hr.Headers.Pseudo("method")
	assert.Equal(t, "CONNECT", method)
	authority, _ := hr.Headers.Pseudo("authority")
	assert.Equal(t, "example.com:443", authority)

	sid := uint64(1)
	require.NoError(t, server.SubmitHeaders(sid, event.HeaderList{{Name: ":status", Value: "200"}}, false))
	assert.Equal(t, "HTTP/1.1 200 OK\r\n\r\n", string(server.BytesToSend()))

	require.NoError(t, server.SubmitData(sid, []byte("tunnel-payload"), false))
	assert.Equal(t, "tunnel-payload", string(server.BytesToSend()))

	require.NoError(t, server.BytesReceived([]byte("more-bytes")))
	ev, ok = server.NextEvent()
	require.True(t, ok)
	dr := ev.(event.DataReceived)
	assert.Equal(t, "more-bytes", string(dr.Data))
	assert.False(t, dr.EndStream)

	server.EOFReceived()
	ev, ok = server.NextEvent()
	require.True(t, ok)
	_, isData := ev.(event.DataReceived)
	if isData {
		ev, ok = server.NextEvent()
		require.True(t, ok)
	}
	ct, ok := ev.(event.ConnectionTerminated)
	require.True(t, ok)
	assert.EqualValues(t, 0, ct.ErrorCode)
}

func TestHTTP1ClientConnectTunnelKeepsStreamID(t *testing.T) {
	// Client-side counterpart to TestHTTP1ConnectTunnel: a CONNECT submitted
	// with end_stream=true (spec.md §8 scenario 5's literal bytes) must not
	// let the 200 response bump currentStreamID before enterTunnel runs, or
	// every subsequent tunnel DataReceived is tagged with a stream id no
	// caller is listening on.
	client := proto1.New(proto.RoleClient)
	sid, err := client.GetAvailableStreamID()
	require.NoError(t, err)
	require.EqualValues(t, 1, sid)

	require.NoError(t, client.SubmitHeaders(sid, event.HeaderList{
		{Name: ":method", Value: "CONNECT"},
		{Name: ":scheme", Value: "https"},
		{Name: ":authority", Value: "example.com:443"},
	}, true))
	assert.Equal(t, "CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\n\r\n", string(client.BytesToSend()))

	require.NoError(t, client.BytesReceived([]byte("HTTP/1.1 200 OK\r\n\r\n")))
	ev, ok := client.NextEvent()
	require.True(t, ok)
	hr := ev.(event.HeadersReceived)
	assert.EqualValues(t, sid, hr.StreamID())
	status, _ := hr.Headers.Pseudo("status")
	assert.Equal(t, "200", status)

	require.NoError(t, client.BytesReceived([]byte("tunnel-payload")))
	ev, ok = client.NextEvent()
	require.True(t, ok)
	dr := ev.(event.DataReceived)
	assert.EqualValues(t, sid, dr.StreamID())
	assert.Equal(t, "tunnel-payload", string(dr.Data))

	client.EOFReceived()
	ev, ok = client.NextEvent()
	require.True(t, ok)
	if data, isData := ev.(event.DataReceived); isData {
		assert.EqualValues(t, sid, data.StreamID())
		ev, ok = client.NextEvent()
		require.True(t, ok)
	}
	ct := ev.(event.ConnectionTerminated)
	assert.EqualValues(t, 0, ct.ErrorCode)
}

func TestHTTP1StreamResetDegeneratesToConnectionLost(t *testing.T) {
	client := proto1.New(proto.RoleClient)
	sid, _ := client.GetAvailableStreamID()
	require.NoError(t, client.SubmitHeaders(sid, event.HeaderList{
		{Name: ":method", Value: "GET"}, {Name: ":scheme", Value: "http"},
		{Name: ":authority", Value: "h"}, {Name: ":path", Value: "/"},
	}, true))
	client.BytesToSend()

	require.NoError(t, client.SubmitStreamReset(sid, 0))
	ev, ok := client.NextEvent()
	require.True(t, ok)
	_, isTerminated := ev.(event.ConnectionTerminated)
	assert.True(t, isTerminated)
	assert.True(t, client.HasExpired())
}

func TestHTTP1IdempotentClose(t *testing.T) {
	p := proto1.New(proto.RoleClient)
	require.NoError(t, p.SubmitClose(0))
	require.NoError(t, p.SubmitClose(0))
	// second NextEvent call returns no additional ConnectionTerminated
	_, ok := p.NextEvent()
	require.True(t, ok)
	_, ok = p.NextEvent()
	assert.False(t, ok)
}

func TestHTTP1ConnectionLostMidBodyWithoutLengthIsProtocolError(t *testing.T) {
	client := proto1.New(proto.RoleClient)
	sid, _ := client.GetAvailableStreamID()
	require.NoError(t, client.SubmitHeaders(sid, event.HeaderList{
		{Name: ":method", Value: "GET"}, {Name: ":scheme", Value: "http"},
		{Name: ":authority", Value: "h"}, {Name: ":path", Value: "/"},
	}, true))
	client.BytesToSend()

	require.NoError(t, client.BytesReceived([]byte("HTTP/1.0 200 OK\r\n\r\npartial-")))
	_, _ = client.NextEvent() // headers

	client.ConnectionLost()
	ev, ok := client.NextEvent()
	require.True(t, ok)
	_, isData := ev.(event.DataReceived)
	if isData {
		ev, ok = client.NextEvent()
		require.True(t, ok)
	}
	ct := ev.(event.ConnectionTerminated)
	assert.EqualValues(t, event.HTTP1ErrorCodes.ProtocolError, ct.ErrorCode)
}
