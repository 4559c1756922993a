package proto2_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akamai/hface/event"
	"github.com/akamai/hface/proto"
	"github.com/akamai/hface/proto2"
)

func TestHTTP2ClientPrefaceAndSettingsOnOpen(t *testing.T) {
	client := proto2.New(proto.RoleClient)
	require.NoError(t, client.Open())
	out := client.BytesToSend()
	assert.Contains(t, string(out), "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n")
	preface := "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"
	require.Greater(t, len(out), len(preface)+3)
	assert.EqualValues(t, 0x4, out[len(preface)+3]) // frame type of the SETTINGS that follows the magic
}

func TestHTTP2RequestResponseRoundTrip(t *testing.T) {
	client := proto2.New(proto.RoleClient)
	require.NoError(t, client.Open())
	preface := client.BytesToSend()

	sid, err := client.GetAvailableStreamID()
	require.NoError(t, err)
	require.EqualValues(t, 1, sid)

	require.NoError(t, client.SubmitHeaders(sid, event.HeaderList{
		{Name: ":method", Value: "GET"},
		{Name: ":scheme", Value: "https"},
		{Name: ":authority", Value: "example.com"},
		{Name: ":path", Value: "/"},
	}, true))
	onWire := client.BytesToSend()
	require.NotEmpty(t, onWire)

	server := proto2.New(proto.RoleServer)
	require.NoError(t, server.Open())
	server.BytesToSend()

	require.NoError(t, server.BytesReceived(append(preface, onWire...)))

	ev, ok := server.NextEvent()
	require.True(t, ok)
	hr, ok := ev.(event.HeadersReceived)
	require.True(t, ok)
	assert.True(t, hr.EndStream)
	method, _ := hr.Headers.Pseudo("method")
	assert.Equal(t, "GET", method)

	require.NoError(t, server.SubmitHeaders(sid, event.HeaderList{
		{Name: ":status", Value: "200"},
	}, false))
	require.NoError(t, server.SubmitData(sid, []byte("hello"), true))
	toClient := server.BytesToSend()
	require.NotEmpty(t, toClient)

	require.NoError(t, client.BytesReceived(toClient))
	ev, ok = client.NextEvent()
	require.True(t, ok)
	hr2 := ev.(event.HeadersReceived)
	status, _ := hr2.Headers.Pseudo("status")
	assert.Equal(t, "200", status)

	ev, ok = client.NextEvent()
	require.True(t, ok)
	dr := ev.(event.DataReceived)
	assert.Equal(t, "hello", string(dr.Data))
	assert.True(t, dr.EndStream)
}

func TestHTTP1PrefaceRejectedByHTTP2Server(t *testing.T) {
	// spec.md §8 scenario 3: a GET sent in plain HTTP/1 syntax never looks
	// like an HTTP/2 preface, so the server must reject it with
	// ConnectionTerminated and a GOAWAY on the wire.
	server := proto2.New(proto.RoleServer)
	err := server.BytesReceived([]byte("GET / HTTP/1.1\r\nHost: e.com\r\n\r\n"))
	require.Error(t, err)
	var connErr proto.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.EqualValues(t, event.HTTP2ErrorCodes.ProtocolError, connErr.ErrorCode)

	ev, ok := server.NextEvent()
	require.True(t, ok)
	ct, ok := ev.(event.ConnectionTerminated)
	require.True(t, ok)
	assert.EqualValues(t, event.HTTP2ErrorCodes.ProtocolError, ct.ErrorCode)
	assert.True(t, server.HasExpired())

	out := server.BytesToSend()
	assert.NotEmpty(t, out)
}

func TestHTTP2StreamResetSent(t *testing.T) {
	// spec.md §8 scenario 4.
	client := proto2.New(proto.RoleClient)
	require.NoError(t, client.Open())
	client.BytesToSend()

	sid, _ := client.GetAvailableStreamID()
	require.NoError(t, client.SubmitHeaders(sid, event.HeaderList{
		{Name: ":method", Value: "GET"},
		{Name: ":scheme", Value: "https"},
		{Name: ":authority", Value: "e.com"},
		{Name: ":path", Value: "/"},
	}, false))
	client.BytesToSend()

	require.NoError(t, client.SubmitStreamReset(sid, event.HTTP2ErrorCodes.InternalError))
	out := client.BytesToSend()
	assert.NotEmpty(t, out)

	ev, ok := client.NextEvent()
	require.True(t, ok)
	rs, ok := ev.(event.StreamResetSent)
	require.True(t, ok)
	assert.EqualValues(t, event.HTTP2ErrorCodes.InternalError, rs.ErrorCode)
	assert.True(t, client.IsAvailable())
}

func TestHTTP2GoawayReceivedTerminatesConnection(t *testing.T) {
	server := proto2.New(proto.RoleServer)
	client := proto2.New(proto.RoleClient)

	require.NoError(t, server.SubmitClose(0))
	fromServer := server.BytesToSend()
	require.NoError(t, client.BytesReceived(fromServer))

	ev, ok := client.NextEvent()
	require.True(t, ok)
	ga, ok := ev.(event.GoawayReceived)
	require.True(t, ok)
	assert.EqualValues(t, 0, ga.ErrorCode)

	ev, ok = client.NextEvent()
	require.True(t, ok)
	ct, ok := ev.(event.ConnectionTerminated)
	require.True(t, ok)
	assert.EqualValues(t, 0, ct.ErrorCode)
	assert.True(t, client.HasExpired())
}
