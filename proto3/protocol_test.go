package proto3_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akamai/hface/event"
	"github.com/akamai/hface/proto"
	"github.com/akamai/hface/proto3"
)

func longHeaderInitial(destConnID []byte, totalLen int) []byte {
	pkt := make([]byte, 0, totalLen)
	pkt = append(pkt, 0xC3)             // long header, fixed bit, Initial type
	pkt = append(pkt, 0x00, 0x00, 0x00, 0x01) // version 1
	pkt = append(pkt, byte(len(destConnID)))
	pkt = append(pkt, destConnID...)
	for len(pkt) < totalLen {
		pkt = append(pkt, 0)
	}
	return pkt
}

func TestHTTP3ServerFirstPacketSniffsConnectionID(t *testing.T) {
	// spec.md §8 scenario 6.
	destID := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	pkt := longHeaderInitial(destID, 1200)

	server := proto3.New(proto.RoleServer)
	server.Clock(time.Unix(0, 0))
	require.NoError(t, server.DatagramReceived(pkt))

	ids := server.ConnectionIDs()
	require.Len(t, ids, 2)
	assert.True(t, server.IsAvailable())
}

func TestHTTP3ShortInitialPacketDropped(t *testing.T) {
	destID := []byte{1, 2, 3, 4}
	pkt := longHeaderInitial(destID, 100) // below the 1200-byte floor

	server := proto3.New(proto.RoleServer)
	server.Clock(time.Unix(0, 0))
	require.NoError(t, server.DatagramReceived(pkt))
	assert.Empty(t, server.ConnectionIDs())
}

func TestHTTP3ClientRequiresClockBeforeSubmit(t *testing.T) {
	client := proto3.New(proto.RoleClient)
	sid, err := client.GetAvailableStreamID()
	require.NoError(t, err)
	require.EqualValues(t, 0, sid)

	err = client.SubmitHeaders(sid, event.HeaderList{
		{Name: ":method", Value: "GET"},
		{Name: ":scheme", Value: "https"},
		{Name: ":authority", Value: "e.com"},
		{Name: ":path", Value: "/"},
	}, true)
	require.Error(t, err)
	var connErr proto.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.EqualValues(t, event.HTTP3ErrorCodes.InternalError, connErr.ErrorCode)
}

func TestHTTP3RequestHeadersRoundTrip(t *testing.T) {
	client := proto3.New(proto.RoleClient)
	client.Clock(time.Unix(1000, 0))

	sid, _ := client.GetAvailableStreamID()
	require.NoError(t, client.SubmitHeaders(sid, event.HeaderList{
		{Name: ":method", Value: "GET"},
		{Name: ":scheme", Value: "https"},
		{Name: ":authority", Value: "e.com"},
		{Name: ":path", Value: "/"},
	}, false))
	require.NoError(t, client.SubmitData(sid, []byte("body"), true))

	onWire := client.DatagramsToSend()
	require.Len(t, onWire, 2)

	server := proto3.New(proto.RoleServer)
	server.Clock(time.Unix(1000, 0))
	require.NoError(t, server.DatagramReceived(longHeaderInitial([]byte{9, 9, 9, 9}, 1200)))
	for _, dgram := range onWire {
		require.NoError(t, server.DatagramReceived(dgram))
	}

	ev, ok := server.NextEvent()
	require.True(t, ok)
	hr, ok := ev.(event.HeadersReceived)
	require.True(t, ok)
	method, _ := hr.Headers.Pseudo("method")
	assert.Equal(t, "GET", method)
	assert.False(t, hr.EndStream)

	ev, ok = server.NextEvent()
	require.True(t, ok)
	dr := ev.(event.DataReceived)
	assert.Equal(t, "body", string(dr.Data))
	assert.True(t, dr.EndStream)
}

func TestHTTP3SubmitCloseEmitsConnectionCloseAndTerminates(t *testing.T) {
	server := proto3.New(proto.RoleServer)
	server.Clock(time.Unix(0, 0))
	require.NoError(t, server.DatagramReceived(longHeaderInitial([]byte{1, 2, 3, 4}, 1200)))

	require.NoError(t, server.SubmitClose(0))
	out := server.DatagramsToSend()
	require.Len(t, out, 1)
	assert.True(t, server.HasExpired())

	client := proto3.New(proto.RoleClient)
	client.Clock(time.Unix(0, 0))
	sid, _ := client.GetAvailableStreamID()
	require.NoError(t, client.SubmitHeaders(sid, event.HeaderList{
		{Name: ":method", Value: "GET"},
		{Name: ":scheme", Value: "https"},
		{Name: ":authority", Value: "e.com"},
		{Name: ":path", Value: "/"},
	}, true))
	client.DatagramsToSend()
	require.NoError(t, client.DatagramReceived(out[0]))

	ev, ok := client.NextEvent()
	require.True(t, ok)
	ct, ok := ev.(event.ConnectionTerminated)
	require.True(t, ok)
	assert.EqualValues(t, 0, ct.ErrorCode)
}

func TestHTTP3IdleTimeoutTerminatesConnection(t *testing.T) {
	server := proto3.New(proto.RoleServer)
	server.Clock(time.Unix(0, 0))
	require.NoError(t, server.DatagramReceived(longHeaderInitial([]byte{1, 1, 1, 1}, 1200)))

	server.Clock(time.Unix(0, 0).Add(31 * time.Second))
	ev, ok := server.NextEvent()
	require.True(t, ok)
	ct, ok := ev.(event.ConnectionTerminated)
	require.True(t, ok)
	assert.EqualValues(t, 0, ct.ErrorCode)
	assert.True(t, server.HasExpired())
}
