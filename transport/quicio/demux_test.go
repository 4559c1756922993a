package quicio_test

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akamai/hface/transport/quicio"
)

// longHeaderInitial builds a minimal cleartext QUIC long-header packet
// (RFC 9000 §17.2) carrying destConnID, padded to the Initial-packet floor
// so proto3.SniffDestConnID reports isInitial=true.
func longHeaderInitial(destConnID []byte) []byte {
	out := []byte{0x80 | 0x01, 0, 0, 0, 1, byte(len(destConnID))}
	out = append(out, destConnID...)
	for len(out) < 1200 {
		out = append(out, 0)
	}
	return out
}

// shortLongHeader builds a small (non-Initial-length) long-header packet
// carrying destConnID: the demux's routing table is keyed off the
// cleartext long-header connection id field regardless of packet size, so
// any follow-up datagram for an already-routed connection must still carry
// a long header in this simplified, un-negotiated transport.
func shortLongHeader(destConnID []byte) []byte {
	out := []byte{0x80 | 0x01, 0, 0, 0, 1, byte(len(destConnID))}
	return append(out, destConnID...)
}

func shortHeaderDatagram() []byte {
	return []byte{0x00, 1, 2, 3}
}

func TestDemuxRoutesByDestinationConnectionID(t *testing.T) {
	serverPC, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer serverPC.Close()

	clientPC, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer clientPC.Close()

	spawned := make(chan *quicio.ConnStream, 4)
	demux := quicio.NewDemux(serverPC, func(s *quicio.ConnStream) {
		spawned <- s
	}, nil)
	go demux.Serve()
	defer demux.Close()

	destID := []byte("connection-one")
	pkt := longHeaderInitial(destID)
	_, err = clientPC.WriteTo(pkt, serverPC.LocalAddr())
	require.NoError(t, err)

	var stream *quicio.ConnStream
	select {
	case stream = <-spawned:
	case <-time.After(2 * time.Second):
		t.Fatal("demux never spawned a handler for the Initial packet")
	}

	got, err := stream.ReadDatagram(time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, pkt, got)

	// A second datagram for the same connection id routes to the same
	// stream instead of spawning a second handler.
	follow := shortLongHeader(destID)
	_, err = clientPC.WriteTo(follow, serverPC.LocalAddr())
	require.NoError(t, err)

	got, err = stream.ReadDatagram(time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, follow, got)

	select {
	case <-spawned:
		t.Fatal("a follow-up datagram for a known id must not spawn a second handler")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDemuxDropsUnknownNonInitialDatagram(t *testing.T) {
	serverPC, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer serverPC.Close()

	clientPC, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer clientPC.Close()

	demux := quicio.NewDemux(serverPC, func(*quicio.ConnStream) {
		t.Fatal("a short-header datagram for an unknown id must never spawn a handler")
	}, nil)
	go demux.Serve()
	defer demux.Close()

	_, err = clientPC.WriteTo(shortHeaderDatagram(), serverPC.LocalAddr())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return demux.DroppedCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConnStreamReadDatagramTimesOut(t *testing.T) {
	serverPC, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer serverPC.Close()

	clientPC, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer clientPC.Close()

	spawned := make(chan *quicio.ConnStream, 1)
	demux := quicio.NewDemux(serverPC, func(s *quicio.ConnStream) { spawned <- s }, nil)
	go demux.Serve()
	defer demux.Close()

	_, err = clientPC.WriteTo(longHeaderInitial([]byte("timeout-conn")), serverPC.LocalAddr())
	require.NoError(t, err)

	var stream *quicio.ConnStream
	select {
	case stream = <-spawned:
	case <-time.After(2 * time.Second):
		t.Fatal("demux never spawned a handler")
	}
	_, err = stream.ReadDatagram(time.Now().Add(time.Second)) // drain the Initial packet
	require.NoError(t, err)

	_, err = stream.ReadDatagram(time.Now().Add(50 * time.Millisecond))
	assert.ErrorIs(t, err, quicio.ErrTimeout)
}
