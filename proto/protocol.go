// Package proto declares the sans-I/O Protocol contract implemented by
// proto1 (HTTP/1.1), proto2 (HTTP/2) and proto3 (HTTP/3): a state machine
// driven purely by method calls on byte/datagram buffers, producing bytes
// or datagrams to send and a queue of event.Event values to consume.
//
// This mirrors the teacher's serverConn (baranov1ch-http2/server.go) with
// the I/O stripped out: serverConn read bytes off a net.Conn directly and
// wrote frames straight back to it from inside frame-processing; a
// Protocol here never touches a socket — that is transport/tcpio's and
// transport/quicio's job (spec.md §4.5-4.6).
package proto

import (
	"time"

	"github.com/akamai/hface/event"
)

// Version identifies which wire protocol a Protocol instance speaks.
type Version string

const (
	HTTP1 Version = "http/1.1"
	HTTP2 Version = "h2"
	HTTP3 Version = "h3"
)

// Role distinguishes the client and server ends of a connection; stream-id
// parity and preface behavior depend on it.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

// ByteStreamProtocol is implemented by proto1 and proto2: protocols driven
// by a reliable, ordered byte stream (TCP).
type ByteStreamProtocol interface {
	Protocol

	// BytesReceived feeds inbound bytes read from the transport into the
	// state machine. It may append events to the internal queue and/or
	// bytes to the outbound buffer.
	BytesReceived(data []byte) error

	// BytesToSend drains and returns any bytes the state machine has
	// produced since the last call. The returned slice is never
	// re-emitted (spec.md §3).
	BytesToSend() []byte

	// EOFReceived signals a clean half-close from the peer.
	EOFReceived()
}

// DatagramProtocol is implemented by proto3: protocols driven by an
// unreliable, unordered datagram stream (UDP/QUIC).
type DatagramProtocol interface {
	Protocol

	// DatagramReceived feeds one inbound UDP datagram into the state
	// machine.
	DatagramReceived(data []byte) error

	// DatagramsToSend drains and returns any datagrams produced since the
	// last call.
	DatagramsToSend() [][]byte

	// Clock supplies the current wall-clock time; HTTP/3's QUIC layer is
	// timer-driven (retransmission, idle timeout) and has no other way to
	// learn that time has passed (spec.md §4.3).
	Clock(now time.Time)

	// Timer returns the next deadline the driver must wake up for, or the
	// zero Time if no timer is currently armed.
	Timer() time.Time

	// ConnectionIDs returns the set of QUIC connection ids currently
	// routed to this protocol instance, for the demultiplexer to
	// subscribe/unsubscribe as the set changes.
	ConnectionIDs() []string
}

// Protocol is the common surface of all three sans-I/O state machines.
type Protocol interface {
	// Version reports which wire protocol this instance speaks.
	Version() Version

	// Multiplexed reports whether more than one stream may be
	// simultaneously open (true for HTTP/2 and HTTP/3, false for HTTP/1).
	Multiplexed() bool

	// ErrorCodes returns the version-appropriate error-code table.
	ErrorCodes() event.ErrorCodes

	// SubmitHeaders queues an outbound HEADERS-equivalent for streamID.
	// For a client this opens a request; for a server this starts a
	// response.
	SubmitHeaders(streamID uint64, headers event.HeaderList, endStream bool) error

	// SubmitData queues outbound body bytes for streamID.
	SubmitData(streamID uint64, data []byte, endStream bool) error

	// SubmitStreamReset locally aborts streamID.
	SubmitStreamReset(streamID uint64, errorCode uint64) error

	// SubmitClose initiates a graceful connection shutdown.
	SubmitClose(errorCode uint64) error

	// NextEvent pops the oldest pending event, or (nil, false) if the
	// queue is currently empty.
	NextEvent() (event.Event, bool)

	// IsAvailable reports whether the connection can still accept new
	// streams (for HTTP/1: whether the single stream slot is idle).
	IsAvailable() bool

	// HasExpired reports whether the protocol has fully terminated: once
	// true, NextEvent never again returns an event, BytesToSend /
	// DatagramsToSend return nothing, and IsAvailable is false
	// (spec.md §8 invariant).
	HasExpired() bool

	// GetAvailableStreamID returns the id that a subsequent SubmitHeaders
	// would use to open a new client-initiated stream. Only valid for
	// RoleClient.
	GetAvailableStreamID() (uint64, error)

	// ConnectionLost signals an abrupt transport failure (broken/closed
	// socket, as opposed to a clean EOFReceived).
	ConnectionLost()
}

// Open performs the protocol's connection-opening action: HTTP/2 sends
// SETTINGS (preceded by the client magic in the client role), HTTP/1 and HTTP/3 are no-ops at
// this layer (spec.md §3, Connection facade lifecycle). Protocols that
// need an explicit open hook implement Opener; others are fine to skip.
type Opener interface {
	Open() error
}
