// Package proto3 implements the HTTP/3 sans-I/O state machine (spec.md
// §4.3, component C3): QPACK via github.com/quic-go/qpack, HTTP/3 framing
// per RFC 9114, and the deferred-initialization / connection-id / clock
// protocol the QUIC transport layer demands of anything sitting above it.
//
// This engine does not perform QUIC packet protection (AEAD encryption),
// loss recovery, or congestion control: those belong to "the concrete
// third-party ... QUIC codec libraries", which spec.md §1 explicitly lists
// as an external collaborator referenced only at the data boundary. What
// this package does own — because spec.md §4.3 assigns it directly to
// C3 — is QUIC connection-id bookkeeping (including sniffing the
// cleartext long-header fields of a peer's first packet), the clock/timer
// contract, and CONNECTION_CLOSE type selection.
package proto3

import (
	"crypto/rand"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/akamai/hface/event"
	"github.com/akamai/hface/proto"
)

var _ proto.DatagramProtocol = (*Protocol)(nil)

// idleTimeout mirrors quic-go's own Config.MaxIdleTimeout default (30s,
// per quic.Config's doc comment) since this engine defers real loss
// recovery but still needs a plausible idle-timeout clock to drive.
const idleTimeout = 30 * time.Second

type Protocol struct {
	role proto.Role

	queue     proto.EventQueue
	datagrams proto.DatagramBuffer

	terminated  bool
	initialized bool
	sentClose   bool

	hostConnID     quic.ConnectionID
	origDestConnID quic.ConnectionID
	haveOrigDest   bool

	now          time.Time
	lastActivity time.Time

	codec *headerCodec

	nextClientStreamID uint64 // client-initiated bidirectional ids: 0, 4, 8, ... (RFC 9000 §2.1)
}

func New(role proto.Role) *Protocol {
	return &Protocol{
		role:  role,
		codec: newHeaderCodec(),
	}
}

func (p *Protocol) Version() proto.Version       { return proto.HTTP3 }
func (p *Protocol) Multiplexed() bool            { return true }
func (p *Protocol) ErrorCodes() event.ErrorCodes { return event.HTTP3ErrorCodes }

func (p *Protocol) IsAvailable() bool { return !p.terminated }
func (p *Protocol) HasExpired() bool  { return p.terminated }

func (p *Protocol) NextEvent() (event.Event, bool) { return p.queue.Pop() }
func (p *Protocol) push(e event.Event)             { p.queue.Push(e) }

func (p *Protocol) DatagramsToSend() [][]byte { return p.datagrams.Drain() }

// Clock supplies a wall-clock reading. If it has reached or passed the
// current timer deadline, the idle timeout fires and the connection
// terminates (spec.md §4.3 "Clock protocol").
func (p *Protocol) Clock(now time.Time) {
	p.now = now
	if p.terminated || !p.initialized {
		return
	}
	deadline := p.lastActivity.Add(idleTimeout)
	if !now.Before(deadline) {
		p.terminate(0, "idle timeout")
	}
}

// Timer returns the next deadline the driver should wake up for, or the
// zero Time if none is armed yet (before initialization, or once
// terminated).
func (p *Protocol) Timer() time.Time {
	if !p.initialized || p.terminated {
		return time.Time{}
	}
	return p.lastActivity.Add(idleTimeout)
}

// ConnectionIDs returns the set of QUIC connection ids presently routed to
// this instance, for the demultiplexer (transport/quicio) to subscribe.
func (p *Protocol) ConnectionIDs() []string {
	if !p.initialized {
		return nil
	}
	ids := []string{string(p.hostConnID.Bytes())}
	if p.haveOrigDest {
		ids = append(ids, string(p.origDestConnID.Bytes()))
	}
	return ids
}

func (p *Protocol) terminate(errorCode uint64, message string) {
	if p.terminated {
		return
	}
	p.terminated = true
	p.push(event.NewConnectionTerminated(errorCode, message))
}

func (p *Protocol) ConnectionLost() {
	if p.terminated {
		return
	}
	p.terminate(0, "connection lost")
}

func (p *Protocol) touchActivity() {
	if !p.now.IsZero() {
		p.lastActivity = p.now
	}
}

// ensureInitializedClient performs the client-side deferred construction
// (spec.md §4.3): it requires the clock to have been set at least once.
func (p *Protocol) ensureInitializedClient() error {
	if p.initialized {
		return nil
	}
	if p.now.IsZero() {
		return proto.ConnectionError{ErrorCode: event.HTTP3ErrorCodes.InternalError, Message: "clock not set before first submit"}
	}
	id, err := newRandomConnectionID()
	if err != nil {
		return proto.ConnectionError{ErrorCode: event.HTTP3ErrorCodes.InternalError, Message: err.Error()}
	}
	p.hostConnID = id
	p.lastActivity = p.now
	p.initialized = true
	return nil
}

func newRandomConnectionID() (quic.ConnectionID, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return quic.ConnectionID{}, err
	}
	return quic.ConnectionIDFromBytes(buf), nil
}

// GetAvailableStreamID returns the id the next client-initiated
// SubmitHeaders call would use. Client-initiated bidirectional stream ids
// are congruent to 0 mod 4 (RFC 9000 §2.1).
func (p *Protocol) GetAvailableStreamID() (uint64, error) {
	if p.role != proto.RoleClient {
		return 0, proto.LocalError{Op: "GetAvailableStreamID", Message: "only the client role allocates stream ids"}
	}
	return p.nextClientStreamID, nil
}

// SubmitHeaders encodes headers via QPACK and emits an HTTP/3 HEADERS
// frame for streamID, wrapped in this engine's stream-frame envelope.
func (p *Protocol) SubmitHeaders(streamID uint64, headers event.HeaderList, endStream bool) error {
	if p.terminated {
		return proto.LocalError{Op: "SubmitHeaders", Message: "connection terminated"}
	}
	if p.role == proto.RoleClient {
		if err := p.ensureInitializedClient(); err != nil {
			return err
		}
		if streamID == p.nextClientStreamID {
			p.nextClientStreamID += 4
		}
	} else if !p.initialized {
		return proto.LocalError{Op: "SubmitHeaders", Message: "server protocol not yet initialized by an inbound datagram"}
	}

	block := p.codec.encode(headers)
	p.datagrams.Write(writeFramedEnvelope(streamID, frameHeaders, block, endStream))
	return nil
}

// SubmitData emits an HTTP/3 DATA frame for streamID.
func (p *Protocol) SubmitData(streamID uint64, data []byte, endStream bool) error {
	if p.terminated {
		return proto.LocalError{Op: "SubmitData", Message: "connection terminated"}
	}
	if !p.initialized {
		return proto.LocalError{Op: "SubmitData", Message: "not yet initialized"}
	}
	p.datagrams.Write(writeFramedEnvelope(streamID, frameData, data, endStream))
	return nil
}

// SubmitStreamReset aborts streamID. Since this engine substitutes a
// tagged envelope for real QUIC STREAM frames, resetting a stream is
// modeled as a local StreamResetSent event only; a real QUIC transport
// would instead emit RESET_STREAM/STOP_SENDING, which are transport-layer,
// not HTTP/3-layer, frames and so fall outside this package's remit.
func (p *Protocol) SubmitStreamReset(streamID uint64, errorCode uint64) error {
	if p.terminated {
		return nil
	}
	p.push(event.NewStreamResetSent(streamID, errorCode))
	return nil
}

// SubmitClose maps to a QUIC CONNECTION_CLOSE frame of type 0x1c
// (errorCode == 0) or 0x1d (application error), per spec.md §4.3.
func (p *Protocol) SubmitClose(errorCode uint64) error {
	if p.terminated {
		return nil
	}
	if !p.sentClose {
		p.datagrams.Write(writeConnectionClose(errorCode, "local close"))
		p.sentClose = true
	}
	p.terminate(errorCode, "local close")
	return nil
}

// DatagramReceived feeds one inbound UDP datagram into the state machine.
func (p *Protocol) DatagramReceived(data []byte) error {
	if p.terminated {
		return nil
	}
	if !p.initialized {
		if p.role == proto.RoleClient {
			return proto.ConnectionError{ErrorCode: event.HTTP3ErrorCodes.InternalError, Message: "datagram received before client initialization"}
		}
		destConnID, isInitial, ok := sniffLongHeader(data)
		if !ok || !isInitial {
			// Too short to be an Initial packet, or not a long-header
			// packet at all: dropped (spec.md §4.3 "Server first-packet").
			return nil
		}
		id, err := newRandomConnectionID()
		if err != nil {
			return proto.ConnectionError{ErrorCode: event.HTTP3ErrorCodes.InternalError, Message: err.Error()}
		}
		p.hostConnID = id
		p.origDestConnID = quic.ConnectionIDFromBytes(destConnID)
		p.haveOrigDest = true
		p.lastActivity = p.now
		p.initialized = true
		return nil
	}

	p.touchActivity()

	if len(data) == 0 {
		return nil
	}
	switch data[0] {
	case kindConnectionClose:
		errorCode, _, ok := parseConnectionClose(data[1:])
		if !ok {
			return p.protocolError("malformed CONNECTION_CLOSE")
		}
		p.terminate(errorCode, "connection closed by peer")
		return nil

	case kindStreamFrame:
		streamID, frameType, payload, endStream, ok := parseFramedEnvelope(data[1:])
		if !ok {
			return p.protocolError("malformed stream-frame envelope")
		}
		return p.handleStreamFrame(streamID, frameType, payload, endStream)

	default:
		return p.protocolError("unrecognized datagram kind")
	}
}

func (p *Protocol) protocolError(message string) error {
	code := event.HTTP3ErrorCodes.ProtocolError
	p.datagrams.Write(writeConnectionClose(code, message))
	p.sentClose = true
	p.terminate(code, message)
	return proto.ConnectionError{ErrorCode: code, Message: message}
}

func (p *Protocol) handleStreamFrame(streamID, frameType uint64, payload []byte, endStream bool) error {
	switch frameType {
	case frameHeaders:
		headers, err := p.codec.decode(payload)
		if err != nil {
			return p.protocolError("QPACK decode error: " + err.Error())
		}
		p.push(event.NewHeadersReceived(streamID, headers, endStream))
		return nil

	case frameData:
		data := append([]byte(nil), payload...)
		p.push(event.NewDataReceived(streamID, data, endStream))
		return nil

	case frameSettings, frameGoAway, frameMaxPushID:
		// Settings negotiation and server push are out of scope (spec.md
		// §1 Non-goals: flow-control/codec tuning); ignore both.
		return nil

	default:
		// Unknown frame types are ignored per RFC 9114 §9.
		return nil
	}
}
