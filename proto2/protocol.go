// Package proto2 implements the HTTP/2 sans-I/O state machine (spec.md
// §4.2, component C2): HPACK via golang.org/x/net/http2/hpack, RFC 9113
// framing, stream lifecycle, and GOAWAY/RST_STREAM handling.
//
// Grounded on the teacher (baranov1ch-http2/server.go): the frame-type
// switch in processFrame, the StreamError/ConnectionError control-flow
// types, the hpack encoder/decoder pairing on handleConn, and
// onNewHeaderField's pseudo/regular header split all carry over, adapted
// from a goroutine-and-channel net/http.Handler server into a sans-I/O
// state machine with no socket and no goroutines of its own.
package proto2

import (
	"github.com/akamai/hface/event"
	"github.com/akamai/hface/proto"
)

var (
	_ proto.ByteStreamProtocol = (*Protocol)(nil)
	_ proto.Opener             = (*Protocol)(nil)
)

// Protocol is the HTTP/2 sans-I/O state machine.
type Protocol struct {
	role proto.Role

	queue proto.EventQueue
	out   proto.ByteBuffer

	terminated bool
	sentGoAway bool

	recvBuf          []byte
	prefaceRemaining int // server role: bytes of the 24-byte client preface still to confirm; -1 once done

	streams             map[uint32]*stream
	maxPeerStreamID     uint32
	nextClientStreamID  uint32

	codec *headerCodec

	// header block assembly across HEADERS + zero-or-more CONTINUATION
	// frames, mirroring the teacher's requestParam.stream (server.go).
	headerBlockStreamID uint32
	headerBlockActive   bool
	headerBlockEndOfMsg bool
}

// New constructs an HTTP/2 protocol instance for the given role.
func New(role proto.Role) *Protocol {
	p := &Protocol{
		role:               role,
		streams:            make(map[uint32]*stream),
		nextClientStreamID: 1,
		codec:              newHeaderCodec(),
	}
	if role == proto.RoleServer {
		p.prefaceRemaining = len(clientPreface)
	} else {
		p.prefaceRemaining = -1
	}
	return p
}

func (p *Protocol) Version() proto.Version       { return proto.HTTP2 }
func (p *Protocol) Multiplexed() bool            { return true }
func (p *Protocol) ErrorCodes() event.ErrorCodes { return event.HTTP2ErrorCodes }

// IsAvailable is true until the machine terminates (spec.md §4.2): unlike
// HTTP/1, there is no single-stream slot to be busy.
func (p *Protocol) IsAvailable() bool { return !p.terminated }
func (p *Protocol) HasExpired() bool  { return p.terminated }

func (p *Protocol) BytesToSend() []byte { return p.out.Drain() }

func (p *Protocol) NextEvent() (event.Event, bool) { return p.queue.Pop() }

func (p *Protocol) push(e event.Event) { p.queue.Push(e) }

// Open sends the client magic (client role only) followed by a SETTINGS
// frame, for both roles (spec.md §4.2 "Initiation").
func (p *Protocol) Open() error {
	if p.terminated {
		return nil
	}
	if p.role == proto.RoleClient {
		p.out.Write([]byte(clientPreface))
	}
	p.out.Write(writeSettings(false))
	return nil
}

// GetAvailableStreamID returns the id the next client-initiated
// SubmitHeaders call would use. Only valid for RoleClient.
func (p *Protocol) GetAvailableStreamID() (uint64, error) {
	if p.role != proto.RoleClient {
		return 0, proto.LocalError{Op: "GetAvailableStreamID", Message: "only the client role allocates stream ids"}
	}
	return uint64(p.nextClientStreamID), nil
}

func (p *Protocol) terminate(errorCode uint64, message string) {
	if p.terminated {
		return
	}
	p.terminated = true
	p.push(event.NewConnectionTerminated(errorCode, message))
}

func (p *Protocol) protocolError(message string) error {
	code := event.HTTP2ErrorCodes.ProtocolError
	p.sentGoAway = true
	p.out.Write(writeGoAway(p.maxPeerStreamID, code))
	p.terminate(code, message)
	return proto.ConnectionError{ErrorCode: code, Message: message}
}

// ConnectionLost reports an abrupt transport failure.
func (p *Protocol) ConnectionLost() {
	if p.terminated {
		return
	}
	p.terminate(0, "connection lost")
}

// EOFReceived reports a clean peer half-close.
func (p *Protocol) EOFReceived() {
	if p.terminated {
		return
	}
	p.terminate(0, "eof")
}

// SubmitClose sends an (optional) GOAWAY and terminates the local side.
// spec.md §4.2: "submit_close is effectively a no-op; a GOAWAY is
// optional" — this engine always sends one so a well-behaved peer learns
// the highest stream id it may still expect a response for.
func (p *Protocol) SubmitClose(errorCode uint64) error {
	if p.terminated {
		return nil
	}
	if !p.sentGoAway {
		p.out.Write(writeGoAway(p.maxPeerStreamID, errorCode))
		p.sentGoAway = true
	}
	p.terminate(errorCode, "local close")
	return nil
}

func (p *Protocol) getStream(id uint32) *stream {
	return p.streams[id]
}

// streamFor returns the stream for id, creating it in stateOpen if this is
// the first frame seen for it. It does not check whether the id is one the
// peer was allowed to open.
func (p *Protocol) streamFor(id uint32, clientInitiated bool) *stream {
	if s, ok := p.streams[id]; ok {
		return s
	}
	s := &stream{id: id, state: stateOpen}
	p.streams[id] = s
	if clientInitiated {
		if id > p.maxPeerStreamID && p.role == proto.RoleServer {
			p.maxPeerStreamID = id
		}
	}
	return s
}

// SubmitHeaders sends a HEADERS (+ CONTINUATION) block for streamID,
// opening the stream if this is a client-initiated request.
func (p *Protocol) SubmitHeaders(streamID uint64, headers event.HeaderList, endStream bool) error {
	if p.terminated {
		return proto.LocalError{Op: "SubmitHeaders", Message: "connection terminated"}
	}
	id := uint32(streamID)

	if p.role == proto.RoleClient {
		if id == uint32(p.nextClientStreamID) {
			p.streams[id] = &stream{id: id, state: stateOpen}
			p.nextClientStreamID += 2
		}
	} else {
		p.streamFor(id, true)
	}

	s := p.getStream(id)
	if s == nil {
		return proto.LocalError{Op: "SubmitHeaders", Message: "unknown stream"}
	}

	block := p.codec.encode(headers)
	p.out.Write(writeHeadersFrame(id, block, endStream, defaultMaxFrameSize))

	if endStream {
		s.closeLocal()
	}
	return nil
}

// SubmitData sends one or more DATA frames for streamID.
func (p *Protocol) SubmitData(streamID uint64, data []byte, endStream bool) error {
	if p.terminated {
		return proto.LocalError{Op: "SubmitData", Message: "connection terminated"}
	}
	id := uint32(streamID)
	s := p.getStream(id)
	if s == nil {
		return proto.LocalError{Op: "SubmitData", Message: "unknown stream"}
	}
	p.out.Write(writeDataFrames(id, data, endStream, defaultMaxFrameSize))
	if endStream {
		s.closeLocal()
	}
	return nil
}

// SubmitStreamReset sends RST_STREAM and raises StreamResetSent
// (spec.md §4.2), distinct from HTTP/1 where resets degenerate to a full
// connection loss.
func (p *Protocol) SubmitStreamReset(streamID uint64, errorCode uint64) error {
	if p.terminated {
		return nil
	}
	id := uint32(streamID)
	s := p.getStream(id)
	if s == nil {
		return proto.LocalError{Op: "SubmitStreamReset", Message: "unknown stream"}
	}
	p.out.Write(writeRSTStream(id, errorCode))
	s.state = stateClosed
	p.push(event.NewStreamResetSent(streamID, errorCode))
	return nil
}

// BytesReceived feeds newly received bytes into the connection preface
// check (server role only) and the frame-parsing loop.
func (p *Protocol) BytesReceived(data []byte) error {
	if p.terminated {
		return nil
	}
	p.recvBuf = append(p.recvBuf, data...)

	if p.prefaceRemaining > 0 {
		n := p.prefaceRemaining
		if n > len(p.recvBuf) {
			n = len(p.recvBuf)
		}
		want := clientPreface[len(clientPreface)-p.prefaceRemaining : len(clientPreface)-p.prefaceRemaining+n]
		if string(p.recvBuf[:n]) != want {
			return p.protocolError("invalid HTTP/2 client preface; configure ALPN or h2c upgrade")
		}
		p.recvBuf = p.recvBuf[n:]
		p.prefaceRemaining -= n
		if p.prefaceRemaining > 0 {
			return nil
		}
	}

	for {
		hdr, ok := parseFrameHeader(p.recvBuf)
		if !ok {
			return nil
		}
		total := frameHeaderLen + int(hdr.length)
		if len(p.recvBuf) < total {
			return nil
		}
		payload := p.recvBuf[frameHeaderLen:total]
		p.recvBuf = p.recvBuf[total:]

		if err := p.handleFrame(hdr, payload); err != nil {
			return err
		}
		if p.terminated {
			return nil
		}
	}
}

func (p *Protocol) handleFrame(hdr frameHeader, payload []byte) error {
	switch hdr.typ {
	case frameSettings:
		if hdr.flags&flagAck == 0 {
			p.out.Write(writeSettings(true))
		}
		return nil

	case framePing:
		if hdr.flags&flagAck == 0 {
			p.out.Write(writePing(true, payload))
		}
		return nil

	case frameWindowUpdate, framePriority, framePushPromise:
		// Flow-control tuning and server push are out of scope (spec.md §1
		// Non-goals); ignore both silently.
		return nil

	case frameGoAway:
		lastStreamID, errorCode, ok := parseGoAway(payload)
		if !ok {
			return p.protocolError("malformed GOAWAY frame")
		}
		p.push(event.NewGoawayReceived(uint64(lastStreamID), errorCode))
		p.terminate(errorCode, "goaway received")
		return nil

	case frameRSTStream:
		errorCode, ok := parseRSTStream(payload)
		if !ok {
			return p.protocolError("malformed RST_STREAM frame")
		}
		if s := p.getStream(hdr.streamID); s != nil {
			s.state = stateClosed
		}
		p.push(event.NewStreamResetReceived(uint64(hdr.streamID), errorCode))
		return nil

	case frameHeaders:
		return p.handleHeadersFrame(hdr, payload)

	case frameContinuation:
		return p.handleContinuationFrame(hdr, payload)

	case frameData:
		return p.handleDataFrame(hdr, payload)

	default:
		// Unknown frame types are ignored per RFC 9113 §4.1.
		return nil
	}
}

func (p *Protocol) handleHeadersFrame(hdr frameHeader, payload []byte) error {
	if p.headerBlockActive {
		return p.protocolError("HEADERS frame received while another header block is open")
	}
	if hdr.flags&flagPadded != 0 || hdr.flags&flagPriority != 0 {
		// This engine does not emit padded or prioritized HEADERS and does
		// not expect to receive them from the peers it targets; reject
		// rather than mis-parse the payload.
		return p.protocolError("unsupported HEADERS flags")
	}

	clientInitiated := p.role == proto.RoleServer
	s := p.streamFor(hdr.streamID, clientInitiated)
	s.recvHeaders = true

	p.headerBlockStreamID = hdr.streamID
	p.headerBlockActive = true
	p.headerBlockEndOfMsg = hdr.flags&flagEndStream != 0

	if err := p.codec.decode(payload); err != nil {
		return p.protocolError("HPACK decode error: " + err.Error())
	}
	if hdr.flags&flagEndHeaders != 0 {
		return p.finishHeaderBlock()
	}
	return nil
}

func (p *Protocol) handleContinuationFrame(hdr frameHeader, payload []byte) error {
	if !p.headerBlockActive || hdr.streamID != p.headerBlockStreamID {
		return p.protocolError("CONTINUATION frame without an open header block")
	}
	if err := p.codec.decode(payload); err != nil {
		return p.protocolError("HPACK decode error: " + err.Error())
	}
	if hdr.flags&flagEndHeaders != 0 {
		return p.finishHeaderBlock()
	}
	return nil
}

func (p *Protocol) finishHeaderBlock() error {
	streamID := p.headerBlockStreamID
	endStream := p.headerBlockEndOfMsg
	p.headerBlockActive = false

	headers, err := p.codec.finish()
	if err != nil {
		return p.protocolError("HPACK decode error: " + err.Error())
	}
	p.push(event.NewHeadersReceived(uint64(streamID), headers, endStream))

	if s := p.getStream(streamID); s != nil && endStream {
		s.closeRemote()
	}
	return nil
}

func (p *Protocol) handleDataFrame(hdr frameHeader, payload []byte) error {
	s := p.getStream(hdr.streamID)
	if s == nil {
		return p.protocolError("DATA frame on unknown stream")
	}
	endStream := hdr.flags&flagEndStream != 0
	data := append([]byte(nil), payload...)
	p.push(event.NewDataReceived(uint64(hdr.streamID), data, endStream))
	if endStream {
		s.closeRemote()
	}
	return nil
}
