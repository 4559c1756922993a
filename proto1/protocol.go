// Package proto1 implements the HTTP/1.1 sans-I/O state machine (spec.md
// §4.1, component C1): RFC 9112 request/response line and header parsing,
// chunked transfer-encoding, the Host-from-:authority synthesis, and the
// CONNECT tunnel byte passthrough, all driven purely by SubmitXxx/
// BytesReceived calls rather than a socket.
//
// HTTP/1 has exactly one logical stream active at a time; CurrentStreamID
// increments once a full request/response cycle completes and the
// connection returns to idle (spec.md §3, Stream).
package proto1

import (
	"github.com/akamai/hface/event"
	"github.com/akamai/hface/proto"
)

// phase is the connection-wide lifecycle state. HTTP/1 multiplexes nothing,
// so one phase value describes the whole connection.
type phase int

const (
	phaseIdle phase = iota
	phaseActive
	phaseTunnel
	phaseTerminated
)

var (
	_ proto.ByteStreamProtocol = (*Protocol)(nil)
	_ proto.Opener             = (*Protocol)(nil)
)

// Protocol is the HTTP/1.1 sans-I/O state machine.
type Protocol struct {
	role proto.Role

	queue proto.EventQueue
	out   proto.ByteBuffer
	canon *event.CanonicalCache

	phase           phase
	currentStreamID uint64 // 0 until the first request is submitted or parsed

	send receiveOrSend // outbound message framing state
	recv receiveOrSend // inbound message framing state

	recvBuf   []byte    // unparsed bytes carried over between BytesReceived calls
	recvState parseState
	recvHdr   *inboundMessage // headers/status being assembled for the current inbound message

	// outstandingMethod is the method of the request currently in flight,
	// needed on the client side to interpret the response (a HEAD or a
	// 1xx/204/304 response carries no body regardless of framing headers;
	// a CONNECT response, on success, switches to tunnel mode).
	outstandingMethod string

	// lastEventIdx is the queue index of the most recently pushed
	// HeadersReceived or DataReceived (valid while haveLastEventIdx is
	// true), letting end-of-message emulation patch EndStream onto it in
	// place instead of emitting a trailing empty DataReceived (spec.md §4.1).
	lastEventIdx     int
	haveLastEventIdx bool
}

// receiveOrSend is the per-direction message-framing bookkeeping, used for
// both the outbound message the local side is writing and the inbound
// message the parser is assembling.
type receiveOrSend struct {
	active      bool
	chunked     bool
	haveLength  bool
	length      int64
	written     int64
	done        bool
	framedByEOF bool // no Content-Length/Transfer-Encoding at all
}

// New constructs an HTTP/1.1 protocol instance for the given role.
func New(role proto.Role) *Protocol {
	return &Protocol{role: role, canon: event.NewCanonicalCache(), recvState: parseStartLine}
}

func (p *Protocol) Version() proto.Version      { return proto.HTTP1 }
func (p *Protocol) Multiplexed() bool           { return false }
func (p *Protocol) ErrorCodes() event.ErrorCodes { return event.HTTP1ErrorCodes }

func (p *Protocol) IsAvailable() bool {
	return !p.terminated() && p.phase == phaseIdle
}

func (p *Protocol) HasExpired() bool { return p.terminated() }

func (p *Protocol) terminated() bool { return p.phase == phaseTerminated }

func (p *Protocol) BytesToSend() []byte {
	return p.out.Drain()
}

func (p *Protocol) NextEvent() (event.Event, bool) {
	p.haveLastEventIdx = false
	return p.queue.Pop()
}

func (p *Protocol) push(e event.Event) {
	p.queue.Push(e)
}

// Open is a no-op for HTTP/1.1: there is no connection preface to send
// (spec.md §3, Connection facade lifecycle).
func (p *Protocol) Open() error { return nil }

// GetAvailableStreamID returns the id the next SubmitHeaders call will use.
// Only the client role allocates ids this way (spec.md §4.1); the server
// replies on whatever id the client's request used.
func (p *Protocol) GetAvailableStreamID() (uint64, error) {
	if p.role != proto.RoleClient {
		return 0, proto.LocalError{Op: "GetAvailableStreamID", Message: "only the client role allocates stream ids"}
	}
	if p.phase != phaseIdle {
		return 0, proto.LocalError{Op: "GetAvailableStreamID", Message: "connection is not idle"}
	}
	if p.currentStreamID == 0 {
		return 1, nil
	}
	return p.currentStreamID, nil
}

func (p *Protocol) terminate(errorCode uint64, message string) {
	if p.terminated() {
		return
	}
	p.phase = phaseTerminated
	p.push(event.NewConnectionTerminated(errorCode, message))
}

// ConnectionLost emits ConnectionTerminated(0) unless the machine is
// already terminated (spec.md §4.1, idempotence law of spec.md §8). The
// exception is a response body framed by connection close that is still
// in progress: losing the connection then emits
// ConnectionTerminated(protocol_error) instead.
func (p *Protocol) ConnectionLost() {
	if p.terminated() {
		return
	}
	if p.phase == phaseActive && p.recv.active && p.recv.framedByEOF {
		p.terminate(p.ErrorCodes().ProtocolError, "connection closed mid-body with no declared length")
		return
	}
	p.terminate(0, "connection lost")
}

// EOFReceived signals a clean half-close. Per spec.md §4.1: if a partial
// response is outstanding with implicit (close-delimited) framing, that is
// itself the correct signal of a complete body — but a close *before* any
// length was ever resolvable for an otherwise-framed body is a protocol
// error.
func (p *Protocol) EOFReceived() {
	if p.terminated() {
		return
	}
	if p.phase == phaseTunnel {
		p.flushTunnelEOF()
		p.terminate(0, "tunnel closed")
		return
	}
	if p.recv.active && p.recv.framedByEOF {
		// Close-delimited body: EOF *is* end of message.
		p.emitEndOfMessage()
		p.terminate(0, "eof")
		return
	}
	if p.recv.active && !p.recv.done {
		p.terminate(p.ErrorCodes().ProtocolError, "peer closed with an incomplete declared-length body")
		return
	}
	p.terminate(0, "eof")
}

// emitEndOfMessage implements the "end-of-message emulation" rule: patch
// EndStream onto the last queued HeadersReceived/DataReceived for this
// stream if possible, otherwise push a trailing empty DataReceived.
func (p *Protocol) emitEndOfMessage() {
	sid := p.currentStreamID
	if p.haveLastEventIdx && p.patchEndStream(p.lastEventIdx) {
		p.recv.done = true
		p.maybeCompleteCycle()
		return
	}
	p.push(event.NewDataReceived(sid, nil, true))
	p.recv.done = true
	p.maybeCompleteCycle()
}

func (p *Protocol) patchEndStream(idx int) bool {
	if idx < 0 || idx >= len(p.queue.Peek()) {
		return false
	}
	switch e := p.queue.Peek()[idx].(type) {
	case event.HeadersReceived:
		if e.EndStream {
			return false
		}
		e.EndStream = true
		p.queue.Peek()[idx] = e
		return true
	case event.DataReceived:
		if e.EndStream {
			return false
		}
		e.EndStream = true
		p.queue.Peek()[idx] = e
		return true
	}
	return false
}

// maybeCompleteCycle advances current_stream_id and returns the machine to
// idle once both directions of the active exchange have finished.
func (p *Protocol) maybeCompleteCycle() {
	if p.phase != phaseActive {
		return
	}
	if p.send.done && p.recv.done {
		if p.currentStreamID == 0 {
			p.currentStreamID = 1
		} else {
			p.currentStreamID++
		}
		p.send = receiveOrSend{}
		p.recv = receiveOrSend{}
		p.phase = phaseIdle
	}
}

const httpVersion = "HTTP/1.1"
