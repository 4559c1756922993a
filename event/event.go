package event

// Event is the tagged variant produced by a Protocol's NextEvent and
// consumed by the connection facade and the pool/dispatcher above it.
// Stream events carry a StreamID; connection events report StreamID() == 0,
// which is never a valid stream id in any of the three versions.
type Event interface {
	// StreamID returns the owning stream id, or 0 for a connection-scoped
	// event.
	StreamID() uint64
	isEvent()
}

type streamEvent struct{ ID uint64 }

func (s streamEvent) StreamID() uint64 { return s.ID }
func (streamEvent) isEvent()           {}

type connEvent struct{}

func (connEvent) StreamID() uint64 { return 0 }
func (connEvent) isEvent()         {}

// HeadersReceived reports a complete (or continuing, if EndStream is false
// and more DataReceived will follow) set of headers for a stream.
type HeadersReceived struct {
	streamEvent
	Headers   HeaderList
	EndStream bool
}

// NewHeadersReceived constructs a HeadersReceived event.
func NewHeadersReceived(streamID uint64, headers HeaderList, endStream bool) HeadersReceived {
	return HeadersReceived{streamEvent{streamID}, headers, endStream}
}

// DataReceived reports a chunk of body bytes for a stream.
type DataReceived struct {
	streamEvent
	Data      []byte
	EndStream bool
}

// NewDataReceived constructs a DataReceived event.
func NewDataReceived(streamID uint64, data []byte, endStream bool) DataReceived {
	return DataReceived{streamEvent{streamID}, data, endStream}
}

// StreamResetReceived reports that the peer reset a stream.
type StreamResetReceived struct {
	streamEvent
	ErrorCode uint64
}

// NewStreamResetReceived constructs a StreamResetReceived event.
func NewStreamResetReceived(streamID uint64, errorCode uint64) StreamResetReceived {
	return StreamResetReceived{streamEvent{streamID}, errorCode}
}

// StreamResetSent reports that the local side reset a stream (via
// Protocol.SubmitStreamReset), pushed into the event queue so dispatchers
// that drive everything off NextEvent learn about locally-initiated resets
// too — a detail HTTP/1 has no use for but HTTP/2 and HTTP/3 rely on to
// clean up per-stream state (spec.md §4.2).
type StreamResetSent struct {
	streamEvent
	ErrorCode uint64
}

// NewStreamResetSent constructs a StreamResetSent event.
func NewStreamResetSent(streamID uint64, errorCode uint64) StreamResetSent {
	return StreamResetSent{streamEvent{streamID}, errorCode}
}

// GoawayReceived reports a peer GOAWAY (HTTP/2) or equivalent
// connection-level shutdown notice. LastStreamID is the highest stream id
// the peer guarantees to still process.
type GoawayReceived struct {
	connEvent
	LastStreamID uint64
	ErrorCode    uint64
}

// NewGoawayReceived constructs a GoawayReceived event.
func NewGoawayReceived(lastStreamID uint64, errorCode uint64) GoawayReceived {
	return GoawayReceived{connEvent{}, lastStreamID, errorCode}
}

// ConnectionTerminated reports the end of the connection, locally or
// remotely initiated. Message is a free-form diagnostic string and is
// excluded from equality (spec.md §4.4).
type ConnectionTerminated struct {
	connEvent
	ErrorCode uint64
	Message   string
}

// NewConnectionTerminated constructs a ConnectionTerminated event.
func NewConnectionTerminated(errorCode uint64, message string) ConnectionTerminated {
	return ConnectionTerminated{connEvent{}, errorCode, message}
}

// Equal compares two ConnectionTerminated events ignoring Message.
func (c ConnectionTerminated) Equal(o ConnectionTerminated) bool {
	return c.ErrorCode == o.ErrorCode
}
