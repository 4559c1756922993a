package proto2

// streamState is the minimal subset of RFC 9113 §5.1's state machine this
// engine tracks: enough to reject frames on the wrong stream and to know
// when both directions have closed. Grounded on the teacher's streamState
// (baranov1ch-http2/server.go).
type streamState int

const (
	stateIdle streamState = iota
	stateOpen
	stateHalfClosedLocal
	stateHalfClosedRemote
	stateClosed
)

type stream struct {
	id          uint32
	state       streamState
	recvHeaders bool // a HEADERS frame has been seen (vs. only CONTINUATION)
}

func (s *stream) closeLocal() {
	switch s.state {
	case stateOpen:
		s.state = stateHalfClosedLocal
	case stateHalfClosedRemote:
		s.state = stateClosed
	}
}

func (s *stream) closeRemote() {
	switch s.state {
	case stateOpen:
		s.state = stateHalfClosedRemote
	case stateHalfClosedLocal:
		s.state = stateClosed
	}
}
