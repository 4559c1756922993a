package proto

import "fmt"

// StreamError is a protocol violation scoped to a single stream: on a
// multiplexed protocol it is recoverable (the stream resets, the
// connection lives on); on HTTP/1, which has no independent streams, it
// degenerates to a ConnectionError (spec.md §4.1, SubmitStreamReset).
//
// Grounded on the teacher's StreamError (baranov1ch-http2/server.go,
// processData/processHeaders/newWriterAndRequest), which the serve loop's
// switch on processFrame's return value turns into a RST_STREAM write.
type StreamError struct {
	StreamID  uint64
	ErrorCode uint64
}

func (e StreamError) Error() string {
	return fmt.Sprintf("stream %d: protocol error %#x", e.StreamID, e.ErrorCode)
}

// ConnectionError is a protocol violation fatal to the whole connection.
// Grounded on the teacher's ConnectionError, which the serve loop's switch
// treats as "log and return" (i.e. drop the connection).
type ConnectionError struct {
	ErrorCode uint64
	Message   string
}

func (e ConnectionError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("connection error %#x: %s", e.ErrorCode, e.Message)
	}
	return fmt.Sprintf("connection error %#x", e.ErrorCode)
}

// LocalError reports API misuse by the caller: wrong stream id, submit
// after close, GetAvailableStreamID from the server role, and similar
// caller mistakes the spec's §7 item 2 calls "local-protocol violation" —
// these fail synchronously and never by themselves terminate the
// connection.
type LocalError struct {
	Op      string
	Message string
}

func (e LocalError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}
