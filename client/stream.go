package client

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/akamai/hface/conn"
	"github.com/akamai/hface/event"
)

// streamReceiveBuffer bounds the per-stream inbound body queue. spec.md §9
// flags the reference design's unbounded buffer as an open question a
// production implementation should close; DESIGN.md records the chosen
// bound.
const streamReceiveBuffer = 256

type headersResult struct {
	headers event.HeaderList
	err     error
}

// Stream is the pool's per-stream state (spec.md §4.9 "Per-stream state"):
// the owning connection, the stream id, a one-shot headers waiter, a
// bounded body queue, and the send/terminated flags.
type Stream struct {
	conn *conn.Conn
	id   uint64

	headersCh chan headersResult
	body      chan []byte

	mu            sync.Mutex
	gotHeaders    bool
	cachedHeaders headersResult
	bodyClosed    bool
	bodyErr       error
	terminated    bool
	endStreamSent bool
}

func newStream(c *conn.Conn, id uint64) *Stream {
	return &Stream{
		conn:      c,
		id:        id,
		headersCh: make(chan headersResult, 1),
		body:      make(chan []byte, streamReceiveBuffer),
	}
}

// ID returns the stream id this Stream was allocated on.
func (s *Stream) ID() uint64 { return s.id }

// handleEvent implements spec.md §4.9's event split: HeadersReceived
// fulfills the headers waiter; DataReceived pushes to the body queue
// (blocking — this is the backpressure point spec.md §5 calls out, since
// the connection's dispatch loop is the one calling handleEvent);
// end-of-stream closes the body queue; StreamReset/ConnectionTerminated
// mark the stream terminated, fulfill the headers waiter with a
// broken-resource error, and close the body queue.
func (s *Stream) handleEvent(ev event.Event) {
	switch e := ev.(type) {
	case event.HeadersReceived:
		s.deliverHeaders(e.Headers, nil)
		if e.EndStream {
			s.closeBody(nil)
		}
	case event.DataReceived:
		if len(e.Data) > 0 {
			s.body <- e.Data
		}
		if e.EndStream {
			s.closeBody(nil)
		}
	case event.StreamResetReceived:
		s.fail(fmt.Errorf("client: stream %d reset by peer: error %#x", s.id, e.ErrorCode))
	case event.StreamResetSent:
		s.fail(fmt.Errorf("client: stream %d reset locally: error %#x", s.id, e.ErrorCode))
	case event.ConnectionTerminated:
		s.fail(fmt.Errorf("client: connection terminated: error %#x", e.ErrorCode))
	}
}

func (s *Stream) deliverHeaders(headers event.HeaderList, err error) {
	select {
	case s.headersCh <- headersResult{headers, err}:
	default:
		// Already delivered (or the waiter gave up) — nothing more to do.
	}
}

func (s *Stream) closeBody(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bodyClosed {
		return
	}
	s.bodyClosed = true
	s.bodyErr = err
	close(s.body)
}

// fail marks the stream a broken resource: future Headers/ReceiveData calls
// observe err instead of blocking forever (spec.md §4.9).
func (s *Stream) fail(err error) {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return
	}
	s.terminated = true
	s.mu.Unlock()

	s.deliverHeaders(nil, err)
	s.closeBody(err)
}

// Headers blocks until the response headers arrive, ctx is done, or the
// stream is marked broken. Safe to call more than once; later calls return
// the cached result.
func (s *Stream) Headers(ctx context.Context) (event.HeaderList, error) {
	s.mu.Lock()
	if s.gotHeaders {
		r := s.cachedHeaders
		s.mu.Unlock()
		return r.headers, r.err
	}
	s.mu.Unlock()

	select {
	case r := <-s.headersCh:
		s.mu.Lock()
		s.gotHeaders = true
		s.cachedHeaders = r
		s.mu.Unlock()
		return r.headers, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ReceiveData blocks for the next body chunk. ok is false once the body is
// complete (err is nil on a clean end, non-nil on a broken-resource end).
func (s *Stream) ReceiveData(ctx context.Context) (data []byte, ok bool, err error) {
	select {
	case data, ok = <-s.body:
		if ok {
			return data, true, nil
		}
		s.mu.Lock()
		berr := s.bodyErr
		s.mu.Unlock()
		return nil, false, berr
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// SendData submits a body chunk for this stream.
func (s *Stream) SendData(data []byte, endStream bool) error {
	if err := s.conn.SendData(s.id, data, endStream); err != nil {
		return err
	}
	if endStream {
		s.mu.Lock()
		s.endStreamSent = true
		s.mu.Unlock()
	}
	return nil
}

// Reset locally aborts the stream.
func (s *Stream) Reset(errorCode uint64) error {
	return s.conn.SendStreamReset(s.id, errorCode)
}

// BodyReader adapts ReceiveData to an io.Reader for callers that want a
// plain streaming body (the client.Response boundary type).
func (s *Stream) BodyReader(ctx context.Context) io.Reader {
	return &bodyReader{stream: s, ctx: ctx}
}

type bodyReader struct {
	stream *Stream
	ctx    context.Context
	buf    []byte
	err    error
}

func (r *bodyReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		data, ok, err := r.stream.ReceiveData(r.ctx)
		if err != nil {
			r.err = err
			return 0, err
		}
		if !ok {
			r.err = io.EOF
			return 0, io.EOF
		}
		r.buf = data
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}
