package server

import (
	"context"
	"fmt"
	"io"
	"runtime/debug"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/akamai/hface/conn"
	"github.com/akamai/hface/event"
)

// streamReceiveBuffer mirrors client.streamReceiveBuffer: a bounded,
// finite stand-in for the reference design's unbounded per-stream queue
// (spec.md §9, DESIGN.md Open Question 3).
const streamReceiveBuffer = 256

// scState is StreamController's lifecycle (spec.md §4.10): waiting for
// headers, application running, response complete. A response in progress
// (headers buffered until the first body write) has no value of its own: it
// is scAppRunning, tracked by pendingSet/headersSent.
type scState int

const (
	scWaitingHeaders scState = iota
	scAppRunning
	scResponseComplete
)

// StreamController is the per-inbound-stream state spec.md §4.10
// describes. One is created the moment a new stream id's HeadersReceived
// arrives; it owns the application task for that stream from then on.
type StreamController struct {
	conn       *conn.Conn
	id         uint64
	app        App
	errorCodes event.ErrorCodes
	log        *logrus.Entry

	cancel context.CancelFunc

	mu         sync.Mutex
	state      scState
	body       chan []byte
	bodyClosed bool
	bodyErr    error

	pendingSet     bool
	pendingStatus  int
	pendingHeaders event.HeaderList
	headersSent    bool
}

func newStreamController(c *conn.Conn, id uint64, app App, errorCodes event.ErrorCodes, log *logrus.Entry) *StreamController {
	return &StreamController{
		conn:       c,
		id:         id,
		app:        app,
		errorCodes: errorCodes,
		log:        log.WithField("stream_id", id),
		body:       make(chan []byte, streamReceiveBuffer),
	}
}

// HandleEvent feeds one inbound event for this stream to the controller
// (spec.md §4.10's four states).
func (sc *StreamController) HandleEvent(ctx context.Context, ev event.Event) {
	switch e := ev.(type) {
	case event.HeadersReceived:
		sc.onHeaders(ctx, e)
	case event.DataReceived:
		sc.onData(e)
	case event.StreamResetReceived:
		sc.onDisconnect(fmt.Errorf("server: stream %d reset by peer: error %#x", sc.id, e.ErrorCode))
	case event.ConnectionTerminated:
		sc.onDisconnect(fmt.Errorf("server: connection terminated: error %#x", e.ErrorCode))
	}
}

func (sc *StreamController) onHeaders(ctx context.Context, e event.HeadersReceived) {
	sc.mu.Lock()
	if sc.state != scWaitingHeaders {
		sc.mu.Unlock()
		return
	}
	sc.state = scAppRunning
	sc.mu.Unlock()

	method, _ := e.Headers.Pseudo("method")
	scheme, _ := e.Headers.Pseudo("scheme")
	authority, _ := e.Headers.Pseudo("authority")
	path, _ := e.Headers.Pseudo("path")

	if e.EndStream {
		sc.closeBody(nil)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	sc.mu.Lock()
	sc.cancel = cancel
	sc.mu.Unlock()

	req := &Request{
		Method:    method,
		Scheme:    scheme,
		Authority: authority,
		Path:      path,
		Headers:   e.Headers,
		Body:      &bodyReader{sc: sc, ctx: streamCtx},
		Cancel:    cancel,
	}

	go sc.runApp(streamCtx, req)
}

func (sc *StreamController) onData(e event.DataReceived) {
	sc.mu.Lock()
	running := sc.state == scAppRunning
	complete := sc.state == scResponseComplete
	sc.mu.Unlock()

	if complete {
		sc.log.Warn("server: dropping body chunk for a stream whose response is already complete")
		return
	}
	if !running {
		return
	}
	if len(e.Data) > 0 {
		sc.body <- e.Data
	}
	if e.EndStream {
		sc.closeBody(nil)
	}
}

func (sc *StreamController) onDisconnect(err error) {
	sc.mu.Lock()
	cancel := sc.cancel
	sc.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	sc.closeBody(err)
}

func (sc *StreamController) closeBody(err error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.bodyClosed {
		return
	}
	sc.bodyClosed = true
	sc.bodyErr = err
	close(sc.body)
}

func (sc *StreamController) runApp(ctx context.Context, req *Request) {
	defer func() {
		if r := recover(); r != nil {
			sc.recoverPanic(r)
		}
	}()
	w := &responseWriter{sc: sc}
	sc.app(ctx, req, w)
	w.Close()
}

// recoverPanic implements spec.md §4.10's application-error handling: a 500
// with a plain-text traceback if nothing was sent yet, a stream reset with
// internal_error if the response was already in flight.
func (sc *StreamController) recoverPanic(r interface{}) {
	sc.mu.Lock()
	headersSent := sc.headersSent
	sc.mu.Unlock()

	if headersSent {
		sc.sendReset(sc.errorCodes.InternalError)
		return
	}

	body := fmt.Sprintf("500 Internal Server Error\n\n%v\n\n%s", r, debug.Stack())
	headers := event.HeaderList{
		{Name: ":status", Value: "500"},
		{Name: "content-type", Value: "text/plain; charset=utf-8"},
		{Name: "content-length", Value: strconv.Itoa(len(body))},
	}
	if err := sc.conn.SendHeaders(sc.id, headers, false); err != nil {
		return
	}
	sc.conn.SendData(sc.id, []byte(body), true)

	sc.mu.Lock()
	sc.headersSent = true
	sc.state = scResponseComplete
	sc.mu.Unlock()
}

func (sc *StreamController) sendReset(errorCode uint64) error {
	sc.mu.Lock()
	if sc.state == scResponseComplete {
		sc.mu.Unlock()
		return nil
	}
	sc.state = scResponseComplete
	sc.mu.Unlock()
	return sc.conn.SendStreamReset(sc.id, errorCode)
}

// bodyReader adapts StreamController's body channel to io.Reader for
// Request.Body.
type bodyReader struct {
	sc  *StreamController
	ctx context.Context
	buf []byte
	err error
}

func (r *bodyReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		select {
		case data, ok := <-r.sc.body:
			if !ok {
				r.sc.mu.Lock()
				berr := r.sc.bodyErr
				r.sc.mu.Unlock()
				if berr != nil {
					r.err = berr
				} else {
					r.err = io.EOF
				}
				return 0, r.err
			}
			r.buf = data
		case <-r.ctx.Done():
			r.err = r.ctx.Err()
			return 0, r.err
		}
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}
