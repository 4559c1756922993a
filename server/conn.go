package server

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/akamai/hface/conn"
	"github.com/akamai/hface/event"
)

// ConnectionController is the per-connection dispatcher (spec.md §4.10):
// it consumes events from a conn.Conn in order, creates a StreamController
// the first time a stream id's HeadersReceived arrives (stream ids are
// never reused, so a later event for a retired id is simply dropped), and
// routes every other stream-scoped event by id. Non-stream events
// broadcast to every live StreamController.
type ConnectionController struct {
	conn       *conn.Conn
	app        App
	errorCodes event.ErrorCodes
	log        *logrus.Entry

	mu         sync.Mutex
	streams    map[uint64]*StreamController
	terminated bool
}

// NewConnectionController wires a fresh dispatcher around an already-open
// conn.Conn.
func NewConnectionController(c *conn.Conn, app App, log *logrus.Entry) *ConnectionController {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &ConnectionController{
		conn:       c,
		app:        app,
		errorCodes: c.ErrorCodes(),
		log:        log,
		streams:    make(map[uint64]*StreamController),
	}
}

// Run drives the connection until it terminates or ctx is cancelled. It
// blocks the calling goroutine; callers spawn one per accepted connection.
func (cc *ConnectionController) Run(ctx context.Context) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			cc.conn.Close()
		case <-done:
		}
	}()
	for {
		ev, err := cc.conn.ReceiveEvent()
		if err != nil {
			cc.log.WithError(err).Debug("server: connection receive failed")
			cc.terminateAll(err)
			return
		}
		cc.dispatch(ctx, ev)
		if _, ok := ev.(event.ConnectionTerminated); ok {
			cc.mu.Lock()
			cc.terminated = true
			cc.mu.Unlock()
			return
		}
	}
}

func (cc *ConnectionController) dispatch(ctx context.Context, ev event.Event) {
	sid := ev.StreamID()
	if sid == 0 {
		for _, sc := range cc.snapshot() {
			sc.HandleEvent(ctx, ev)
		}
		return
	}

	cc.mu.Lock()
	sc, ok := cc.streams[sid]
	if !ok {
		h, isHeaders := ev.(event.HeadersReceived)
		if !isHeaders {
			// Event for an id with no controller: controllers are kept
			// for the connection's lifetime, so this means its headers
			// never arrived (should never happen per spec.md §5's
			// ordering guarantee). There is nothing to route to.
			cc.mu.Unlock()
			return
		}
		sc = newStreamController(cc.conn, sid, cc.app, cc.errorCodes, cc.log)
		cc.streams[sid] = sc
		cc.mu.Unlock()
		sc.HandleEvent(ctx, h)
		return
	}
	cc.mu.Unlock()
	sc.HandleEvent(ctx, ev)
}

func (cc *ConnectionController) snapshot() []*StreamController {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	out := make([]*StreamController, 0, len(cc.streams))
	for _, sc := range cc.streams {
		out = append(out, sc)
	}
	return out
}

func (cc *ConnectionController) terminateAll(err error) {
	term := event.NewConnectionTerminated(0, err.Error())
	ctx := context.Background()
	for _, sc := range cc.snapshot() {
		sc.HandleEvent(ctx, term)
	}
	cc.mu.Lock()
	cc.terminated = true
	cc.mu.Unlock()
}
