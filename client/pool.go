package client

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/akamai/hface/conn"
	"github.com/akamai/hface/event"
)

// Opener dials and opens a fresh connection for origin. Injected so the
// pool stays transport-agnostic: a real opener picks TCP+ALPN or QUIC based
// on origin.Scheme and caller configuration (cmd/hface wires one up).
type Opener func(ctx context.Context, origin Origin) (*conn.Conn, error)

// connContext is the pool's per-connection bookkeeping (spec.md §3, Pool):
// one Conn plus its stream-id → Stream map.
type connContext struct {
	conn *conn.Conn

	mu      sync.Mutex
	streams map[uint64]*Stream
}

func newConnContext(c *conn.Conn) *connContext {
	return &connContext{conn: c, streams: make(map[uint64]*Stream)}
}

func (cc *connContext) addStream(s *Stream) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.streams[s.id] = s
}

func (cc *connContext) snapshot() []*Stream {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	out := make([]*Stream, 0, len(cc.streams))
	for _, s := range cc.streams {
		out = append(out, s)
	}
	return out
}

func (cc *connContext) byID(id uint64) *Stream {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.streams[id]
}

func (cc *connContext) dispatch(ev event.Event) {
	if ev.StreamID() == 0 {
		for _, s := range cc.snapshot() {
			s.handleEvent(ev)
		}
		return
	}
	if s := cc.byID(ev.StreamID()); s != nil {
		s.handleEvent(ev)
	}
}

// Pool is the per-origin connection/stream pool (spec.md §4.9, component
// C9). L (spec.md's mutual-exclusion primitive) is mu below.
type Pool struct {
	opener Opener
	log    *logrus.Entry

	mu       sync.Mutex // L
	contexts map[Origin][]*connContext
}

// New constructs a pool that dials fresh connections via opener.
func New(opener Opener, log *logrus.Entry) *Pool {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Pool{opener: opener, log: log, contexts: make(map[Origin][]*connContext)}
}

// OpenStream implements spec.md §4.9's open_stream: acquire L; pick any
// context whose connection IsAvailable, else dial and register a new one;
// allocate a stream id and register the Stream; send the headers; release
// L; return the stream. For a multiplexed connection, concurrent callers
// that arrive while a usable connection exists reuse it rather than racing
// to open a second one, because the whole pick-or-open-and-allocate
// sequence runs under L.
func (p *Pool) OpenStream(ctx context.Context, origin Origin, headers event.HeaderList, endStream bool) (*Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cc, err := p.pickOrOpenLocked(ctx, origin)
	if err != nil {
		return nil, err
	}

	streamID, err := cc.conn.GetAvailableStreamID()
	if err != nil {
		return nil, err
	}

	st := newStream(cc.conn, streamID)
	cc.addStream(st)

	if err := cc.conn.SendHeaders(streamID, headers, endStream); err != nil {
		return nil, err
	}
	if endStream {
		st.mu.Lock()
		st.endStreamSent = true
		st.mu.Unlock()
	}
	return st, nil
}

func (p *Pool) pickOrOpenLocked(ctx context.Context, origin Origin) (*connContext, error) {
	for _, cc := range p.contexts[origin] {
		if cc.conn.IsAvailable() {
			return cc, nil
		}
	}

	c, err := p.opener(ctx, origin)
	if err != nil {
		return nil, err
	}
	if err := c.Open(); err != nil {
		c.Close()
		return nil, err
	}

	cc := newConnContext(c)
	p.contexts[origin] = append(p.contexts[origin], cc)
	go p.runConnection(origin, cc)
	return cc, nil
}

// runConnection is the per-connection background task (spec.md §4.9):
// repeatedly receive events and dispatch them; on ConnectionTerminated (or
// any terminal receive error) fail every live stream and drop the context
// from the pool.
func (p *Pool) runConnection(origin Origin, cc *connContext) {
	for {
		ev, err := cc.conn.ReceiveEvent()
		if err != nil {
			p.terminate(origin, cc, err)
			return
		}
		cc.dispatch(ev)
		if _, ok := ev.(event.ConnectionTerminated); ok {
			p.removeContext(origin, cc)
			return
		}
	}
}

func (p *Pool) terminate(origin Origin, cc *connContext, err error) {
	term := event.NewConnectionTerminated(0, err.Error())
	for _, s := range cc.snapshot() {
		s.handleEvent(term)
	}
	p.removeContext(origin, cc)
}

func (p *Pool) removeContext(origin Origin, cc *connContext) {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := p.contexts[origin]
	for i, c := range list {
		if c == cc {
			p.contexts[origin] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(p.contexts[origin]) == 0 {
		delete(p.contexts, origin)
	}
	p.log.WithField("origin", origin.String()).Debug("client: connection removed from pool")
}
