// Package conn implements the connection facade (spec.md §4.8, component
// C8): a uniform API over any driver (transport/tcpio or transport/quicio)
// so the client pool and server dispatcher never need to know which wire
// version or transport a given connection speaks.
package conn

import (
	"net"
	"sync"

	"github.com/akamai/hface/event"
	"github.com/akamai/hface/proto"
)

// driver is the seam both transport/tcpio.Driver and transport/quicio.Driver
// satisfy: Open/Receive/Do/Close plus address accessors. Conn is generic
// over it so the rest of the codebase deals in conn.Conn regardless of
// transport.
type driver interface {
	Open() error
	Receive() error
	Do(submit func() error) error
	Close() error
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

// Conn is the connection facade: one Protocol state machine plus the
// driver binding it to a socket. Attributes captured at construction time
// (addresses, version, multiplexed-ness, error-code table) remain valid
// even after the connection closes, so callers can log a dead connection
// without re-reading it (spec.md §4.8).
type Conn struct {
	d driver
	p proto.Protocol

	remoteAddr  net.Addr
	localAddr   net.Addr
	version     proto.Version
	multiplexed bool
	errorCodes  event.ErrorCodes

	mu     sync.Mutex
	opened bool
	closed bool
}

// New wraps a driver and the Protocol it drives into a facade.
func New(d driver, p proto.Protocol) *Conn {
	return &Conn{
		d:           d,
		p:           p,
		remoteAddr:  d.RemoteAddr(),
		localAddr:   d.LocalAddr(),
		version:     p.Version(),
		multiplexed: p.Multiplexed(),
		errorCodes:  p.ErrorCodes(),
	}
}

func (c *Conn) Version() proto.Version      { return c.version }
func (c *Conn) Multiplexed() bool           { return c.multiplexed }
func (c *Conn) ErrorCodes() event.ErrorCodes { return c.errorCodes }
func (c *Conn) RemoteAddr() net.Addr        { return c.remoteAddr }
func (c *Conn) LocalAddr() net.Addr         { return c.localAddr }

// IsAvailable reports whether the connection can still accept a new stream.
func (c *Conn) IsAvailable() bool { return c.p.IsAvailable() }

// HasExpired reports whether the connection has fully terminated.
func (c *Conn) HasExpired() bool { return c.p.HasExpired() }

// Open sends the protocol's connection preface, if any. Idempotent
// (spec.md §8 law): a second call is a no-op.
func (c *Conn) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.opened {
		return nil
	}
	c.opened = true
	return c.d.Open()
}

// Close submits a graceful close and releases the socket. Idempotent
// (spec.md §8 law).
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.d.Do(func() error { return c.p.SubmitClose(0) })
	return c.d.Close()
}

// GetAvailableStreamID returns the id a subsequent SendHeaders call would
// use to open a new client-initiated stream. Read inside the driver's
// send-critical section since Protocol state is never touched outside it
// (spec.md §5).
func (c *Conn) GetAvailableStreamID() (uint64, error) {
	var id uint64
	err := c.d.Do(func() error {
		var serr error
		id, serr = c.p.GetAvailableStreamID()
		return serr
	})
	return id, err
}

// SendHeaders submits outbound headers for streamID and flushes them.
func (c *Conn) SendHeaders(streamID uint64, headers event.HeaderList, endStream bool) error {
	return c.d.Do(func() error { return c.p.SubmitHeaders(streamID, headers, endStream) })
}

// SendData submits outbound body bytes for streamID and flushes them.
func (c *Conn) SendData(streamID uint64, data []byte, endStream bool) error {
	return c.d.Do(func() error { return c.p.SubmitData(streamID, data, endStream) })
}

// SendStreamReset locally aborts streamID and flushes the reset frame.
func (c *Conn) SendStreamReset(streamID uint64, errorCode uint64) error {
	return c.d.Do(func() error { return c.p.SubmitStreamReset(streamID, errorCode) })
}

// nextEvent pops the oldest pending event inside the send-critical section,
// so it never races the background Receive call's protocol mutations.
func (c *Conn) nextEvent() (event.Event, bool) {
	var e event.Event
	var ok bool
	c.d.Do(func() error {
		e, ok = c.p.NextEvent()
		return nil
	})
	return e, ok
}

// ReceiveEvent implements spec.md §4.8: repeatedly poll NextEvent; if none
// is pending, drive the receive path once and retry, until an event is
// returned or the driver reports a terminal read error. May block
// indefinitely (a suspension point per spec.md §5).
func (c *Conn) ReceiveEvent() (event.Event, error) {
	for {
		if e, ok := c.nextEvent(); ok {
			return e, nil
		}
		err := c.d.Receive()
		if e, ok := c.nextEvent(); ok {
			return e, nil
		}
		if err != nil {
			return nil, err
		}
	}
}
