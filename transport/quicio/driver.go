package quicio

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/akamai/hface/proto"
)

// Driver couples a proto.DatagramProtocol to a DatagramStream (spec.md
// §4.6, component C6): either a client's dedicated udpStream or a server's
// demux-routed ConnStream.
type Driver struct {
	stream DatagramStream
	proto  proto.DatagramProtocol
	log    *logrus.Entry

	sendMu sync.Mutex
}

// New constructs a driver around an already-open DatagramStream.
func New(stream DatagramStream, p proto.DatagramProtocol, log *logrus.Entry) *Driver {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Driver{stream: stream, proto: p, log: log}
}

// Open is a no-op at the HTTP/3 layer (spec.md §3): the QUIC connection is
// constructed lazily on first submit or first received datagram
// (proto3's deferred initialization).
func (d *Driver) Open() error { return nil }

// Receive implements spec.md §4.6's "receive()": tick the clock, compute
// the read deadline from the protocol's current timer, read one datagram
// (or time out), and feed whatever happened back to the protocol inside
// the send-critical section — a timeout still re-enters that section with
// no new input, since the protocol's own timer handling may produce
// retransmissions.
func (d *Driver) Receive() error {
	now := time.Now()
	d.proto.Clock(now)

	deadline := d.proto.Timer()

	datagram, err := d.stream.ReadDatagram(deadline)

	d.sendMu.Lock()
	defer d.sendMu.Unlock()

	d.proto.Clock(time.Now())

	switch {
	case errors.Is(err, ErrTimeout):
		// No new input; the protocol's timer handling (if now >= timer)
		// already ran via Clock above and may have queued retransmissions.
	case err != nil:
		// UDP has no clean half-close analogous to TCP's EOF: any other
		// read failure (closed socket, broken transport) maps to
		// ConnectionLost (spec.md §4.6).
		d.proto.ConnectionLost()
	default:
		if perr := d.proto.DatagramReceived(datagram); perr != nil {
			d.flushLocked()
			return perr
		}
	}

	d.flushLocked()

	if err != nil && !errors.Is(err, ErrTimeout) {
		return err
	}
	return nil
}

// Do enters the send-critical section, calls Clock before and after submit
// runs (spec.md §4.6's send_context ticks the clock on both sides of the
// critical section), flushes every pending datagram, and then — if the
// underlying stream is connection-id-aware — updates its subscribed ids to
// match the protocol's current set.
func (d *Driver) Do(submit func() error) error {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()

	d.proto.Clock(time.Now())
	err := submit()
	d.proto.Clock(time.Now())

	d.flushLocked()

	if updater, ok := d.stream.(ConnectionIDUpdater); ok {
		updater.UpdateConnectionIDs(d.proto.ConnectionIDs())
	}

	return err
}

// Flush drains and writes every pending datagram, inside the send-critical
// section.
func (d *Driver) Flush() error {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()
	return d.flushLocked()
}

func (d *Driver) flushLocked() error {
	for _, dg := range d.proto.DatagramsToSend() {
		if err := d.stream.WriteDatagram(dg); err != nil {
			d.log.WithError(err).Debug("quicio: write failed")
			return err
		}
	}
	return nil
}

// Close releases the datagram stream (the dedicated socket for a client,
// or the route entry for a demuxed server stream).
func (d *Driver) Close() error {
	return d.stream.Close()
}

// LocalAddr and RemoteAddr let the connection facade capture addresses at
// construction time (spec.md §4.8).
func (d *Driver) LocalAddr() net.Addr  { return d.stream.LocalAddr() }
func (d *Driver) RemoteAddr() net.Addr { return d.stream.RemoteAddr() }

// Protocol exposes the underlying sans-I/O state machine to the connection
// facade.
func (d *Driver) Protocol() proto.DatagramProtocol { return d.proto }
