package quicio

import (
	"encoding/binary"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/akamai/hface/proto3"
)

// Demux is a single shared UDP socket routing inbound datagrams to
// per-connection queues by QUIC destination connection id (spec.md §4.7,
// component C7). It owns the routing table and the socket write lock every
// spawned ConnStream reuses to reply.
type Demux struct {
	conn net.PacketConn
	log  *logrus.Entry

	handler func(*ConnStream)

	writeMu sync.Mutex // shared socket write serialization

	mu     sync.Mutex
	routes map[string]*ConnStream

	dropped uint64 // datagrams dropped: unparseable, or no route and not a QUIC v1 Initial
}

// NewDemux wraps an already-bound UDP socket. handler is spawned in its own
// goroutine for every newly observed connection id; it is expected to drive
// a proto3.Protocol + Driver pair to completion and call ConnStream.Close
// when done.
func NewDemux(conn net.PacketConn, handler func(*ConnStream), log *logrus.Entry) *Demux {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Demux{
		conn:    conn,
		log:     log,
		handler: handler,
		routes:  make(map[string]*ConnStream),
	}
}

// Serve runs the accept loop until the socket is closed. It never returns
// nil; callers typically run it in its own goroutine and treat
// net.ErrClosed as a clean shutdown.
func (d *Demux) Serve() error {
	buf := make([]byte, 64*1024)
	for {
		n, addr, err := d.conn.ReadFrom(buf)
		if err != nil {
			return err
		}
		datagram := append([]byte(nil), buf[:n]...)
		d.dispatch(datagram, addr)
	}
}

func (d *Demux) dispatch(datagram []byte, addr net.Addr) {
	destID, isInitial, ok := proto3.SniffDestConnID(datagram)
	if !ok {
		d.mu.Lock()
		d.dropped++
		d.mu.Unlock()
		d.log.Debug("quicio: dropped unparseable datagram")
		return
	}
	key := string(destID)

	d.mu.Lock()
	stream, found := d.routes[key]
	d.mu.Unlock()

	if found {
		stream.push(datagram)
		return
	}

	if !isInitial || binary.BigEndian.Uint32(datagram[1:5]) != 1 {
		// Unknown connection id and not a (long enough) QUIC v1 Initial
		// packet: spec.md §4.7 drops it, unknown versions included. Version
		// negotiation is an explicit open question (spec.md §9) and stays
		// unimplemented here too.
		d.mu.Lock()
		d.dropped++
		d.mu.Unlock()
		d.log.WithField("dest_conn_id", key).Debug("quicio: dropped datagram for unknown connection id")
		return
	}

	stream := newConnStream(d, addr)
	stream.ids[key] = true
	d.mu.Lock()
	d.routes[key] = stream
	d.mu.Unlock()
	stream.push(datagram)

	go d.handler(stream)
}

func (d *Demux) writeTo(data []byte, addr net.Addr) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	_, err := d.conn.WriteTo(data, addr)
	return err
}

func (d *Demux) addRoutes(s *ConnStream, ids []string) {
	if len(ids) == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range ids {
		d.routes[id] = s
	}
}

// removeRoutes deletes a route only if it still points at s: a retirement
// racing with a fresh connection reusing the same id (astronomically
// unlikely, but spec.md §4.7 calls this out explicitly) must never evict
// someone else's route.
func (d *Demux) removeRoutes(s *ConnStream, ids []string) {
	if len(ids) == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range ids {
		if d.routes[id] == s {
			delete(d.routes, id)
		}
	}
}

// DroppedCount reports how many datagrams were dropped, for diagnostics:
// unparseable ones, and those for an unknown connection id that are not a
// QUIC v1 Initial packet.
func (d *Demux) DroppedCount() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// Close closes the shared socket, ending Serve's accept loop.
func (d *Demux) Close() error {
	return d.conn.Close()
}
