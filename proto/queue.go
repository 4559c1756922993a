package proto

import "github.com/akamai/hface/event"

// EventQueue is the ordered, drain-once-read event buffer shared by all
// three protocol implementations. It exists so proto1/proto2/proto3 do not
// each reinvent the same append/pop-front bookkeeping.
type EventQueue struct {
	items []event.Event
}

// Push appends an event to the back of the queue.
func (q *EventQueue) Push(e event.Event) {
	q.items = append(q.items, e)
}

// Pop removes and returns the front of the queue.
func (q *EventQueue) Pop() (event.Event, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	e := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return e, true
}

// Len reports the number of pending events.
func (q *EventQueue) Len() int { return len(q.items) }

// Peek exposes the queue's backing slice so a protocol can patch a
// just-pushed event in place (proto1's end-of-message emulation, spec.md
// §4.1). Valid only until the next Pop, which may reslice the backing
// array and invalidate any index taken before it.
func (q *EventQueue) Peek() []event.Event { return q.items }

// ByteBuffer is the outbound byte buffer shared by proto1 and proto2: bytes
// are appended by SubmitXxx calls and frame processing, and drained once by
// BytesToSend, matching the "drained on each call" invariant of spec.md §3.
type ByteBuffer struct {
	buf []byte
}

// Write appends p to the buffer.
func (b *ByteBuffer) Write(p []byte) {
	b.buf = append(b.buf, p...)
}

// Drain returns and clears the buffer's contents.
func (b *ByteBuffer) Drain() []byte {
	if len(b.buf) == 0 {
		return nil
	}
	out := b.buf
	b.buf = nil
	return out
}

// DatagramBuffer is DatagramProtocol's equivalent of ByteBuffer: a queue of
// whole datagrams rather than a contiguous byte run, since QUIC framing is
// datagram-scoped.
type DatagramBuffer struct {
	datagrams [][]byte
}

// Write appends one datagram.
func (d *DatagramBuffer) Write(p []byte) {
	d.datagrams = append(d.datagrams, p)
}

// Drain returns and clears all pending datagrams.
func (d *DatagramBuffer) Drain() [][]byte {
	if len(d.datagrams) == 0 {
		return nil
	}
	out := d.datagrams
	d.datagrams = nil
	return out
}
