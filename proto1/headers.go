package proto1

import (
	"strconv"
	"strings"

	"github.com/akamai/hface/event"
	"github.com/akamai/hface/proto"
)

// requiredRequestPseudos must all be present on an outbound client request
// (spec.md §4.1).
var requiredRequestPseudos = []string{"method", "scheme", "authority", "path"}

// SubmitHeaders queues an outbound HEADERS-equivalent. For a client this is
// a request line; for a server this is a status line.
func (p *Protocol) SubmitHeaders(streamID uint64, headers event.HeaderList, endStream bool) error {
	if p.terminated() {
		return proto.LocalError{Op: "SubmitHeaders", Message: "protocol has terminated"}
	}
	if p.role == proto.RoleClient {
		return p.submitRequest(streamID, headers, endStream)
	}
	return p.submitResponse(streamID, headers, endStream)
}

func (p *Protocol) submitRequest(streamID uint64, headers event.HeaderList, endStream bool) error {
	if p.phase != phaseIdle {
		return proto.LocalError{Op: "SubmitHeaders", Message: "a request is already in flight on this connection"}
	}
	method, _ := headers.Pseudo("method")
	scheme, _ := headers.Pseudo("scheme")
	authority, _ := headers.Pseudo("authority")
	path, _ := headers.Pseudo("path")
	if method == "" || scheme == "" || authority == "" || (path == "" && method != "CONNECT") {
		return proto.LocalError{Op: "SubmitHeaders", Message: "missing required pseudo-header"}
	}
	if p.currentStreamID == 0 {
		p.currentStreamID = 1
	}
	if streamID != p.currentStreamID {
		return proto.LocalError{Op: "SubmitHeaders", Message: "unexpected stream id"}
	}
	p.outstandingMethod = method
	p.phase = phaseActive
	p.recv = receiveOrSend{}
	p.resetParserForNewMessage()

	_, regular := headers.Split()

	target := path
	if method == "CONNECT" {
		target = authority
	}
	var b strings.Builder
	b.WriteString(method)
	b.WriteByte(' ')
	b.WriteString(target)
	b.WriteByte(' ')
	b.WriteString(httpVersion)
	b.WriteString("\r\n")

	hostValue, hasHost := regular.Get("Host")
	if hasHost && !strings.EqualFold(hostValue, authority) {
		p.terminate(p.ErrorCodes().ProtocolError, "Host header does not match :authority")
		return proto.ConnectionError{ErrorCode: p.ErrorCodes().ProtocolError, Message: "Host/:authority mismatch"}
	}
	if !hasHost {
		regular = append(event.HeaderList{{Name: "Host", Value: authority}}, regular...)
	}

	_, hasCL := regular.Get("Content-Length")
	_, hasTE := regular.Get("Transfer-Encoding")
	willChunk := false
	if !endStream && !hasCL && !hasTE {
		regular = append(regular, event.Header{Name: "Transfer-Encoding", Value: "chunked"})
		willChunk = true
	}

	p.writeHeaderLines(&b, regular)
	b.WriteString("\r\n")
	p.out.Write([]byte(b.String()))

	p.send = receiveOrSend{active: true, chunked: willChunk}
	if hasCL {
		if n, err := strconv.ParseInt(cl(regular), 10, 64); err == nil {
			p.send.haveLength = true
			p.send.length = n
		}
	}
	if endStream {
		p.send.done = true
		p.maybeCompleteCycle()
	}
	return nil
}

// writeHeaderLines serializes regular headers restoring canonical
// capitalization on the wire (spec.md §3, Header list), caching the
// lowercase->canonical mapping the way the teacher's serverConn.canonHeader
// does (server.go, canonicalHeader) albeit in the opposite direction.
func (p *Protocol) writeHeaderLines(b *strings.Builder, regular event.HeaderList) {
	for _, h := range regular {
		name := h.Name
		if name != "Host" && name != "Transfer-Encoding" {
			name = p.canon.Canonical(strings.ToLower(h.Name))
		}
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(h.Value)
		b.WriteString("\r\n")
	}
}

func cl(hl event.HeaderList) string {
	v, _ := hl.Get("Content-Length")
	return v
}

func (p *Protocol) submitResponse(streamID uint64, headers event.HeaderList, endStream bool) error {
	if p.phase != phaseActive || streamID != p.currentStreamID {
		return proto.LocalError{Op: "SubmitHeaders", Message: "no request is awaiting a response on this stream"}
	}
	status, _ := headers.Pseudo("status")
	_, regular := headers.Split()

	var b strings.Builder
	b.WriteString(httpVersion)
	b.WriteByte(' ')
	b.WriteString(status)
	b.WriteString(" ")
	b.WriteString(reasonPhrase(status))
	b.WriteString("\r\n")

	// A 200 to CONNECT opens the tunnel: what follows is raw payload, not a
	// framed body, so no Transfer-Encoding is added.
	entersTunnel := status == "200" && p.outstandingMethod == "CONNECT"
	_, hasCL := regular.Get("Content-Length")
	_, hasTE := regular.Get("Transfer-Encoding")
	willChunk := false
	if !endStream && !hasCL && !hasTE && !entersTunnel {
		regular = append(regular, event.Header{Name: "Transfer-Encoding", Value: "chunked"})
		willChunk = true
	}
	p.writeHeaderLines(&b, regular)
	b.WriteString("\r\n")
	p.out.Write([]byte(b.String()))

	p.send = receiveOrSend{active: true, chunked: willChunk}
	if hasCL {
		if n, err := strconv.ParseInt(cl(regular), 10, 64); err == nil {
			p.send.haveLength = true
			p.send.length = n
		}
	}
	if endStream {
		p.send.done = true
	}

	if entersTunnel {
		p.enterTunnel()
		return nil
	}
	if endStream {
		p.maybeCompleteCycle()
	}
	return nil
}

// SubmitData queues outbound body bytes, chunk-encoding them if the active
// message was framed with Transfer-Encoding: chunked.
func (p *Protocol) SubmitData(streamID uint64, data []byte, endStream bool) error {
	if p.terminated() {
		return proto.LocalError{Op: "SubmitData", Message: "protocol has terminated"}
	}
	if p.phase == phaseTunnel {
		p.out.Write(data)
		if endStream {
			p.terminate(0, "tunnel closed locally")
		}
		return nil
	}
	if p.phase != phaseActive || streamID != p.currentStreamID || !p.send.active || p.send.done {
		return proto.LocalError{Op: "SubmitData", Message: "no outbound message body in progress"}
	}
	if p.send.chunked {
		if len(data) > 0 {
			p.out.Write([]byte(strconv.FormatInt(int64(len(data)), 16) + "\r\n"))
			p.out.Write(data)
			p.out.Write([]byte("\r\n"))
		}
		if endStream {
			p.out.Write([]byte("0\r\n\r\n"))
		}
	} else {
		p.out.Write(data)
		p.send.written += int64(len(data))
	}
	if endStream {
		p.send.done = true
		p.maybeCompleteCycle()
	}
	return nil
}

// SubmitStreamReset has no real per-stream granularity on HTTP/1; it
// degenerates to dropping the connection (spec.md §4.1).
func (p *Protocol) SubmitStreamReset(streamID uint64, errorCode uint64) error {
	if p.terminated() {
		return nil
	}
	p.ConnectionLost()
	return nil
}

// SubmitClose submits a graceful close. HTTP/1 has no distinct close frame;
// the driver is expected to close the socket after draining BytesToSend.
func (p *Protocol) SubmitClose(errorCode uint64) error {
	if p.terminated() {
		return nil
	}
	p.terminate(errorCode, "local close")
	return nil
}
