package proto1

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/akamai/hface/event"
	"github.com/akamai/hface/proto"
)

// parseState drives the incremental inbound byte parser. HTTP/1 parsing is
// a straight-line pipeline: start line, headers, then one of three body
// framings (RFC 9112 §6).
type parseState int

const (
	parseStartLine parseState = iota
	parseHeaders
	parseBodyLength
	parseBodyChunkSize
	parseBodyChunkData
	parseBodyChunkCRLF
	parseBodyChunkTrailer
	parseBodyClose
)

// inboundMessage accumulates the start line and headers of the message
// currently being parsed, before they are turned into a HeadersReceived
// event once complete.
type inboundMessage struct {
	method, path, scheme, authority string
	status                          string
	headers                         event.HeaderList
	chunkRemaining                  int64
}

func (p *Protocol) resetParserForNewMessage() {
	p.recvState = parseStartLine
	p.recvHdr = &inboundMessage{}
}

// BytesReceived feeds inbound wire bytes into the parser. It loops making
// progress until either the buffer is exhausted or a terminal error/tunnel
// transition stops further parsing this call.
func (p *Protocol) BytesReceived(data []byte) error {
	if p.terminated() {
		return nil
	}
	if p.phase == phaseTunnel {
		p.push(event.NewDataReceived(p.currentStreamID, append([]byte(nil), data...), false))
		return nil
	}
	p.recvBuf = append(p.recvBuf, data...)
	if p.recvHdr == nil {
		p.resetParserForNewMessage()
	}
	for {
		progressed, err := p.parseStep()
		if err != nil {
			return err
		}
		if !progressed {
			return nil
		}
		if p.terminated() || p.phase == phaseTunnel {
			return nil
		}
	}
}

// parseStep attempts to make one unit of parsing progress (one line, one
// chunk, etc). It returns progressed=false when more bytes are needed.
func (p *Protocol) parseStep() (bool, error) {
	switch p.recvState {
	case parseStartLine:
		return p.parseStartLineStep()
	case parseHeaders:
		return p.parseHeaderLineStep()
	case parseBodyLength:
		return p.parseBodyLengthStep()
	case parseBodyChunkSize:
		return p.parseBodyChunkSizeStep()
	case parseBodyChunkData:
		return p.parseBodyChunkDataStep()
	case parseBodyChunkCRLF:
		return p.parseBodyChunkCRLFStep()
	case parseBodyChunkTrailer:
		return p.parseTrailerLineStep()
	case parseBodyClose:
		if len(p.recvBuf) == 0 {
			return false, nil
		}
		chunk := p.recvBuf
		p.recvBuf = nil
		p.pushBodyData(chunk, false)
		return false, nil
	}
	return false, nil
}

// readLine extracts the next CRLF-terminated line from recvBuf without the
// trailing CRLF, or ok=false if a full line is not yet available.
func (p *Protocol) readLine() (line []byte, ok bool) {
	idx := bytes.Index(p.recvBuf, []byte("\r\n"))
	if idx < 0 {
		return nil, false
	}
	line = p.recvBuf[:idx]
	p.recvBuf = p.recvBuf[idx+2:]
	return line, true
}

func (p *Protocol) parseStartLineStep() (bool, error) {
	line, ok := p.readLine()
	if !ok {
		return false, nil
	}
	if p.role == proto.RoleServer {
		return true, p.parseRequestLine(line)
	}
	return true, p.parseStatusLine(line)
}

func (p *Protocol) parseRequestLine(line []byte) error {
	parts := strings.SplitN(string(line), " ", 3)
	if len(parts) == 3 && parts[0] == "PRI" && parts[1] == "*" && parts[2] == "HTTP/2.0" {
		return p.fail(p.ErrorCodes().ProtocolError,
			"received HTTP/2 client connection preface; configure this endpoint for h2 or h2c, not HTTP/1.1")
	}
	if len(parts) != 3 {
		return p.fail(400, "malformed request line")
	}
	p.recvHdr.method = parts[0]
	p.recvHdr.path = parts[1]
	p.recvHdr.scheme = "http"
	p.recvState = parseHeaders
	return nil
}

func (p *Protocol) parseStatusLine(line []byte) error {
	parts := strings.SplitN(string(line), " ", 3)
	if len(parts) < 2 {
		return p.fail(400, "malformed status line")
	}
	p.recvHdr.status = parts[1]
	p.recvState = parseHeaders
	return nil
}

func (p *Protocol) parseHeaderLineStep() (bool, error) {
	line, ok := p.readLine()
	if !ok {
		return false, nil
	}
	if len(line) == 0 {
		return true, p.headersComplete()
	}
	idx := bytes.IndexByte(line, ':')
	if idx < 0 {
		return true, p.fail(400, "malformed header line")
	}
	name := strings.ToLower(strings.TrimSpace(string(line[:idx])))
	value := strings.TrimSpace(string(line[idx+1:]))
	if name == "host" {
		p.recvHdr.authority = value
	}
	p.recvHdr.headers = append(p.recvHdr.headers, event.Header{Name: name, Value: value})
	return true, nil
}

func (p *Protocol) parseTrailerLineStep() (bool, error) {
	line, ok := p.readLine()
	if !ok {
		return false, nil
	}
	if len(line) == 0 {
		if !(p.haveLastEventIdx && p.patchEndStream(p.lastEventIdx)) {
			p.pushBodyData(nil, true)
		}
		p.finishRecvBody()
		return true, nil
	}
	return true, nil
}

// headersComplete validates required pseudo headers and emits
// HeadersReceived, then decides the body framing for what follows.
func (p *Protocol) headersComplete() error {
	h := p.recvHdr
	if p.role == proto.RoleServer {
		if h.method == "" || h.path == "" {
			return p.fail(400, "missing request target")
		}
		if h.authority == "" {
			return p.fail(400, "missing Host header")
		}
		p.outstandingMethod = h.method
		if p.currentStreamID == 0 {
			p.currentStreamID = 1
		}
		p.phase = phaseActive
		pseudo := event.HeaderList{
			{Name: ":method", Value: h.method},
			{Name: ":scheme", Value: h.scheme},
			{Name: ":authority", Value: h.authority},
			{Name: ":path", Value: h.path},
		}
		p.startRecvBody(append(pseudo, h.headers...), false, false)
	} else {
		if h.status == "" {
			return p.fail(400, "missing status")
		}
		pseudo := event.HeaderList{{Name: ":status", Value: h.status}}
		connectOK := p.outstandingMethod == "CONNECT" && h.status == "200"
		noBody := isInformational(h.status) || h.status == "204" || h.status == "304" || p.outstandingMethod == "HEAD" || connectOK
		// A CONNECT-success response must not let startRecvBody complete the
		// request/response cycle and bump currentStreamID: the tunnel that
		// enterTunnel is about to open keeps using this same stream id for
		// as long as the connection lives (never reuse an id, spec.md §9).
		p.startRecvBody(append(pseudo, h.headers...), noBody, connectOK)
		if connectOK {
			p.enterTunnel()
		}
	}
	return nil
}

func isInformational(status string) bool {
	return len(status) == 3 && status[0] == '1'
}

// startRecvBody pushes HeadersReceived and sets up body parsing for
// whichever framing the headers declare, per RFC 9112 §6.3 precedence:
// Transfer-Encoding wins over Content-Length. enteringTunnel suppresses the
// usual complete-cycle/currentStreamID-advance that a done body would
// otherwise trigger, for the CONNECT-success response that is about to hand
// this stream id to enterTunnel instead of retiring it to idle.
func (p *Protocol) startRecvBody(headers event.HeaderList, forceNoBody, enteringTunnel bool) {
	_, regular := headers.Split()
	te, hasTE := regular.Get("Transfer-Encoding")
	clv, hasCL := regular.Get("Content-Length")

	endStream := forceNoBody
	p.recv = receiveOrSend{active: true}

	switch {
	case forceNoBody:
		p.recv.done = true
	case hasTE && strings.Contains(strings.ToLower(te), "chunked"):
		p.recv.chunked = true
		p.recvState = parseBodyChunkSize
	case hasCL:
		n, err := strconv.ParseInt(clv, 10, 64)
		if err != nil || n < 0 {
			p.pushHeadersAndFail(headers, 400, "malformed Content-Length")
			return
		}
		p.recv.haveLength = true
		p.recv.length = n
		if n == 0 {
			p.recv.done = true
			endStream = true
		} else {
			p.recvState = parseBodyLength
		}
	case p.role == proto.RoleServer:
		// A request body without a declared length is empty (RFC 9112
		// §6.3): the request line itself is already fully framed.
		p.recv.done = true
		endStream = true
	default:
		// Response framed by connection close (HTTP/1.0-style).
		p.recv.framedByEOF = true
		p.recvState = parseBodyClose
	}

	idx := p.queue.Len()
	p.push(event.NewHeadersReceived(p.currentStreamID, headers, endStream))
	p.lastEventIdx, p.haveLastEventIdx = idx, true

	if p.recv.done {
		p.recvHdr = nil
		if !enteringTunnel {
			p.maybeCompleteCycle()
			if p.phase == phaseIdle {
				p.recvState = parseStartLine
				p.resetParserForNewMessage()
			}
		}
	}
}

func (p *Protocol) pushHeadersAndFail(headers event.HeaderList, code int, msg string) {
	p.push(event.NewHeadersReceived(p.currentStreamID, headers, false))
	p.fail(code, msg)
}

func (p *Protocol) parseBodyLengthStep() (bool, error) {
	remaining := p.recv.length - p.recv.written
	if remaining == 0 {
		p.finishRecvBody()
		return true, nil
	}
	if len(p.recvBuf) == 0 {
		return false, nil
	}
	n := int64(len(p.recvBuf))
	if n > remaining {
		n = remaining
	}
	chunk := p.recvBuf[:n]
	p.recvBuf = p.recvBuf[n:]
	p.recv.written += n
	last := p.recv.written == p.recv.length
	p.pushBodyData(chunk, last)
	if last {
		p.finishRecvBody()
	}
	return true, nil
}

func (p *Protocol) parseBodyChunkSizeStep() (bool, error) {
	line, ok := p.readLine()
	if !ok {
		return false, nil
	}
	sizeStr := string(line)
	if idx := strings.IndexByte(sizeStr, ';'); idx >= 0 {
		sizeStr = sizeStr[:idx]
	}
	n, err := strconv.ParseInt(strings.TrimSpace(sizeStr), 16, 64)
	if err != nil || n < 0 {
		return true, p.fail(400, "malformed chunk size")
	}
	if n == 0 {
		p.recvState = parseBodyChunkTrailer
		return true, nil
	}
	p.recvHdr.chunkRemaining = n
	p.recvState = parseBodyChunkData
	return true, nil
}

func (p *Protocol) parseBodyChunkDataStep() (bool, error) {
	if len(p.recvBuf) == 0 {
		return false, nil
	}
	n := p.recvHdr.chunkRemaining
	if n > int64(len(p.recvBuf)) {
		n = int64(len(p.recvBuf))
	}
	chunk := p.recvBuf[:n]
	p.recvBuf = p.recvBuf[n:]
	p.recvHdr.chunkRemaining -= n
	p.pushBodyData(chunk, false)
	if p.recvHdr.chunkRemaining == 0 {
		p.recvState = parseBodyChunkCRLF
	}
	return true, nil
}

func (p *Protocol) parseBodyChunkCRLFStep() (bool, error) {
	if len(p.recvBuf) < 2 {
		return false, nil
	}
	if p.recvBuf[0] != '\r' || p.recvBuf[1] != '\n' {
		return true, p.fail(400, "malformed chunk trailer")
	}
	p.recvBuf = p.recvBuf[2:]
	p.recvState = parseBodyChunkSize
	return true, nil
}

// pushBodyData emits a DataReceived event, tracking it for end-of-message
// patching (spec.md §4.1).
func (p *Protocol) pushBodyData(data []byte, endStream bool) {
	idx := p.queue.Len()
	var out []byte
	if len(data) > 0 {
		out = append([]byte(nil), data...)
	}
	p.push(event.NewDataReceived(p.currentStreamID, out, endStream))
	p.lastEventIdx, p.haveLastEventIdx = idx, true
}

func (p *Protocol) finishRecvBody() {
	p.recv.done = true
	p.recvHdr = nil
	p.maybeCompleteCycle()
	if p.phase == phaseIdle {
		p.recvState = parseStartLine
		p.resetParserForNewMessage()
	}
}

// fail terminates the connection with a parser-detected error, tagged with
// the parser's own status-code hint as required by spec.md §4.1 ("A parser
// error emits ConnectionTerminated(error_status_hint)").
func (p *Protocol) fail(code int, msg string) error {
	p.terminate(uint64(code), msg)
	return proto.ConnectionError{ErrorCode: uint64(code), Message: msg}
}
