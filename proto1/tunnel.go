package proto1

import "github.com/akamai/hface/event"

// enterTunnel switches the connection into CONNECT tunnel mode: normal
// HTTP/1 framing stops, and further bytes in either direction are raw
// payload (spec.md §4.1). Any bytes already buffered by the parser at the
// moment of transition are flushed as a single DataReceived so no payload
// bytes the peer sent eagerly are lost.
func (p *Protocol) enterTunnel() {
	p.phase = phaseTunnel
	p.recvHdr = nil
	if len(p.recvBuf) > 0 {
		leftover := p.recvBuf
		p.recvBuf = nil
		p.push(event.NewDataReceived(p.currentStreamID, leftover, false))
	}
}

// flushTunnelEOF reports the tunnel's end on a clean peer close, per
// spec.md §4.1: "A client-side EOF produces ConnectionTerminated(0) after
// any buffered data." Any bytes still sitting in recvBuf are delivered
// first.
func (p *Protocol) flushTunnelEOF() {
	if len(p.recvBuf) > 0 {
		leftover := p.recvBuf
		p.recvBuf = nil
		p.push(event.NewDataReceived(p.currentStreamID, leftover, true))
		return
	}
	p.push(event.NewDataReceived(p.currentStreamID, nil, true))
}
