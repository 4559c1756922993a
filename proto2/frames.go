package proto2

import "encoding/binary"

// Frame types and flags per RFC 9113 §6. The teacher (baranov1ch-http2/
// server.go) dispatched on a *Frame interface value produced by a Framer
// type that was not part of the retrieved file; this package reimplements
// just enough of that framing layer directly against the 9-byte frame
// header layout spec.md §6 calls out (24-bit length, 8-bit type, 8-bit
// flags, 32-bit stream id), since HPACK — not framing — is the piece the
// corpus shows as a library concern (golang.org/x/net/http2/hpack).
const (
	frameData        = 0x0
	frameHeaders      = 0x1
	framePriority     = 0x2
	frameRSTStream    = 0x3
	frameSettings     = 0x4
	framePushPromise  = 0x5
	framePing         = 0x6
	frameGoAway       = 0x7
	frameWindowUpdate = 0x8
	frameContinuation = 0x9
)

const (
	flagEndStream  = 0x1
	flagAck        = 0x1
	flagEndHeaders = 0x4
	flagPadded     = 0x8
	flagPriority   = 0x20
)

const frameHeaderLen = 9
const defaultMaxFrameSize = 16384

// clientPreface is the HTTP/2 client connection preface (RFC 9113 §3.4).
const clientPreface = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"

type frameHeader struct {
	length   uint32
	typ      uint8
	flags    uint8
	streamID uint32
}

func appendFrameHeader(out []byte, length int, typ, flags uint8, streamID uint32) []byte {
	var hdr [frameHeaderLen]byte
	hdr[0] = byte(length >> 16)
	hdr[1] = byte(length >> 8)
	hdr[2] = byte(length)
	hdr[3] = typ
	hdr[4] = flags
	binary.BigEndian.PutUint32(hdr[5:], streamID&0x7fffffff)
	return append(out, hdr[:]...)
}

// writeFrame serializes one complete frame (header + payload) and returns
// it as a freshly allocated byte slice, so call sites can hand the result
// straight to a proto.ByteBuffer.Write.
func writeFrame(typ, flags uint8, streamID uint32, payload []byte) []byte {
	out := appendFrameHeader(make([]byte, 0, frameHeaderLen+len(payload)), len(payload), typ, flags, streamID)
	return append(out, payload...)
}

// parseFrameHeader reads a frame header from the front of buf, returning
// ok=false if fewer than frameHeaderLen bytes are available.
func parseFrameHeader(buf []byte) (frameHeader, bool) {
	if len(buf) < frameHeaderLen {
		return frameHeader{}, false
	}
	length := uint32(buf[0])<<16 | uint32(buf[1])<<8 | uint32(buf[2])
	return frameHeader{
		length:   length,
		typ:      buf[3],
		flags:    buf[4],
		streamID: binary.BigEndian.Uint32(buf[5:9]) & 0x7fffffff,
	}, true
}

// writeSettings serializes an empty SETTINGS frame: this engine accepts the
// peer's and its own codec defaults (spec.md §1 Non-goals: flow-control
// tuning is out of scope), so there is nothing to negotiate.
func writeSettings(ack bool) []byte {
	var flags uint8
	if ack {
		flags = flagAck
	}
	return writeFrame(frameSettings, flags, 0, nil)
}

func writeGoAway(lastStreamID uint32, errorCode uint64) []byte {
	payload := make([]byte, 8)
	binary.BigEndian.PutUint32(payload[0:4], lastStreamID&0x7fffffff)
	binary.BigEndian.PutUint32(payload[4:8], uint32(errorCode))
	return writeFrame(frameGoAway, 0, 0, payload)
}

func parseGoAway(payload []byte) (lastStreamID uint32, errorCode uint64, ok bool) {
	if len(payload) < 8 {
		return 0, 0, false
	}
	return binary.BigEndian.Uint32(payload[0:4]) & 0x7fffffff, uint64(binary.BigEndian.Uint32(payload[4:8])), true
}

func writeRSTStream(streamID uint32, errorCode uint64) []byte {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(errorCode))
	return writeFrame(frameRSTStream, 0, streamID, payload)
}

func parseRSTStream(payload []byte) (errorCode uint64, ok bool) {
	if len(payload) < 4 {
		return 0, false
	}
	return uint64(binary.BigEndian.Uint32(payload)), true
}

func writePing(ack bool, data []byte) []byte {
	var flags uint8
	if ack {
		flags = flagAck
	}
	return writeFrame(framePing, flags, 0, data)
}

// writeHeadersFrame splits an HPACK header block across one HEADERS frame
// and as many CONTINUATION frames as needed to stay under maxFrameSize,
// setting END_HEADERS only on the last one and END_STREAM on the first when
// endStream is set (RFC 9113 §6.2, §6.10).
func writeHeadersFrame(streamID uint32, block []byte, endStream bool, maxFrameSize int) []byte {
	var out []byte
	first := true
	for {
		chunk := block
		last := true
		if len(chunk) > maxFrameSize {
			chunk = block[:maxFrameSize]
			last = false
		}
		block = block[len(chunk):]

		var flags uint8
		typ := uint8(frameContinuation)
		if first {
			typ = frameHeaders
			if endStream {
				flags |= flagEndStream
			}
		}
		if last {
			flags |= flagEndHeaders
		}
		out = append(out, writeFrame(typ, flags, streamID, chunk)...)
		first = false
		if last {
			break
		}
	}
	return out
}

// writeDataFrames splits payload across one or more DATA frames bounded by
// maxFrameSize, setting END_STREAM only on the last one.
func writeDataFrames(streamID uint32, payload []byte, endStream bool, maxFrameSize int) []byte {
	if len(payload) == 0 {
		var flags uint8
		if endStream {
			flags = flagEndStream
		}
		return writeFrame(frameData, flags, streamID, nil)
	}
	var out []byte
	for len(payload) > 0 {
		chunk := payload
		last := true
		if len(chunk) > maxFrameSize {
			chunk = payload[:maxFrameSize]
			last = false
		}
		payload = payload[len(chunk):]
		var flags uint8
		if last && endStream {
			flags = flagEndStream
		}
		out = append(out, writeFrame(frameData, flags, streamID, chunk)...)
	}
	return out
}
