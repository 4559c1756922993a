package proto3

import (
	"bytes"
	"strings"

	"github.com/quic-go/qpack"

	"github.com/akamai/hface/event"
)

// headerCodec wraps one connection's QPACK encoder/decoder. qpack mirrors
// golang.org/x/net/http2/hpack's API (proto2/hpack.go uses the HPACK
// original); this engine never grows the dynamic table (RFC 9204 allows a
// zero-capacity table), which keeps the encoder stream and decoder stream
// QPACK otherwise requires entirely unused — a deliberate simplification
// consistent with flow-control/codec tuning being out of scope (spec.md §1).
type headerCodec struct {
	encBuf  bytes.Buffer
	enc     *qpack.Encoder
	dec     *qpack.Decoder
	decoded event.HeaderList
}

func newHeaderCodec() *headerCodec {
	c := &headerCodec{}
	c.enc = qpack.NewEncoder(&c.encBuf)
	c.dec = qpack.NewDecoder(c.onField)
	return c
}

func (c *headerCodec) onField(f qpack.HeaderField) {
	name := f.Name
	if !strings.HasPrefix(name, ":") {
		name = strings.ToLower(name)
	}
	c.decoded = append(c.decoded, event.Header{Name: name, Value: f.Value})
}

func (c *headerCodec) encode(headers event.HeaderList) []byte {
	c.encBuf.Reset()
	pseudo, regular := headers.Split()
	for _, h := range pseudo {
		c.enc.WriteField(qpack.HeaderField{Name: h.Name, Value: h.Value})
	}
	for _, h := range regular {
		c.enc.WriteField(qpack.HeaderField{Name: h.Name, Value: h.Value})
	}
	out := make([]byte, c.encBuf.Len())
	copy(out, c.encBuf.Bytes())
	return out
}

func (c *headerCodec) decode(block []byte) (event.HeaderList, error) {
	c.decoded = nil
	if _, err := c.dec.Write(block); err != nil {
		return nil, err
	}
	out := c.decoded
	c.decoded = nil
	return out, nil
}
