package proto2

import (
	"bytes"
	"strings"

	"golang.org/x/net/http2/hpack"

	"github.com/akamai/hface/event"
)

// headerCodec owns one connection's HPACK encoder and decoder, grounded on
// the teacher's sc.hpackEncoder/sc.hpackDecoder (baranov1ch-http2/server.go,
// handleConn and onNewHeaderField), updated to the hpack package's current
// home under golang.org/x/net.
type headerCodec struct {
	encBuf  bytes.Buffer
	enc     *hpack.Encoder
	dec     *hpack.Decoder
	decoded event.HeaderList
}

func newHeaderCodec() *headerCodec {
	c := &headerCodec{}
	c.enc = hpack.NewEncoder(&c.encBuf)
	c.dec = hpack.NewDecoder(4096, c.onField)
	return c
}

func (c *headerCodec) onField(f hpack.HeaderField) {
	name := f.Name
	if !strings.HasPrefix(name, ":") {
		name = strings.ToLower(name)
	}
	c.decoded = append(c.decoded, event.Header{Name: name, Value: f.Value})
}

// encode serializes a header list into an HPACK block. Pseudo-headers are
// written first, matching RFC 9113 §8.3's "pseudo-header fields MUST
// appear first" requirement; event.HeaderList already conventionally
// orders them that way, but this makes it a hard guarantee for outbound
// blocks this engine itself produces.
func (c *headerCodec) encode(headers event.HeaderList) []byte {
	c.encBuf.Reset()
	pseudo, regular := headers.Split()
	for _, h := range pseudo {
		c.enc.WriteField(hpack.HeaderField{Name: h.Name, Value: h.Value})
	}
	for _, h := range regular {
		c.enc.WriteField(hpack.HeaderField{Name: h.Name, Value: h.Value})
	}
	out := make([]byte, c.encBuf.Len())
	copy(out, c.encBuf.Bytes())
	return out
}

// decode accumulates one header-block fragment. Call finish once the
// frame carrying END_HEADERS has been processed.
func (c *headerCodec) decode(fragment []byte) error {
	_, err := c.dec.Write(fragment)
	return err
}

// finish closes out the current header block and returns the accumulated
// field list (already lowercased by onField per spec.md §3).
func (c *headerCodec) finish() (event.HeaderList, error) {
	if err := c.dec.Close(); err != nil {
		return nil, err
	}
	out := c.decoded
	c.decoded = nil
	return out, nil
}
