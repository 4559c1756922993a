package event_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akamai/hface/event"
)

func TestHeaderListNormalizeLowercasesRegularNames(t *testing.T) {
	hl := event.HeaderList{
		{Name: ":status", Value: "200"},
		{Name: "Content-Length", Value: "10"},
		{Name: "X-Foo", Value: "Bar"},
	}
	norm := hl.Normalize()
	require.Len(t, norm, 3)
	assert.Equal(t, ":status", norm[0].Name)
	assert.Equal(t, "content-length", norm[1].Name)
	assert.Equal(t, "x-foo", norm[2].Name)
	assert.Equal(t, "Bar", norm[2].Value)
}

func TestHeaderListEqualModuloCase(t *testing.T) {
	a := event.HeaderList{{Name: "Host", Value: "example.com"}}
	b := event.HeaderList{{Name: "host", Value: "example.com"}}
	assert.True(t, a.Equal(b))

	c := event.HeaderList{{Name: "host", Value: "other.com"}}
	assert.False(t, a.Equal(c))
}

func TestHeaderListGetAndPseudo(t *testing.T) {
	hl := event.HeaderList{
		{Name: ":method", Value: "GET"},
		{Name: ":path", Value: "/"},
		{Name: "accept", Value: "text/plain"},
	}
	v, ok := hl.Pseudo("method")
	require.True(t, ok)
	assert.Equal(t, "GET", v)

	_, ok = hl.Get("missing")
	assert.False(t, ok)
}

func TestHeaderListSplit(t *testing.T) {
	hl := event.HeaderList{
		{Name: ":method", Value: "GET"},
		{Name: ":path", Value: "/"},
		{Name: "accept", Value: "*/*"},
	}
	pseudo, regular := hl.Split()
	assert.Len(t, pseudo, 2)
	assert.Len(t, regular, 1)
}

func TestCanonicalCache(t *testing.T) {
	c := event.NewCanonicalCache()
	assert.Equal(t, "Content-Length", c.Canonical("content-length"))
	assert.Equal(t, "X-Custom-Header", c.Canonical("x-custom-header"))
	// cached path returns the same value
	assert.Equal(t, "Content-Length", c.Canonical("content-length"))
}

func TestConnectionTerminatedEqualityIgnoresMessage(t *testing.T) {
	a := event.NewConnectionTerminated(0, "eof")
	b := event.NewConnectionTerminated(0, "reset by peer")
	assert.True(t, a.Equal(b))

	c := event.NewConnectionTerminated(1, "eof")
	assert.False(t, a.Equal(c))
}

func TestEventStreamIDs(t *testing.T) {
	h := event.NewHeadersReceived(5, nil, false)
	assert.EqualValues(t, 5, h.StreamID())

	g := event.NewGoawayReceived(3, event.HTTP2ErrorCodes.ProtocolError)
	assert.EqualValues(t, 0, g.StreamID())
}
