// Package server implements the server-side dispatcher (spec.md §4.10,
// component C10): a per-connection controller that demultiplexes inbound
// HeadersReceived events into per-stream controllers, a per-stream
// controller that hands a request off to an application callback and
// frames its response, and the CONNECT proxy tunnel.
package server

import (
	"context"
	"io"

	"github.com/akamai/hface/event"
)

// Request is the thin value object handed to App at the application
// boundary (SPEC_FULL.md §12, supplemented from the original's
// `server/_models.py`). It is not the "high-level URL/request/response
// value object" spec.md §1 excludes — just the minimal shape the
// dispatcher can produce without depending on one.
type Request struct {
	Method    string
	Scheme    string
	Authority string
	Path      string
	Headers   event.HeaderList

	// Body streams DataReceived chunks for this stream; reading past the
	// final chunk returns io.EOF once EndStream was observed, or the
	// stream's termination error if it was reset/the connection died.
	Body io.Reader

	// Cancel aborts this stream's application task: further Body reads
	// unblock with ctx.Err(), letting an app like the CONNECT handler
	// (server/tunnel.go) give up one direction promptly when the other
	// breaks (spec.md §4.10 CONNECT tunnel step 3).
	Cancel context.CancelFunc
}

// ResponseWriter is the application's handle on the response side of a
// stream. WriteHeader may be called at most once; Write may be called any
// number of times before Close. Per spec.md §4.10's "Response in
// progress" state, the HEADERS frame is not actually sent to the peer
// until the first Write or Close call, so a handler that calls
// WriteHeader then Close with no body produces one frame with
// end_stream=true instead of an empty DATA frame.
type ResponseWriter interface {
	WriteHeader(status int, headers event.HeaderList) error
	Write(p []byte) error
	Close() error

	// Reset locally aborts the stream instead of completing it normally —
	// used by the CONNECT tunnel when one direction breaks before the
	// other reaches a natural close (spec.md §4.10 step 3), and by the
	// dispatcher's own panic recovery once headers are already sent.
	Reset(errorCode uint64) error
}

// App is the application-gateway callback contract. spec.md §1 lists the
// real contract (the ASGI-like protocol named in spec.md §6's CLI surface)
// as an external collaborator out of scope; App is the minimal Go shape
// the dispatcher hands requests across that boundary through.
type App func(ctx context.Context, req *Request, w ResponseWriter)
