package client

import (
	"context"
	"io"
	"strconv"

	"github.com/akamai/hface/event"
)

// Response is the minimal typed value the pool hands back at the
// application boundary — not the "high-level URL/request/response value
// objects" spec.md §1 lists as an out-of-scope external collaborator, but
// the thin shape Request needs to exist at all (see SPEC_FULL.md §12,
// supplemented from the original's `client/_models.py`).
type Response struct {
	Status  int
	Headers event.HeaderList

	stream *Stream
	ctx    context.Context
}

// Body returns an io.Reader streaming the response body as it arrives.
func (r *Response) Body() io.Reader { return r.stream.BodyReader(r.ctx) }

// Stream exposes the underlying pool Stream for callers that need direct
// access (trailers, reset, raw ReceiveData).
func (r *Response) Stream() *Stream { return r.stream }

// Request opens a stream, sends headers and (if non-nil) body, and waits
// for the response headers. The returned Response's Body reads the rest of
// the exchange lazily.
func (p *Pool) Request(ctx context.Context, origin Origin, headers event.HeaderList, body io.Reader) (*Response, error) {
	st, err := p.OpenStream(ctx, origin, headers, body == nil)
	if err != nil {
		return nil, err
	}

	if body != nil {
		if err := sendBody(st, body); err != nil {
			return nil, err
		}
	}

	hdrs, err := st.Headers(ctx)
	if err != nil {
		return nil, err
	}

	status := 0
	if s, ok := hdrs.Pseudo("status"); ok {
		status, _ = strconv.Atoi(s)
	}
	return &Response{Status: status, Headers: hdrs, stream: st, ctx: ctx}, nil
}

func sendBody(st *Stream, body io.Reader) error {
	buf := make([]byte, 32*1024)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			end := rerr == io.EOF
			if err := st.SendData(buf[:n], end); err != nil {
				return err
			}
			if end {
				return nil
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return st.SendData(nil, true)
			}
			return rerr
		}
	}
}
