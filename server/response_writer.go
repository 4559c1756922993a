package server

import (
	"errors"
	"strconv"

	"github.com/akamai/hface/event"
)

// responseWriter implements ResponseWriter over a StreamController. Its
// defining trick is spec.md §4.10's "Response in progress" state: the
// HEADERS frame is buffered in pendingHeaders until the first Write or
// Close call, so a zero-body response becomes one frame with
// end_stream=true instead of a HEADERS frame followed by an empty DATA
// frame.
type responseWriter struct {
	sc *StreamController
}

var errHeadersNotSet = errors.New("server: Write/Close called before WriteHeader")
var errHeadersAlreadySet = errors.New("server: WriteHeader called more than once")
var errResponseComplete = errors.New("server: response already complete")

func (w *responseWriter) WriteHeader(status int, headers event.HeaderList) error {
	sc := w.sc
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.state == scResponseComplete {
		return errResponseComplete
	}
	if sc.pendingSet {
		return errHeadersAlreadySet
	}
	sc.pendingSet = true
	sc.pendingStatus = status
	sc.pendingHeaders = headers
	return nil
}

func (w *responseWriter) Write(p []byte) error {
	sc := w.sc

	sc.mu.Lock()
	if sc.state == scResponseComplete {
		sc.mu.Unlock()
		return errResponseComplete
	}
	if !sc.pendingSet {
		sc.mu.Unlock()
		return errHeadersNotSet
	}
	needFlush := !sc.headersSent
	var headerFrame event.HeaderList
	if needFlush {
		headerFrame = buildResponseHeaders(sc.pendingStatus, sc.pendingHeaders)
		sc.headersSent = true
	}
	sc.mu.Unlock()

	if needFlush {
		if err := sc.conn.SendHeaders(sc.id, headerFrame, false); err != nil {
			return err
		}
	}
	if len(p) == 0 {
		return nil
	}
	return sc.conn.SendData(sc.id, p, false)
}

func (w *responseWriter) Close() error {
	sc := w.sc

	sc.mu.Lock()
	if sc.state == scResponseComplete {
		sc.mu.Unlock()
		return nil
	}
	sc.state = scResponseComplete
	if !sc.pendingSet {
		// App never called WriteHeader at all: synthesize a bare 200,
		// matching a framework that lets a handler fall through with no
		// explicit response.
		sc.pendingSet = true
		sc.pendingStatus = 200
	}
	alreadySent := sc.headersSent
	headerFrame := buildResponseHeaders(sc.pendingStatus, sc.pendingHeaders)
	sc.headersSent = true
	sc.mu.Unlock()

	if !alreadySent {
		return sc.conn.SendHeaders(sc.id, headerFrame, true)
	}
	return sc.conn.SendData(sc.id, nil, true)
}

func (w *responseWriter) Reset(errorCode uint64) error {
	return w.sc.sendReset(errorCode)
}

func buildResponseHeaders(status int, extra event.HeaderList) event.HeaderList {
	out := make(event.HeaderList, 0, len(extra)+1)
	out = append(out, event.Header{Name: ":status", Value: strconv.Itoa(status)})
	out = append(out, extra...)
	return out
}
