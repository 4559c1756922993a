package main

import (
	"context"
	"fmt"
	"io"

	"github.com/akamai/hface/event"
	"github.com/akamai/hface/server"
)

// loadApp resolves the ASGI_APP positional argument to an App. The
// original's server command loads an arbitrary ASGI callable by import
// path (`cli/_options/server.py`); that loading mechanism is Python
// import-system plumbing with no Go analogue and is out of scope per
// spec.md §1. This CLI instead ships a couple of built-in demo apps
// selectable by name, enough to exercise the dispatcher end to end.
func loadApp(name string) (server.App, error) {
	switch name {
	case "echo":
		return echoApp, nil
	case "hello":
		return helloApp, nil
	default:
		return nil, fmt.Errorf("server: unknown built-in app %q (want \"echo\" or \"hello\")", name)
	}
}

// withAltSvc wraps app so every response it writes carries an Alt-Svc
// header advertising HTTP/3 on altSvcPort (server.AltSvc, SPEC_FULL.md §12
// "examples/alt_svc.py") — for a TCP/ALPN listener fronting an app that's
// also reachable over a separate HTTP/3 listener on that port.
func withAltSvc(app server.App, altSvcPort int) server.App {
	value := server.AltSvc(altSvcPort, 86400)
	return func(ctx context.Context, req *server.Request, w server.ResponseWriter) {
		app(ctx, req, &altSvcWriter{ResponseWriter: w, value: value})
	}
}

type altSvcWriter struct {
	server.ResponseWriter
	value string
}

func (w *altSvcWriter) WriteHeader(status int, headers event.HeaderList) error {
	return w.ResponseWriter.WriteHeader(status, append(headers, event.Header{Name: "alt-svc", Value: w.value}))
}

func helloApp(ctx context.Context, req *server.Request, w server.ResponseWriter) {
	body := []byte("hello from hface\n")
	headers := event.HeaderList{{Name: "content-length", Value: fmt.Sprint(len(body))}}
	if err := w.WriteHeader(200, headers); err != nil {
		return
	}
	if err := w.Write(body); err != nil {
		return
	}
	w.Close()
}

func echoApp(ctx context.Context, req *server.Request, w server.ResponseWriter) {
	if err := w.WriteHeader(200, nil); err != nil {
		return
	}
	if req.Body != nil {
		buf := make([]byte, 32*1024)
		for {
			n, rerr := req.Body.Read(buf)
			if n > 0 {
				if werr := w.Write(buf[:n]); werr != nil {
					return
				}
			}
			if rerr != nil {
				if rerr != io.EOF {
					w.Reset(0x02) // HTTP/2 INTERNAL_ERROR; close enough across versions for a demo app
					return
				}
				break
			}
		}
	}
	w.Close()
}
