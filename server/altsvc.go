package server

import "fmt"

// AltSvc builds an RFC 7838 Alt-Svc header value advertising HTTP/3 on
// port for maxAge seconds, for a handler on an HTTP/1 or HTTP/2 connection
// to attach to its responses so clients discover the HTTP/3 listener
// (SPEC_FULL.md §12, supplemented from the original's
// `examples/alt_svc.py`). This is deliberately not wired as middleware —
// spec.md §1 excludes middleware generally — it is a helper an app can
// call explicitly:
//
//	w.WriteHeader(200, event.HeaderList{{Name: "alt-svc", Value: server.AltSvc(443, 86400)}})
func AltSvc(port int, maxAgeSeconds int) string {
	return fmt.Sprintf(`h3=":%d"; ma=%d`, port, maxAgeSeconds)
}
