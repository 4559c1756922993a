package server

import (
	"context"
	"io"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/akamai/hface/event"
)

// ConnectHandler returns an App implementing the CONNECT proxy tunnel
// (spec.md §4.10 "CONNECT tunnel (proxy mode)"). It runs as an ordinary
// application callback — the StreamController machinery already gives it
// everything it needs: Request.Body for the inbound half of the tunnel,
// ResponseWriter.Write for the outbound half, and a stream-scoped context
// it can Cancel to unblock a stuck body read when the other direction
// breaks.
func ConnectHandler(dial func(ctx context.Context, network, addr string) (net.Conn, error), errorCodes event.ErrorCodes, log *logrus.Entry) App {
	if dial == nil {
		dialer := &net.Dialer{Timeout: 10 * time.Second}
		dial = dialer.DialContext
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	return func(ctx context.Context, req *Request, w ResponseWriter) {
		if !strings.EqualFold(req.Method, "CONNECT") {
			respondPlain(w, 405)
			return
		}
		if _, _, err := net.SplitHostPort(req.Authority); err != nil {
			respondPlain(w, 400)
			return
		}

		origin, err := dial(ctx, "tcp", req.Authority)
		if err != nil {
			log.WithError(err).WithField("authority", req.Authority).Warn("server: CONNECT dial failed")
			respondPlain(w, 502)
			return
		}
		defer origin.Close()

		if err := w.WriteHeader(200, nil); err != nil {
			return
		}
		if err := w.Write(nil); err != nil {
			return
		}

		var uploadNatural, downloadNatural bool
		uploadDone := make(chan struct{})
		downloadDone := make(chan struct{})

		go func() {
			defer close(uploadDone)
			_, cerr := io.Copy(origin, req.Body)
			if cerr == nil {
				uploadNatural = true
				if hc, ok := origin.(interface{ CloseWrite() error }); ok {
					hc.CloseWrite()
				} else {
					origin.Close()
				}
			} else {
				req.Cancel()
				origin.Close()
			}
		}()

		go func() {
			defer close(downloadDone)
			buf := make([]byte, 32*1024)
			for {
				n, rerr := origin.Read(buf)
				if n > 0 {
					if werr := w.Write(buf[:n]); werr != nil {
						req.Cancel()
						return
					}
				}
				if rerr != nil {
					if rerr == io.EOF {
						downloadNatural = true
					} else {
						req.Cancel()
					}
					return
				}
			}
		}()

		<-uploadDone
		<-downloadDone

		if uploadNatural && downloadNatural {
			w.Close()
			return
		}
		// One side cancelled before the other reached a natural close
		// (spec.md §4.10 step 3).
		w.Reset(errorCodes.ConnectError)
	}
}

func respondPlain(w ResponseWriter, status int) {
	if err := w.WriteHeader(status, nil); err != nil {
		return
	}
	w.Write(nil)
}
