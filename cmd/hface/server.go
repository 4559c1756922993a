package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/akamai/hface/alpn"
	"github.com/akamai/hface/conn"
	"github.com/akamai/hface/event"
	"github.com/akamai/hface/proto"
	"github.com/akamai/hface/registry"
	"github.com/akamai/hface/server"
	"github.com/akamai/hface/transport/quicio"
	"github.com/akamai/hface/transport/tcpio"

	"github.com/akamai/hface/internal/endpoint"
)

// serverProtocol mirrors the original's ServerProtocol enum
// (`cli/_options/server.py`): which of TCP (HTTP/1 + HTTP/2 via ALPN) or a
// single forced version to listen for.
type serverProtocol int

const (
	protoAll serverProtocol = iota
	protoTCP
	protoHTTP1
	protoHTTP2
	protoHTTP3
)

type serverOptions struct {
	certFile string
	keyFile  string

	protocol serverProtocol

	http1Impl string
	http2Impl string
	http3Impl string

	advertiseHTTP3Port int
}

func (o *serverOptions) bindProtocolFlags(cmd *cobra.Command) {
	var tcpOnly, http1Only, http2Only, http3Only bool
	cmd.Flags().StringVar(&o.certFile, "cert", "", "TLS certificate in PEM format")
	cmd.Flags().StringVar(&o.keyFile, "key", "", "TLS private key in PEM format")
	cmd.Flags().BoolVar(&tcpOnly, "tcp", false, "listen for TCP connections only (HTTP/1 and HTTP/2 via ALPN)")
	cmd.Flags().BoolVar(&http1Only, "http1", false, "support HTTP/1.1 only")
	cmd.Flags().BoolVar(&http2Only, "http2", false, "support HTTP/2 only")
	cmd.Flags().BoolVar(&http3Only, "http3", false, "support HTTP/3 only (QUIC)")
	cmd.Flags().StringVar(&o.http1Impl, "http1-impl", registry.DefaultName, "named HTTP/1 protocol implementation")
	cmd.Flags().StringVar(&o.http2Impl, "http2-impl", registry.DefaultName, "named HTTP/2 protocol implementation")
	cmd.Flags().StringVar(&o.http3Impl, "http3-impl", registry.DefaultName, "named HTTP/3 protocol implementation")
	cmd.Flags().IntVar(&o.advertiseHTTP3Port, "advertise-http3", 0, "advertise HTTP/3 on this port via Alt-Svc on TCP responses")

	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		set := 0
		for _, b := range []bool{tcpOnly, http1Only, http2Only, http3Only} {
			if b {
				set++
			}
		}
		if set > 1 {
			return fmt.Errorf("--tcp, --http1, --http2 and --http3 are mutually exclusive")
		}
		switch {
		case tcpOnly:
			o.protocol = protoTCP
		case http1Only:
			o.protocol = protoHTTP1
		case http2Only:
			o.protocol = protoHTTP2
		case http3Only:
			o.protocol = protoHTTP3
		default:
			o.protocol = protoAll
		}
		return nil
	}
}

func newServerCommand() *cobra.Command {
	var o serverOptions

	cmd := &cobra.Command{
		Use:   "server ASGI_APP ENDPOINT...",
		Short: "run an HTTP server fronting an application callback",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(args[0])
			if err != nil {
				return err
			}
			if o.advertiseHTTP3Port > 0 {
				app = withAltSvc(app, o.advertiseHTTP3Port)
			}
			return runServer(cmd.Context(), &o, func(event.ErrorCodes) server.App { return app }, args[1:])
		},
	}
	o.bindProtocolFlags(cmd)
	return cmd
}

// runServer binds one listener per endpoint and serves appFor's App on
// every accepted connection, until ctx is cancelled or a listener fails to
// bind. appFor is invoked once per accepted connection with that
// connection's negotiated error-code table, since App callbacks like the
// CONNECT tunnel (server/tunnel.go) need the right table to reset a stream
// on (spec.md §4.10 step 3).
func runServer(ctx context.Context, o *serverOptions, appFor func(event.ErrorCodes) server.App, endpoints []string) error {
	log := logrus.NewEntry(logrus.StandardLogger())

	reg := registry.New()
	reg.LoadDefaults()

	var tlsCert *tls.Certificate
	if o.certFile != "" || o.keyFile != "" {
		cert, err := tls.LoadX509KeyPair(o.certFile, o.keyFile)
		if err != nil {
			return fmt.Errorf("server: loading TLS keypair: %w", err)
		}
		tlsCert = &cert
	}

	errc := make(chan error, len(endpoints))
	for _, raw := range endpoints {
		ep, err := endpoint.Parse(raw)
		if err != nil {
			return err
		}
		switch o.protocol {
		case protoHTTP3:
			go func(ep endpoint.Endpoint) {
				errc <- serveQUIC(ctx, ep, o, reg, tlsCert, appFor, log)
			}(ep)
		default:
			go func(ep endpoint.Endpoint) {
				errc <- serveTCP(ctx, ep, o, reg, tlsCert, appFor, log)
			}(ep)
		}
	}

	for range endpoints {
		if err := <-errc; err != nil {
			return err
		}
	}
	return nil
}

// serveTCP binds a plain or TLS TCP listener. With TLS configured and
// --tcp (or no forced version), both http/1.1 and h2 are offered via ALPN
// (spec.md §4.11); --http1/--http2 pin a single version and skip the
// selector entirely.
func serveTCP(ctx context.Context, ep endpoint.Endpoint, o *serverOptions, reg *registry.Registry, cert *tls.Certificate, appFor func(event.ErrorCodes) server.App, log *logrus.Entry) error {
	ln, err := net.Listen("tcp", ep.Addr())
	if err != nil {
		return fmt.Errorf("server: listening on %s: %w", ep.Addr(), err)
	}
	defer ln.Close()

	var selector *alpn.Selector
	if o.protocol == protoAll || o.protocol == protoTCP {
		selector = alpn.NewSelector(alpn.ProtoHTTP1,
			alpn.NewHTTP1Factory(proto.RoleServer),
			alpn.NewHTTP2Factory(proto.RoleServer))
	}

	var tlsConfig *tls.Config
	if cert != nil {
		tlsConfig = &tls.Config{Certificates: []tls.Certificate{*cert}}
		if selector != nil {
			tlsConfig.NextProtos = selector.ALPNProtocols()
		}
	}

	log.WithField("addr", ln.Addr()).Info("server: listening (tcp)")
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		raw, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go handleTCPConn(ctx, raw, o, reg, tlsConfig, selector, appFor, log)
	}
}

func handleTCPConn(ctx context.Context, raw net.Conn, o *serverOptions, reg *registry.Registry, tlsConfig *tls.Config, selector *alpn.Selector, appFor func(event.ErrorCodes) server.App, log *logrus.Entry) {
	var negotiated string
	c := raw
	if tlsConfig != nil {
		tc := tls.Server(raw, tlsConfig)
		if err := tc.HandshakeContext(ctx); err != nil {
			log.WithError(err).Debug("server: TLS handshake failed")
			raw.Close()
			return
		}
		negotiated = tc.ConnectionState().NegotiatedProtocol
		c = tc
	}

	p, err := protocolForTCP(o, reg, selector, negotiated)
	if err != nil {
		log.WithError(err).Debug("server: no usable protocol for connection")
		c.Close()
		return
	}

	d := tcpio.New(c, p, log)
	cn := conn.New(d, p)
	if err := cn.Open(); err != nil {
		log.WithError(err).Debug("server: open failed")
		c.Close()
		return
	}
	cc := server.NewConnectionController(cn, appFor(cn.ErrorCodes()), log)
	cc.Run(ctx)
}

func protocolForTCP(o *serverOptions, reg *registry.Registry, selector *alpn.Selector, negotiated string) (proto.ByteStreamProtocol, error) {
	switch o.protocol {
	case protoHTTP1:
		factory, ok := reg.Lookup(registry.HTTP1Servers, o.http1Impl)
		if !ok {
			return nil, fmt.Errorf("server: no http1 implementation named %q", o.http1Impl)
		}
		return asByteStream(factory)
	case protoHTTP2:
		factory, ok := reg.Lookup(registry.HTTP2Servers, o.http2Impl)
		if !ok {
			return nil, fmt.Errorf("server: no http2 implementation named %q", o.http2Impl)
		}
		return asByteStream(factory)
	default:
		return selector.NewProtocol(negotiated)
	}
}

func asByteStream(f registry.Factory) (proto.ByteStreamProtocol, error) {
	p, ok := f().(proto.ByteStreamProtocol)
	if !ok {
		return nil, fmt.Errorf("server: implementation is not a ByteStreamProtocol")
	}
	return p, nil
}

// serveQUIC binds a shared UDP socket and demultiplexes inbound datagrams
// by destination connection id (spec.md §4.7), spawning one HTTP/3
// connection controller per newly observed connection id.
func serveQUIC(ctx context.Context, ep endpoint.Endpoint, o *serverOptions, reg *registry.Registry, cert *tls.Certificate, appFor func(event.ErrorCodes) server.App, log *logrus.Entry) error {
	pc, err := net.ListenPacket("udp", ep.Addr())
	if err != nil {
		return fmt.Errorf("server: listening on %s: %w", ep.Addr(), err)
	}

	factory, ok := reg.Lookup(registry.HTTP3Servers, o.http3Impl)
	if !ok {
		pc.Close()
		return fmt.Errorf("server: no http3 implementation named %q", o.http3Impl)
	}

	demux := quicio.NewDemux(pc, func(stream *quicio.ConnStream) {
		p, ok := factory().(proto.DatagramProtocol)
		if !ok {
			stream.Close()
			return
		}
		d := quicio.New(stream, p, log)
		cn := conn.New(d, p)
		cc := server.NewConnectionController(cn, appFor(cn.ErrorCodes()), log)
		cc.Run(ctx)
	}, log)

	log.WithField("addr", pc.LocalAddr()).Info("server: listening (quic)")
	go func() {
		<-ctx.Done()
		demux.Close()
	}()

	err = demux.Serve()
	if ctx.Err() != nil {
		return nil
	}
	return err
}
