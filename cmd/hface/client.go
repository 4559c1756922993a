package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/akamai/hface/client"
	"github.com/akamai/hface/conn"
	"github.com/akamai/hface/event"
	"github.com/akamai/hface/proto"
	"github.com/akamai/hface/registry"
	"github.com/akamai/hface/transport/quicio"
	"github.com/akamai/hface/transport/tcpio"
)

type clientOptions struct {
	method     string
	data       string
	cacert     string
	insecure   bool
	http1      bool
	http2      bool
	http3      bool
	proxy      string
	proxyHTTP1 bool
	proxyHTTP2 bool
	proxyHTTP3 bool
	http1Impl  string
	http2Impl  string
	http3Impl  string
}

func newClientCommand() *cobra.Command {
	var o clientOptions

	cmd := &cobra.Command{
		Use:   "client URL...",
		Short: "issue one HTTP request per URL",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(cmd.Context(), &o, args)
		},
	}

	cmd.Flags().StringVarP(&o.method, "request", "X", "GET", "HTTP method")
	cmd.Flags().StringVarP(&o.data, "data", "d", "", "request body")
	cmd.Flags().StringVar(&o.cacert, "cacert", "", "CA bundle for server verification")
	cmd.Flags().BoolVarP(&o.insecure, "insecure", "k", false, "skip TLS certificate verification")
	cmd.Flags().BoolVar(&o.http1, "http1", false, "force HTTP/1.1")
	cmd.Flags().BoolVar(&o.http2, "http2", false, "force HTTP/2")
	cmd.Flags().BoolVar(&o.http3, "http3", false, "force HTTP/3")
	cmd.Flags().StringVar(&o.proxy, "proxy", "", "forward proxy endpoint")
	cmd.Flags().BoolVar(&o.proxyHTTP1, "proxy-http1", false, "speak HTTP/1.1 to the proxy")
	cmd.Flags().BoolVar(&o.proxyHTTP2, "proxy-http2", false, "speak HTTP/2 to the proxy")
	cmd.Flags().BoolVar(&o.proxyHTTP3, "proxy-http3", false, "speak HTTP/3 to the proxy")
	cmd.Flags().StringVar(&o.http1Impl, "http1-impl", registry.DefaultName, "named HTTP/1 protocol implementation")
	cmd.Flags().StringVar(&o.http2Impl, "http2-impl", registry.DefaultName, "named HTTP/2 protocol implementation")
	cmd.Flags().StringVar(&o.http3Impl, "http3-impl", registry.DefaultName, "named HTTP/3 protocol implementation")

	return cmd
}

func (o *clientOptions) version() string {
	switch {
	case o.http3:
		return "http3"
	case o.http2:
		return "http2"
	default:
		return "http1"
	}
}

// proxyVersion reports which protocol to speak to the forward proxy itself
// (spec.md §6's --proxy-http{1,2,3}, independent of --http{1,2,3} which
// governs the protocol spoken to the origin once tunneled).
func (o *clientOptions) proxyVersion() string {
	switch {
	case o.proxyHTTP3:
		return "http3"
	case o.proxyHTTP2:
		return "http2"
	default:
		return "http1"
	}
}

func (o *clientOptions) implName(version string) string {
	switch version {
	case "http2":
		return o.http2Impl
	case "http3":
		return o.http3Impl
	default:
		return o.http1Impl
	}
}

func runClient(ctx context.Context, o *clientOptions, urls []string) error {
	log := logrus.NewEntry(logrus.StandardLogger())

	reg := registry.New()
	reg.LoadDefaults()

	tlsConfig := &tls.Config{InsecureSkipVerify: o.insecure}
	if o.cacert != "" {
		roots, err := loadCACert(o.cacert)
		if err != nil {
			return err
		}
		tlsConfig.RootCAs = roots
	}

	version := o.version()
	pool := client.New(newOpener(version, o.implName(version), o.proxy, o.proxyVersion(), reg, tlsConfig, log), log)

	var body io.Reader
	if o.data != "" {
		body = strings.NewReader(o.data)
	}

	for _, raw := range urls {
		if err := doOne(ctx, pool, o, raw, body); err != nil {
			log.WithError(err).WithField("url", raw).Error("client: request failed")
			return err
		}
	}
	return nil
}

func doOne(ctx context.Context, pool *client.Pool, o *clientOptions, raw string, body io.Reader) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		if u.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("invalid port in %q: %w", raw, err)
	}

	origin := client.Origin{Scheme: u.Scheme, Host: host, Port: portNum}
	path := u.RequestURI()
	if path == "" {
		path = "/"
	}

	headers := event.HeaderList{
		{Name: ":method", Value: o.method},
		{Name: ":scheme", Value: u.Scheme},
		{Name: ":authority", Value: net.JoinHostPort(host, port)},
		{Name: ":path", Value: path},
	}

	resp, err := pool.Request(ctx, origin, headers, body)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "< HTTP status %d\n", resp.Status)
	_, err = io.Copy(os.Stdout, resp.Body())
	return err
}

func loadCACert(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("client: reading --cacert %q: %w", path, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("client: no certificates found in %q", path)
	}
	return pool, nil
}

func newOpener(version, implName, proxyAddr, proxyVersion string, reg *registry.Registry, tlsConfig *tls.Config, log *logrus.Entry) client.Opener {
	return func(ctx context.Context, origin client.Origin) (*conn.Conn, error) {
		if version == "http3" {
			if proxyAddr != "" {
				return nil, fmt.Errorf("client: --proxy is not supported with --http3")
			}
			stream, err := quicio.DialUDP(net.JoinHostPort(origin.Host, strconv.Itoa(origin.Port)))
			if err != nil {
				return nil, err
			}
			factory, ok := reg.Lookup(registry.HTTP3Clients, implName)
			if !ok {
				return nil, fmt.Errorf("client: no http3 implementation named %q", implName)
			}
			p, ok := factory().(proto.DatagramProtocol)
			if !ok {
				return nil, fmt.Errorf("client: http3 implementation %q is not a DatagramProtocol", implName)
			}
			d := quicio.New(stream, p, log)
			return conn.New(d, p), nil
		}

		addr := net.JoinHostPort(origin.Host, strconv.Itoa(origin.Port))
		var rawConn net.Conn
		var err error
		if proxyAddr != "" {
			switch proxyVersion {
			case "http3":
				return nil, fmt.Errorf("client: --proxy-http3 is not supported")
			case "http2":
				rawConn, err = dialViaProxyH2(ctx, proxyAddr, addr, log)
			default:
				rawConn, err = dialViaProxy(ctx, proxyAddr, addr)
			}
			if err != nil {
				return nil, err
			}
			if origin.Scheme == "https" {
				tc := tls.Client(rawConn, tlsConfig)
				if err := tc.HandshakeContext(ctx); err != nil {
					rawConn.Close()
					return nil, err
				}
				rawConn = tc
			}
		} else if origin.Scheme == "https" {
			dialer := &tls.Dialer{Config: tlsConfig}
			rawConn, err = dialer.DialContext(ctx, "tcp", addr)
		} else {
			var d net.Dialer
			rawConn, err = d.DialContext(ctx, "tcp", addr)
		}
		if err != nil {
			return nil, err
		}

		slot := registry.HTTP1Clients
		if version == "http2" {
			slot = registry.HTTP2Clients
		}
		factory, ok := reg.Lookup(slot, implName)
		if !ok {
			rawConn.Close()
			return nil, fmt.Errorf("client: no %s implementation named %q", version, implName)
		}
		p, ok := factory().(proto.ByteStreamProtocol)
		if !ok {
			rawConn.Close()
			return nil, fmt.Errorf("client: %s implementation %q is not a ByteStreamProtocol", version, implName)
		}
		d := tcpio.New(rawConn, p, log)
		return conn.New(d, p), nil
	}
}
