package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/akamai/hface/conn"
	"github.com/akamai/hface/event"
	"github.com/akamai/hface/proto"
	"github.com/akamai/hface/proto2"
	"github.com/akamai/hface/transport/tcpio"
)

// bufConn lets a net.Conn keep using a bufio.Reader that peeked past a
// raw CONNECT response's blank line into the start of the tunneled bytes.
type bufConn struct {
	net.Conn
	r *bufio.Reader
}

func (b *bufConn) Read(p []byte) (int, error) { return b.r.Read(p) }

// dialViaProxy opens targetAddr through a forward proxy at proxyAddr using
// a raw HTTP/1.1 CONNECT handshake (spec.md §6's --proxy option). This is
// bootstrapping plumbing to reach the real connection, not itself routed
// through the sans-I/O engine — the engine's own proto1/conn machinery
// takes over on the returned net.Conn for the tunneled traffic.
func dialViaProxy(ctx context.Context, proxyAddr, targetAddr string) (net.Conn, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("client: dialing proxy %s: %w", proxyAddr, err)
	}

	req := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\n\r\n", targetAddr, targetAddr)
	if _, err := c.Write([]byte(req)); err != nil {
		c.Close()
		return nil, fmt.Errorf("client: writing CONNECT to proxy: %w", err)
	}

	br := bufio.NewReader(c)
	statusLine, err := br.ReadString('\n')
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("client: reading proxy CONNECT response: %w", err)
	}
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("client: reading proxy CONNECT headers: %w", err)
		}
		if line == "\r\n" || line == "\n" {
			break
		}
	}
	if !strings.Contains(statusLine, " 200") {
		c.Close()
		return nil, fmt.Errorf("client: proxy CONNECT to %s failed: %s", targetAddr, strings.TrimSpace(statusLine))
	}

	return &bufConn{Conn: c, r: br}, nil
}

// dialViaProxyH2 opens targetAddr through a forward proxy at proxyAddr using
// an HTTP/2 CONNECT stream (spec.md §6's --proxy-http2), routed through the
// engine's own proto2 state machine rather than hand-rolled framing. The
// single resulting stream is adapted to a net.Conn so the caller's normal
// TLS-then-protocol dial logic can run over it unmodified, same as the
// --proxy-http1 path's bufConn.
func dialViaProxyH2(ctx context.Context, proxyAddr, targetAddr string, log *logrus.Entry) (net.Conn, error) {
	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("client: dialing proxy %s: %w", proxyAddr, err)
	}

	p := proto2.New(proto.RoleClient)
	drv := tcpio.New(raw, p, log)
	c := conn.New(drv, p)
	if err := c.Open(); err != nil {
		raw.Close()
		return nil, fmt.Errorf("client: opening http2 connection to proxy %s: %w", proxyAddr, err)
	}

	sid, err := c.GetAvailableStreamID()
	if err != nil {
		c.Close()
		return nil, err
	}
	err = c.SendHeaders(sid, event.HeaderList{
		{Name: ":method", Value: "CONNECT"},
		{Name: ":authority", Value: targetAddr},
	}, false)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("client: sending CONNECT to proxy %s: %w", proxyAddr, err)
	}

	sc := &streamConn{conn: c, id: sid, local: raw.LocalAddr(), remote: raw.RemoteAddr()}
	status, err := sc.awaitHeaders()
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("client: reading CONNECT response from proxy %s: %w", proxyAddr, err)
	}
	if status != "200" {
		c.Close()
		return nil, fmt.Errorf("client: proxy CONNECT to %s failed: status %s", targetAddr, status)
	}

	return sc, nil
}

// streamConn adapts one stream of a conn.Conn into a net.Conn, so a single
// HTTP/2 CONNECT tunnel can stand in for the raw socket the rest of the CLI
// dial path expects (TLS handshake, then another proto engine on top).
// It owns the whole underlying conn.Conn exclusively — fine for a tunnel
// that carries exactly one stream for its entire lifetime.
type streamConn struct {
	conn   *conn.Conn
	id     uint64
	local  net.Addr
	remote net.Addr

	mu      sync.Mutex
	buf     []byte
	readErr error
}

func (s *streamConn) awaitHeaders() (string, error) {
	for {
		ev, err := s.conn.ReceiveEvent()
		if err != nil {
			return "", err
		}
		switch e := ev.(type) {
		case event.HeadersReceived:
			if e.StreamID() != s.id {
				continue
			}
			status, _ := e.Headers.Pseudo("status")
			if e.EndStream {
				s.mu.Lock()
				s.readErr = io.EOF
				s.mu.Unlock()
			}
			return status, nil
		case event.StreamResetReceived:
			if e.StreamID() == s.id {
				return "", fmt.Errorf("stream reset by proxy: error %#x", e.ErrorCode)
			}
		case event.ConnectionTerminated:
			return "", fmt.Errorf("connection to proxy terminated: error %#x", e.ErrorCode)
		}
	}
}

func (s *streamConn) Read(p []byte) (int, error) {
	s.mu.Lock()
	for len(s.buf) == 0 && s.readErr == nil {
		s.mu.Unlock()
		ev, err := s.conn.ReceiveEvent()
		s.mu.Lock()
		if err != nil {
			s.readErr = err
			break
		}
		switch e := ev.(type) {
		case event.DataReceived:
			if e.StreamID() != s.id {
				continue
			}
			s.buf = append(s.buf, e.Data...)
			if e.EndStream {
				s.readErr = io.EOF
			}
		case event.StreamResetReceived:
			if e.StreamID() == s.id {
				s.readErr = fmt.Errorf("stream reset by proxy: error %#x", e.ErrorCode)
			}
		case event.ConnectionTerminated:
			s.readErr = fmt.Errorf("connection to proxy terminated: error %#x", e.ErrorCode)
		}
	}
	if len(s.buf) == 0 {
		err := s.readErr
		s.mu.Unlock()
		return 0, err
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	s.mu.Unlock()
	return n, nil
}

func (s *streamConn) Write(p []byte) (int, error) {
	if err := s.conn.SendData(s.id, p, false); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *streamConn) Close() error {
	s.conn.SendStreamReset(s.id, 0)
	return s.conn.Close()
}

func (s *streamConn) LocalAddr() net.Addr  { return s.local }
func (s *streamConn) RemoteAddr() net.Addr { return s.remote }

// SetDeadline and its halves are unsupported: the stream-level tunnel has no
// way to interrupt a single in-flight ReceiveEvent on the shared conn.Conn.
func (s *streamConn) SetDeadline(time.Time) error      { return fmt.Errorf("streamConn: deadlines not supported") }
func (s *streamConn) SetReadDeadline(time.Time) error  { return fmt.Errorf("streamConn: deadlines not supported") }
func (s *streamConn) SetWriteDeadline(time.Time) error { return fmt.Errorf("streamConn: deadlines not supported") }
