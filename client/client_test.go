package client_test

import (
	"context"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akamai/hface/client"
	"github.com/akamai/hface/conn"
	"github.com/akamai/hface/event"
	"github.com/akamai/hface/proto"
	"github.com/akamai/hface/proto1"
	"github.com/akamai/hface/server"
	"github.com/akamai/hface/transport/tcpio"
)

func echoApp(ctx context.Context, req *server.Request, w server.ResponseWriter) {
	body, _ := io.ReadAll(req.Body)
	if err := w.WriteHeader(200, nil); err != nil {
		return
	}
	if len(body) > 0 {
		w.Write(body)
	}
	w.Close()
}

// pipeOpener returns a client.Opener that always hands back the client end
// of a fresh net.Pipe, having already spun up a server.ConnectionController
// on the other end. Good enough to exercise Pool.Request end to end without
// a real socket.
func pipeOpener(t *testing.T) client.Opener {
	return func(ctx context.Context, origin client.Origin) (*conn.Conn, error) {
		clientRaw, serverRaw := net.Pipe()

		serverProto := proto1.New(proto.RoleServer)
		serverConn := conn.New(tcpio.New(serverRaw, serverProto, nil), serverProto)
		require.NoError(t, serverConn.Open())
		cc := server.NewConnectionController(serverConn, echoApp, nil)
		go cc.Run(context.Background())

		clientProto := proto1.New(proto.RoleClient)
		return conn.New(tcpio.New(clientRaw, clientProto, nil), clientProto), nil
	}
}

func TestPoolRequestRoundTrip(t *testing.T) {
	pool := client.New(pipeOpener(t), nil)

	origin := client.Origin{Scheme: "http", Host: "example.com", Port: 80}
	headers := event.HeaderList{
		{Name: ":method", Value: "POST"},
		{Name: ":scheme", Value: "http"},
		{Name: ":authority", Value: "example.com"},
		{Name: ":path", Value: "/"},
	}

	resp, err := pool.Request(context.Background(), origin, headers, strings.NewReader("ping"))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)

	body, err := io.ReadAll(resp.Body())
	require.NoError(t, err)
	assert.Equal(t, "ping", string(body))
}

func TestPoolRequestWithoutBody(t *testing.T) {
	pool := client.New(pipeOpener(t), nil)

	origin := client.Origin{Scheme: "http", Host: "example.com", Port: 80}
	headers := event.HeaderList{
		{Name: ":method", Value: "GET"},
		{Name: ":scheme", Value: "http"},
		{Name: ":authority", Value: "example.com"},
		{Name: ":path", Value: "/"},
	}

	resp, err := pool.Request(context.Background(), origin, headers, nil)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
}
