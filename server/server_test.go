package server_test

import (
	"context"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akamai/hface/conn"
	"github.com/akamai/hface/event"
	"github.com/akamai/hface/proto"
	"github.com/akamai/hface/proto1"
	"github.com/akamai/hface/server"
	"github.com/akamai/hface/transport/tcpio"
)

func echoApp(ctx context.Context, req *server.Request, w server.ResponseWriter) {
	body, _ := io.ReadAll(req.Body)
	headers := event.HeaderList{{Name: "x-echo-method", Value: req.Method}}
	if err := w.WriteHeader(200, headers); err != nil {
		return
	}
	if len(body) > 0 {
		w.Write(body)
	}
	w.Close()
}

func TestConnectionControllerDispatchesToApp(t *testing.T) {
	clientRaw, serverRaw := net.Pipe()
	defer clientRaw.Close()
	defer serverRaw.Close()

	clientProto := proto1.New(proto.RoleClient)
	serverProto := proto1.New(proto.RoleServer)

	clientConn := conn.New(tcpio.New(clientRaw, clientProto, nil), clientProto)
	serverConn := conn.New(tcpio.New(serverRaw, serverProto, nil), serverProto)
	require.NoError(t, clientConn.Open())
	require.NoError(t, serverConn.Open())

	cc := server.NewConnectionController(serverConn, echoApp, nil)
	go cc.Run(context.Background())

	sid, err := clientConn.GetAvailableStreamID()
	require.NoError(t, err)
	require.NoError(t, clientConn.SendHeaders(sid, event.HeaderList{
		{Name: ":method", Value: "POST"},
		{Name: ":scheme", Value: "http"},
		{Name: ":authority", Value: "example.com"},
		{Name: ":path", Value: "/"},
	}, false))
	require.NoError(t, clientConn.SendData(sid, []byte("ping"), true))

	ev, err := clientConn.ReceiveEvent()
	require.NoError(t, err)
	hr := ev.(event.HeadersReceived)
	v, _ := hr.Headers.Get("x-echo-method")
	assert.Equal(t, "POST", v)

	ev, err = clientConn.ReceiveEvent()
	require.NoError(t, err)
	dr := ev.(event.DataReceived)
	assert.Equal(t, "ping", string(dr.Data))
	if !dr.EndStream {
		// ResponseWriter.Close sends end_stream in a write of its own after
		// the body write, so the end can arrive as a separate empty event.
		ev, err = clientConn.ReceiveEvent()
		require.NoError(t, err)
		dr = ev.(event.DataReceived)
		assert.Empty(t, dr.Data)
	}
	assert.True(t, dr.EndStream)
}

func TestConnectHandlerRejectsNonConnectMethod(t *testing.T) {
	clientRaw, serverRaw := net.Pipe()
	defer clientRaw.Close()
	defer serverRaw.Close()

	clientProto := proto1.New(proto.RoleClient)
	serverProto := proto1.New(proto.RoleServer)

	clientConn := conn.New(tcpio.New(clientRaw, clientProto, nil), clientProto)
	serverConn := conn.New(tcpio.New(serverRaw, serverProto, nil), serverProto)
	require.NoError(t, clientConn.Open())
	require.NoError(t, serverConn.Open())

	app := server.ConnectHandler(nil, event.HTTP1ErrorCodes, nil)
	cc := server.NewConnectionController(serverConn, app, nil)
	go cc.Run(context.Background())

	sid, _ := clientConn.GetAvailableStreamID()
	require.NoError(t, clientConn.SendHeaders(sid, event.HeaderList{
		{Name: ":method", Value: "GET"},
		{Name: ":scheme", Value: "http"},
		{Name: ":authority", Value: "example.com"},
		{Name: ":path", Value: "/"},
	}, true))

	ev, err := clientConn.ReceiveEvent()
	require.NoError(t, err)
	hr := ev.(event.HeadersReceived)
	status, _ := hr.Headers.Pseudo("status")
	assert.Equal(t, "405", status)
}
