package server_test

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/ValentinKolb/dStream/rpc/client"
	"github.com/ValentinKolb/dStream/rpc/common"
	"github.com/ValentinKolb/dStream/rpc/protocol"
	"github.com/ValentinKolb/dStream/rpc/serializer"
	"github.com/ValentinKolb/dStream/rpc/server"
	"github.com/ValentinKolb/dStream/rpc/transport"
	"github.com/ValentinKolb/dStream/rpc/transport/tcp"
	"github.com/ValentinKolb/dStream/rpc/transport/unix"
	"github.com/ValentinKolb/dStream/rpc/transport/ws"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transportFactory struct {
	server   func() transport.IServerTransport
	client   func(common.TransportConfig) transport.ITransport
	endpoint func(t *testing.T) string
}

var testTransports = map[string]transportFactory{
	"TCP": {
		server:   tcp.NewTCPServerTransport,
		client:   tcp.NewTCPClientTransport,
		endpoint: func(*testing.T) string { return "127.0.0.1:0" },
	},
	"Unix": {
		server:   unix.NewUnixServerTransport,
		client:   unix.NewUnixClientTransport,
		endpoint: func(t *testing.T) string { return filepath.Join(t.TempDir(), "dstream.sock") },
	},
	"WS": {
		server:   ws.NewWSServerTransport,
		client:   ws.NewWSClientTransport,
		endpoint: func(*testing.T) string { return "127.0.0.1:0" },
	},
}

// upperHandler answers with the path and asks the client who it is for /callback
var upperHandler = protocol.RequestHandlerFunc(func(ctx context.Context, req *protocol.ReceiveRequest) (*protocol.StreamingResponse, error) {
	resp := protocol.NewResponse(http.StatusOK)

	if req.Path == "/callback" {
		session, ok := server.SessionFromContext(ctx)
		if !ok {
			return nil, errors.New("no session in context")
		}
		cb, err := session.Adapter().SendRequest(ctx, protocol.NewRequest("GET", "/whoami"))
		if err != nil {
			return nil, err
		}
		defer cb.Close()
		name, err := cb.Streams[0].ReadString(ctx)
		if err != nil {
			return nil, err
		}
		resp.SetBody("text/plain", []byte("hello "+name))
		return resp, nil
	}

	resp.SetBody("text/plain", []byte(req.Verb+" "+req.Path))
	return resp, nil
})

func startServer(t *testing.T, f transportFactory, handler protocol.RequestHandler) *server.Server {
	t.Helper()
	config := common.ServerConfig{
		Endpoint:  f.endpoint(t),
		Protocol:  common.DefaultProtocolConfig(),
		Transport: common.DefaultTransportConfig(),
	}
	s := server.NewServer(config, f.server(), serializer.NewBinarySerializer(), handler)
	require.NoError(t, s.Listen())

	go func() {
		assert.NoError(t, s.Serve())
	}()
	return s
}

func connect(t *testing.T, f transportFactory, s *server.Server, handler protocol.RequestHandler) *client.Client {
	t.Helper()
	config := common.ClientConfig{
		Endpoint:  s.Addr(),
		Protocol:  common.DefaultProtocolConfig(),
		Transport: common.DefaultTransportConfig(),
	}
	c, err := client.NewClient(config, f.client(config.Transport), serializer.NewBinarySerializer(), handler)
	require.NoError(t, err)
	return c
}

func TestServerRoundTrip(t *testing.T) {
	for name, f := range testTransports {
		t.Run(name, func(t *testing.T) {
			s := startServer(t, f, upperHandler)
			defer s.Close()

			c := connect(t, f, s, nil)
			defer c.Close()

			resp, err := c.SendRequest(context.Background(), protocol.NewRequest("GET", "/ping"))
			require.NoError(t, err)
			defer resp.Close()
			assert.Equal(t, http.StatusOK, resp.StatusCode)

			body, err := resp.Streams[0].ReadString(context.Background())
			require.NoError(t, err)
			assert.Equal(t, "GET /ping", body)

			require.Eventually(t, func() bool { return len(s.Sessions()) == 1 }, time.Second, 5*time.Millisecond)
		})
	}
}

func TestServerCallsClient(t *testing.T) {
	f := testTransports["TCP"]
	s := startServer(t, f, upperHandler)
	defer s.Close()

	c := connect(t, f, s, protocol.RequestHandlerFunc(func(ctx context.Context, req *protocol.ReceiveRequest) (*protocol.StreamingResponse, error) {
		resp := protocol.NewResponse(http.StatusOK)
		resp.SetBody("text/plain", []byte("client"))
		return resp, nil
	}))
	defer c.Close()

	// request from inside a handler
	resp, err := c.SendRequest(context.Background(), protocol.NewRequest("GET", "/callback"))
	require.NoError(t, err)
	body, err := resp.Streams[0].ReadString(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello client", body)

	// request from outside a handler
	require.Eventually(t, func() bool { return len(s.Sessions()) == 1 }, time.Second, 5*time.Millisecond)
	session := s.Sessions()[0]
	_, ok := s.Session(session.ID)
	assert.True(t, ok)

	resp, err = s.SendRequest(context.Background(), session, protocol.NewRequest("GET", "/whoami"))
	require.NoError(t, err)
	body, err = resp.Streams[0].ReadString(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "client", body)
}

func TestServerCloseDisconnectsClients(t *testing.T) {
	f := testTransports["TCP"]
	s := startServer(t, f, upperHandler)

	c := connect(t, f, s, nil)
	defer c.Close()
	require.Eventually(t, func() bool { return len(s.Sessions()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Close())
	assert.Empty(t, s.Sessions())

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client not disconnected")
	}
	_, err := c.SendRequest(context.Background(), protocol.NewRequest("GET", "/ping"))
	assert.True(t, errors.Is(err, common.ErrTransportClosed))
	assert.NoError(t, s.Close())
}

func TestSessionRemovedOnDisconnect(t *testing.T) {
	f := testTransports["TCP"]
	s := startServer(t, f, upperHandler)
	defer s.Close()

	c := connect(t, f, s, nil)
	require.Eventually(t, func() bool { return len(s.Sessions()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Close())
	require.Eventually(t, func() bool { return len(s.Sessions()) == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestServerInvalidConfig(t *testing.T) {
	s := server.NewServer(common.ServerConfig{}, tcp.NewTCPServerTransport(), serializer.NewJSONSerializer(), upperHandler)
	assert.Error(t, s.Serve())
}
