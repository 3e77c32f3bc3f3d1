package client_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dStream/rpc/client"
	"github.com/ValentinKolb/dStream/rpc/common"
	"github.com/ValentinKolb/dStream/rpc/protocol"
	"github.com/ValentinKolb/dStream/rpc/serializer"
	"github.com/ValentinKolb/dStream/rpc/server"
	"github.com/ValentinKolb/dStream/rpc/transport/tcp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// slowFirstHandler lets the first n requests time out and echoes the first stream afterwards
func slowFirstHandler(n int32, calls *atomic.Int32) protocol.RequestHandler {
	return protocol.RequestHandlerFunc(func(ctx context.Context, req *protocol.ReceiveRequest) (*protocol.StreamingResponse, error) {
		if calls.Add(1) <= n {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		resp := protocol.NewResponse(http.StatusOK)
		if len(req.Streams) > 0 {
			b, err := req.Streams[0].ReadAll(ctx)
			if err != nil {
				return nil, err
			}
			resp.SetBody("text/plain", b)
		}
		return resp, nil
	})
}

func setup(t *testing.T, handler protocol.RequestHandler, retries int) (*server.Server, *client.Client) {
	t.Helper()
	s := server.NewServer(common.ServerConfig{
		Endpoint: "127.0.0.1:0",
		Protocol: common.DefaultProtocolConfig(),
	}, tcp.NewTCPServerTransport(), serializer.NewJSONSerializer(), handler)
	require.NoError(t, s.Listen())
	go func() {
		_ = s.Serve()
	}()

	config := common.ClientConfig{
		Endpoint:   s.Addr(),
		RetryCount: retries,
		Protocol:   common.DefaultProtocolConfig(),
		Transport:  common.DefaultTransportConfig(),
	}
	config.Protocol.RequestTimeout = 100 * time.Millisecond

	c, err := client.NewClient(config, tcp.NewTCPClientTransport(config.Transport), serializer.NewJSONSerializer(), nil)
	require.NoError(t, err)
	return s, c
}

func TestRetryRewindsSeekableSource(t *testing.T) {
	var calls atomic.Int32
	s, c := setup(t, slowFirstHandler(2, &calls), 3)
	defer s.Close()
	defer c.Close()

	req := protocol.NewRequest("POST", "/upload")
	req.SetBody("text/plain", []byte("retry me"))
	firstID := req.Streams[0].ID

	resp, err := c.SendRequest(context.Background(), req)
	require.NoError(t, err)
	defer resp.Close()

	body, err := resp.Streams[0].ReadString(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "retry me", body)
	assert.Equal(t, int32(3), calls.Load())
	assert.NotEqual(t, firstID, req.Streams[0].ID)
}

func TestNoRetryForUnseekableSource(t *testing.T) {
	var calls atomic.Int32
	s, c := setup(t, slowFirstHandler(1, &calls), 3)
	defer s.Close()
	defer c.Close()

	req := protocol.NewRequest("POST", "/upload")
	req.AddStream("text/plain", common.UnknownLength, io.LimitReader(bytes.NewReader([]byte("once")), 4))

	_, err := c.SendRequest(context.Background(), req)
	assert.True(t, errors.Is(err, common.ErrRequestTimeout))
	assert.Equal(t, int32(1), calls.Load())
}

func TestRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	s, c := setup(t, slowFirstHandler(10, &calls), 2)
	defer s.Close()
	defer c.Close()

	_, err := c.SendRequest(context.Background(), protocol.NewRequest("GET", "/slow"))
	assert.True(t, errors.Is(err, common.ErrRequestTimeout))
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, int32(3), calls.Load())
}

func TestSendRequestAsync(t *testing.T) {
	var calls atomic.Int32
	s, c := setup(t, slowFirstHandler(0, &calls), 0)
	defer s.Close()
	defer c.Close()

	resp, err := c.SendRequestAsync(context.Background(), protocol.NewRequest("GET", "/")).Result()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNewClientErrors(t *testing.T) {
	_, err := client.NewClient(common.ClientConfig{}, tcp.NewTCPClientTransport(common.DefaultTransportConfig()), serializer.NewJSONSerializer(), nil)
	assert.Error(t, err)

	config := common.ClientConfig{Endpoint: "127.0.0.1:1", Protocol: common.DefaultProtocolConfig()}
	_, err = client.NewClient(config, tcp.NewTCPClientTransport(config.Transport), serializer.NewJSONSerializer(), nil)
	assert.Error(t, err)
}
