package protocol

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dStream/rpc/common"
	"github.com/ValentinKolb/dStream/rpc/serializer"
	"github.com/ValentinKolb/dStream/rpc/transport/base"
	"github.com/fortytw2/leaktest"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoHandler answers every request with its own streams
var echoHandler = RequestHandlerFunc(func(ctx context.Context, req *ReceiveRequest) (*StreamingResponse, error) {
	resp := NewResponse(http.StatusOK)
	for _, s := range req.Streams {
		b, err := s.ReadAll(ctx)
		if err != nil {
			return nil, err
		}
		resp.SetBody(s.ContentType, b)
	}
	return resp, nil
})

// blockingHandler blocks until the connection is gone
var blockingHandler = RequestHandlerFunc(func(ctx context.Context, req *ReceiveRequest) (*StreamingResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
})

// zeroReader is an endless source of zeros
type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

func closeAll(adapters ...*Adapter) {
	for _, a := range adapters {
		_ = a.Close()
	}
}

func TestPing(t *testing.T) {
	defer leaktest.Check(t)()

	client, server := adapterPair(t, nil, RequestHandlerFunc(func(ctx context.Context, req *ReceiveRequest) (*StreamingResponse, error) {
		assert.Equal(t, id42, req.ID)
		assert.Equal(t, "GET", req.Verb)
		assert.Equal(t, "/ping", req.Path)
		assert.Empty(t, req.Streams)
		return nil, nil
	}))
	defer closeAll(client, server)

	resp, err := client.Send(context.Background(), id42, NewRequest("GET", "/ping"), 0)
	require.NoError(t, err)
	assert.Equal(t, id42, resp.ID)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, resp.IsSuccess())
	assert.Empty(t, resp.Streams)

	stats := client.Stats().Snapshot()
	assert.Equal(t, int64(1), stats.RequestsSent)
	assert.Equal(t, int64(1), stats.RoundTripCount)
	assert.Equal(t, int64(1), server.Stats().Snapshot().RequestsHandled)
}

func TestEchoStreams(t *testing.T) {
	defer leaktest.Check(t)()

	client, server := adapterPair(t, nil, echoHandler)
	defer closeAll(client, server)

	bodies := [][]byte{
		[]byte("short"),
		{},
		bytes.Repeat([]byte("0123456789"), 2000), // several chunks
	}
	req := NewRequest("POST", "/echo")
	for _, b := range bodies {
		req.SetBody("application/octet-stream", b)
	}

	resp, err := client.SendRequest(context.Background(), req)
	require.NoError(t, err)
	defer resp.Close()
	require.Len(t, resp.Streams, len(bodies))

	got, err := ReadAllStreams(context.Background(), resp.Streams)
	require.NoError(t, err)
	for i := range bodies {
		assert.Equal(t, len(bodies[i]), len(got[i]), "stream %d", i)
		assert.True(t, bytes.Equal(bodies[i], got[i]), "stream %d", i)
		assert.Equal(t, "application/octet-stream", resp.Streams[i].ContentType)
	}
}

func TestJSONBody(t *testing.T) {
	defer leaktest.Check(t)()

	type item struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	client, server := adapterPair(t, nil, echoHandler)
	defer closeAll(client, server)

	req := NewRequest("PUT", "/items")
	require.NoError(t, req.SetJSONBody(item{Name: "apple", Count: 3}))

	resp, err := client.SendRequest(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, resp.Streams, 1)

	var got item
	require.NoError(t, resp.Streams[0].ReadJSON(context.Background(), &got))
	assert.Equal(t, item{Name: "apple", Count: 3}, got)
}

func TestConcurrentRequests(t *testing.T) {
	defer leaktest.Check(t)()

	client, server := adapterPair(t, nil, echoHandler)
	defer closeAll(client, server)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := bytes.Repeat([]byte(fmt.Sprintf("request-%02d;", i)), 500+i*50)

			req := NewRequest("POST", fmt.Sprintf("/echo/%d", i))
			req.SetBody("text/plain", body)

			resp, err := client.SendRequest(context.Background(), req)
			if !assert.NoError(t, err) {
				return
			}
			defer resp.Close()

			got, err := resp.Streams[0].ReadAll(context.Background())
			assert.NoError(t, err)
			assert.True(t, bytes.Equal(body, got), "request %d got a foreign body", i)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, client.Pending())
}

func TestBidirectionalRequests(t *testing.T) {
	defer leaktest.Check(t)()

	handler := func(name string) RequestHandler {
		return RequestHandlerFunc(func(ctx context.Context, req *ReceiveRequest) (*StreamingResponse, error) {
			resp := NewResponse(http.StatusOK)
			resp.SetBody("text/plain", []byte(name))
			return resp, nil
		})
	}
	client, server := adapterPair(t, handler("client"), handler("server"))
	defer closeAll(client, server)

	for _, tt := range []struct {
		from *Adapter
		want string
	}{{client, "server"}, {server, "client"}} {
		resp, err := tt.from.SendRequestAsync(context.Background(), NewRequest("GET", "/whoami")).Result()
		require.NoError(t, err)
		got, err := resp.Streams[0].ReadString(context.Background())
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestHandlerFailures(t *testing.T) {
	defer leaktest.Check(t)()

	client, server := adapterPair(t, nil, RequestHandlerFunc(func(ctx context.Context, req *ReceiveRequest) (*StreamingResponse, error) {
		switch req.Path {
		case "/error":
			return nil, errors.New("handler failed")
		case "/panic":
			panic("handler panicked")
		}
		return NewResponse(http.StatusNoContent), nil
	}))
	defer closeAll(client, server)

	for path, want := range map[string]int{
		"/error": http.StatusInternalServerError,
		"/panic": http.StatusInternalServerError,
		"/ok":    http.StatusNoContent,
	} {
		resp, err := client.SendRequest(context.Background(), NewRequest("GET", path))
		require.NoError(t, err, path)
		assert.Equal(t, want, resp.StatusCode, path)
	}

	// the client has no handler
	resp, err := server.SendRequest(context.Background(), NewRequest("GET", "/"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestRequestTimeout(t *testing.T) {
	defer leaktest.Check(t)()

	client, server := adapterPair(t, nil, blockingHandler)
	defer closeAll(client, server)

	_, err := client.Send(context.Background(), uuid.New(), NewRequest("GET", "/slow"), 50*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrRequestTimeout))
	assert.Equal(t, int64(1), client.Stats().Snapshot().Timeouts)
	assert.Equal(t, 0, client.Pending())
}

func TestDuplicateRequestID(t *testing.T) {
	defer leaktest.Check(t)()

	client, server := adapterPair(t, nil, blockingHandler)
	defer closeAll(client, server)

	go func() {
		_, _ = client.Send(context.Background(), id42, NewRequest("GET", "/slow"), 0)
	}()
	require.Eventually(t, func() bool { return client.Pending() == 1 }, time.Second, 5*time.Millisecond)

	_, err := client.Send(context.Background(), id42, NewRequest("GET", "/slow"), 0)
	assert.True(t, errors.Is(err, common.ErrDuplicateRequestID))
}

func TestTransportCloseFailsPending(t *testing.T) {
	defer leaktest.Check(t)()

	client, server := adapterPair(t, nil, blockingHandler)
	defer closeAll(client, server)

	const n = 5
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := client.SendRequest(context.Background(), NewRequest("GET", "/slow"))
			errs <- err
		}()
	}
	require.Eventually(t, func() bool { return client.Pending() == n }, time.Second, 5*time.Millisecond)

	// the peer goes away
	require.NoError(t, server.Transport().Close())

	for i := 0; i < n; i++ {
		select {
		case err := <-errs:
			assert.True(t, errors.Is(err, common.ErrTransportClosed), "got %v", err)
		case <-time.After(2 * time.Second):
			t.Fatal("pending request was not failed")
		}
	}

	<-client.Done()
	assert.True(t, errors.Is(client.Err(), common.ErrTransportClosed))

	_, err := client.SendRequest(context.Background(), NewRequest("GET", "/"))
	assert.True(t, errors.Is(err, common.ErrTransportClosed))
}

func TestCancelResponseStream(t *testing.T) {
	defer leaktest.Check(t)()

	client, server := adapterPair(t, nil, RequestHandlerFunc(func(ctx context.Context, req *ReceiveRequest) (*StreamingResponse, error) {
		resp := NewResponse(http.StatusOK)
		resp.AddStream("application/octet-stream", common.UnknownLength, zeroReader{})
		return resp, nil
	}))
	defer closeAll(client, server)

	resp, err := client.SendRequest(context.Background(), NewRequest("GET", "/endless"))
	require.NoError(t, err)
	require.Len(t, resp.Streams, 1)

	s := resp.Streams[0]
	_, err = s.Read(make([]byte, 1024))
	require.NoError(t, err)
	s.Cancel()

	_, err = s.Read(make([]byte, 1))
	assert.True(t, errors.Is(err, common.ErrStreamCancelled))

	// the server stops sending
	require.Eventually(t, func() bool {
		return server.Stats().Snapshot().StreamsCancelled == 1 && server.ops.Outgoing() == 0
	}, 2*time.Second, 5*time.Millisecond)

	// the connection is still usable
	resp, err = client.SendRequest(context.Background(), NewRequest("GET", "/again"))
	require.NoError(t, err)
	resp.Streams[0].Cancel()
}

func TestMalformedFrameClosesConnection(t *testing.T) {
	defer leaktest.Check(t)()

	c1, c2 := net.Pipe()
	defer c1.Close()
	a := NewAdapter(base.NewConnTransport(c2, common.TransportConfig{}), serializer.NewJSONSerializer(), echoHandler, testConfig())
	a.Start()
	defer a.Close()

	bad := EncodeHeader(Header{PayloadType: common.PayloadTypeRequest, ID: id42})
	bad[0] = '?'
	_, err := c1.Write(bad)
	require.NoError(t, err)

	select {
	case <-a.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection not closed after malformed frame")
	}
	assert.True(t, errors.Is(a.Err(), common.ErrUnknownPayloadType))
}

func TestInvalidRequestDescriptor(t *testing.T) {
	defer leaktest.Check(t)()

	client, server := adapterPair(t, nil, echoHandler)
	defer closeAll(client, server)

	p, err := client.requests.Register(id42)
	require.NoError(t, err)
	require.NoError(t, client.ops.sendChunked(common.PayloadTypeRequest, id42, []byte("{not json")))

	resp, err := client.requests.Await(context.Background(), p, time.Second)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCloseIsIdempotent(t *testing.T) {
	defer leaktest.Check(t)()

	client, server := adapterPair(t, nil, echoHandler)
	require.NoError(t, client.Close())
	require.NoError(t, client.Close())
	require.NoError(t, server.Close())

	<-server.Done()
	assert.True(t, errors.Is(server.Err(), common.ErrTransportClosed))
}

func TestLiveResponseStream(t *testing.T) {
	defer leaktest.Check(t)()

	pr, pw := io.Pipe()
	client, server := adapterPair(t, nil, RequestHandlerFunc(func(ctx context.Context, req *ReceiveRequest) (*StreamingResponse, error) {
		resp := NewResponse(http.StatusOK)
		resp.AddStream("text/plain", common.UnknownLength, pr)
		return resp, nil
	}))
	defer closeAll(client, server)
	defer pw.Close()

	go func() {
		_, _ = pw.Write([]byte("hello"))
	}()

	resp, err := client.SendRequest(context.Background(), NewRequest("GET", "/live"))
	require.NoError(t, err)
	require.Len(t, resp.Streams, 1)

	// the consumer sees the data before the producer finished
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	buf := make([]byte, 16)
	n, err := resp.Streams[0].ReadContext(ctx, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
	assert.False(t, resp.Streams[0].IsComplete())

	require.NoError(t, pw.Close())
	rest, err := resp.Streams[0].ReadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rest)
}

func TestOversizedRequestDescriptor(t *testing.T) {
	defer leaktest.Check(t)()

	client, server := adapterPair(t, nil, echoHandler)
	defer closeAll(client, server)

	p, err := client.requests.Register(id42)
	require.NoError(t, err)
	require.NoError(t, client.ops.sendChunked(common.PayloadTypeRequest, id42, make([]byte, common.MaxDescriptorLength+1)))

	resp, err := client.requests.Await(context.Background(), p, time.Second)
	require.NoError(t, err)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, 0, server.assemblers.Len())

	// the connection is still usable
	resp, err = client.SendRequest(context.Background(), NewRequest("GET", "/again"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCloseWhileRequestsArrive(t *testing.T) {
	defer leaktest.Check(t)()

	client, server := adapterPair(t, nil, echoHandler)
	defer client.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if err := client.ops.sendChunked(common.PayloadTypeRequest, uuid.New(), []byte(`{"verb":"GET","path":"/"}`)); err != nil {
				return
			}
		}
	}()

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, server.Close())
	assert.False(t, server.goHandler(func() { t.Error("handler started after close") }))
	wg.Wait()
}
