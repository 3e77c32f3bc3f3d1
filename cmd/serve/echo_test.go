package serve

import (
	"context"
	"net"
	"testing"

	"github.com/ValentinKolb/dStream/rpc/common"
	"github.com/ValentinKolb/dStream/rpc/protocol"
	"github.com/ValentinKolb/dStream/rpc/serializer"
	"github.com/ValentinKolb/dStream/rpc/transport/base"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEchoHandler(t *testing.T) {
	c1, c2 := net.Pipe()
	s := serializer.NewGOBSerializer()
	client := protocol.NewAdapter(base.NewConnTransport(c1, common.TransportConfig{}), s, nil, common.DefaultProtocolConfig())
	server := protocol.NewAdapter(base.NewConnTransport(c2, common.TransportConfig{}), s, EchoHandler, common.DefaultProtocolConfig())
	client.Start()
	server.Start()
	defer server.Close()
	defer client.Close()

	req := protocol.NewRequest("POST", "/things")
	req.SetBody("text/plain", []byte("first"))
	req.SetBody("application/octet-stream", []byte{1, 2, 3})

	resp, err := client.SendRequest(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, resp.Streams, 3)

	bodies, err := protocol.ReadAllStreams(context.Background(), resp.Streams)
	require.NoError(t, err)

	assert.Equal(t, EchoContentType, resp.Streams[0].ContentType)
	assert.Equal(t, "POST /things", string(bodies[0]))
	assert.Equal(t, "first", string(bodies[1]))
	assert.Equal(t, []byte{1, 2, 3}, bodies[2])
	assert.Equal(t, "application/octet-stream", resp.Streams[2].ContentType)
}
