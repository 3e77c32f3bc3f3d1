package protocol

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dStream/rpc/common"
	"github.com/ValentinKolb/dStream/rpc/serializer"
	"github.com/ValentinKolb/dStream/rpc/transport"
	"github.com/ValentinKolb/dStream/rpc/transport/base"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var id42 = uuid.MustParse("00000000-0000-0000-0000-000000000042")

// testConfig returns a protocol config with short timeouts
func testConfig() common.ProtocolConfig {
	conf := common.DefaultProtocolConfig()
	conf.RequestTimeout = 2 * time.Second
	conf.IdleStreamTimeout = time.Second
	conf.BackpressureTimeout = time.Second
	return conf
}

// frame encodes a complete frame
func frame(t common.PayloadType, id uuid.UUID, end bool, payload []byte) []byte {
	h := Header{PayloadType: t, PayloadLength: uint32(len(payload)), ID: id, End: end}
	return append(EncodeHeader(h), payload...)
}

// recordingTransport is a connected transport that records every write
type recordingTransport struct {
	mu     sync.Mutex
	writes [][]byte
	fail   error
	events chan transport.Event
	closed bool
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{events: make(chan transport.Event)}
}

func (r *recordingTransport) Connect(string) error { return nil }

func (r *recordingTransport) Write(b []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.writes = append(r.writes, append([]byte(nil), b...))
	return nil
}

func (r *recordingTransport) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.events)
	}
	return nil
}

func (r *recordingTransport) Events() <-chan transport.Event { return r.events }
func (r *recordingTransport) IsConnected() bool              { return true }
func (r *recordingTransport) RemoteAddr() string             { return "recorder" }

// headers decodes the headers of all recorded frames
func (r *recordingTransport) headers(t *testing.T) []Header {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()

	hs := make([]Header, 0, len(r.writes))
	for _, w := range r.writes {
		h, err := DecodeHeader(w)
		require.NoError(t, err)
		require.Len(t, w, HeaderSize+int(h.PayloadLength))
		hs = append(hs, h)
	}
	return hs
}

// adapterPair connects two adapters with net.Pipe and starts both
func adapterPair(t *testing.T, clientHandler, serverHandler RequestHandler) (client, server *Adapter) {
	t.Helper()
	c1, c2 := net.Pipe()
	s := serializer.NewJSONSerializer()

	client = NewAdapter(base.NewConnTransport(c1, common.TransportConfig{}), s, clientHandler, testConfig())
	server = NewAdapter(base.NewConnTransport(c2, common.TransportConfig{}), s, serverHandler, testConfig())
	client.Start()
	server.Start()
	return client, server
}
