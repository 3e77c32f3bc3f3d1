package protocol

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/ValentinKolb/dStream/rpc/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type receivedFrame struct {
	header  Header
	payload []byte
}

func collect(frames *[]receivedFrame) ChunkHandler {
	return func(h Header, payload []byte) error {
		*frames = append(*frames, receivedFrame{header: h, payload: payload})
		return nil
	}
}

func testStream() ([]byte, []receivedFrame) {
	a, b := uuid.New(), uuid.New()
	want := []receivedFrame{
		{Header{PayloadType: common.PayloadTypeRequest, ID: a, PayloadLength: 5}, []byte("hello")},
		{Header{PayloadType: common.PayloadTypeStream, ID: b, PayloadLength: 0, End: true}, nil},
		{Header{PayloadType: common.PayloadTypeRequest, ID: a, PayloadLength: 6, End: true}, []byte(" world")},
		{Header{PayloadType: common.PayloadTypeCancelAll, End: true}, nil},
	}

	var buf bytes.Buffer
	for _, f := range want {
		buf.Write(frame(f.header.PayloadType, f.header.ID, f.header.End, f.payload))
	}
	return buf.Bytes(), want
}

func TestReceiverSingleFeed(t *testing.T) {
	data, want := testStream()

	var got []receivedFrame
	r := NewPayloadReceiver(collect(&got))
	require.NoError(t, r.Feed(data))
	assert.Equal(t, want, got)
}

func TestReceiverByteByByte(t *testing.T) {
	data, want := testStream()

	var got []receivedFrame
	r := NewPayloadReceiver(collect(&got))
	for i := range data {
		require.NoError(t, r.Feed(data[i:i+1]))
	}
	assert.Equal(t, want, got)
}

func TestReceiverRandomSplits(t *testing.T) {
	data, want := testStream()
	rnd := rand.New(rand.NewSource(1))

	for run := 0; run < 50; run++ {
		var got []receivedFrame
		r := NewPayloadReceiver(collect(&got))

		rest := data
		for len(rest) > 0 {
			n := 1 + rnd.Intn(len(rest))
			require.NoError(t, r.Feed(rest[:n]))
			rest = rest[n:]
		}
		assert.Equal(t, want, got)
	}
}

func TestReceiverStickyError(t *testing.T) {
	var got []receivedFrame
	r := NewPayloadReceiver(collect(&got))

	bad := EncodeHeader(Header{PayloadType: common.PayloadTypeStream, ID: id42})
	bad[0] = 'Q'

	err := r.Feed(bad)
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrUnknownPayloadType))

	// even valid frames are rejected afterwards
	err = r.Feed(frame(common.PayloadTypeCancelAll, uuid.Nil, true, nil))
	assert.True(t, errors.Is(err, common.ErrUnknownPayloadType))
	assert.Equal(t, err, r.Err())
	assert.Empty(t, got)
}

func TestReceiverHandlerError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	r := NewPayloadReceiver(func(Header, []byte) error {
		calls++
		return boom
	})

	data, _ := testStream()
	assert.Equal(t, boom, r.Feed(data))
	assert.Equal(t, 1, calls)
}
