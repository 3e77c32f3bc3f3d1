package protocol

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/ValentinKolb/dStream/rpc/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStream(m *StreamManager, id uuid.UUID) *ContentStream {
	return m.Open(common.StreamDescription{ID: id.String(), ContentType: "text/plain", Length: common.UnknownLength})
}

func TestStreamReadBlocksUntilData(t *testing.T) {
	m := NewStreamManager(testConfig(), nil)
	id := uuid.New()
	s := openStream(m, id)

	read := make(chan string, 1)
	go func() {
		buf := make([]byte, 16)
		n, _ := s.Read(buf)
		read <- string(buf[:n])
	}()

	select {
	case <-read:
		t.Fatal("read returned without data")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, m.Append(id, []byte("abc")))
	select {
	case got := <-read:
		assert.Equal(t, "abc", got)
	case <-time.After(time.Second):
		t.Fatal("read did not wake up")
	}
}

func TestStreamDataBeforeOpen(t *testing.T) {
	m := NewStreamManager(testConfig(), nil)
	id := uuid.New()

	require.NoError(t, m.Append(id, []byte("early ")))
	require.NoError(t, m.Append(id, []byte("bird")))
	m.Complete(id)

	s := openStream(m, id)
	got, err := s.ReadString(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "early bird", got)

	// the fully read stream is removed from the registry
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, int64(0), m.Buffered())
}

func TestStreamEOF(t *testing.T) {
	m := NewStreamManager(testConfig(), nil)
	id := uuid.New()
	s := openStream(m, id)
	m.Complete(id)

	n, err := s.Read(make([]byte, 4))
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)
	assert.True(t, s.IsComplete())
}

func TestStreamAppendAfterComplete(t *testing.T) {
	m := NewStreamManager(testConfig(), nil)
	id := uuid.New()
	s := openStream(m, id)

	require.NoError(t, m.Append(id, []byte("all")))
	m.Complete(id)

	err := m.Append(id, []byte("more"))
	assert.True(t, errors.Is(err, common.ErrUnknownStreamID))
	assert.Equal(t, int64(3), m.Buffered())

	got, err := s.ReadString(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "all", got)
}

func TestStreamFailDiscardsData(t *testing.T) {
	m := NewStreamManager(testConfig(), nil)
	id := uuid.New()
	s := openStream(m, id)

	require.NoError(t, m.Append(id, []byte("lost")))
	assert.Equal(t, int64(4), m.Buffered())

	assert.True(t, m.Fail(id, errors.Wrap(common.ErrIncompleteStream, "test")))
	assert.False(t, m.Fail(id, common.ErrIncompleteStream))
	assert.Equal(t, int64(0), m.Buffered())

	_, err := s.Read(make([]byte, 4))
	assert.True(t, errors.Is(err, common.ErrIncompleteStream))
}

func TestStreamReadContextCancel(t *testing.T) {
	m := NewStreamManager(testConfig(), nil)
	s := openStream(m, uuid.New())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.ReadContext(ctx, make([]byte, 4))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestStreamInvalidID(t *testing.T) {
	m := NewStreamManager(testConfig(), nil)
	s := m.Open(common.StreamDescription{ID: "not-a-uuid"})

	_, err := s.Read(make([]byte, 1))
	assert.True(t, errors.Is(err, common.ErrUnknownStreamID))
	assert.Equal(t, 0, m.Len())
}

func TestStreamBackpressure(t *testing.T) {
	conf := testConfig()
	conf.MaxBufferedBytes = 8
	conf.BackpressureTimeout = 2 * time.Second
	m := NewStreamManager(conf, nil)

	id := uuid.New()
	s := openStream(m, id)
	require.NoError(t, m.Append(id, []byte("12345678")))

	appended := make(chan error, 1)
	go func() {
		appended <- m.Append(id, []byte("9"))
	}()

	select {
	case <-appended:
		t.Fatal("append did not block on a full buffer")
	case <-time.After(50 * time.Millisecond):
	}

	// reading frees space and unblocks the append
	buf := make([]byte, 4)
	n, err := s.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	select {
	case err := <-appended:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("append still blocked after read")
	}
}

func TestStreamBufferLimit(t *testing.T) {
	conf := testConfig()
	conf.MaxBufferedBytes = 4
	conf.BackpressureTimeout = 30 * time.Millisecond
	m := NewStreamManager(conf, nil)

	id := uuid.New()
	s := openStream(m, id)

	// a single oversized append is allowed if nothing is buffered
	require.NoError(t, m.Append(id, []byte("123456")))

	err := m.Append(id, []byte("7"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrBufferLimit))

	_, err = s.Read(make([]byte, 8))
	assert.True(t, errors.Is(err, common.ErrBufferLimit))
	assert.Equal(t, int64(0), m.Buffered())
}

func TestStreamCancelNotifiesOnlyIncomplete(t *testing.T) {
	var cancelled []uuid.UUID
	m := NewStreamManager(testConfig(), func(id uuid.UUID) {
		cancelled = append(cancelled, id)
	})

	open, done := uuid.New(), uuid.New()
	openStream(m, open).Cancel()

	m.Complete(done)
	openStream(m, done).Discard()

	assert.Equal(t, []uuid.UUID{open}, cancelled)
	assert.Equal(t, 0, m.Len())
}

func TestStreamExpireUnclaimed(t *testing.T) {
	m := NewStreamManager(testConfig(), nil)
	claimed, unclaimed := uuid.New(), uuid.New()

	openStream(m, claimed)
	require.NoError(t, m.Append(unclaimed, []byte("x")))

	expired := m.ExpireUnclaimed(time.Now().Add(time.Second))
	assert.Equal(t, []uuid.UUID{unclaimed}, expired)
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, int64(0), m.Buffered())
}

func TestFailAllStopsBlockedAppend(t *testing.T) {
	conf := testConfig()
	conf.MaxBufferedBytes = 1
	m := NewStreamManager(conf, nil)
	id := uuid.New()
	require.NoError(t, m.Append(id, []byte("a")))

	appended := make(chan error, 1)
	go func() {
		appended <- m.Append(id, []byte("b"))
	}()
	time.Sleep(20 * time.Millisecond)
	m.FailAll(common.ErrTransportClosed)

	select {
	case err := <-appended:
		assert.True(t, errors.Is(err, common.ErrTransportClosed))
	case <-time.After(time.Second):
		t.Fatal("append still blocked after FailAll")
	}
}

func TestReadAllStreams(t *testing.T) {
	m := NewStreamManager(testConfig(), nil)
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	streams := make([]*ContentStream, len(ids))
	for i, id := range ids {
		streams[i] = openStream(m, id)
	}

	// complete in reverse order, the result keeps the stream order
	for i := len(ids) - 1; i >= 0; i-- {
		require.NoError(t, m.Append(ids[i], []byte{byte('a' + i)}))
		m.Complete(ids[i])
	}

	got, err := ReadAllStreams(context.Background(), streams)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, got)
}
