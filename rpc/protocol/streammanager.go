package protocol

import (
	"sync"
	"time"

	"github.com/ValentinKolb/dStream/rpc/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Stream Buffer
// --------------------------------------------------------------------------

// streamBuffer is the live buffer of one incoming content stream.
// Frames are appended by the receive loop, a single reader consumes them.
type streamBuffer struct {
	id  uuid.UUID
	mgr *StreamManager

	mu           sync.Mutex
	chunks       [][]byte
	buffered     int64
	complete     bool
	err          error
	claimed      bool // a descriptor referenced the stream
	removed      bool
	lastActivity time.Time
	notify       chan struct{} // closed and replaced on every change
}

func newStreamBuffer(id uuid.UUID, mgr *StreamManager) *streamBuffer {
	return &streamBuffer{
		id:           id,
		mgr:          mgr,
		lastActivity: time.Now(),
		notify:       make(chan struct{}),
	}
}

// signal wakes up a waiting reader. Must be called with mu held.
func (b *streamBuffer) signal() {
	close(b.notify)
	b.notify = make(chan struct{})
}

// fail discards all buffered bytes and stores err for the reader.
// Returns false if the stream already failed.
func (b *streamBuffer) fail(err error) bool {
	b.mu.Lock()
	if b.err != nil {
		b.mu.Unlock()
		return false
	}
	b.err = err
	freed := b.buffered
	b.chunks = nil
	b.buffered = 0
	b.signal()
	b.mu.Unlock()

	b.mgr.release(freed)
	return true
}

// --------------------------------------------------------------------------
// Stream Manager
// --------------------------------------------------------------------------

// StreamManager is the registry of all incoming content streams of a connection.
//
// The bytes buffered for all streams are capped by ProtocolConfig.MaxBufferedBytes.
// An append that does not fit blocks until a reader frees space. If no space is freed
// within ProtocolConfig.BackpressureTimeout the stream fails with common.ErrBufferLimit.
type StreamManager struct {
	streams             *xsync.MapOf[uuid.UUID, *streamBuffer]
	maxBuffered         int64
	backpressureTimeout time.Duration
	onCancel            func(id uuid.UUID)

	spaceMu  sync.Mutex
	buffered int64
	space    chan struct{} // closed and replaced whenever space was freed

	closed    chan struct{}
	closeOnce sync.Once
}

// NewStreamManager creates a new stream manager. onCancel is called if a reader
// cancels a stream that is not complete yet, so the peer can be told to stop sending.
func NewStreamManager(conf common.ProtocolConfig, onCancel func(id uuid.UUID)) *StreamManager {
	return &StreamManager{
		streams:             xsync.NewMapOf[uuid.UUID, *streamBuffer](),
		maxBuffered:         conf.MaxBufferedBytes,
		backpressureTimeout: conf.BackpressureTimeout,
		onCancel:            onCancel,
		space:               make(chan struct{}),
		closed:              make(chan struct{}),
	}
}

// Open returns the reader side of the stream described by desc and marks the stream as claimed.
// The stream may or may not have received data already.
func (m *StreamManager) Open(desc common.StreamDescription) *ContentStream {
	id, err := uuid.Parse(desc.ID)
	if err != nil {
		// a stream with an invalid id can never receive data
		b := newStreamBuffer(uuid.Nil, m)
		b.err = errors.Wrapf(common.ErrUnknownStreamID, "invalid stream id %q", desc.ID)
		return newContentStream(desc, uuid.Nil, b)
	}

	b := m.get(id)
	b.mu.Lock()
	b.claimed = true
	b.mu.Unlock()
	return newContentStream(desc, id, b)
}

// Append appends data to the stream with the given id. It blocks while the buffer limit is
// reached and fails the stream with common.ErrBufferLimit if no space is freed in time.
// Data for a stream that already failed or completed is dropped with an error.
func (m *StreamManager) Append(id uuid.UUID, data []byte) error {
	n := int64(len(data))
	if n > 0 {
		if err := m.reserve(n); err != nil {
			m.Fail(id, err)
			return err
		}
	}

	b := m.get(id)
	b.mu.Lock()
	if b.err != nil || b.complete || b.removed {
		err := b.err
		if err == nil {
			err = errors.Wrapf(common.ErrUnknownStreamID, "stream %s is already complete", id)
		}
		b.mu.Unlock()
		m.release(n)
		return err
	}
	if n > 0 {
		b.chunks = append(b.chunks, data)
		b.buffered += n
	}
	b.lastActivity = time.Now()
	b.signal()
	b.mu.Unlock()
	return nil
}

// Complete marks the stream as complete, the reader gets io.EOF after the buffered bytes
func (m *StreamManager) Complete(id uuid.UUID) {
	b := m.get(id)
	b.mu.Lock()
	if b.err == nil {
		b.complete = true
		b.lastActivity = time.Now()
		b.signal()
	}
	b.mu.Unlock()
}

// Fail fails the stream with err, buffered bytes are discarded.
// Returns false if the stream is unknown or already failed.
func (m *StreamManager) Fail(id uuid.UUID, err error) bool {
	b, ok := m.streams.Load(id)
	if !ok {
		return false
	}
	return b.fail(err)
}

// FailAll fails every stream with err and rejects all later appends
func (m *StreamManager) FailAll(err error) {
	m.closeOnce.Do(func() {
		close(m.closed)
	})
	m.streams.Range(func(id uuid.UUID, b *streamBuffer) bool {
		b.fail(err)
		return true
	})
}

// Remove removes the stream from the registry and frees its buffer
func (m *StreamManager) Remove(id uuid.UUID) {
	b, ok := m.streams.LoadAndDelete(id)
	if !ok {
		return
	}
	b.mu.Lock()
	b.removed = true
	if b.err == nil && !b.complete {
		b.err = errors.Wrap(common.ErrStreamCancelled, "stream removed")
	}
	freed := b.buffered
	b.chunks = nil
	b.buffered = 0
	b.signal()
	b.mu.Unlock()

	m.release(freed)
}

// ExpireUnclaimed removes all streams no descriptor has claimed since before
// and returns their ids
func (m *StreamManager) ExpireUnclaimed(before time.Time) []uuid.UUID {
	var expired []uuid.UUID
	m.streams.Range(func(id uuid.UUID, b *streamBuffer) bool {
		b.mu.Lock()
		stale := !b.claimed && b.lastActivity.Before(before)
		b.mu.Unlock()
		if stale {
			expired = append(expired, id)
		}
		return true
	})
	for _, id := range expired {
		m.Remove(id)
	}
	return expired
}

// Buffered returns the number of bytes buffered for all streams
func (m *StreamManager) Buffered() int64 {
	m.spaceMu.Lock()
	defer m.spaceMu.Unlock()
	return m.buffered
}

// Len returns the number of registered streams
func (m *StreamManager) Len() int {
	return m.streams.Size()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// get returns the buffer of id, creating it if necessary
func (m *StreamManager) get(id uuid.UUID) *streamBuffer {
	b, _ := m.streams.LoadOrCompute(id, func() *streamBuffer {
		return newStreamBuffer(id, m)
	})
	return b
}

// removeIf removes the stream only if b is still the registered buffer of its id
func (m *StreamManager) removeIf(b *streamBuffer) {
	m.streams.Compute(b.id, func(old *streamBuffer, loaded bool) (*streamBuffer, bool) {
		// deleting a missing key stores nothing
		return old, !loaded || old == b
	})
}

// reserve waits until n bytes fit into the buffer limit. A single append
// larger than the limit is allowed if nothing else is buffered.
func (m *StreamManager) reserve(n int64) error {
	var timer *time.Timer
	for {
		m.spaceMu.Lock()
		if m.buffered == 0 || m.buffered+n <= m.maxBuffered {
			m.buffered += n
			m.spaceMu.Unlock()
			bufferedBytes.Add(n)
			return nil
		}
		space := m.space
		m.spaceMu.Unlock()

		if timer == nil {
			timer = time.NewTimer(m.backpressureTimeout)
			defer timer.Stop()
		}

		select {
		case <-space:
		case <-timer.C:
			return errors.Wrapf(common.ErrBufferLimit, "no reader freed space within %s", m.backpressureTimeout)
		case <-m.closed:
			return errors.Wrap(common.ErrTransportClosed, "stream manager closed")
		}
	}
}

// release frees n reserved bytes and wakes up a waiting append
func (m *StreamManager) release(n int64) {
	if n == 0 {
		return
	}
	m.spaceMu.Lock()
	m.buffered -= n
	close(m.space)
	m.space = make(chan struct{})
	m.spaceMu.Unlock()
	bufferedBytes.Add(-n)
}
