package protocol

import (
	"sync"
	"time"

	"github.com/ValentinKolb/dStream/lib/util"
	"github.com/ValentinKolb/dStream/rpc/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
)

// AssemblerCallbacks are the consumers of completed and failed payloads.
// All callbacks are optional. They are called from the receive loop (or the
// janitor for expirations) and must not block for long.
type AssemblerCallbacks struct {
	// OnRequest receives a complete request descriptor
	OnRequest func(id uuid.UUID, payload []byte)
	// OnResponse receives a complete response descriptor
	OnResponse func(id uuid.UUID, payload []byte)
	// OnIncomplete is called for payloads that were abandoned (idle expiry, buffer limit)
	OnIncomplete func(id uuid.UUID, kind common.PayloadType, err error)
	// OnCancelStream is called for every CancelStream frame of the peer,
	// known is false if no incoming payload or stream of the id existed
	OnCancelStream func(id uuid.UUID, known bool)
	// OnCancelAll is called for every CancelAll frame of the peer
	OnCancelAll func()
}

// AssemblerManager routes every incoming frame to the assembler of its id.
//
// Cancelled, expired and completed stream ids are remembered as tombstones for twice
// the idle timeout, frames arriving for them in that time are dropped as unknown stream ids.
// Descriptors are capped at common.MaxDescriptorLength bytes.
type AssemblerManager struct {
	assemblers      *xsync.MapOf[uuid.UUID, *payloadAssembler]
	streams         *StreamManager
	callbacks       AssemblerCallbacks
	idleTimeout     time.Duration
	descriptorLimit int64

	mu         sync.Mutex               // protects the heaps
	idle       *util.MapHeap[uuid.UUID] // id -> last activity (unix nano)
	tombstones *util.MapHeap[uuid.UUID] // id -> expiry (unix nano)
}

// NewAssemblerManager creates a new assembler manager that appends content streams to streams
func NewAssemblerManager(conf common.ProtocolConfig, streams *StreamManager, callbacks AssemblerCallbacks) *AssemblerManager {
	return &AssemblerManager{
		assemblers:      xsync.NewMapOf[uuid.UUID, *payloadAssembler](),
		streams:         streams,
		callbacks:       callbacks,
		idleTimeout:     conf.IdleStreamTimeout,
		descriptorLimit: common.MaxDescriptorLength,
		idle:            util.NewMapHeap[uuid.UUID](),
		tombstones:      util.NewMapHeap[uuid.UUID](),
	}
}

// --------------------------------------------------------------------------
// Frame Routing
// --------------------------------------------------------------------------

// OnChunk processes one frame. It implements ChunkHandler, the returned error is always nil
// since no single payload can break the connection.
func (m *AssemblerManager) OnChunk(h Header, payload []byte) error {
	switch h.PayloadType {
	case common.PayloadTypeCancelStream:
		m.handleCancelStream(h.ID)
		return nil
	case common.PayloadTypeCancelAll:
		m.handleCancelAll()
		return nil
	}

	if m.IsTombstoned(h.ID) {
		Logger.Debugf("Dropping frame %s: %v", h, common.ErrUnknownStreamID)
		return nil
	}

	a, ok := m.assemblers.Load(h.ID)
	if !ok {
		if a = m.CreatePayloadAssembler(h); a == nil {
			// created concurrently
			if a, ok = m.assemblers.Load(h.ID); !ok {
				return nil
			}
		}
	}

	if a.kind != h.PayloadType {
		Logger.Warningf("Dropping frame %s, id is already used by a %s payload", h, a.kind)
		return nil
	}
	m.touch(h.ID)

	switch a.kind {
	case common.PayloadTypeRequest, common.PayloadTypeResponse:
		data, complete, err := a.appendDescriptor(payload, h.End, m.descriptorLimit)
		if err != nil {
			Logger.Warningf("Dropping %s %s: %v", a.kind, a.id, err)
			m.Cancel(a.id)
			if m.callbacks.OnIncomplete != nil {
				m.callbacks.OnIncomplete(a.id, a.kind, err)
			}
			return nil
		}
		if !complete {
			return nil
		}
		m.remove(a)
		if a.kind == common.PayloadTypeRequest {
			if m.callbacks.OnRequest != nil {
				m.callbacks.OnRequest(a.id, data)
			}
		} else if m.callbacks.OnResponse != nil {
			m.callbacks.OnResponse(a.id, data)
		}

	case common.PayloadTypeStream:
		if !a.countStream(len(payload), false) {
			return nil
		}
		if err := m.streams.Append(a.id, payload); err != nil {
			if errors.Is(err, common.ErrBufferLimit) {
				Logger.Warningf("Stream %s failed: %v", a.id, err)
				m.Cancel(a.id)
				if m.callbacks.OnIncomplete != nil {
					m.callbacks.OnIncomplete(a.id, a.kind, err)
				}
				return nil
			}
			// the stream is complete or failed already
			Logger.Debugf("Dropping frame %s: %v", h, err)
			m.finish(a)
			return nil
		}
		if h.End && a.countStream(0, true) {
			m.finish(a)
			m.streams.Complete(a.id)
		}
	}
	return nil
}

// CreatePayloadAssembler creates the assembler for the id of h.
// Returns nil if an assembler for the id already exists.
func (m *AssemblerManager) CreatePayloadAssembler(h Header) *payloadAssembler {
	switch h.PayloadType {
	case common.PayloadTypeRequest, common.PayloadTypeResponse, common.PayloadTypeStream:
	default:
		return nil
	}

	a := newPayloadAssembler(h)
	if _, loaded := m.assemblers.LoadOrStore(h.ID, a); loaded {
		return nil
	}
	m.touch(h.ID)
	return a
}

// --------------------------------------------------------------------------
// Cancellation
// --------------------------------------------------------------------------

// Cancel abandons the payload of id and tombstones the id.
// The content stream of id (if any) is not touched.
// Returns false if no payload of id was assembled.
func (m *AssemblerManager) Cancel(id uuid.UUID) bool {
	a, ok := m.assemblers.LoadAndDelete(id)
	if ok {
		a.close()
	}
	m.tombstone(id, time.Now())
	return ok
}

// IsTombstoned reports whether id was cancelled recently
func (m *AssemblerManager) IsTombstoned(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tombstones.Contains(id)
}

// FailAll abandons every payload and fails all content streams with err
func (m *AssemblerManager) FailAll(err error) {
	m.assemblers.Range(func(id uuid.UUID, a *payloadAssembler) bool {
		m.assemblers.Delete(id)
		a.close()
		return true
	})

	m.mu.Lock()
	m.idle = util.NewMapHeap[uuid.UUID]()
	m.mu.Unlock()

	m.streams.FailAll(err)
}

// Len returns the number of open assemblers
func (m *AssemblerManager) Len() int {
	return m.assemblers.Size()
}

// handleCancelStream processes a CancelStream frame of the peer
func (m *AssemblerManager) handleCancelStream(id uuid.UUID) {
	Logger.Debugf("Peer cancelled %s", id)
	known := m.Cancel(id)
	if m.streams.Fail(id, errors.Wrapf(common.ErrStreamCancelled, "stream %s cancelled by peer", id)) {
		known = true
	}
	if m.callbacks.OnCancelStream != nil {
		m.callbacks.OnCancelStream(id, known)
	}
}

// handleCancelAll processes a CancelAll frame of the peer. All incoming content streams are cancelled.
func (m *AssemblerManager) handleCancelAll() {
	Logger.Debugf("Peer cancelled all streams")

	var ids []uuid.UUID
	m.assemblers.Range(func(id uuid.UUID, a *payloadAssembler) bool {
		if a.kind == common.PayloadTypeStream {
			ids = append(ids, id)
		}
		return true
	})
	for _, id := range ids {
		m.Cancel(id)
		m.streams.Fail(id, errors.Wrap(common.ErrStreamCancelled, "all streams cancelled by peer"))
	}

	if m.callbacks.OnCancelAll != nil {
		m.callbacks.OnCancelAll()
	}
}

// --------------------------------------------------------------------------
// Expiry
// --------------------------------------------------------------------------

// Sweep expires all payloads without activity since now minus the idle timeout
// and forgets expired tombstones. It returns the ids of the expired payloads.
func (m *AssemblerManager) Sweep(now time.Time) []uuid.UUID {
	limit := now.Add(-m.idleTimeout)

	m.mu.Lock()
	idle := m.idle.PopExpired(limit.UnixNano())
	m.tombstones.PopExpired(now.UnixNano())
	m.mu.Unlock()

	var expired []uuid.UUID
	for _, id := range idle {
		a, ok := m.assemblers.LoadAndDelete(id)
		if !ok || !a.close() {
			continue
		}
		expired = append(expired, id)

		err := errors.Wrapf(common.ErrIncompleteStream, "%s %s idle for more than %s", a.kind, id, m.idleTimeout)
		Logger.Warningf("%v", err)

		m.tombstone(id, now)

		if a.kind == common.PayloadTypeStream {
			m.streams.Fail(id, err)
		}
		if m.callbacks.OnIncomplete != nil {
			m.callbacks.OnIncomplete(id, a.kind, err)
		}
	}

	// complete streams that no descriptor ever claimed
	for _, id := range m.streams.ExpireUnclaimed(limit) {
		Logger.Debugf("Removed unclaimed stream %s", id)
	}

	return expired
}

// RunJanitor sweeps periodically until done is closed
func (m *AssemblerManager) RunJanitor(done <-chan struct{}) {
	interval := m.idleTimeout / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	} else if interval > time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			m.Sweep(now)
		case <-done:
			return
		}
	}
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// touch records activity for id
func (m *AssemblerManager) touch(id uuid.UUID) {
	m.mu.Lock()
	m.idle.AddItem(id, time.Now().UnixNano())
	m.mu.Unlock()
}

// tombstone forgets the activity of id and drops its frames for twice the idle timeout after now
func (m *AssemblerManager) tombstone(id uuid.UUID, now time.Time) {
	m.mu.Lock()
	m.idle.RemoveByKey(id)
	m.tombstones.AddItem(id, now.Add(2*m.idleTimeout).UnixNano())
	m.mu.Unlock()
}

// finish removes the assembler of a finished content stream and tombstones its id,
// so late frames can not revive the stream
func (m *AssemblerManager) finish(a *payloadAssembler) {
	m.remove(a)
	m.tombstone(a.id, time.Now())
}

// remove removes a finished assembler
func (m *AssemblerManager) remove(a *payloadAssembler) {
	m.assemblers.Compute(a.id, func(old *payloadAssembler, loaded bool) (*payloadAssembler, bool) {
		return old, !loaded || old == a
	})

	m.mu.Lock()
	m.idle.RemoveByKey(a.id)
	m.mu.Unlock()
}
