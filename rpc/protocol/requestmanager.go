package protocol

import (
	"context"
	"sync"
	"time"

	"github.com/ValentinKolb/dStream/rpc/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Request Manager
// --------------------------------------------------------------------------

// responseResult is the outcome of a pending request
type responseResult struct {
	resp *ReceiveResponse
	err  error
}

// PendingRequest is a request that waits for its response
type PendingRequest struct {
	ID        uuid.UUID
	CreatedAt time.Time
	result    chan responseResult // buffered, receives exactly one result
}

// RequestManager correlates responses with the requests waiting for them
type RequestManager struct {
	pending *xsync.MapOf[uuid.UUID, *PendingRequest]

	mu       sync.RWMutex // register holds it shared, shutdown exclusive
	closed   bool
	closeErr error
}

// NewRequestManager creates a new request manager
func NewRequestManager() *RequestManager {
	return &RequestManager{
		pending: xsync.NewMapOf[uuid.UUID, *PendingRequest](),
	}
}

// Register registers a pending request for id. It fails with common.ErrDuplicateRequestID
// if id is already pending and with common.ErrTransportClosed after RejectAll.
func (m *RequestManager) Register(id uuid.UUID) (*PendingRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, m.closeErr
	}

	p := &PendingRequest{
		ID:        id,
		CreatedAt: time.Now(),
		result:    make(chan responseResult, 1),
	}
	if _, loaded := m.pending.LoadOrStore(id, p); loaded {
		return nil, errors.Wrapf(common.ErrDuplicateRequestID, "request %s", id)
	}
	pendingRequests.Add(1)
	return p, nil
}

// SignalResponse completes the pending request id with resp.
// Returns false if no request is waiting for id.
func (m *RequestManager) SignalResponse(id uuid.UUID, resp *ReceiveResponse) bool {
	p, ok := m.pending.LoadAndDelete(id)
	if !ok {
		Logger.Debugf("Received response for unknown request %s", id)
		return false
	}
	pendingRequests.Add(-1)
	p.result <- responseResult{resp: resp}
	return true
}

// Reject fails the pending request id with err. Returns false if no request is waiting for id.
func (m *RequestManager) Reject(id uuid.UUID, err error) bool {
	p, ok := m.pending.LoadAndDelete(id)
	if !ok {
		return false
	}
	pendingRequests.Add(-1)
	p.result <- responseResult{err: err}
	return true
}

// RejectAll fails every pending request with err. Later registrations fail with
// common.ErrTransportClosed.
func (m *RequestManager) RejectAll(err error) {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		m.closeErr = errors.Wrap(common.ErrTransportClosed, "request manager closed")
	}
	m.mu.Unlock()

	m.pending.Range(func(id uuid.UUID, _ *PendingRequest) bool {
		m.Reject(id, err)
		return true
	})
}

// Await waits for the response of p. It fails with common.ErrRequestTimeout after timeout
// (no timeout if <= 0) and with the context error if ctx is done first.
// In both cases the request is no longer pending afterwards.
func (m *RequestManager) Await(ctx context.Context, p *PendingRequest, timeout time.Duration) (*ReceiveResponse, error) {
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case r := <-p.result:
		return r.resp, r.err
	case <-timeoutCh:
		return m.abandon(p, errors.Wrapf(common.ErrRequestTimeout, "no response for %s within %s", p.ID, timeout))
	case <-ctx.Done():
		return m.abandon(p, errors.Wrapf(ctx.Err(), "request %s", p.ID))
	}
}

// Len returns the number of pending requests
func (m *RequestManager) Len() int {
	return m.pending.Size()
}

// abandon removes p. A result that arrived in the meantime wins over err.
func (m *RequestManager) abandon(p *PendingRequest, err error) (*ReceiveResponse, error) {
	removed := false
	m.pending.Compute(p.ID, func(old *PendingRequest, loaded bool) (*PendingRequest, bool) {
		removed = loaded && old == p
		return old, !loaded || old == p
	})

	if !removed {
		// a response or rejection took the request first and is about to deliver its result
		r := <-p.result
		return r.resp, r.err
	}
	pendingRequests.Add(-1)
	return nil, err
}
