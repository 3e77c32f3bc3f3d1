package protocol

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dStream/lib/sequencer"
	"github.com/ValentinKolb/dStream/rpc/common"
	"github.com/ValentinKolb/dStream/rpc/serializer"
	"github.com/ValentinKolb/dStream/rpc/transport"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
)

var Logger = logger.GetLogger("protocol")

// --------------------------------------------------------------------------
// Request Handler
// --------------------------------------------------------------------------

// RequestHandler processes the requests of the peer. ProcessRequest is called in its
// own goroutine for every request, the request streams are discarded after it returns.
// An error is answered with status 500, a nil response with status 200 and no streams.
type RequestHandler interface {
	ProcessRequest(ctx context.Context, req *ReceiveRequest) (*StreamingResponse, error)
}

// RequestHandlerFunc adapts a function to RequestHandler
type RequestHandlerFunc func(ctx context.Context, req *ReceiveRequest) (*StreamingResponse, error)

// ProcessRequest calls f(ctx, req)
func (f RequestHandlerFunc) ProcessRequest(ctx context.Context, req *ReceiveRequest) (*StreamingResponse, error) {
	return f(ctx, req)
}

// --------------------------------------------------------------------------
// Protocol Adapter
// --------------------------------------------------------------------------

// Adapter runs the protocol on one connected transport.
// Both peers of a connection may send requests at any time.
type Adapter struct {
	config     common.ProtocolConfig
	transport  transport.ITransport
	serializer serializer.IPayloadSerializer
	handler    RequestHandler

	sender     *PayloadSender
	receiver   *PayloadReceiver
	streams    *StreamManager
	assemblers *AssemblerManager
	ops        *SendOperations
	requests   *RequestManager
	stats      *ConnStats

	ctx    context.Context // cancelled on shutdown, parent of all handler contexts
	cancel context.CancelFunc

	started   atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
	errMu     sync.Mutex
	err       error
	loops     sync.WaitGroup

	handlersMu sync.Mutex // protects stopped and handlers.Add
	stopped    bool
	handlers   sync.WaitGroup
}

// NewAdapter creates the adapter of a connected transport. handler may be nil if the
// peer never sends requests. Call Start to begin processing.
func NewAdapter(t transport.ITransport, s serializer.IPayloadSerializer, handler RequestHandler, conf common.ProtocolConfig) *Adapter {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Adapter{
		config:     conf,
		transport:  t,
		serializer: s,
		handler:    handler,
		requests:   NewRequestManager(),
		stats:      newConnStats(),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	a.sender = NewPayloadSender(t, a.onWriteFailed, a.stats.frameSent)
	a.ops = NewSendOperations(a.sender, s, conf)
	a.streams = NewStreamManager(conf, a.cancelIncoming)
	a.assemblers = NewAssemblerManager(conf, a.streams, AssemblerCallbacks{
		OnRequest:      a.onRequest,
		OnResponse:     a.onResponse,
		OnIncomplete:   a.onIncomplete,
		OnCancelStream: a.onCancelStream,
		OnCancelAll:    a.onCancelAll,
	})
	a.receiver = NewPayloadReceiver(func(h Header, payload []byte) error {
		a.stats.frameReceived(h)
		return a.assemblers.OnChunk(h, payload)
	})
	return a
}

// Start starts the receive loop and the idle janitor. Calling Start more than once has no effect.
func (a *Adapter) Start() {
	if a.isDone() || !a.started.CompareAndSwap(false, true) {
		return
	}

	openConnections.Add(1)
	a.loops.Add(2)
	go func() {
		defer a.loops.Done()
		a.receiveLoop()
	}()
	go func() {
		defer a.loops.Done()
		a.assemblers.RunJanitor(a.done)
	}()
}

// Send sends req with the given id and waits for its response. A timeout <= 0 uses the
// configured request timeout. The caller must read or Close the streams of the response.
func (a *Adapter) Send(ctx context.Context, id uuid.UUID, req *StreamingRequest, timeout time.Duration) (*ReceiveResponse, error) {
	if timeout <= 0 {
		timeout = a.config.RequestTimeout
	}

	p, err := a.requests.Register(id)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	a.stats.requestSent()
	if err := a.ops.SendRequest(ctx, id, req); err != nil {
		if !a.requests.Reject(id, err) {
			// a response won the race, nobody reads it
			if r := <-p.result; r.resp != nil {
				r.resp.Close()
			}
		}
		return nil, err
	}

	resp, err := a.requests.Await(ctx, p, timeout)
	a.stats.requestDone(start, err)
	if err != nil {
		Logger.Debugf("Request %s %s (%s) failed: %v", req.Verb, req.Path, id, err)
	}
	return resp, err
}

// SendRequest sends req with a new id and waits for its response
func (a *Adapter) SendRequest(ctx context.Context, req *StreamingRequest) (*ReceiveResponse, error) {
	return a.Send(ctx, uuid.New(), req, 0)
}

// SendRequestAsync sends req with a new id and returns a future for its response
func (a *Adapter) SendRequestAsync(ctx context.Context, req *StreamingRequest) *sequencer.Future[*ReceiveResponse] {
	return sequencer.Go(func() (*ReceiveResponse, error) {
		return a.SendRequest(ctx, req)
	})
}

// CancelStream cancels the payload of id in both directions and tells the peer
func (a *Adapter) CancelStream(id uuid.UUID) error {
	a.cancelLocal(id, errors.Wrapf(common.ErrStreamCancelled, "stream %s cancelled locally", id))
	return a.ops.SendCancelStream(id)
}

// CancelAll cancels every content stream in both directions and tells the peer
func (a *Adapter) CancelAll() error {
	a.cancelAllLocal(errors.Wrap(common.ErrStreamCancelled, "all streams cancelled locally"))
	return a.ops.SendCancelAll()
}

// Close closes the connection. Pending requests fail with common.ErrTransportClosed.
// Close waits for running handlers to return, it must not be called from a handler.
func (a *Adapter) Close() error {
	a.shutdown(errors.Wrap(common.ErrTransportClosed, "closed locally"))
	a.handlers.Wait()
	a.loops.Wait()
	return nil
}

// Done returns a channel that is closed once the connection is gone
func (a *Adapter) Done() <-chan struct{} {
	return a.done
}

// Err returns the reason the connection is gone, nil while it is alive
func (a *Adapter) Err() error {
	a.errMu.Lock()
	defer a.errMu.Unlock()
	return a.err
}

// Stats returns the statistics of the connection
func (a *Adapter) Stats() *ConnStats {
	return a.stats
}

// Pending returns the number of requests waiting for a response
func (a *Adapter) Pending() int {
	return a.requests.Len()
}

// Transport returns the transport of the adapter
func (a *Adapter) Transport() transport.ITransport {
	return a.transport
}

// --------------------------------------------------------------------------
// Receive Loop
// --------------------------------------------------------------------------

// receiveLoop feeds all received bytes into the receiver until the transport is gone
func (a *Adapter) receiveLoop() {
	var cause error
	for ev := range a.transport.Events() {
		switch ev.Kind {
		case transport.EventData:
			if cause != nil || a.isDone() {
				continue // draining after shutdown
			}
			if err := a.receiver.Feed(ev.Data); err != nil {
				Logger.Errorf("Closing connection to %s: %v", a.transport.RemoteAddr(), err)
				cause = err
				a.shutdown(err)
			}
		case transport.EventError:
			Logger.Warningf("Transport error: %v", ev.Err)
			if cause == nil {
				cause = ev.Err
			}
		case transport.EventClose:
		}
	}

	if cause == nil {
		cause = errors.Wrap(common.ErrTransportClosed, "connection closed by peer")
	}
	a.shutdown(cause)
}

// shutdown tears down the connection exactly once
func (a *Adapter) shutdown(cause error) {
	a.closeOnce.Do(func() {
		a.errMu.Lock()
		a.err = cause
		a.errMu.Unlock()

		a.handlersMu.Lock()
		a.stopped = true
		a.handlersMu.Unlock()

		// a started adapter counts as open until shutdown
		if !a.started.CompareAndSwap(false, true) {
			openConnections.Add(-1)
		}

		closedErr := cause
		if !errors.Is(cause, common.ErrTransportClosed) {
			closedErr = errors.Wrapf(common.ErrTransportClosed, "%v", cause)
		}

		close(a.done)
		a.cancel()
		if err := a.transport.Close(); err != nil {
			Logger.Debugf("Failed to close transport: %v", err)
		}
		a.sender.Close()

		a.requests.RejectAll(closedErr)
		a.assemblers.FailAll(closedErr)
		a.ops.CancelAllOutgoing(closedErr)

		Logger.Debugf("Connection closed: %v", cause)
	})
}

// onWriteFailed is called by the sender if the transport can not be written anymore
func (a *Adapter) onWriteFailed(err error) {
	a.shutdown(err)
}

// --------------------------------------------------------------------------
// Assembler Callbacks
// --------------------------------------------------------------------------

// onRequest decodes a complete request and runs the handler
func (a *Adapter) onRequest(id uuid.UUID, payload []byte) {
	var p common.RequestPayload
	if err := a.serializer.DeserializeRequest(payload, &p); err != nil {
		Logger.Warningf("Invalid request descriptor %s: %v", id, err)
		a.respondAsync(id, NewResponse(http.StatusBadRequest))
		return
	}

	req := &ReceiveRequest{
		ID:      id,
		Verb:    p.Verb,
		Path:    p.Path,
		Streams: a.openStreams(p.Streams),
	}

	if !a.goHandler(func() { a.handle(req) }) {
		req.Close()
	}
}

// handle runs the handler for one request and sends its response
func (a *Adapter) handle(req *ReceiveRequest) {
	defer req.Close()

	resp := a.process(req)
	a.stats.requestHandled(resp.StatusCode)

	if err := a.ops.SendResponse(a.ctx, req.ID, resp); err != nil {
		Logger.Warningf("Failed to send response for %s %s (%s): %v", req.Verb, req.Path, req.ID, err)
	}
}

// process calls the handler and maps errors, panics and nil responses to a response
func (a *Adapter) process(req *ReceiveRequest) (resp *StreamingResponse) {
	if a.handler == nil {
		return NewResponse(http.StatusNotImplemented)
	}

	defer func() {
		if r := recover(); r != nil {
			Logger.Errorf("Handler panicked for %s %s (%s): %v", req.Verb, req.Path, req.ID, r)
			resp = NewResponse(http.StatusInternalServerError)
		}
	}()

	resp, err := a.handler.ProcessRequest(a.ctx, req)
	if err != nil {
		Logger.Warningf("Handler failed for %s %s (%s): %v", req.Verb, req.Path, req.ID, err)
		return NewResponse(http.StatusInternalServerError)
	}
	if resp == nil {
		return NewResponse(http.StatusOK)
	}
	return resp
}

// respondAsync sends resp without blocking the caller
func (a *Adapter) respondAsync(id uuid.UUID, resp *StreamingResponse) {
	a.goHandler(func() {
		if err := a.ops.SendResponse(a.ctx, id, resp); err != nil {
			Logger.Debugf("Failed to send response for %s: %v", id, err)
		}
	})
}

// onResponse decodes a complete response and hands it to the waiting request
func (a *Adapter) onResponse(id uuid.UUID, payload []byte) {
	var p common.ResponsePayload
	if err := a.serializer.DeserializeResponse(payload, &p); err != nil {
		Logger.Warningf("Invalid response descriptor %s: %v", id, err)
		a.requests.Reject(id, errors.Wrap(err, "invalid response descriptor"))
		return
	}

	resp := &ReceiveResponse{
		ID:         id,
		StatusCode: p.StatusCode,
		Streams:    a.openStreams(p.Streams),
	}
	if !a.requests.SignalResponse(id, resp) {
		// nobody waits (timeout), the peer can stop sending the streams
		resp.cancel()
	}
}

// onIncomplete handles abandoned payloads
func (a *Adapter) onIncomplete(id uuid.UUID, kind common.PayloadType, err error) {
	switch kind {
	case common.PayloadTypeRequest:
		if errors.Is(err, common.ErrBufferLimit) {
			a.respondAsync(id, NewResponse(http.StatusRequestEntityTooLarge))
		}
	case common.PayloadTypeResponse:
		a.requests.Reject(id, err)
	case common.PayloadTypeStream:
		a.stats.streamCancelled()
		a.sendCancelAsync(id)
	}
}

// onCancelStream stops an outgoing stream cancelled by the peer
func (a *Adapter) onCancelStream(id uuid.UUID, known bool) {
	if a.ops.CancelOutgoing(id, errors.Wrapf(common.ErrStreamCancelled, "stream %s cancelled by peer", id)) {
		a.stats.streamCancelled()
		return
	}
	if !known {
		Logger.Debugf("Ignoring CancelStream for %s: %v", id, common.ErrUnknownStreamID)
	}
}

// onCancelAll stops all outgoing streams
func (a *Adapter) onCancelAll() {
	a.ops.CancelAllOutgoing(errors.Wrap(common.ErrStreamCancelled, "all streams cancelled by peer"))
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// openStreams opens the content streams described by descs
func (a *Adapter) openStreams(descs []common.StreamDescription) []*ContentStream {
	if len(descs) == 0 {
		return nil
	}
	streams := make([]*ContentStream, len(descs))
	for i, d := range descs {
		streams[i] = a.streams.Open(d)
	}
	return streams
}

// cancelIncoming is called if a reader cancels an incomplete stream
func (a *Adapter) cancelIncoming(id uuid.UUID) {
	a.assemblers.Cancel(id)
	a.stats.streamCancelled()
	a.sendCancelAsync(id)
}

// cancelLocal cancels id in both directions without telling the peer
func (a *Adapter) cancelLocal(id uuid.UUID, err error) {
	a.assemblers.Cancel(id)
	a.streams.Fail(id, err)
	a.ops.CancelOutgoing(id, err)
	a.stats.streamCancelled()
}

// cancelAllLocal cancels all streams in both directions without telling the peer
func (a *Adapter) cancelAllLocal(err error) {
	a.streams.streams.Range(func(id uuid.UUID, b *streamBuffer) bool {
		a.assemblers.Cancel(id)
		b.fail(err)
		return true
	})
	a.ops.CancelAllOutgoing(err)
}

// sendCancelAsync sends a CancelStream frame without blocking the caller,
// which is usually the receive loop
func (a *Adapter) sendCancelAsync(id uuid.UUID) {
	a.goHandler(func() {
		if err := a.ops.SendCancelStream(id); err != nil {
			Logger.Debugf("Failed to cancel stream %s: %v", id, err)
		}
	})
}

// goHandler runs fn in a new goroutine that Close waits for.
// Returns false without running fn once the adapter is shut down.
func (a *Adapter) goHandler(fn func()) bool {
	a.handlersMu.Lock()
	defer a.handlersMu.Unlock()
	if a.stopped {
		return false
	}
	a.handlers.Add(1)
	go func() {
		defer a.handlers.Done()
		fn()
	}()
	return true
}

// isDone reports whether the adapter is shut down
func (a *Adapter) isDone() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}

// String returns a short description of the connection for logging
func (a *Adapter) String() string {
	return fmt.Sprintf("adapter(%s)", a.transport.RemoteAddr())
}
