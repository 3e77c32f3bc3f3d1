package protocol

import (
	"sync"

	"github.com/ValentinKolb/dStream/lib/util"
	"github.com/ValentinKolb/dStream/rpc/common"
	"github.com/ValentinKolb/dStream/rpc/transport"
	"github.com/pkg/errors"
)

// --------------------------------------------------------------------------
// Payload Sender
// --------------------------------------------------------------------------

// outgoingFrame is a single encoded frame waiting in the write queue
type outgoingFrame struct {
	header Header
	data   []byte
	done   chan error // buffered, receives the write result
}

// PayloadSender serializes the frames of any number of producers onto one transport.
// Producers push frames onto a lock free queue, a single writer goroutine writes
// them one at a time in queue order. Frames of one producer keep their order.
//
// A failed write closes the sender for good: the failing frame and every later frame
// fail with common.ErrTransportClosed and the disconnect callback is called once.
type PayloadSender struct {
	transport    transport.ITransport
	queue        *util.LockFreeMPSC[*outgoingFrame]
	onDisconnect func(err error)
	onSent       func(h Header)

	closed    chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

// NewPayloadSender creates a sender for the transport and starts its writer.
// onDisconnect is called once if a write fails, onSent after every written frame. Both may be nil.
func NewPayloadSender(t transport.ITransport, onDisconnect func(err error), onSent func(h Header)) *PayloadSender {
	s := &PayloadSender{
		transport:    t,
		queue:        util.NewLockFreeMPSC[*outgoingFrame](),
		onDisconnect: onDisconnect,
		onSent:       onSent,
		closed:       make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

// SendPayload sends one frame and blocks until it was written to the transport.
// The payload length of the header is set from the payload.
func (s *PayloadSender) SendPayload(h Header, payload []byte) error {
	if len(payload) > common.MaxPayloadLength {
		return errors.Errorf("payload of %d bytes exceeds the maximum frame size", len(payload))
	}

	select {
	case <-s.closed:
		return s.closedErr()
	default:
	}

	// header and payload are written with a single call, so the frame is never torn apart
	h.PayloadLength = uint32(len(payload))
	data := make([]byte, 0, HeaderSize+len(payload))
	data = h.AppendTo(data)
	data = append(data, payload...)

	f := &outgoingFrame{header: h, data: data, done: make(chan error, 1)}
	if !s.queue.Push(f) {
		return s.closedErr()
	}

	select {
	case err := <-f.done:
		return err
	case <-s.closed:
		// the frame may have been written right before the sender closed
		select {
		case err := <-f.done:
			return err
		default:
			return s.closedErr()
		}
	}
}

// Close stops the sender. Queued frames fail with common.ErrTransportClosed.
func (s *PayloadSender) Close() {
	s.close(nil)
}

// IsClosed reports whether the sender is closed
func (s *PayloadSender) IsClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// writeLoop writes queued frames until the queue is closed and drained
func (s *PayloadSender) writeLoop() {
	for f := range s.queue.Recv() {
		if s.IsClosed() {
			f.done <- s.closedErr()
			continue
		}

		if err := s.transport.Write(f.data); err != nil {
			Logger.Warningf("Failed to write %s: %v", f.header, err)
			s.close(err)
			f.done <- s.closedErr()
			continue
		}

		f.done <- nil
		if s.onSent != nil {
			s.onSent(f.header)
		}
	}
}

// close marks the sender as closed. A non nil cause reports a write failure.
func (s *PayloadSender) close(cause error) {
	first := false
	s.closeOnce.Do(func() {
		first = true
		s.mu.Lock()
		s.err = cause
		s.mu.Unlock()

		close(s.closed)
		s.queue.Close()
	})

	// outside of the once, the callback usually closes the sender again
	if first && cause != nil && s.onDisconnect != nil {
		s.onDisconnect(cause)
	}
}

func (s *PayloadSender) closedErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil && !errors.Is(s.err, common.ErrTransportClosed) {
		return errors.Wrapf(common.ErrTransportClosed, "write failed: %v", s.err)
	}
	if s.err != nil {
		return s.err
	}
	return errors.Wrap(common.ErrTransportClosed, "sender closed")
}
