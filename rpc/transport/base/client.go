package base

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dStream/rpc/common"
	"github.com/ValentinKolb/dStream/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
)

var Logger = logger.GetLogger("transport")

const (
	// eventQueueSize bounds the number of unconsumed events per connection
	eventQueueSize = 64
	// defaultReadSize is the size of a single socket read if no read buffer size is configured
	defaultReadSize = 32 * 1024
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IClientConnector defines the interface for transport-specific connection operations
type IClientConnector interface {
	// Connect establishes a single connection to the endpoint
	Connect(endpoint string) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.TransportConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// connTransport implements transport.ITransport on top of a single net.Conn,
// independent of the specific transport medium (unix, tcp, etc.)
type connTransport struct {
	connector IClientConnector // nil for accepted connections
	config    common.TransportConfig

	mu      sync.Mutex // protects conn and started
	conn    net.Conn
	started bool

	writeMu   sync.Mutex // serializes writes to conn
	connected atomic.Bool

	events    chan transport.Event
	done      chan struct{} // closed by Close
	closeOnce sync.Once
}

// -----------------------------------------------------------
// Transport Factory Methods (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseClientTransport creates a new unconnected transport that dials with the given connector
func NewBaseClientTransport(connector IClientConnector, config common.TransportConfig) transport.ITransport {
	return newConnTransport(connector, config)
}

// NewConnTransport wraps an already established connection (accepted connections, net.Pipe)
func NewConnTransport(conn net.Conn, config common.TransportConfig) transport.ITransport {
	t := newConnTransport(nil, config)
	t.start(conn)
	return t
}

func newConnTransport(connector IClientConnector, config common.TransportConfig) *connTransport {
	return &connTransport{
		connector: connector,
		config:    config,
		events:    make(chan transport.Event, eventQueueSize),
		done:      make(chan struct{}),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.ITransport)
// --------------------------------------------------------------------------

func (t *connTransport) Connect(endpoint string) error {
	if t.connector == nil {
		return errors.New("transport has no connector")
	}

	select {
	case <-t.done:
		return errors.Wrap(common.ErrTransportClosed, "connect")
	default:
	}

	t.mu.Lock()
	started := t.started
	t.mu.Unlock()
	if started {
		return errors.Errorf("transport is already connected to %s", t.RemoteAddr())
	}

	// Connect to the endpoint
	conn, err := t.connector.Connect(endpoint)
	if err != nil {
		return errors.Wrapf(err, "failed to connect to %s", endpoint)
	}

	// Upgrade the connection with protocol-specific settings
	if err := t.connector.UpgradeConnection(conn, t.config); err != nil {
		conn.Close()
		return errors.Wrapf(err, "failed to upgrade connection to %s", endpoint)
	}

	if !t.start(conn) {
		conn.Close()
		return errors.Wrap(common.ErrTransportClosed, "connect")
	}

	Logger.Debugf("Connected to %s using %s transport", endpoint, t.connector.GetName())
	return nil
}

func (t *connTransport) Write(b []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if !t.connected.Load() {
		return errors.Wrap(common.ErrTransportClosed, "write")
	}

	// net.Conn.Write returns an error if not all bytes were written
	if _, err := t.conn.Write(b); err != nil {
		t.connected.Store(false)
		return errors.Wrapf(common.ErrTransportClosed, "write failed: %v", err)
	}
	return nil
}

func (t *connTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.connected.Store(false)
		close(t.done)

		t.mu.Lock()
		defer t.mu.Unlock()

		if t.conn != nil {
			err = t.conn.Close()
		}

		// without a reader nobody else closes the event channel
		if !t.started {
			t.started = true
			close(t.events)
		}
	})
	return err
}

func (t *connTransport) Events() <-chan transport.Event {
	return t.events
}

func (t *connTransport) IsConnected() bool {
	return t.connected.Load()
}

func (t *connTransport) RemoteAddr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return ""
	}
	return t.conn.RemoteAddr().String()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// start stores the connection and starts the reader.
// Returns false if the transport was already started or closed.
func (t *connTransport) start(conn net.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started {
		return false
	}
	t.started = true
	t.conn = conn
	t.connected.Store(true)

	go t.readLoop(conn)
	return true
}

// readLoop reads from the connection until it fails and reports everything as events
func (t *connTransport) readLoop(conn net.Conn) {
	defer close(t.events)

	size := t.config.ReadBufferSize
	if size <= 0 || size > defaultReadSize {
		size = defaultReadSize
	}
	buf := make([]byte, size)

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			// the consumer owns the data, so it must be copied out of the read buffer
			data := make([]byte, n)
			copy(data, buf[:n])
			if !t.emit(transport.Event{Kind: transport.EventData, Data: data}) {
				return
			}
		}

		if err != nil {
			t.connected.Store(false)
			conn.Close()

			if !isClosedErr(err) {
				Logger.Debugf("Read from %s failed: %v", conn.RemoteAddr(), err)
				if !t.emit(transport.Event{Kind: transport.EventError, Err: err}) {
					return
				}
			}
			t.emit(transport.Event{Kind: transport.EventClose})
			return
		}
	}
}

// emit pushes an event to the consumer. It blocks while the event queue is
// full and returns false if the transport was closed in the meantime.
func (t *connTransport) emit(ev transport.Event) bool {
	select {
	case t.events <- ev:
		return true
	case <-t.done:
		return false
	}
}
