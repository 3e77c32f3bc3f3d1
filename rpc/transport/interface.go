package transport

import (
	"github.com/ValentinKolb/dStream/rpc/common"
)

// --------------------------------------------------------------------------
// Events
// --------------------------------------------------------------------------

// EventKind is the kind of event a transport reports
type EventKind uint8

const (
	// EventData carries bytes received from the peer. The segmentation is arbitrary.
	EventData EventKind = iota + 1
	// EventError reports a read error, it is always followed by EventClose
	EventError
	// EventClose reports that the connection is gone, no more events follow
	EventClose
)

// String returns the string representation of an EventKind
func (k EventKind) String() string {
	switch k {
	case EventData:
		return "data"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}

// Event is a single message from a transport to its consumer
type Event struct {
	Kind EventKind
	Data []byte // only set for EventData, owned by the consumer
	Err  error  // only set for EventError
}

// --------------------------------------------------------------------------
// Transport
// --------------------------------------------------------------------------

// ITransport is a connected, bidirectional byte stream.
//
// Writes are delivered to the peer completely and in order. Received bytes are
// reported as EventData on the Events channel. The channel is bounded, a consumer
// that stops reading it stops the transport from reading the socket.
// The channel is closed after the connection is gone.
type ITransport interface {
	// Connect establishes the connection to the given endpoint.
	// Transports returned by IServerTransport.Accept are already connected.
	Connect(endpoint string) error
	// Write writes all bytes to the connection
	Write(b []byte) error
	// Close closes the connection. It is safe to call Close multiple times.
	Close() error
	// Events returns the event channel of the transport
	Events() <-chan Event
	// IsConnected reports whether the transport is connected
	IsConnected() bool
	// RemoteAddr returns the address of the peer, or an empty string if not connected
	RemoteAddr() string
}

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// IServerTransport accepts incoming connections
type IServerTransport interface {
	// Listen starts listening on the endpoint of the config. It does not block.
	Listen(config common.ServerConfig) error
	// Accept blocks until a new connection arrives and returns it as connected transport.
	// After Close it returns common.ErrTransportClosed.
	Accept() (ITransport, error)
	// Addr returns the address the transport listens on
	Addr() string
	// Close stops listening. Accepted transports are not closed.
	Close() error
}
