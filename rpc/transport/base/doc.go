// Package base provides the foundation of all net.Conn based transports
// of dStream, independent of the specific network protocol (TCP, Unix sockets,
// WebSockets). Protocol specifics are injected as connectors.
//
// Key Components:
//
//   - IClientConnector/IServerConnector: Interfaces for protocol-specific operations
//     (dialing, listening and socket options) that allow extending the base
//     transport with different network protocols.
//
//   - connTransport: Implements transport.ITransport for a single net.Conn.
//     A dedicated reader goroutine reports every read as an event. The event
//     queue is bounded, so a consumer that falls behind stops the reader and the
//     peer is slowed down by the flow control of the underlying connection.
//
//   - serverTransport: Listens with the connector and returns every accepted
//     connection as connTransport.
//
// NewConnTransport wraps any established connection, which makes net.Pipe
// usable as in-memory transport in tests.
//
// Thread Safety:
//
//	All public methods are thread-safe. Writes are serialized with a mutex, so
//	every Write reaches the peer in one piece.
package base
