// Package transport defines the transport abstraction of dStream. A transport
// is a single connected, bidirectional byte stream (TCP socket, Unix domain
// socket or WebSocket) that writes bytes in order and reports everything it reads
// as events on one bounded channel.
//
// Key Components:
//
//   - ITransport: A connected byte stream with Connect, Write, Close and the
//     Events channel. The data, error and disconnect notifications of a connection
//     are all delivered as Event values on that channel, so a slow consumer
//     slows down the reader of the socket.
//
//   - IServerTransport: Listens on an endpoint and returns every accepted
//     connection as an ITransport.
//
// The concrete implementations live in the sub packages (tcp, unix, ws), they
// all build on the connection handling of the base package.
package transport
