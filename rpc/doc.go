// Package rpc provides the dStream streaming protocol: requests, responses and
// content streams of many concurrent exchanges multiplexed over one connection.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures and utilities used across the system,
//     including the payload descriptors, configuration structures, errors and logging.
//
//   - transport: Connection abstractions with pluggable implementations
//     (TCP, Unix sockets, WebSocket).
//
//   - serializer: Descriptor serialization with multiple format options (Binary, JSON, GOB).
//
//   - protocol: Framing, reassembly, content streams, request correlation and
//     cancellation for one connection.
//
//   - client: The connecting peer, with retries for timed out requests.
//
//   - server: The accepting peer, which tracks every connection as a session.
package rpc
