// Package common provides the data structures and utilities shared by all
// dStream packages. It defines the payload descriptors exchanged on the wire,
// the configuration structures and the error taxonomy of the protocol.
//
// Key Components:
//
//   - PayloadType: The first byte of every frame header. Request ('A'),
//     Response ('B'), Stream ('S'), CancelStream ('C') and CancelAll ('X').
//
//   - RequestPayload / ResponsePayload: The descriptors sent as the payload of
//     request and response frames. They name the verb and path (or status code)
//     and announce the content streams that follow.
//
//   - ProtocolConfig, TransportConfig, ServerConfig, ClientConfig:
//     Configuration of a connection, its socket options and of the server and
//     client processes. Every config can validate itself and be printed.
//
//   - Errors: Sentinel errors of the protocol. Connection fatal errors
//     (ErrMalformedHeader, ErrUnknownPayloadType, ErrTransportClosed) close
//     the connection, all other errors only affect a single id.
//     Use errors.Is to test for them, context is attached with pkg/errors.
//
//   - Logger: Custom logging implementation that plugs into the dragonboat
//     logger facade, so that every package can use logger.GetLogger(name).
package common
