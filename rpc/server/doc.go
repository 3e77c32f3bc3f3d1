// Package server implements the accepting side of dStream connections.
//
// A Server listens with any transport.IServerTransport (tcp, unix, ws) and runs
// a protocol adapter for every accepted connection. All connections share one
// protocol.RequestHandler. Every connection is tracked as a Session, which the
// server can use to send requests to the client (the protocol is symmetric).
//
// Key Components:
//
//   - NewServer / Serve: Creates the server and runs the accept loop until Close.
//
//   - Sessions: The open connections. A session is removed once its
//     connection is gone. Handlers find their session with SessionFromContext.
//
//   - SendRequest: Sends a request from the server to the client of a session.
package server
