// Package tcp implements the TCP socket transport of dStream. It provides
// concrete implementations of the base package's connector interfaces.
//
// Key Components:
//
//   - clientConnector: dials TCP endpoints (host:port)
//
//   - serverConnector: creates TCP listeners
//
// Both connectors apply the socket options of common.TransportConfig
// (no delay, keep alive, linger and socket buffer sizes) to every connection.
package tcp
