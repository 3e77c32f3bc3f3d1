// Package unix implements the Unix domain socket transport of dStream. It is
// the named pipe transport for peers running on the same machine.
//
// Key Components:
//
//   - clientConnector: Establishes connections using Unix domain sockets
//
//   - serverConnector: Creates Unix socket listeners. A stale socket file of a
//     previous run is removed before listening.
package unix
