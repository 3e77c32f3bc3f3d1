// Package cmd implements the command-line interface of dStream. It provides
// a small echo server and a client to exercise the protocol.
//
// The package is organized into several subpackages:
//
//   - serve: Starts a dStream server with an echo handler and optional metrics endpoint
//   - send: Sends one or more concurrent requests and prints the responses
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See dstream -help for a list of all commands.
package cmd
