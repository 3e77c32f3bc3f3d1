// Package ws implements the WebSocket transport of dStream using
// github.com/gorilla/websocket.
//
// A websocket connection is adapted to net.Conn (wsConn), so the connection
// handling of the base package is shared with the tcp and unix transports.
// Every write becomes one binary message, received messages are concatenated
// into one byte stream, message boundaries carry no meaning.
//
// The server upgrades requests on any path. Clients accept ws:// urls or a
// plain host:port endpoint.
package ws
