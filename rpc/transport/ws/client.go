package ws

import (
	"net"
	"strings"

	"github.com/ValentinKolb/dStream/rpc/common"
	"github.com/ValentinKolb/dStream/rpc/transport"
	"github.com/ValentinKolb/dStream/rpc/transport/base"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// clientConnector implements the IClientConnector interface for WebSockets
type clientConnector struct {
	dialer *websocket.Dialer
}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IClientConnector)
// --------------------------------------------------------------------------

func (c *clientConnector) GetName() string {
	return "ws"
}

func (c *clientConnector) Connect(endpoint string) (net.Conn, error) {
	ws, resp, err := c.dialer.Dial(endpointURL(endpoint), nil)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "websocket handshake failed with status %s", resp.Status)
		}
		return nil, err
	}
	return newConn(ws), nil
}

func (c *clientConnector) UpgradeConnection(net.Conn, common.TransportConfig) error {
	// the socket options are applied by the dialer
	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// endpointURL turns a plain host:port into a ws url
func endpointURL(endpoint string) string {
	if strings.HasPrefix(endpoint, "ws://") || strings.HasPrefix(endpoint, "wss://") {
		return endpoint
	}
	return "ws://" + endpoint + "/"
}

// --------------------------------------------------------------------------
// Client Transport Factory Method
// --------------------------------------------------------------------------

// NewWSClientTransport creates a new WebSocket client transport.
// The endpoint may be a ws:// url or a plain host:port.
func NewWSClientTransport(config common.TransportConfig) transport.ITransport {
	dialer := *websocket.DefaultDialer
	dialer.ReadBufferSize = config.ReadBufferSize
	dialer.WriteBufferSize = config.WriteBufferSize
	return base.NewBaseClientTransport(&clientConnector{dialer: &dialer}, config)
}
