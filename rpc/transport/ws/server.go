package ws

import (
	"net"
	"net/http"
	"sync"

	"github.com/ValentinKolb/dStream/rpc/common"
	"github.com/ValentinKolb/dStream/rpc/transport"
	"github.com/ValentinKolb/dStream/rpc/transport/base"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// serverConnector implements the IServerConnector interface for WebSockets
type serverConnector struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IServerConnector)
// --------------------------------------------------------------------------

func (c *serverConnector) GetName() string {
	return "ws"
}

func (c *serverConnector) Listen(config common.ServerConfig) (net.Listener, error) {
	ln, err := net.Listen("tcp", config.Endpoint)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create TCP socket")
	}

	l := &listener{
		ln:    ln,
		conns: make(chan net.Conn),
		done:  make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.Transport.ReadBufferSize,
			WriteBufferSize: config.Transport.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	l.server = &http.Server{Handler: http.HandlerFunc(l.handle)}

	go func() {
		if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			base.Logger.Errorf("WebSocket server on %s stopped: %v", ln.Addr(), err)
		}
	}()

	return l, nil
}

func (c *serverConnector) UpgradeConnection(net.Conn, common.TransportConfig) error {
	// the socket options are applied by the upgrader
	return nil
}

// --------------------------------------------------------------------------
// Listener
// --------------------------------------------------------------------------

// listener implements net.Listener. It upgrades every http request (on any path)
// to a websocket and hands it to Accept.
type listener struct {
	ln       net.Listener
	server   *http.Server
	upgrader websocket.Upgrader

	conns     chan net.Conn
	done      chan struct{}
	closeOnce sync.Once
}

func (l *listener) handle(w http.ResponseWriter, r *http.Request) {
	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already replied with an error status
		base.Logger.Warningf("WebSocket upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}

	select {
	case l.conns <- newConn(ws):
	case <-l.done:
		ws.Close()
	}
}

func (l *listener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

func (l *listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		// hijacked websocket connections are not affected
		err = l.server.Close()
	})
	return err
}

func (l *listener) Addr() net.Addr {
	return l.ln.Addr()
}

// --------------------------------------------------------------------------
// Server Transport Factory Method
// --------------------------------------------------------------------------

// NewWSServerTransport creates a new WebSocket server transport
func NewWSServerTransport() transport.IServerTransport {
	return base.NewBaseServerTransport(&serverConnector{})
}
