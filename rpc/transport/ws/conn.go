package ws

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// closeGracePeriod is the time a close message may take before the connection is dropped
const closeGracePeriod = time.Second

// wsConn adapts a websocket connection to net.Conn.
// Every Write is sent as one binary message, Read concatenates all received messages.
type wsConn struct {
	ws     *websocket.Conn
	reader io.Reader // reader of the current message, nil between messages

	closeOnce sync.Once
	closeErr  error
}

func newConn(ws *websocket.Conn) *wsConn {
	return &wsConn{ws: ws}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see net.Conn)
// --------------------------------------------------------------------------

func (c *wsConn) Read(p []byte) (int, error) {
	for {
		if c.reader == nil {
			_, r, err := c.ws.NextReader()
			if err != nil {
				return 0, mapReadErr(err)
			}
			c.reader = r
		}

		n, err := c.reader.Read(p)
		if err == io.EOF {
			// end of this message, continue with the next one
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		// tell the peer, but do not wait for its answer
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

func (c *wsConn) LocalAddr() net.Addr {
	return c.ws.LocalAddr()
}

func (c *wsConn) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}

func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(t)
}

func (c *wsConn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

func (c *wsConn) SetWriteDeadline(t time.Time) error {
	return c.ws.SetWriteDeadline(t)
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// mapReadErr maps a regular websocket close to io.EOF
func mapReadErr(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return io.EOF
	}
	return err
}
