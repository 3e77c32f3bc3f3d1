package server

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dStream/rpc/common"
	"github.com/ValentinKolb/dStream/rpc/protocol"
	"github.com/ValentinKolb/dStream/rpc/serializer"
	"github.com/ValentinKolb/dStream/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("server")

// --------------------------------------------------------------------------
// Session
// --------------------------------------------------------------------------

// Session is one accepted connection of the server
type Session struct {
	ID         uint64
	RemoteAddr string
	adapter    *protocol.Adapter
}

// Adapter returns the protocol adapter of the session
func (s *Session) Adapter() *protocol.Adapter {
	return s.adapter
}

type sessionKey struct{}

// SessionFromContext returns the session of the connection a request arrived on.
// It is available in the context passed to the request handler.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(*Session)
	return s, ok
}

// --------------------------------------------------------------------------
// Server
// --------------------------------------------------------------------------

// Server accepts connections and serves the requests of every connection with one handler
type Server struct {
	config     common.ServerConfig
	transport  transport.IServerTransport
	serializer serializer.IPayloadSerializer
	handler    protocol.RequestHandler

	sessions  *xsync.MapOf[uint64, *Session]
	nextID    atomic.Uint64
	listening atomic.Bool

	mu     sync.Mutex // protects closed and adding to wg
	closed bool
	wg     sync.WaitGroup
}

// NewServer creates a new server
//
// Usage:
//
//	s := server.NewServer(
//		config,
//		tcp.NewTCPServerTransport(),
//		serializer.NewJSONSerializer(),
//		handler,
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewServer(
	config common.ServerConfig,
	t transport.IServerTransport,
	s serializer.IPayloadSerializer,
	handler protocol.RequestHandler,
) *Server {
	return &Server{
		config:     config,
		transport:  t,
		serializer: s,
		handler:    handler,
		sessions:   xsync.NewMapOf[uint64, *Session](),
	}
}

// Listen starts listening on the configured endpoint without accepting connections yet
func (s *Server) Listen() error {
	if s.listening.Load() {
		return nil
	}
	if err := s.config.Validate(); err != nil {
		return errors.Wrap(err, "invalid server config")
	}
	if err := s.transport.Listen(s.config); err != nil {
		return err
	}
	s.listening.Store(true)

	Logger.Infof("Listening on %s", s.transport.Addr())
	Logger.Infof(s.config.String())
	return nil
}

// Serve accepts connections until Close is called. It listens first if Listen was not called.
// Returns nil after Close.
func (s *Server) Serve() error {
	if err := s.Listen(); err != nil {
		return err
	}

	for {
		t, err := s.transport.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, common.ErrTransportClosed) {
				return nil
			}
			if common.IsFatal(err) {
				return err
			}
			// a single failed handshake does not stop the server
			Logger.Warningf("Failed to accept connection: %v", err)
			continue
		}
		s.serve(t)
	}
}

// Addr returns the address the server listens on
func (s *Server) Addr() string {
	return s.transport.Addr()
}

// Sessions returns all open sessions
func (s *Server) Sessions() []*Session {
	sessions := make([]*Session, 0, s.sessions.Size())
	s.sessions.Range(func(_ uint64, session *Session) bool {
		sessions = append(sessions, session)
		return true
	})
	return sessions
}

// Session returns the session with the given id
func (s *Server) Session(id uint64) (*Session, bool) {
	return s.sessions.Load(id)
}

// SendRequest sends a request to the client of session and waits for the response
func (s *Server) SendRequest(ctx context.Context, session *Session, req *protocol.StreamingRequest) (*protocol.ReceiveResponse, error) {
	if session == nil {
		return nil, errors.New("no session")
	}
	return session.adapter.SendRequest(ctx, req)
}

// Close stops accepting connections and closes all sessions
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.transport.Close()

	s.sessions.Range(func(_ uint64, session *Session) bool {
		_ = session.adapter.Close()
		return true
	})
	s.wg.Wait()

	Logger.Infof("Server stopped")
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// serve starts the protocol on an accepted connection
func (s *Server) serve(t transport.ITransport) {
	session := &Session{
		ID:         s.nextID.Add(1),
		RemoteAddr: t.RemoteAddr(),
	}

	var handler protocol.RequestHandler
	if s.handler != nil {
		handler = protocol.RequestHandlerFunc(func(ctx context.Context, req *protocol.ReceiveRequest) (*protocol.StreamingResponse, error) {
			return s.handler.ProcessRequest(context.WithValue(ctx, sessionKey{}, session), req)
		})
	}

	session.adapter = protocol.NewAdapter(t, s.serializer, handler, s.config.Protocol)

	// the server may have been closed while the connection was accepted
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = session.adapter.Close()
		return
	}
	s.sessions.Store(session.ID, session)
	s.wg.Add(1)
	s.mu.Unlock()

	session.adapter.Start()
	Logger.Debugf("Session %d opened (%s)", session.ID, session.RemoteAddr)

	go func() {
		defer s.wg.Done()
		<-session.adapter.Done()
		s.sessions.Delete(session.ID)
		Logger.Debugf("Session %d closed: %v", session.ID, session.adapter.Err())
	}()
}
