package session

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/ravendevteam/betanet-go/pkg/transport"
)

// Advertiser announces a running responder on the local network.
// Implemented by discovery.MDNSAdvertiser.
type Advertiser interface {
	Advertise(ctx context.Context, port int) error
	Stop()
}

// ServerConfig configures a responder.
type ServerConfig struct {
	// Session configures the handshake and channel of every connection.
	// StaticKeypair is required.
	Session Config

	// Transport configures the listener. Its OnConnection and OnError are
	// managed by the Server.
	Transport transport.ServerConfig

	// OnSession is called in its own goroutine for every established
	// session. The session is closed when it returns.
	OnSession func(ctx context.Context, conn *Conn)

	// OnError is called when a connection fails before a session exists:
	// rate limiting, tunnel or handshake failures.
	OnError func(err error)

	// Advertiser announces the listener once it is bound (optional).
	Advertiser Advertiser
}

// Server accepts connections and runs an isolated responder handshake on
// each one.
type Server struct {
	config    ServerConfig
	transport *transport.Server

	mu       sync.Mutex
	sessions map[*Conn]struct{}
}

// NewServer validates config and creates a Server.
func NewServer(config ServerConfig) (*Server, error) {
	if config.OnSession == nil {
		return nil, fmt.Errorf("OnSession is required")
	}
	if err := config.Session.StaticKeypair.Validate(); err != nil {
		return nil, fmt.Errorf("static keypair: %w", err)
	}
	config.Session.applyDefaults()

	s := &Server{
		config:   config,
		sessions: make(map[*Conn]struct{}),
	}

	tc := config.Transport
	if tc.MaxMessageSize == 0 {
		tc.MaxMessageSize = config.Session.MaxMessageSize
	}
	if tc.Logger == nil {
		tc.Logger = config.Session.Logger
	}
	tc.OnConnection = s.handleConnection
	tc.OnError = func(_ *transport.ServerConn, err error) {
		s.reportError(err)
	}

	ts, err := transport.NewServer(tc)
	if err != nil {
		return nil, err
	}
	s.transport = ts
	return s, nil
}

// Start binds the listener, begins accepting and starts advertising.
func (s *Server) Start(ctx context.Context) error {
	if err := s.transport.Start(ctx); err != nil {
		return err
	}

	if s.config.Advertiser != nil {
		port := 0
		if addr, ok := s.transport.Addr().(*net.TCPAddr); ok {
			port = addr.Port
		}
		if err := s.config.Advertiser.Advertise(ctx, port); err != nil {
			s.transport.Stop()
			return fmt.Errorf("advertise: %w", err)
		}
	}
	return nil
}

// Stop withdraws the advertisement, stops accepting and closes every
// session.
func (s *Server) Stop() error {
	if s.config.Advertiser != nil {
		s.config.Advertiser.Stop()
	}
	return s.transport.Stop()
}

// Addr returns the listen address.
func (s *Server) Addr() net.Addr {
	return s.transport.Addr()
}

// SessionCount returns the number of established sessions.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) handleConnection(ctx context.Context, tc *transport.ServerConn) {
	conn, err := Accept(ctx, tc, s.config.Session)
	if err != nil {
		s.reportError(fmt.Errorf("%s: %w", tc.RemoteAddr(), err))
		return
	}

	s.mu.Lock()
	s.sessions[conn] = struct{}{}
	s.mu.Unlock()

	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.sessions, conn)
		s.mu.Unlock()
	}()

	s.config.OnSession(ctx, conn)
}

func (s *Server) reportError(err error) {
	if s.config.OnError != nil {
		s.config.OnError(err)
	}
}
