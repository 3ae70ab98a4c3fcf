package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/ravendevteam/betanet-go/pkg/fault"
	"github.com/ravendevteam/betanet-go/pkg/log"
	"golang.org/x/time/rate"
)

// ServerConfig configures the responder side of the tunnel.
type ServerConfig struct {
	// Tunnel selects TLS or a plaintext raw stream.
	Tunnel TunnelMode

	// TLS contains the responder certificate. Required when Tunnel is
	// TunnelTLS.
	TLS *ServerTLSConfig

	// Address to listen on (e.g., ":8443" or "127.0.0.1:8443").
	Address string

	// MaxMessageSize is the maximum frame payload size (default: 65535).
	MaxMessageSize uint32

	// HandshakeTimeout bounds the TLS handshake of each accepted
	// connection (default: 10s).
	HandshakeTimeout time.Duration

	// AcceptRate limits new connections per second. Connections over the
	// limit are closed before any handshake work. Zero disables limiting.
	AcceptRate rate.Limit

	// AcceptBurst is the burst size for AcceptRate (default: 1).
	AcceptBurst int

	// MaxConnections caps concurrently open connections. Zero is unlimited.
	MaxConnections int

	// Logger for protocol logging (optional).
	Logger log.Logger

	// OnConnection is called in its own goroutine for every connection
	// whose tunnel is up. The connection is closed when it returns.
	OnConnection func(ctx context.Context, conn *ServerConn)

	// OnError is called when accepting or upgrading a connection fails.
	// conn is nil when the failure happened before a ServerConn existed.
	OnError func(conn *ServerConn, err error)
}

func (c *ServerConfig) applyDefaults() {
	if c.Address == "" {
		c.Address = fmt.Sprintf(":%d", DefaultPort)
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = DefaultConnectTimeout
	}
	if c.AcceptBurst == 0 {
		c.AcceptBurst = 1
	}
}

// Listener accepts raw connections and brings up the tunnel on each.
type Listener struct {
	config   ServerConfig
	tlsConf  *tls.Config
	listener net.Listener
}

// Listen binds config.Address and returns a Listener.
func Listen(config ServerConfig) (*Listener, error) {
	config.applyDefaults()

	l := &Listener{config: config}

	switch config.Tunnel {
	case TunnelTLS:
		tlsConf, err := NewServerTLSConfig(config.TLS)
		if err != nil {
			return nil, err
		}
		l.tlsConf = tlsConf
	case TunnelNone:
	default:
		return nil, fault.Errorf(fault.KindTransportSecurity, "listen", "%w: %d", ErrUnknownTunnel, config.Tunnel)
	}

	listener, err := net.Listen("tcp", config.Address)
	if err != nil {
		return nil, fault.Errorf(fault.KindConnection, "listen", "failed to listen: %w", err)
	}
	l.listener = listener

	return l, nil
}

// Addr returns the listen address.
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// Close stops listening. Established connections are not affected.
func (l *Listener) Close() error {
	return l.listener.Close()
}

// Accept waits for the next connection and brings up its tunnel.
// Cancelling ctx unblocks a pending Accept.
func (l *Listener) Accept(ctx context.Context) (*ServerConn, error) {
	raw, err := l.acceptRaw(ctx)
	if err != nil {
		return nil, err
	}
	return l.upgrade(ctx, raw)
}

type deadliner interface {
	SetDeadline(t time.Time) error
}

func (l *Listener) acceptRaw(ctx context.Context) (net.Conn, error) {
	if d, ok := l.listener.(deadliner); ok {
		stop := context.AfterFunc(ctx, func() {
			d.SetDeadline(time.Now())
		})
		defer func() {
			if !stop() {
				d.SetDeadline(time.Time{})
			}
		}()
	}

	raw, err := l.listener.Accept()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fault.New(fault.KindConnection, "accept", ctxErr)
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, fault.New(fault.KindConnection, "accept", ErrServerClosed)
		}
		return nil, fault.Errorf(fault.KindConnection, "accept", "accept error: %w", err)
	}
	return raw, nil
}

// upgrade runs the responder side of the tunnel handshake on raw.
func (l *Listener) upgrade(ctx context.Context, raw net.Conn) (*ServerConn, error) {
	rec := log.Recorder{
		Logger:       l.config.Logger,
		ConnectionID: uuid.New().String(),
		Role:         log.RoleResponder,
		RemoteAddr:   raw.RemoteAddr().String(),
	}

	conn := raw
	if l.tlsConf != nil {
		hsCtx, cancel := context.WithTimeout(ctx, l.config.HandshakeTimeout)
		defer cancel()

		tlsConn := tls.Server(raw, l.tlsConf)
		if err := tlsHandshake(hsCtx, tlsConn, "accept"); err != nil {
			raw.Close()
			rec.Error(log.LayerTransport, err, fault.KindOf(err).String(), "tls handshake")
			return nil, err
		}
		conn = tlsConn
	}

	rec.State(log.LayerTransport, log.StateEntityConnection, "", "CONNECTED", fmt.Sprintf("tunnel=%s", l.config.Tunnel))

	return &ServerConn{stream: newStream(raw, conn, l.config.MaxMessageSize, rec)}, nil
}

// ServerConn represents an accepted connection on the responder.
type ServerConn struct {
	*stream
}

// Server runs an accept loop over a Listener and hands every connection to
// OnConnection in its own goroutine.
type Server struct {
	config   ServerConfig
	listener *Listener
	limiter  *rate.Limiter

	// Active connections
	conns   map[*ServerConn]struct{}
	connsMu sync.RWMutex

	// slots counts accepted connections from accept until close,
	// including those still in their tunnel handshake.
	slots atomic.Int64

	// State
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer creates a new server. Configuration is validated by Start.
func NewServer(config ServerConfig) (*Server, error) {
	if config.OnConnection == nil {
		return nil, fmt.Errorf("OnConnection is required")
	}
	config.applyDefaults()

	s := &Server{
		config: config,
		conns:  make(map[*ServerConn]struct{}),
	}
	if config.AcceptRate > 0 {
		s.limiter = rate.NewLimiter(config.AcceptRate, config.AcceptBurst)
	}
	return s, nil
}

// Start starts the server and begins accepting connections.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return fmt.Errorf("server already running")
	}

	listener, err := Listen(s.config)
	if err != nil {
		return err
	}
	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop stops the server and closes all connections.
func (s *Server) Stop() error {
	if !s.running.Load() {
		return nil
	}

	s.running.Store(false)
	s.cancel()

	// Close listener to stop accept loop
	s.listener.Close()

	// Close all connections
	s.connsMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()

	s.wg.Wait()

	return nil
}

// Addr returns the server's listen address.
func (s *Server) Addr() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// ConnectionCount returns the number of active connections.
func (s *Server) ConnectionCount() int {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	return len(s.conns)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for s.running.Load() {
		raw, err := s.listener.acceptRaw(s.ctx)
		if err != nil {
			if !s.running.Load() || s.ctx.Err() != nil || errors.Is(err, ErrServerClosed) {
				return
			}
			s.reportError(nil, err)
			continue
		}

		if s.limiter != nil && !s.limiter.Allow() {
			raw.Close()
			s.reportError(nil, fault.Errorf(fault.KindConnection, "accept", "%w: %s", ErrRateLimited, raw.RemoteAddr()))
			continue
		}
		active := s.slots.Add(1)
		if limit := s.config.MaxConnections; limit > 0 && active > int64(limit) {
			s.slots.Add(-1)
			raw.Close()
			s.reportError(nil, fault.Errorf(fault.KindConnection, "accept", "%w: %d", ErrTooManyConns, limit))
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(raw)
	}
}

func (s *Server) handleConnection(raw net.Conn) {
	defer s.wg.Done()
	defer s.slots.Add(-1)

	conn, err := s.listener.upgrade(s.ctx, raw)
	if err != nil {
		s.reportError(nil, err)
		return
	}

	s.connsMu.Lock()
	s.conns[conn] = struct{}{}
	s.connsMu.Unlock()

	s.config.OnConnection(s.ctx, conn)

	conn.Close()

	s.connsMu.Lock()
	delete(s.conns, conn)
	s.connsMu.Unlock()
}

func (s *Server) reportError(conn *ServerConn, err error) {
	if s.config.OnError != nil {
		s.config.OnError(conn, err)
	}
}
