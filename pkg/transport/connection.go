package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/ravendevteam/betanet-go/pkg/fault"
	"github.com/ravendevteam/betanet-go/pkg/log"
)

// Connection errors.
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrServerClosed     = errors.New("server closed")
	ErrRateLimited      = errors.New("handshake attempt rate exceeded")
	ErrTooManyConns     = errors.New("connection limit reached")
)

// DefaultConnectTimeout bounds dialing plus the TLS handshake.
const DefaultConnectTimeout = 10 * time.Second

// stream is the state shared by both ends of a tunnel: the raw stream,
// the TLS wrapper when the tunnel is enabled, and the frame codec on top.
type stream struct {
	raw      net.Conn
	conn     net.Conn // the TLS conn, or raw when the tunnel is disabled
	tunneled bool
	tlsState tls.ConnectionState
	framer   *Framer
	rec      log.Recorder
	connID   string

	closeCh   chan struct{}
	closeOnce sync.Once
	writeMu   sync.Mutex
	readMu    sync.Mutex
}

func newStream(raw, conn net.Conn, maxSize uint32, rec log.Recorder) *stream {
	s := &stream{
		raw:     raw,
		conn:    conn,
		framer:  NewFramerWithMaxSize(conn, maxSize),
		rec:     rec,
		connID:  rec.ConnectionID,
		closeCh: make(chan struct{}),
	}
	if tc, ok := conn.(*tls.Conn); ok {
		s.tunneled = true
		s.tlsState = tc.ConnectionState()
	}
	s.framer.SetRecorder(rec)
	return s
}

// ConnID returns the unique connection identifier.
func (s *stream) ConnID() string {
	return s.connID
}

// Recorder returns the protocol recorder bound to this connection.
func (s *stream) Recorder() log.Recorder {
	return s.rec
}

// Tunneled reports whether the stream is wrapped in TLS.
func (s *stream) Tunneled() bool {
	return s.tunneled
}

// TLSState returns the TLS connection state. It is the zero value when the
// tunnel is disabled.
func (s *stream) TLSState() tls.ConnectionState {
	return s.tlsState
}

// LocalAddr returns the local network address.
func (s *stream) LocalAddr() net.Addr {
	return s.raw.LocalAddr()
}

// RemoteAddr returns the remote network address.
func (s *stream) RemoteAddr() net.Addr {
	return s.raw.RemoteAddr()
}

// MaxMessageSize returns the largest frame payload accepted.
func (s *stream) MaxMessageSize() uint32 {
	return s.framer.MaxMessageSize()
}

// SetDeadline sets the read and write deadline of the underlying stream.
// A zero value clears it.
func (s *stream) SetDeadline(t time.Time) error {
	return s.conn.SetDeadline(t)
}

// SetReadDeadline sets the read deadline of the underlying stream.
func (s *stream) SetReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

// WriteFrame writes one frame.
func (s *stream) WriteFrame(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.isClosed() {
		return fault.New(fault.KindConnection, "write frame", ErrConnectionClosed)
	}
	return s.framer.WriteFrame(data)
}

// ReadFrame blocks until one frame has been read.
func (s *stream) ReadFrame() ([]byte, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	if s.isClosed() {
		return nil, fault.New(fault.KindConnection, "read frame", ErrConnectionClosed)
	}
	data, err := s.framer.ReadFrame()
	if err != nil && s.isClosed() {
		return nil, fault.New(fault.KindConnection, "read frame", ErrConnectionClosed)
	}
	return data, err
}

// Send writes one frame.
func (s *stream) Send(data []byte) error {
	return s.WriteFrame(data)
}

// Receive reads one frame, waiting at most timeout. A zero timeout blocks.
func (s *stream) Receive(timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		s.conn.SetReadDeadline(time.Now().Add(timeout))
		defer s.conn.SetReadDeadline(time.Time{})
	}
	return s.ReadFrame()
}

// Close closes the connection. Blocked reads and writes return
// ErrConnectionClosed.
func (s *stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closeCh)
		err = s.conn.Close()
		s.rec.State(log.LayerTransport, log.StateEntityConnection, "CONNECTED", "DISCONNECTED", "")
	})
	return err
}

// Done is closed once Close has been called.
func (s *stream) Done() <-chan struct{} {
	return s.closeCh
}

func (s *stream) isClosed() bool {
	select {
	case <-s.closeCh:
		return true
	default:
		return false
	}
}

// tlsHandshake runs the TLS handshake on conn and checks the negotiated
// parameters. Failures caused by the stream itself are connection errors;
// everything else is a transport security error.
func tlsHandshake(ctx context.Context, conn *tls.Conn, op string) error {
	if err := conn.HandshakeContext(ctx); err != nil {
		return classifyHandshakeError(op, err)
	}
	return VerifyConnection(conn.ConnectionState())
}

func classifyHandshakeError(op string, err error) error {
	var (
		alert       tls.AlertError
		verifyErr   *tls.CertificateVerificationError
		unknownAuth x509.UnknownAuthorityError
		hostErr     x509.HostnameError
		recordErr   tls.RecordHeaderError
	)
	switch {
	case errors.As(err, &alert), errors.As(err, &verifyErr),
		errors.As(err, &unknownAuth), errors.As(err, &hostErr),
		errors.As(err, &recordErr):
		return fault.New(fault.KindTransportSecurity, op, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "remote error" {
		// An alert sent by the peer, e.g. protocol_version or bad_certificate.
		return fault.New(fault.KindTransportSecurity, op, err)
	}
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed), errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return fault.New(fault.KindConnection, op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fault.New(fault.KindConnection, op, err)
	}
	return fault.New(fault.KindTransportSecurity, op, err)
}
