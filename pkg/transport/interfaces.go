package transport

import (
	"context"
	"crypto/tls"
	"net"
	"time"
)

// FrameReadWriter provides length-prefixed frame I/O.
// Implemented by Framer, ClientConn and ServerConn.
type FrameReadWriter interface {
	// ReadFrame reads a length-prefixed frame.
	ReadFrame() ([]byte, error)

	// WriteFrame writes a length-prefixed frame.
	WriteFrame(data []byte) error
}

// Conn is one end of a tunnel carrying frames.
// Implemented by ClientConn and ServerConn.
type Conn interface {
	FrameReadWriter

	// ConnID returns the unique connection identifier.
	ConnID() string

	// Tunneled reports whether the stream is wrapped in TLS.
	Tunneled() bool

	// TLSState returns the TLS connection state.
	TLSState() tls.ConnectionState

	// LocalAddr returns the local network address.
	LocalAddr() net.Addr

	// RemoteAddr returns the remote network address.
	RemoteAddr() net.Addr

	// SetDeadline sets the read and write deadline.
	SetDeadline(t time.Time) error

	// SetReadDeadline sets the read deadline.
	SetReadDeadline(t time.Time) error

	// Receive receives a frame with the specified timeout.
	Receive(timeout time.Duration) ([]byte, error)

	// Close closes the connection.
	Close() error
}

// TransportServer represents a betanet listener with an accept loop.
// Implemented by Server.
type TransportServer interface {
	// Start begins accepting connections.
	Start(ctx context.Context) error

	// Stop gracefully stops the server.
	Stop() error

	// Addr returns the server's listen address.
	Addr() net.Addr

	// ConnectionCount returns the number of active connections.
	ConnectionCount() int
}

// Compile-time interface satisfaction checks.
var (
	_ Conn            = (*ServerConn)(nil)
	_ Conn            = (*ClientConn)(nil)
	_ TransportServer = (*Server)(nil)
	_ FrameReadWriter = (*Framer)(nil)
)
