package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/ravendevteam/betanet-go/pkg/fault"
	"github.com/ravendevteam/betanet-go/pkg/log"
)

// ClientConfig configures the initiator side of the tunnel.
type ClientConfig struct {
	// Tunnel selects TLS or a plaintext raw stream.
	Tunnel TunnelMode

	// TLS contains the trust policy. Required when Tunnel is TunnelTLS.
	TLS *ClientTLSConfig

	// MaxMessageSize is the maximum frame payload size (default: 65535).
	MaxMessageSize uint32

	// ConnectTimeout bounds dialing and the TLS handshake (default: 10s).
	ConnectTimeout time.Duration

	// Logger for protocol logging (optional).
	Logger log.Logger
}

// Client dials responders.
type Client struct {
	config  ClientConfig
	tlsConf *tls.Config
}

// NewClient creates a new client. The TLS configuration is built once here
// and shared by every connection.
func NewClient(config ClientConfig) (*Client, error) {
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}

	c := &Client{config: config}

	switch config.Tunnel {
	case TunnelTLS:
		tlsConf, err := NewClientTLSConfig(config.TLS)
		if err != nil {
			return nil, err
		}
		c.tlsConf = tlsConf
	case TunnelNone:
	default:
		return nil, fault.Errorf(fault.KindTransportSecurity, "new client", "%w: %d", ErrUnknownTunnel, config.Tunnel)
	}

	return c, nil
}

// Connect establishes a connection to the specified address.
// Dial failures are connection errors; TLS failures are transport security
// errors unless the stream itself broke.
func (c *Client) Connect(ctx context.Context, address string) (*ClientConn, error) {
	// Apply timeout from config if context doesn't have one
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.ConnectTimeout)
		defer cancel()
	}

	dialer := &net.Dialer{}
	raw, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fault.Errorf(fault.KindConnection, "connect", "dial %s: %w", address, err)
	}

	rec := log.Recorder{
		Logger:       c.config.Logger,
		ConnectionID: uuid.New().String(),
		Role:         log.RoleInitiator,
		RemoteAddr:   raw.RemoteAddr().String(),
	}

	conn := raw
	if c.tlsConf != nil {
		tlsConn := tls.Client(raw, c.tlsConf)
		if err := tlsHandshake(ctx, tlsConn, "connect"); err != nil {
			raw.Close()
			rec.Error(log.LayerTransport, err, fault.KindOf(err).String(), "tls handshake")
			return nil, err
		}
		conn = tlsConn
	}

	rec.State(log.LayerTransport, log.StateEntityConnection, "", "CONNECTED", fmt.Sprintf("tunnel=%s", c.config.Tunnel))

	return &ClientConn{stream: newStream(raw, conn, c.config.MaxMessageSize, rec)}, nil
}

// ClientConn represents a connection from the initiator to a responder.
type ClientConn struct {
	*stream
}
