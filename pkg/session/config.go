package session

import (
	"time"

	"github.com/ravendevteam/betanet-go/pkg/connection"
	"github.com/ravendevteam/betanet-go/pkg/handshake"
	"github.com/ravendevteam/betanet-go/pkg/log"
	"github.com/ravendevteam/betanet-go/pkg/transport"
)

// DefaultHandshakeTimeout bounds the Noise exchange.
const DefaultHandshakeTimeout = 10 * time.Second

// Config configures both sides of a session. Fields marked initiator or
// responder are ignored by the other side.
type Config struct {
	// StaticKeypair is the local long-term identity.
	StaticKeypair handshake.Keypair

	// RemoteStatic is the responder's public key (initiator).
	RemoteStatic handshake.PublicKey

	// Tunnel selects TLS or a plaintext raw stream (initiator; the
	// responder follows its listener).
	Tunnel transport.TunnelMode

	// TLS is the trust policy for the tunnel (initiator).
	TLS *transport.ClientTLSConfig

	// MaxMessageSize is the maximum frame payload (default: 65535).
	MaxMessageSize uint32

	// ConnectTimeout bounds TCP connect plus the TLS handshake
	// (initiator, default: 10s).
	ConnectTimeout time.Duration

	// HandshakeTimeout bounds the Noise exchange (default: 10s).
	HandshakeTimeout time.Duration

	// ReadTimeout bounds each Receive. Zero blocks until a message arrives.
	ReadTimeout time.Duration

	// Retry controls repeated Dial attempts (initiator, default: one
	// attempt).
	Retry connection.Policy

	// Logger receives protocol events (optional).
	Logger log.Logger
}

func (c *Config) applyDefaults() {
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = transport.DefaultMaxMessageSize
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = transport.DefaultConnectTimeout
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
}

func (c Config) handshakeConfig(rec log.Recorder) handshake.Config {
	return handshake.Config{
		StaticKeypair: c.StaticKeypair,
		RemoteStatic:  c.RemoteStatic,
		Recorder:      rec,
	}
}
