package transport

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"

	"github.com/ravendevteam/betanet-go/pkg/cert"
	"github.com/ravendevteam/betanet-go/pkg/fault"
)

// TLS constants for the betanet tunnel.
const (
	// ALPN protocol identifier for betanet.
	ALPNProtocol = "betanet/1"

	// DefaultPort is the default betanet port.
	DefaultPort = 8443
)

// TLS configuration errors.
var (
	ErrNoCertificate    = errors.New("server certificate is required")
	ErrNoPin            = errors.New("pinned trust policy requires a certificate fingerprint")
	ErrNoRoots          = errors.New("ca trust policy requires a root certificate pool")
	ErrUnknownTrust     = errors.New("unknown trust policy")
	ErrUnknownTunnel    = errors.New("unknown tunnel mode")
	ErrVersionMismatch  = errors.New("tunnel is not TLS 1.3")
	ErrProtocolMismatch = errors.New("unexpected ALPN protocol")
)

// TrustPolicy selects how the initiator verifies the responder's tunnel
// certificate. The tunnel never authenticates the peer for the secure
// channel itself; that is left to the inner handshake. The zero value is
// invalid so a policy is always chosen deliberately.
type TrustPolicy uint8

const (
	// TrustUnspecified is the invalid zero value.
	TrustUnspecified TrustPolicy = iota

	// TrustNone accepts any certificate. The tunnel then gives
	// confidentiality and integrity only.
	TrustNone

	// TrustPinned accepts exactly the certificate whose SHA-256
	// fingerprint matches the configured pin.
	TrustPinned

	// TrustCA validates the chain and server name against configured roots.
	TrustCA
)

// String returns the policy name.
func (p TrustPolicy) String() string {
	switch p {
	case TrustNone:
		return "none"
	case TrustPinned:
		return "pinned"
	case TrustCA:
		return "ca"
	default:
		return "unspecified"
	}
}

// ParseTrustPolicy parses a policy name as printed by String.
func ParseTrustPolicy(s string) (TrustPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none":
		return TrustNone, nil
	case "pinned":
		return TrustPinned, nil
	case "ca":
		return TrustCA, nil
	default:
		return TrustUnspecified, fmt.Errorf("%w: %q", ErrUnknownTrust, s)
	}
}

// TunnelMode selects whether the raw stream is wrapped in TLS.
type TunnelMode uint8

const (
	// TunnelTLS wraps the stream in TLS 1.3.
	TunnelTLS TunnelMode = iota

	// TunnelNone runs the handshake directly on the raw stream.
	// Intended for controlled tests.
	TunnelNone
)

// String returns the mode name.
func (m TunnelMode) String() string {
	switch m {
	case TunnelTLS:
		return "tls"
	case TunnelNone:
		return "none"
	default:
		return "unknown"
	}
}

// ParseTunnelMode parses a mode name as printed by String.
func ParseTunnelMode(s string) (TunnelMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tls", "":
		return TunnelTLS, nil
	case "none":
		return TunnelNone, nil
	default:
		return TunnelTLS, fmt.Errorf("%w: %q", ErrUnknownTunnel, s)
	}
}

// ServerTLSConfig holds configuration for the responder side of the tunnel.
type ServerTLSConfig struct {
	// Certificate is the responder's tunnel certificate.
	Certificate tls.Certificate
}

// ClientTLSConfig holds configuration for the initiator side of the tunnel.
type ClientTLSConfig struct {
	// Trust selects how the responder certificate is verified.
	Trust TrustPolicy

	// PinnedFingerprint is the SHA-256 fingerprint of the responder's
	// certificate. Required for TrustPinned.
	PinnedFingerprint string

	// RootCAs is the pool of trusted CA certificates. Required for TrustCA.
	RootCAs *x509.CertPool

	// ServerName is the expected server name. Used for SNI, and for
	// verification under TrustCA.
	ServerName string
}

// NewServerTLSConfig creates a TLS configuration for the responder.
// Client certificates are neither requested nor verified.
func NewServerTLSConfig(cfg *ServerTLSConfig) (*tls.Config, error) {
	if cfg == nil || len(cfg.Certificate.Certificate) == 0 {
		return nil, fault.New(fault.KindTransportSecurity, "server tls config", ErrNoCertificate)
	}

	return &tls.Config{
		// TLS 1.3 only - no fallback
		MinVersion: tls.VersionTLS13,
		MaxVersion: tls.VersionTLS13,

		ClientAuth:   tls.NoClientCert,
		Certificates: []tls.Certificate{cfg.Certificate},
		NextProtos:   []string{ALPNProtocol},

		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},

		// Session tickets disabled (no resumption)
		SessionTicketsDisabled: true,
	}, nil
}

// NewClientTLSConfig creates a TLS configuration for the initiator.
func NewClientTLSConfig(cfg *ClientTLSConfig) (*tls.Config, error) {
	if cfg == nil {
		return nil, fault.Errorf(fault.KindTransportSecurity, "client tls config", "%w: no configuration", ErrUnknownTrust)
	}

	tlsConfig := &tls.Config{
		// TLS 1.3 only - no fallback
		MinVersion: tls.VersionTLS13,
		MaxVersion: tls.VersionTLS13,

		ServerName: cfg.ServerName,
		NextProtos: []string{ALPNProtocol},

		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},

		// Session tickets disabled (no resumption)
		SessionTicketsDisabled: true,
	}

	switch cfg.Trust {
	case TrustNone:
		tlsConfig.InsecureSkipVerify = true

	case TrustPinned:
		if cfg.PinnedFingerprint == "" {
			return nil, fault.New(fault.KindTransportSecurity, "client tls config", ErrNoPin)
		}
		verify, err := cert.PinVerifier(cfg.PinnedFingerprint)
		if err != nil {
			return nil, fault.New(fault.KindTransportSecurity, "client tls config", err)
		}
		// Chain building is replaced by the fingerprint check.
		tlsConfig.InsecureSkipVerify = true
		tlsConfig.VerifyPeerCertificate = verify

	case TrustCA:
		if cfg.RootCAs == nil {
			return nil, fault.New(fault.KindTransportSecurity, "client tls config", ErrNoRoots)
		}
		tlsConfig.RootCAs = cfg.RootCAs

	default:
		return nil, fault.Errorf(fault.KindTransportSecurity, "client tls config", "%w: %d", ErrUnknownTrust, cfg.Trust)
	}

	return tlsConfig, nil
}

// VerifyTLS13 checks that a TLS connection is using TLS 1.3.
func VerifyTLS13(state tls.ConnectionState) error {
	if state.Version != tls.VersionTLS13 {
		return fmt.Errorf("%w: version %x", ErrVersionMismatch, state.Version)
	}
	return nil
}

// VerifyALPN checks that the negotiated ALPN protocol is correct.
func VerifyALPN(state tls.ConnectionState) error {
	if state.NegotiatedProtocol != ALPNProtocol {
		return fmt.Errorf("%w: %q is not %q", ErrProtocolMismatch, state.NegotiatedProtocol, ALPNProtocol)
	}
	return nil
}

// VerifyConnection performs the standard post-handshake tunnel checks.
// Failures are transport security errors.
func VerifyConnection(state tls.ConnectionState) error {
	if err := VerifyTLS13(state); err != nil {
		return fault.New(fault.KindTransportSecurity, "verify tunnel", err)
	}
	if err := VerifyALPN(state); err != nil {
		return fault.New(fault.KindTransportSecurity, "verify tunnel", err)
	}
	return nil
}
