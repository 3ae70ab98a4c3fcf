package config

import (
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/ravendevteam/betanet-go/pkg/connection"
	"github.com/ravendevteam/betanet-go/pkg/session"
	"github.com/ravendevteam/betanet-go/pkg/transport"
)

// Configuration keys.
const (
	KeyIdentityPath = "identity.path"

	KeyListenAddress = "listen.address"

	KeyTunnelMode       = "tunnel.mode"
	KeyTunnelCert       = "tunnel.cert_file"
	KeyTunnelKey        = "tunnel.key_file"
	KeyTunnelTrust      = "tunnel.trust"
	KeyTunnelPin        = "tunnel.pin"
	KeyTunnelCA         = "tunnel.ca_file"
	KeyTunnelServerName = "tunnel.server_name"

	KeyTimeoutConnect   = "timeouts.connect"
	KeyTimeoutHandshake = "timeouts.handshake"
	KeyTimeoutRead      = "timeouts.read"

	KeyRetryAttempts = "retry.max_attempts"

	KeyLimitsMaxMessage  = "limits.max_message_size"
	KeyLimitsAcceptRate  = "limits.accept_rate"
	KeyLimitsAcceptBurst = "limits.accept_burst"
	KeyLimitsMaxConns    = "limits.max_connections"

	KeyDiscoveryAdvertise = "discovery.advertise"
	KeyDiscoveryInstance  = "discovery.instance"
	KeyDiscoveryIface     = "discovery.interface"

	KeyLogLevel    = "log.level"
	KeyLogProtocol = "log.protocol_file"
)

// Default values not owned by another package.
const (
	DefaultTrust    = "pinned"
	DefaultLogLevel = "info"
)

// SetDefaults installs every default on v.
func SetDefaults(v *viper.Viper) {
	base := BaseDir()

	v.SetDefault(KeyIdentityPath, filepath.Join(base, "identity.yaml"))

	v.SetDefault(KeyListenAddress, ":8443")

	v.SetDefault(KeyTunnelMode, transport.TunnelTLS.String())
	v.SetDefault(KeyTunnelCert, filepath.Join(base, "cert.pem"))
	v.SetDefault(KeyTunnelKey, filepath.Join(base, "key.pem"))
	v.SetDefault(KeyTunnelTrust, DefaultTrust)
	v.SetDefault(KeyTunnelPin, "")
	v.SetDefault(KeyTunnelCA, "")
	v.SetDefault(KeyTunnelServerName, "")

	v.SetDefault(KeyTimeoutConnect, transport.DefaultConnectTimeout)
	v.SetDefault(KeyTimeoutHandshake, session.DefaultHandshakeTimeout)
	v.SetDefault(KeyTimeoutRead, time.Duration(0))

	v.SetDefault(KeyRetryAttempts, connection.DefaultMaxAttempts)

	v.SetDefault(KeyLimitsMaxMessage, transport.DefaultMaxMessageSize)
	v.SetDefault(KeyLimitsAcceptRate, 0.0)
	v.SetDefault(KeyLimitsAcceptBurst, 1)
	v.SetDefault(KeyLimitsMaxConns, 0)

	v.SetDefault(KeyDiscoveryAdvertise, false)
	v.SetDefault(KeyDiscoveryInstance, "")
	v.SetDefault(KeyDiscoveryIface, "")

	v.SetDefault(KeyLogLevel, DefaultLogLevel)
	v.SetDefault(KeyLogProtocol, "")
}
