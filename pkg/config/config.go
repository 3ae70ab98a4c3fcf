// Package config loads betanet node settings from a YAML file, BETANET_
// environment variables and built-in defaults, in increasing order of
// precedence below any bound command-line flags.
//
// Keys are dotted paths; the matching environment variable upper-cases the
// key and replaces dots with underscores, so timeouts.handshake becomes
// BETANET_TIMEOUTS_HANDSHAKE.
//
// The result is a Config value. Nothing in this package keeps global state:
// every Load builds its own viper instance.
package config

import (
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/ravendevteam/betanet-go/pkg/cert"
	"github.com/ravendevteam/betanet-go/pkg/connection"
	"github.com/ravendevteam/betanet-go/pkg/fault"
	"github.com/ravendevteam/betanet-go/pkg/handshake"
	"github.com/ravendevteam/betanet-go/pkg/log"
	"github.com/ravendevteam/betanet-go/pkg/session"
	"github.com/ravendevteam/betanet-go/pkg/transport"
)

// BaseDirName is the per-user directory holding config and key material.
const BaseDirName = ".betanet"

// EnvPrefix prefixes every environment variable override.
const EnvPrefix = "BETANET"

// Config is a fully resolved, validated node configuration.
type Config struct {
	IdentityPath string

	ListenAddress string

	Tunnel     transport.TunnelMode
	CertFile   string
	KeyFile    string
	Trust      transport.TrustPolicy
	Pin        string
	CAFile     string
	ServerName string

	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration

	RetryAttempts int

	MaxMessageSize uint32
	AcceptRate     float64
	AcceptBurst    int
	MaxConnections int

	Advertise bool
	Instance  string
	Interface string

	LogLevel    slog.Level
	ProtocolLog string
}

// BaseDir returns $HOME/.betanet, or .betanet when the home directory is
// unknown.
func BaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return BaseDirName
	}
	return filepath.Join(home, BaseDirName)
}

// Load reads path (or config.yaml in BaseDir when path is empty) and
// returns the resolved Config.
func Load(path string) (Config, error) {
	v, err := NewViper(path)
	if err != nil {
		return Config{}, err
	}
	return FromViper(v)
}

// NewViper returns a viper instance with defaults, environment overrides
// and the config file applied. A missing default config file is not an
// error; a missing explicit one is. Callers may bind flags on the result
// before calling FromViper.
func NewViper(path string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(BaseDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return v, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	return v, nil
}

// FromViper builds and validates a Config from v.
func FromViper(v *viper.Viper) (Config, error) {
	tunnel, err := transport.ParseTunnelMode(v.GetString(KeyTunnelMode))
	if err != nil {
		return Config{}, invalid(KeyTunnelMode, err.Error())
	}
	trust, err := transport.ParseTrustPolicy(v.GetString(KeyTunnelTrust))
	if err != nil {
		return Config{}, invalid(KeyTunnelTrust, err.Error())
	}
	level, err := ParseLogLevel(v.GetString(KeyLogLevel))
	if err != nil {
		return Config{}, invalid(KeyLogLevel, err.Error())
	}

	maxMessage := v.GetInt64(KeyLimitsMaxMessage)
	if maxMessage < handshake.MaxMessageSize || maxMessage > transport.DefaultMaxMessageSize {
		return Config{}, invalid(KeyLimitsMaxMessage,
			fmt.Sprintf("must be between %d and %d", handshake.MaxMessageSize, transport.DefaultMaxMessageSize))
	}

	cfg := Config{
		IdentityPath:     v.GetString(KeyIdentityPath),
		ListenAddress:    v.GetString(KeyListenAddress),
		Tunnel:           tunnel,
		CertFile:         v.GetString(KeyTunnelCert),
		KeyFile:          v.GetString(KeyTunnelKey),
		Trust:            trust,
		Pin:              v.GetString(KeyTunnelPin),
		CAFile:           v.GetString(KeyTunnelCA),
		ServerName:       v.GetString(KeyTunnelServerName),
		ConnectTimeout:   v.GetDuration(KeyTimeoutConnect),
		HandshakeTimeout: v.GetDuration(KeyTimeoutHandshake),
		ReadTimeout:      v.GetDuration(KeyTimeoutRead),
		RetryAttempts:    v.GetInt(KeyRetryAttempts),
		MaxMessageSize:   uint32(maxMessage),
		AcceptRate:       v.GetFloat64(KeyLimitsAcceptRate),
		AcceptBurst:      v.GetInt(KeyLimitsAcceptBurst),
		MaxConnections:   v.GetInt(KeyLimitsMaxConns),
		Advertise:        v.GetBool(KeyDiscoveryAdvertise),
		Instance:         v.GetString(KeyDiscoveryInstance),
		Interface:        v.GetString(KeyDiscoveryIface),
		LogLevel:         level,
		ProtocolLog:      v.GetString(KeyLogProtocol),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseLogLevel parses debug, info, warn or error.
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

// RetryPolicy returns the dial retry policy.
func (c Config) RetryPolicy() connection.Policy {
	return connection.Policy{MaxAttempts: c.RetryAttempts}
}

// Session returns the session settings shared by both roles. TLS trust
// and the remote key are left to the caller.
func (c Config) Session(kp handshake.Keypair, logger log.Logger) session.Config {
	return session.Config{
		StaticKeypair:    kp,
		Tunnel:           c.Tunnel,
		MaxMessageSize:   c.MaxMessageSize,
		ConnectTimeout:   c.ConnectTimeout,
		HandshakeTimeout: c.HandshakeTimeout,
		ReadTimeout:      c.ReadTimeout,
		Retry:            c.RetryPolicy(),
		Logger:           logger,
	}
}

// ServerTLS loads the responder's tunnel certificate. It returns nil when
// the tunnel is disabled.
func (c Config) ServerTLS() (*transport.ServerTLSConfig, error) {
	if c.Tunnel == transport.TunnelNone {
		return nil, nil
	}
	certificate, err := cert.LoadTLSCertificate(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, err
	}
	return &transport.ServerTLSConfig{Certificate: certificate}, nil
}

// ClientTLS builds the initiator's trust policy. It returns nil when the
// tunnel is disabled.
func (c Config) ClientTLS() (*transport.ClientTLSConfig, error) {
	if c.Tunnel == transport.TunnelNone {
		return nil, nil
	}
	if err := c.requireDialTrust(); err != nil {
		return nil, err
	}

	tlsCfg := &transport.ClientTLSConfig{
		Trust:      c.Trust,
		ServerName: c.ServerName,
	}
	if c.Trust == transport.TrustPinned {
		pin, err := cert.ParseFingerprint(c.Pin)
		if err != nil {
			return nil, invalid(KeyTunnelPin, err.Error())
		}
		tlsCfg.PinnedFingerprint = pin
	}
	if c.Trust == transport.TrustCA {
		pemData, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, fault.Errorf(fault.KindTransportSecurity, "load ca", "read %s: %w", c.CAFile, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, fault.Errorf(fault.KindTransportSecurity, "load ca", "no certificates in %s", c.CAFile)
		}
		tlsCfg.RootCAs = pool
	}
	return tlsCfg, nil
}

// TransportServer returns the listener settings other than TLS material
// and callbacks.
func (c Config) TransportServer() transport.ServerConfig {
	return transport.ServerConfig{
		Tunnel:           c.Tunnel,
		Address:          c.ListenAddress,
		MaxMessageSize:   c.MaxMessageSize,
		HandshakeTimeout: c.HandshakeTimeout,
		AcceptRate:       rate.Limit(c.AcceptRate),
		AcceptBurst:      c.AcceptBurst,
		MaxConnections:   c.MaxConnections,
	}
}
