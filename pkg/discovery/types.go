package discovery

import (
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ravendevteam/betanet-go/pkg/transport"
)

// Service constants for mDNS.
const (
	// ServiceType is the DNS-SD service type advertised by responders.
	ServiceType = "_betanet._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// InstancePrefix prefixes generated instance names.
	InstancePrefix = "betanet-"
)

// TXT record keys.
const (
	TXTKeyProtocol = "proto"
	TXTKeyTunnel   = "tunnel"
)

// Timing constants.
const (
	// BrowseTimeout is the default timeout for one-shot lookups.
	BrowseTimeout = 10 * time.Second

	// DefaultTTL is the default DNS record TTL.
	DefaultTTL = 120 * time.Second
)

// MaxInstanceNameLen is the DNS label limit.
const MaxInstanceNameLen = 63

// Discovery errors.
var (
	ErrInvalidTXTRecord    = errors.New("invalid TXT record format")
	ErrMissingRequired     = errors.New("missing required field")
	ErrInstanceNameTooLong = errors.New("instance name exceeds 63 characters")
	ErrInvalidPort         = errors.New("port out of range")
	ErrNotFound            = errors.New("service not found")
)

// ResponderInfo is the information a responder puts in its TXT record.
type ResponderInfo struct {
	// Protocol is the handshake protocol name.
	Protocol string

	// Tunnel is the tunnel mode the listener expects.
	Tunnel transport.TunnelMode
}

// ResponderService is a responder found by browsing.
type ResponderService struct {
	InstanceName string
	Host         string
	Port         uint16
	Addresses    []string
	Protocol     string
	Tunnel       transport.TunnelMode
}

// Addr returns a dialable host:port, preferring the first resolved
// address over the host name.
func (s *ResponderService) Addr() string {
	host := s.Host
	if len(s.Addresses) > 0 {
		host = s.Addresses[0]
	}
	return net.JoinHostPort(host, strconv.Itoa(int(s.Port)))
}

// AdvertiserConfig configures advertiser behavior.
type AdvertiserConfig struct {
	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string

	// TTL is the DNS record TTL.
	// Default: 120 seconds.
	TTL time.Duration

	// Instance is the service instance name.
	// Default: "betanet-" followed by a random suffix.
	Instance string

	// Tunnel is advertised in the TXT record.
	Tunnel transport.TunnelMode
}

// DefaultAdvertiserConfig returns the default advertiser configuration.
func DefaultAdvertiserConfig() AdvertiserConfig {
	return AdvertiserConfig{
		TTL:      DefaultTTL,
		Instance: GenerateInstanceName(),
		Tunnel:   transport.TunnelTLS,
	}
}

// GenerateInstanceName returns a fresh instance name.
func GenerateInstanceName() string {
	return InstancePrefix + uuid.NewString()[:8]
}

// BrowserConfig configures browser behavior.
type BrowserConfig struct {
	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string

	// BrowseTimeout bounds Find when the context has no deadline.
	BrowseTimeout time.Duration
}

// DefaultBrowserConfig returns the default browser configuration.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{BrowseTimeout: BrowseTimeout}
}
