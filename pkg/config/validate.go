package config

import (
	"errors"
	"fmt"
	"net"

	"github.com/ravendevteam/betanet-go/pkg/cert"
	"github.com/ravendevteam/betanet-go/pkg/discovery"
	"github.com/ravendevteam/betanet-go/pkg/transport"
)

// ErrInvalid is matched by every ValidationError.
var ErrInvalid = errors.New("invalid configuration")

// ValidationError reports a bad value for a single key.
type ValidationError struct {
	Key    string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Key, e.Reason)
}

// Is reports whether target is ErrInvalid.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}

func invalid(key, reason string) error {
	return &ValidationError{Key: key, Reason: reason}
}

// Validate checks values that do not depend on which command runs.
// Requirements specific to dialing are checked by ClientTLS.
func (c Config) Validate() error {
	validators := []func() error{
		c.validatePaths,
		c.validateTunnel,
		c.validateTimeouts,
		c.validateLimits,
		c.validateDiscovery,
	}
	for _, validate := range validators {
		if err := validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c Config) validatePaths() error {
	if c.IdentityPath == "" {
		return invalid(KeyIdentityPath, "must not be empty")
	}
	if _, _, err := net.SplitHostPort(c.ListenAddress); err != nil {
		return invalid(KeyListenAddress, err.Error())
	}
	return nil
}

func (c Config) validateTunnel() error {
	if c.Tunnel == transport.TunnelNone {
		return nil
	}
	if c.Pin != "" {
		if _, err := cert.ParseFingerprint(c.Pin); err != nil {
			return invalid(KeyTunnelPin, err.Error())
		}
	}
	return nil
}

func (c Config) validateTimeouts() error {
	if c.ConnectTimeout <= 0 {
		return invalid(KeyTimeoutConnect, "must be positive")
	}
	if c.HandshakeTimeout <= 0 {
		return invalid(KeyTimeoutHandshake, "must be positive")
	}
	if c.ReadTimeout < 0 {
		return invalid(KeyTimeoutRead, "must not be negative")
	}
	if c.RetryAttempts < 1 {
		return invalid(KeyRetryAttempts, "must be at least 1")
	}
	return nil
}

func (c Config) validateLimits() error {
	if c.AcceptRate < 0 {
		return invalid(KeyLimitsAcceptRate, "must not be negative")
	}
	if c.AcceptBurst < 1 {
		return invalid(KeyLimitsAcceptBurst, "must be at least 1")
	}
	if c.MaxConnections < 0 {
		return invalid(KeyLimitsMaxConns, "must not be negative")
	}
	return nil
}

func (c Config) validateDiscovery() error {
	if c.Instance == "" {
		return nil
	}
	if err := discovery.ValidateInstanceName(c.Instance); err != nil {
		return invalid(KeyDiscoveryInstance, err.Error())
	}
	return nil
}

// requireDialTrust checks the settings ClientTLS needs.
func (c Config) requireDialTrust() error {
	switch c.Trust {
	case transport.TrustPinned:
		if c.Pin == "" {
			return invalid(KeyTunnelPin, "required for pinned trust")
		}
	case transport.TrustCA:
		if c.CAFile == "" {
			return invalid(KeyTunnelCA, "required for ca trust")
		}
	}
	return nil
}
