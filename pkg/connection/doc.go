// Package connection decides when a failed connection attempt is repeated.
//
// An attempt is a full tunnel connect plus handshake. Every retry starts from
// scratch with fresh ephemeral keys; nothing from a failed attempt is reused.
//
// # Policy
//
// By default a single attempt is made. When MaxAttempts is raised, only
// failures that may be transient are retried:
//
//   - ConnectionError (refused, reset, timed out)
//   - TransportSecurityError (tunnel negotiation failed)
//
// HandshakeError, AuthenticationError and ProtocolViolation mean the peer is
// not who we expected or is misbehaving. They are returned immediately.
//
// # Backoff
//
// Delays grow exponentially with jitter:
//
//	delay = base + random(0, base * 0.25)
//
// starting at 250ms and capped at 10s.
package connection
