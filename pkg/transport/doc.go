// Package transport provides the betanet tunnel and framing layer.
//
// The transport layer handles:
//   - TLS 1.3 tunnels with a selectable trust policy
//   - Length-prefixed message framing
//   - Accepting and dialing connections
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│  Noise XK / encrypted payloads │
//	├────────────────────────────────┤
//	│   Length-Prefix Framing (4B)   │
//	├────────────────────────────────┤
//	│     TLS 1.3 (optional)         │
//	├────────────────────────────────┤
//	│           TCP                  │
//	└────────────────────────────────┘
//
// # Framing
//
// A frame is a 4-byte unsigned big-endian length followed by exactly that
// many payload bytes. Zero-length payloads are valid. A stream that ends
// cleanly between frames yields ErrPeerClosed; a stream that ends inside a
// frame yields ErrFrameTruncated.
//
// # TLS Requirements
//
// Both sides pin TLS 1.3 with no fallback and negotiate ALPN "betanet/1".
// The responder presents a certificate and never asks for one. The
// initiator verifies it according to its TrustPolicy:
//   - TrustPinned: SHA-256 fingerprint of the leaf must match
//   - TrustCA: standard chain and server name verification
//   - TrustNone: no verification (confidentiality and integrity only)
//
// In every case authentication of the peer is the job of the Noise
// handshake carried inside the tunnel.
package transport
