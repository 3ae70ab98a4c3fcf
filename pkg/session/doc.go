// Package session ties the layers of a betanet connection together.
//
// A Conn is established in three steps:
//
//  1. Tunnel: TCP connect and, unless disabled, a TLS 1.3 handshake
//     (package transport).
//  2. Handshake: the Noise XK exchange over framed messages
//     (package handshake). The initiator must already know the responder's
//     static public key; the responder learns the initiator's key.
//  3. Channel: every later message is encrypted under the keys the
//     handshake produced (package channel).
//
// Dial performs all three as the initiator. Accept performs the last two as
// the responder on a connection from a transport.Listener, and Server runs
// Accept for every connection of a transport.Server.
//
// # Failures
//
// Every error is tagged with a fault.Kind and is terminal: a Conn closes
// itself on the first failed Send or Receive. Dial retries only according
// to Config.Retry, always with a new tunnel and fresh ephemeral keys.
//
// # Timeouts
//
// The handshake is bounded by Config.HandshakeTimeout through connection
// deadlines, which are cleared once the channel is up. Cancelling the
// context passed to Dial or Accept aborts a handshake in progress.
// Receive blocks indefinitely unless Config.ReadTimeout is set.
package session
