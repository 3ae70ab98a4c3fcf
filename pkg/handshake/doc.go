// Package handshake implements the betanet key exchange: the Noise XK
// pattern over Curve25519, ChaCha20-Poly1305 and SHA-256.
//
// XK assumes the initiator already knows the responder's static public key.
// The initiator's own static key travels encrypted in the third message, so
// the responder learns who connected only once the exchange is complete.
//
//	-> e, es           message 1
//	<- e, ee           message 2
//	-> s, se           message 3
//
// Each message is prefixed with its one-byte sequence number (1, 2 or 3) so
// a message arriving out of order is rejected as a protocol violation before
// any cryptographic processing.
//
// A Handshake moves through the states
//
//	Uninitialized -> Started -> AwaitingPeer -> Completed
//	                         \-> Failed
//
// Any failure is terminal. A new attempt needs a new Handshake, which
// always generates fresh ephemeral keys.
//
// Initiate and Respond drive a complete exchange over anything that reads
// and writes frames:
//
//	hs, err := handshake.Initiate(ctx, conn, handshake.Config{
//	    Role:          handshake.RoleInitiator,
//	    StaticKeypair: local,
//	    RemoteStatic:  responderKey,
//	})
//	send, recv, err := hs.CipherStates()
package handshake
