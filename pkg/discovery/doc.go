// Package discovery implements mDNS/DNS-SD discovery for betanet responders.
//
// A responder advertises a single service instance of type _betanet._tcp
// on the port its listener is bound to. The TXT record carries:
//
//	proto   the handshake protocol name, e.g. Noise_XK_25519_ChaChaPoly_SHA256
//	tunnel  "tls" or "none"
//
// Static keys are never advertised. An initiator learns the responder's
// public key out of band and uses discovery only to find the address.
//
// Browsers aggregate entries by instance name: addresses seen on several
// interfaces are merged into one ResponderService, and entries whose
// protocol differs from the local handshake are ignored.
package discovery
