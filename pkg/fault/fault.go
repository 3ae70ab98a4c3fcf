// Package fault defines the error taxonomy shared by every betanet layer.
//
// Each fallible operation returns an explicit error. When an error leaves a
// component it is wrapped in an *Error carrying a Kind, so callers can
// classify the failure without parsing strings:
//
//	msg, err := conn.Receive()
//	switch {
//	case errors.Is(err, transport.ErrPeerClosed):
//	    // peer went away cleanly
//	case fault.Is(err, fault.KindAuthentication):
//	    // tampered ciphertext, discard the connection
//	}
//
// All kinds are terminal for the connection they occur on.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind uint8

const (
	// KindUnknown is an error that was never tagged.
	KindUnknown Kind = iota

	// KindConnection covers refused, reset, broken, or closed streams.
	KindConnection

	// KindTransportSecurity covers certificate/key loading and tunnel
	// negotiation failures such as a protocol version mismatch.
	KindTransportSecurity

	// KindHandshake covers Diffie-Hellman or authenticated-decryption
	// failures while processing a handshake message.
	KindHandshake

	// KindFraming covers frames whose payload never fully arrived or whose
	// declared length exceeds the configured maximum.
	KindFraming

	// KindProtocolViolation covers out-of-order handshake messages and
	// application data before the handshake is complete.
	KindProtocolViolation

	// KindAuthentication covers post-handshake ciphertexts that fail
	// AEAD verification.
	KindAuthentication
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "ConnectionError"
	case KindTransportSecurity:
		return "TransportSecurityError"
	case KindHandshake:
		return "HandshakeError"
	case KindFraming:
		return "FramingError"
	case KindProtocolViolation:
		return "ProtocolViolation"
	case KindAuthentication:
		return "AuthenticationError"
	default:
		return "UnknownError"
	}
}

// Error is a tagged failure.
type Error struct {
	// Kind classifies the failure.
	Kind Kind

	// Op names the operation that failed (e.g. "read frame", "handshake").
	Op string

	// Err is the underlying cause.
	Err error
}

// New returns a tagged error for op wrapping err.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf returns a tagged error with a formatted cause.
// The %w verb is honored.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind. A target with an
// empty Op and nil Err matches on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return (t.Op == "" || t.Op == e.Op) && t.Err == nil
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Wrap tags err with kind unless it is already tagged, in which case the
// existing tag wins so the first classification survives propagation.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	return New(kind, op, err)
}
