package fault

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindConnection, "ConnectionError"},
		{KindTransportSecurity, "TransportSecurityError"},
		{KindHandshake, "HandshakeError"},
		{KindFraming, "FramingError"},
		{KindProtocolViolation, "ProtocolViolation"},
		{KindAuthentication, "AuthenticationError"},
		{KindUnknown, "UnknownError"},
		{Kind(200), "UnknownError"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.kind.String())
	}
}

func TestErrorMessage(t *testing.T) {
	err := New(KindFraming, "read frame", io.ErrUnexpectedEOF)
	assert.Equal(t, "read frame: FramingError: unexpected EOF", err.Error())

	bare := &Error{Kind: KindHandshake, Op: "handshake"}
	assert.Equal(t, "handshake: HandshakeError", bare.Error())
}

func TestErrorUnwrap(t *testing.T) {
	sentinel := errors.New("sentinel")
	err := fmt.Errorf("outer: %w", New(KindConnection, "dial", sentinel))

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, KindConnection, KindOf(err))
	assert.True(t, Is(err, KindConnection))
	assert.False(t, Is(err, KindHandshake))
}

func TestErrorIsKindTarget(t *testing.T) {
	err := New(KindProtocolViolation, "read message", errors.New("out of order"))

	assert.ErrorIs(t, err, &Error{Kind: KindProtocolViolation})
	assert.ErrorIs(t, err, &Error{Kind: KindProtocolViolation, Op: "read message"})
	assert.NotErrorIs(t, err, &Error{Kind: KindProtocolViolation, Op: "write message"})
	assert.NotErrorIs(t, err, &Error{Kind: KindFraming})
}

func TestKindOfUntagged(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
	assert.False(t, Is(nil, KindUnknown))
}

func TestWrapKeepsFirstTag(t *testing.T) {
	inner := New(KindFraming, "read frame", io.ErrUnexpectedEOF)
	wrapped := Wrap(KindConnection, "receive", inner)

	assert.Equal(t, KindFraming, KindOf(wrapped))
	assert.Nil(t, Wrap(KindConnection, "receive", nil))

	plain := Wrap(KindConnection, "receive", io.EOF)
	assert.Equal(t, KindConnection, KindOf(plain))
	assert.ErrorIs(t, plain, io.EOF)
}

func TestErrorf(t *testing.T) {
	err := Errorf(KindTransportSecurity, "load certificate", "open %s: %w", "cert.pem", io.EOF)
	assert.ErrorIs(t, err, io.EOF)
	assert.Contains(t, err.Error(), "cert.pem")
}
