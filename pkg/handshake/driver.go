package handshake

import (
	"context"

	"github.com/ravendevteam/betanet-go/pkg/fault"
)

// MessageReadWriter carries handshake messages, one per frame.
type MessageReadWriter interface {
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
}

// Initiate runs the initiator side of the exchange over rw:
// send message 1, receive message 2, send message 3.
//
// On error the caller must discard rw; a blocked read may still be pending
// on it if ctx was cancelled.
func Initiate(ctx context.Context, rw MessageReadWriter, config Config) (*Handshake, error) {
	config.Role = RoleInitiator
	h, err := New(config)
	if err != nil {
		return nil, err
	}
	if err := h.Start(); err != nil {
		return nil, err
	}

	if err := h.send(ctx, rw); err != nil {
		return nil, err
	}
	if err := h.receive(ctx, rw); err != nil {
		return nil, err
	}
	if err := h.send(ctx, rw); err != nil {
		return nil, err
	}

	return h, nil
}

// Respond runs the responder side of the exchange over rw:
// receive message 1, send message 2, receive message 3. The handshake is
// reported complete only after message 3 has been processed, so the keys
// always cover all three Diffie-Hellman results.
func Respond(ctx context.Context, rw MessageReadWriter, config Config) (*Handshake, error) {
	config.Role = RoleResponder
	h, err := New(config)
	if err != nil {
		return nil, err
	}
	if err := h.Start(); err != nil {
		return nil, err
	}

	if err := h.receive(ctx, rw); err != nil {
		return nil, err
	}
	if err := h.send(ctx, rw); err != nil {
		return nil, err
	}
	if err := h.receive(ctx, rw); err != nil {
		return nil, err
	}

	if !h.Complete() {
		return nil, h.fail(fault.Errorf(fault.KindHandshake, "respond", "%w after message %d", ErrNotComplete, h.n))
	}
	return h, nil
}

func (h *Handshake) send(ctx context.Context, rw MessageReadWriter) error {
	if err := ctx.Err(); err != nil {
		return h.fail(fault.New(fault.KindConnection, "send handshake message", err))
	}
	msg, err := h.WriteMessage()
	if err != nil {
		return err
	}
	if err := rw.WriteFrame(msg); err != nil {
		return h.fail(fault.Wrap(fault.KindConnection, "send handshake message", err))
	}
	return nil
}

func (h *Handshake) receive(ctx context.Context, rw MessageReadWriter) error {
	msg, err := readFrameWithContext(ctx, rw)
	if err != nil {
		return h.fail(fault.Wrap(fault.KindConnection, "receive handshake message", err))
	}
	return h.ReadMessage(msg)
}

// readFrameWithContext reads a frame, returning early if ctx is done.
func readFrameWithContext(ctx context.Context, rw MessageReadWriter) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type result struct {
		msg []byte
		err error
	}
	resultCh := make(chan result, 1)

	go func() {
		msg, err := rw.ReadFrame()
		resultCh <- result{msg, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-resultCh:
		return r.msg, r.err
	}
}
