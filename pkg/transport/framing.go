package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/ravendevteam/betanet-go/pkg/fault"
	"github.com/ravendevteam/betanet-go/pkg/log"
)

// Framing constants.
const (
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4

	// DefaultMaxMessageSize is the default maximum payload size. It equals
	// the largest Noise message so one handshake or transport message always
	// fits in one frame.
	DefaultMaxMessageSize = 65535
)

// Framing errors.
var (
	// ErrMessageTooLarge indicates the message exceeds the maximum size.
	ErrMessageTooLarge = errors.New("message too large")

	// ErrFrameTruncated indicates the stream ended in the middle of a frame.
	ErrFrameTruncated = errors.New("frame truncated")

	// ErrPeerClosed indicates the peer closed the stream cleanly at a frame
	// boundary. errors.Is(ErrPeerClosed, io.EOF) holds.
	ErrPeerClosed = fmt.Errorf("peer closed connection: %w", io.EOF)
)

// ReadFrame reads one frame from r, rejecting payloads longer than maxSize.
func ReadFrame(r io.Reader, maxSize uint32) ([]byte, error) {
	return NewFrameReaderWithMaxSize(r, maxSize).ReadFrame()
}

// WriteFrame writes payload to w as one frame. Only the width of the length
// prefix bounds the payload size.
func WriteFrame(w io.Writer, payload []byte) error {
	return NewFrameWriterWithMaxSize(w, math.MaxUint32).WriteFrame(payload)
}

// FrameWriter writes length-prefixed frames to an underlying writer.
type FrameWriter struct {
	w              io.Writer
	maxMessageSize uint32
	mu             sync.Mutex

	// Logging support (optional)
	rec log.Recorder
}

// NewFrameWriter creates a new frame writer.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return NewFrameWriterWithMaxSize(w, DefaultMaxMessageSize)
}

// NewFrameWriterWithMaxSize creates a frame writer with a custom max size.
func NewFrameWriterWithMaxSize(w io.Writer, maxSize uint32) *FrameWriter {
	return &FrameWriter{
		w:              w,
		maxMessageSize: maxSize,
	}
}

// SetRecorder configures protocol logging for this writer.
// A zero Recorder disables logging.
func (fw *FrameWriter) SetRecorder(rec log.Recorder) {
	fw.rec = rec
}

// WriteFrame writes a length-prefixed frame. A zero-length payload is
// valid and produces a bare 4-byte header.
// Thread-safe: can be called from multiple goroutines.
func (fw *FrameWriter) WriteFrame(data []byte) error {
	if uint64(len(data)) > uint64(fw.maxMessageSize) {
		return fault.Errorf(fault.KindFraming, "write frame", "%w: %d > %d", ErrMessageTooLarge, len(data), fw.maxMessageSize)
	}

	frame := make([]byte, LengthPrefixSize+len(data))
	binary.BigEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[LengthPrefixSize:], data)

	fw.mu.Lock()
	defer fw.mu.Unlock()

	if err := writeFull(fw.w, frame); err != nil {
		return fault.New(fault.KindConnection, "write frame", err)
	}

	fw.rec.Frame(log.LayerTransport, log.DirectionOut, LengthPrefixSize, data)
	return nil
}

// writeFull keeps writing until buf is flushed. A writer that reports
// io.ErrShortWrite is retried with the remainder; a writer that makes no
// progress at all is treated as broken.
func writeFull(w io.Writer, buf []byte) error {
	for len(buf) > 0 {
		n, err := w.Write(buf)
		buf = buf[n:]
		if err != nil && !errors.Is(err, io.ErrShortWrite) {
			return err
		}
		if n == 0 && len(buf) > 0 {
			if err == nil {
				err = io.ErrShortWrite
			}
			return err
		}
	}
	return nil
}

// FrameReader reads length-prefixed frames from an underlying reader.
type FrameReader struct {
	r              io.Reader
	maxMessageSize uint32
	lengthBuf      [LengthPrefixSize]byte

	// Logging support (optional)
	rec log.Recorder
}

// NewFrameReader creates a new frame reader.
func NewFrameReader(r io.Reader) *FrameReader {
	return NewFrameReaderWithMaxSize(r, DefaultMaxMessageSize)
}

// NewFrameReaderWithMaxSize creates a frame reader with a custom max size.
func NewFrameReaderWithMaxSize(r io.Reader, maxSize uint32) *FrameReader {
	return &FrameReader{
		r:              r,
		maxMessageSize: maxSize,
	}
}

// SetRecorder configures protocol logging for this reader.
// A zero Recorder disables logging.
func (fr *FrameReader) SetRecorder(rec log.Recorder) {
	fr.rec = rec
}

// ReadFrame reads a length-prefixed frame and returns its payload.
//
// A stream that ends before any header byte yields ErrPeerClosed. A stream
// that ends inside the header or the payload yields ErrFrameTruncated,
// tagged as a connection failure for the header and a framing failure for
// the payload.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	if _, err := io.ReadFull(fr.r, fr.lengthBuf[:]); err != nil {
		switch {
		case err == io.EOF:
			return nil, fault.New(fault.KindConnection, "read frame", ErrPeerClosed)
		case errors.Is(err, io.ErrUnexpectedEOF):
			return nil, fault.Errorf(fault.KindConnection, "read frame", "%w: closed inside length prefix", ErrFrameTruncated)
		default:
			return nil, fault.Errorf(fault.KindConnection, "read frame", "failed to read length prefix: %w", err)
		}
	}

	length := binary.BigEndian.Uint32(fr.lengthBuf[:])
	if length > fr.maxMessageSize {
		return nil, fault.Errorf(fault.KindFraming, "read frame", "%w: %d > %d", ErrMessageTooLarge, length, fr.maxMessageSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || err == io.EOF {
			return nil, fault.Errorf(fault.KindFraming, "read frame", "%w: declared %d bytes", ErrFrameTruncated, length)
		}
		return nil, fault.Errorf(fault.KindConnection, "read frame", "failed to read payload: %w", err)
	}

	fr.rec.Frame(log.LayerTransport, log.DirectionIn, LengthPrefixSize, payload)
	return payload, nil
}

// SetMaxMessageSize updates the maximum message size.
func (fr *FrameReader) SetMaxMessageSize(size uint32) {
	fr.maxMessageSize = size
}

// Framer combines frame reading and writing.
type Framer struct {
	*FrameReader
	*FrameWriter
}

// NewFramer creates a new framer for bidirectional communication.
func NewFramer(rw io.ReadWriter) *Framer {
	return NewFramerWithMaxSize(rw, DefaultMaxMessageSize)
}

// NewFramerWithMaxSize creates a framer with a custom max message size.
func NewFramerWithMaxSize(rw io.ReadWriter, maxSize uint32) *Framer {
	return &Framer{
		FrameReader: NewFrameReaderWithMaxSize(rw, maxSize),
		FrameWriter: NewFrameWriterWithMaxSize(rw, maxSize),
	}
}

// SetRecorder configures logging for both reader and writer.
func (f *Framer) SetRecorder(rec log.Recorder) {
	f.FrameReader.SetRecorder(rec)
	f.FrameWriter.SetRecorder(rec)
}

// MaxMessageSize returns the largest payload the framer accepts.
func (f *Framer) MaxMessageSize() uint32 {
	return f.FrameWriter.maxMessageSize
}

// FrameSize returns the total frame size including the length prefix.
func FrameSize(payloadSize int) int {
	return LengthPrefixSize + payloadSize
}
