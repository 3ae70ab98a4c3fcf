package transport

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"testing"
	"testing/iotest"

	"github.com/ravendevteam/betanet-go/pkg/fault"
	"github.com/ravendevteam/betanet-go/pkg/log"
)

func TestFrameWriterReader(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{
			name:    "empty message",
			payload: []byte{},
		},
		{
			name:    "small message",
			payload: []byte("hello"),
		},
		{
			name:    "medium message",
			payload: bytes.Repeat([]byte("x"), 1000),
		},
		{
			name:    "max size message",
			payload: bytes.Repeat([]byte("y"), DefaultMaxMessageSize),
		},
		{
			name:    "single byte",
			payload: []byte{0x42},
		},
		{
			name:    "binary data",
			payload: []byte{0x00, 0xFF, 0x7F, 0x80},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := new(bytes.Buffer)

			writer := NewFrameWriter(buf)
			if err := writer.WriteFrame(tt.payload); err != nil {
				t.Fatalf("WriteFrame failed: %v", err)
			}

			expectedSize := LengthPrefixSize + len(tt.payload)
			if buf.Len() != expectedSize {
				t.Errorf("frame size = %d, want %d", buf.Len(), expectedSize)
			}

			reader := NewFrameReader(buf)
			got, err := reader.ReadFrame()
			if err != nil {
				t.Fatalf("ReadFrame failed: %v", err)
			}

			if !bytes.Equal(got, tt.payload) {
				t.Errorf("payload mismatch: got %d bytes, want %d bytes", len(got), len(tt.payload))
			}
		})
	}
}

func TestFrameRoundTripEveryLength(t *testing.T) {
	const maxSize = 2048

	buf := new(bytes.Buffer)
	framer := NewFramerWithMaxSize(buf, maxSize)

	payload := make([]byte, maxSize)
	for i := range payload {
		payload[i] = byte(i*7 + 3)
	}

	for n := 0; n <= maxSize; n++ {
		if err := framer.WriteFrame(payload[:n]); err != nil {
			t.Fatalf("WriteFrame(%d) failed: %v", n, err)
		}
		got, err := framer.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame(%d) failed: %v", n, err)
		}
		if !bytes.Equal(got, payload[:n]) {
			t.Fatalf("length %d: payload mismatch", n)
		}
		if buf.Len() != 0 {
			t.Fatalf("length %d: %d bytes left over", n, buf.Len())
		}
	}
}

func TestFrameZeroLengthIsDistinctFromNoFrame(t *testing.T) {
	buf := new(bytes.Buffer)
	if err := WriteFrame(buf, nil); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), []byte{0, 0, 0, 0}) {
		t.Fatalf("frame bytes = %x, want 00000000", buf.Bytes())
	}

	got, err := ReadFrame(buf, DefaultMaxMessageSize)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("got %v, want empty non-nil payload", got)
	}

	_, err = ReadFrame(buf, DefaultMaxMessageSize)
	if !errors.Is(err, ErrPeerClosed) {
		t.Errorf("expected ErrPeerClosed after the only frame, got %v", err)
	}
}

func TestFrameReaderOneBytePerRead(t *testing.T) {
	buf := new(bytes.Buffer)
	writer := NewFrameWriter(buf)

	messages := [][]byte{
		[]byte("fragmented"),
		{},
		bytes.Repeat([]byte{0xA5}, 3000),
	}
	for _, msg := range messages {
		if err := writer.WriteFrame(msg); err != nil {
			t.Fatalf("WriteFrame failed: %v", err)
		}
	}

	reader := NewFrameReader(iotest.OneByteReader(buf))
	for i, want := range messages {
		got, err := reader.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame %d failed: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("message %d mismatch: got %d bytes, want %d", i, len(got), len(want))
		}
	}
}

// shortWriter accepts at most limit bytes per call and reports the rest
// as a short write.
type shortWriter struct {
	buf   bytes.Buffer
	limit int
	calls int
}

func (w *shortWriter) Write(p []byte) (int, error) {
	w.calls++
	if len(p) > w.limit {
		w.buf.Write(p[:w.limit])
		return w.limit, io.ErrShortWrite
	}
	return w.buf.Write(p)
}

func TestFrameWriterRetriesPartialWrites(t *testing.T) {
	w := &shortWriter{limit: 3}
	payload := []byte("partial writes are retried")

	if err := WriteFrame(w, payload); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	if w.calls < 2 {
		t.Errorf("expected multiple write calls, got %d", w.calls)
	}

	got, err := ReadFrame(&w.buf, DefaultMaxMessageSize)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload mismatch: got %q", got)
	}
}

// stuckWriter never makes progress.
type stuckWriter struct{}

func (stuckWriter) Write(p []byte) (int, error) { return 0, nil }

func TestFrameWriterNoProgress(t *testing.T) {
	err := WriteFrame(stuckWriter{}, []byte("x"))
	if !errors.Is(err, io.ErrShortWrite) {
		t.Errorf("expected io.ErrShortWrite, got %v", err)
	}
	if fault.KindOf(err) != fault.KindConnection {
		t.Errorf("kind = %v, want ConnectionError", fault.KindOf(err))
	}
}

func TestFrameWriterMessageTooLarge(t *testing.T) {
	buf := new(bytes.Buffer)
	writer := NewFrameWriterWithMaxSize(buf, 100)

	err := writer.WriteFrame(bytes.Repeat([]byte("x"), 101))
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("expected ErrMessageTooLarge, got %v", err)
	}
	if fault.KindOf(err) != fault.KindFraming {
		t.Errorf("kind = %v, want FramingError", fault.KindOf(err))
	}
	if buf.Len() != 0 {
		t.Errorf("rejected frame wrote %d bytes", buf.Len())
	}
}

func TestFrameReaderMessageTooLarge(t *testing.T) {
	buf := new(bytes.Buffer)

	var lengthBuf [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(lengthBuf[:], 1000)
	buf.Write(lengthBuf[:])
	buf.Write(bytes.Repeat([]byte("x"), 1000))

	reader := NewFrameReaderWithMaxSize(buf, 100)
	_, err := reader.ReadFrame()
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("expected ErrMessageTooLarge, got %v", err)
	}
	if fault.KindOf(err) != fault.KindFraming {
		t.Errorf("kind = %v, want FramingError", fault.KindOf(err))
	}
}

func TestFrameReaderHugeLengthDoesNotAllocate(t *testing.T) {
	buf := bytes.NewReader([]byte{0xFF, 0xFF, 0xFF, 0xFF})

	_, err := ReadFrame(buf, DefaultMaxMessageSize)
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("expected ErrMessageTooLarge, got %v", err)
	}
}

func TestFrameReaderTruncatedLength(t *testing.T) {
	buf := new(bytes.Buffer)
	buf.Write([]byte{0x00, 0x01})

	reader := NewFrameReader(buf)
	_, err := reader.ReadFrame()
	if !errors.Is(err, ErrFrameTruncated) {
		t.Errorf("expected ErrFrameTruncated, got %v", err)
	}
	if fault.KindOf(err) != fault.KindConnection {
		t.Errorf("kind = %v, want ConnectionError", fault.KindOf(err))
	}
	if errors.Is(err, ErrPeerClosed) {
		t.Error("truncated header reported as clean close")
	}
}

func TestFrameReaderTruncatedPayload(t *testing.T) {
	buf := new(bytes.Buffer)

	var lengthBuf [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(lengthBuf[:], 100)
	buf.Write(lengthBuf[:])
	buf.Write(bytes.Repeat([]byte("x"), 50))

	reader := NewFrameReader(buf)
	_, err := reader.ReadFrame()
	if !errors.Is(err, ErrFrameTruncated) {
		t.Errorf("expected ErrFrameTruncated, got %v", err)
	}
	if fault.KindOf(err) != fault.KindFraming {
		t.Errorf("kind = %v, want FramingError", fault.KindOf(err))
	}
}

func TestFrameReaderHeaderOnlyThenClose(t *testing.T) {
	buf := new(bytes.Buffer)

	var lengthBuf [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(lengthBuf[:], 8)
	buf.Write(lengthBuf[:])

	_, err := ReadFrame(buf, DefaultMaxMessageSize)
	if !errors.Is(err, ErrFrameTruncated) {
		t.Errorf("expected ErrFrameTruncated, got %v", err)
	}
	if fault.KindOf(err) != fault.KindFraming {
		t.Errorf("kind = %v, want FramingError", fault.KindOf(err))
	}
}

func TestFrameReaderEOF(t *testing.T) {
	buf := new(bytes.Buffer)
	reader := NewFrameReader(buf)

	_, err := reader.ReadFrame()
	if !errors.Is(err, ErrPeerClosed) {
		t.Errorf("expected ErrPeerClosed, got %v", err)
	}
	if !errors.Is(err, io.EOF) {
		t.Errorf("expected error to match io.EOF, got %v", err)
	}
	if fault.KindOf(err) != fault.KindConnection {
		t.Errorf("kind = %v, want ConnectionError", fault.KindOf(err))
	}
}

func TestFrameReaderIOError(t *testing.T) {
	boom := errors.New("connection reset")
	reader := NewFrameReader(iotest.ErrReader(boom))

	_, err := reader.ReadFrame()
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped cause, got %v", err)
	}
	if fault.KindOf(err) != fault.KindConnection {
		t.Errorf("kind = %v, want ConnectionError", fault.KindOf(err))
	}
}

func TestFramerBidirectional(t *testing.T) {
	r, w := io.Pipe()
	defer r.Close()
	defer w.Close()

	done := make(chan struct{})
	payload := []byte("test message")

	go func() {
		defer close(done)
		framer := NewFramer(&readWriter{r: r, w: w})
		if err := framer.WriteFrame(payload); err != nil {
			t.Errorf("WriteFrame failed: %v", err)
		}
	}()

	framer := NewFramer(&readWriter{r: r, w: w})
	got, err := framer.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}

	if !bytes.Equal(got, payload) {
		t.Errorf("payload mismatch")
	}

	<-done
}

// readWriter combines a reader and writer for testing.
type readWriter struct {
	r io.Reader
	w io.Writer
}

func (rw *readWriter) Read(p []byte) (n int, err error) {
	return rw.r.Read(p)
}

func (rw *readWriter) Write(p []byte) (n int, err error) {
	return rw.w.Write(p)
}

func TestMultipleFrames(t *testing.T) {
	buf := new(bytes.Buffer)
	writer := NewFrameWriter(buf)

	messages := [][]byte{
		[]byte("first"),
		[]byte("second"),
		[]byte("third"),
	}

	for _, msg := range messages {
		if err := writer.WriteFrame(msg); err != nil {
			t.Fatalf("WriteFrame failed: %v", err)
		}
	}

	reader := NewFrameReader(buf)
	for i, want := range messages {
		got, err := reader.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame %d failed: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("message %d mismatch: got %q, want %q", i, got, want)
		}
	}

	_, err := reader.ReadFrame()
	if !errors.Is(err, ErrPeerClosed) {
		t.Errorf("expected ErrPeerClosed after all messages, got %v", err)
	}
}

func TestFrameSize(t *testing.T) {
	if got := FrameSize(100); got != 104 {
		t.Errorf("FrameSize(100) = %d, want 104", got)
	}
	if got := FrameSize(0); got != 4 {
		t.Errorf("FrameSize(0) = %d, want 4", got)
	}
}

func BenchmarkFrameWrite(b *testing.B) {
	buf := new(bytes.Buffer)
	writer := NewFrameWriter(buf)
	payload := bytes.Repeat([]byte("x"), 1000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.Reset()
		writer.WriteFrame(payload)
	}
}

func BenchmarkFrameRead(b *testing.B) {
	buf := new(bytes.Buffer)
	writer := NewFrameWriter(buf)
	payload := bytes.Repeat([]byte("x"), 1000)

	for i := 0; i < 1000; i++ {
		writer.WriteFrame(payload)
	}

	data := buf.Bytes()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		reader := NewFrameReader(bytes.NewReader(data))
		for {
			_, err := reader.ReadFrame()
			if errors.Is(err, ErrPeerClosed) {
				break
			}
			if err != nil {
				b.Fatal(err)
			}
		}
	}
}

// capturingLogger captures log events for testing.
type capturingLogger struct {
	mu     sync.Mutex
	events []log.Event
}

func (l *capturingLogger) Log(event log.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *capturingLogger) Events() []log.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]log.Event(nil), l.events...)
}

func TestFrameWriterLogsOnWrite(t *testing.T) {
	buf := new(bytes.Buffer)
	logger := &capturingLogger{}

	writer := NewFrameWriter(buf)
	writer.SetRecorder(log.Recorder{Logger: logger, ConnectionID: "conn-123"})

	payload := []byte("hello")
	if err := writer.WriteFrame(payload); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	events := logger.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	e := events[0]
	if e.ConnectionID != "conn-123" {
		t.Errorf("ConnectionID = %q, want %q", e.ConnectionID, "conn-123")
	}
	if e.Direction != log.DirectionOut {
		t.Errorf("Direction = %v, want DirectionOut", e.Direction)
	}
	if e.Layer != log.LayerTransport {
		t.Errorf("Layer = %v, want LayerTransport", e.Layer)
	}
	if e.Frame == nil {
		t.Fatal("Frame is nil")
	}
	expectedSize := LengthPrefixSize + len(payload)
	if e.Frame.Size != expectedSize {
		t.Errorf("Frame.Size = %d, want %d", e.Frame.Size, expectedSize)
	}
	if !bytes.Equal(e.Frame.Data, payload) {
		t.Errorf("Frame.Data = %v, want %v", e.Frame.Data, payload)
	}
}

func TestFramerLogsBothDirections(t *testing.T) {
	r, w := io.Pipe()
	defer r.Close()
	defer w.Close()

	logger := &capturingLogger{}
	rec := log.Recorder{Logger: logger, ConnectionID: "conn-789", Role: log.RoleResponder}
	done := make(chan struct{})

	go func() {
		defer close(done)
		framer := NewFramer(&readWriter{r: r, w: w})
		framer.SetRecorder(rec)
		framer.WriteFrame([]byte("test"))
	}()

	framer := NewFramer(&readWriter{r: r, w: w})
	framer.SetRecorder(rec)
	if _, err := framer.ReadFrame(); err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}

	<-done

	events := logger.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	for _, e := range events {
		if e.ConnectionID != "conn-789" || e.LocalRole != log.RoleResponder {
			t.Errorf("unexpected identity on %+v", e)
		}
	}
}

func TestFramerNoLoggerNoPanic(t *testing.T) {
	buf := new(bytes.Buffer)

	framer := NewFramer(buf)
	if err := framer.WriteFrame([]byte("hello")); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	if _, err := framer.ReadFrame(); err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}

	framer.SetRecorder(log.Recorder{})
	if err := framer.WriteFrame([]byte("world")); err != nil {
		t.Fatalf("WriteFrame with empty recorder failed: %v", err)
	}
}
