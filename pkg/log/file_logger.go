package log

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// FileVersion is the log file layout written by FileLogger.
const FileVersion = 1

// selfDescribedTag wraps the header record, so every log file starts with
// the CBOR magic bytes d9 d9 f7.
const selfDescribedTag = 55799

// Log file errors.
var (
	ErrNotLogFile         = errors.New("not a betanet protocol log")
	ErrUnsupportedVersion = errors.New("unsupported log file version")
)

// FileHeader is the first record of a log file.
type FileHeader struct {
	Version  int       `cbor:"1,keyasint"`
	Protocol string    `cbor:"2,keyasint,omitempty"`
	Created  time.Time `cbor:"3,keyasint"`
}

// FileOption adjusts the header of a new log file.
type FileOption func(*FileHeader)

// WithProtocol records the protocol identifier the logged connections spoke.
func WithProtocol(name string) FileOption {
	return func(h *FileHeader) { h.Protocol = name }
}

// FileLogger appends protocol events to a CBOR log file. A new or empty
// file gets a FileHeader first; an existing one is appended to as is.
// It is safe for concurrent use.
type FileLogger struct {
	mu     sync.Mutex
	file   *os.File
	enc    *cbor.Encoder
	closed bool
}

// NewFileLogger opens path for appending, creating it with mode 0644.
func NewFileLogger(path string, opts ...FileOption) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	l := &FileLogger{file: f, enc: logEncMode.NewEncoder(f)}
	if info.Size() == 0 {
		header := FileHeader{Version: FileVersion, Created: time.Now().UTC()}
		for _, opt := range opts {
			opt(&header)
		}
		if err := l.writeHeader(header); err != nil {
			f.Close()
			return nil, fmt.Errorf("write log header: %w", err)
		}
	}
	return l, nil
}

func (l *FileLogger) writeHeader(header FileHeader) error {
	content, err := logEncMode.Marshal(header)
	if err != nil {
		return err
	}
	return l.enc.Encode(cbor.RawTag{Number: selfDescribedTag, Content: content})
}

// Log appends event. Events logged after Close are dropped, and so are
// events that fail to encode.
func (l *FileLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	_ = l.enc.Encode(event)
}

// Close closes the file. Further calls return nil.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.file.Close()
}

var _ Logger = (*FileLogger)(nil)
