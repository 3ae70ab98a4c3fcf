package log

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Filter specifies criteria for filtering log events.
// Empty/nil fields match all events for that criterion.
type Filter struct {
	// ConnectionID filters by exact connection ID match.
	ConnectionID string

	// Direction filters by message direction.
	Direction *Direction

	// Layer filters by protocol layer.
	Layer *Layer

	// Category filters by event category.
	Category *Category

	// TimeStart filters events at or after this time.
	TimeStart *time.Time

	// TimeEnd filters events before this time.
	TimeEnd *time.Time

	// RemoteAddr filters by exact peer address match.
	RemoteAddr string

	// Role filters by local handshake role.
	Role *Role
}

// matches returns true if the event matches all filter criteria.
func (f *Filter) matches(event Event) bool {
	if f.ConnectionID != "" && event.ConnectionID != f.ConnectionID {
		return false
	}
	if f.Direction != nil && event.Direction != *f.Direction {
		return false
	}
	if f.Layer != nil && event.Layer != *f.Layer {
		return false
	}
	if f.Category != nil && event.Category != *f.Category {
		return false
	}
	if f.TimeStart != nil && event.Timestamp.Before(*f.TimeStart) {
		return false
	}
	if f.TimeEnd != nil && !event.Timestamp.Before(*f.TimeEnd) {
		return false
	}
	if f.RemoteAddr != "" && event.RemoteAddr != f.RemoteAddr {
		return false
	}
	if f.Role != nil && event.LocalRole != *f.Role {
		return false
	}
	return true
}

// Reader streams events from a log file written by FileLogger, skipping
// those that do not match its filter. Files without a header record are
// read as a bare event stream.
type Reader struct {
	file    *os.File
	dec     *cbor.Decoder
	filter  Filter
	header  *FileHeader
	pending *Event
}

// cborMajorTag is the major type of a tagged CBOR item.
const cborMajorTag = 6

// NewReader opens path and reads every event.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader opens path and reads the events matching filter. It
// fails with ErrNotLogFile or ErrUnsupportedVersion when the leading
// record is a header it cannot accept.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r := &Reader{
		file:   f,
		dec:    logDecMode.NewDecoder(f),
		filter: filter,
	}
	if err := r.readHeader(); err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// readHeader consumes the leading record. An untagged record is an event
// from a headerless file and is held for Next.
func (r *Reader) readHeader() error {
	var raw cbor.RawMessage
	if err := r.dec.Decode(&raw); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}

	if raw[0]>>5 != cborMajorTag {
		event, err := DecodeEvent(raw)
		if err != nil {
			return err
		}
		r.pending = &event
		return nil
	}

	var tag cbor.RawTag
	if err := logDecMode.Unmarshal(raw, &tag); err != nil {
		return fmt.Errorf("%w: %v", ErrNotLogFile, err)
	}
	if tag.Number != selfDescribedTag {
		return fmt.Errorf("%w: leading tag %d", ErrNotLogFile, tag.Number)
	}
	var header FileHeader
	if err := logDecMode.Unmarshal(tag.Content, &header); err != nil {
		return fmt.Errorf("%w: header: %v", ErrNotLogFile, err)
	}
	if header.Version < 1 || header.Version > FileVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, header.Version)
	}
	r.header = &header
	return nil
}

// Header returns the file header. ok is false for headerless files.
func (r *Reader) Header() (header FileHeader, ok bool) {
	if r.header == nil {
		return FileHeader{}, false
	}
	return *r.header, true
}

// Next returns the next matching event, or io.EOF at the end of the file.
func (r *Reader) Next() (Event, error) {
	for {
		var event Event
		if r.pending != nil {
			event, r.pending = *r.pending, nil
		} else if err := r.dec.Decode(&event); err != nil {
			return Event{}, err
		}

		if r.filter.matches(event) {
			return event, nil
		}
	}
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}
