package log

import "time"

// MaxLogFrameDataSize is the maximum frame data size to include in logs (4 KB).
// Larger frames are truncated in log events to avoid excessive memory usage.
const MaxLogFrameDataSize = 4096

// Recorder stamps events with a connection's identity before handing them
// to a Logger. The zero value, or a Recorder with a nil Logger, drops
// every event.
type Recorder struct {
	Logger       Logger
	ConnectionID string
	Role         Role
	RemoteAddr   string
}

// Enabled reports whether events will be delivered anywhere.
func (r Recorder) Enabled() bool {
	return r.Logger != nil
}

// Frame records a frame of the given payload crossing layer in direction dir.
// prefix is the number of header bytes that preceded the payload on the wire.
func (r Recorder) Frame(layer Layer, dir Direction, prefix int, data []byte) {
	if r.Logger == nil {
		return
	}

	frameData := data
	truncated := false
	if len(data) > MaxLogFrameDataSize {
		frameData = data[:MaxLogFrameDataSize]
		truncated = true
	}

	r.emit(Event{
		Direction: dir,
		Layer:     layer,
		Category:  CategoryMessage,
		Frame: &FrameEvent{
			Size:      prefix + len(data),
			Data:      frameData,
			Truncated: truncated,
		},
	})
}

// State records a state transition of entity.
func (r Recorder) State(layer Layer, entity StateEntity, oldState, newState, reason string) {
	if r.Logger == nil {
		return
	}
	r.emit(Event{
		Layer:    layer,
		Category: CategoryState,
		StateChange: &StateChangeEvent{
			Entity:   entity,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}

// Error records err at layer. kind is the fault kind name, context the
// operation in progress.
func (r Recorder) Error(layer Layer, err error, kind, context string) {
	if r.Logger == nil || err == nil {
		return
	}
	r.emit(Event{
		Layer:    layer,
		Category: CategoryError,
		Error: &ErrorEventData{
			Layer:   layer,
			Message: err.Error(),
			Kind:    kind,
			Context: context,
		},
	})
}

func (r Recorder) emit(event Event) {
	event.Timestamp = time.Now()
	event.ConnectionID = r.ConnectionID
	event.LocalRole = r.Role
	event.RemoteAddr = r.RemoteAddr
	r.Logger.Log(event)
}
