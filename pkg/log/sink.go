package log

// Logger receives protocol events. Implementations must be safe for
// concurrent use and should return quickly, since Log runs on the
// connection's own goroutine.
type Logger interface {
	Log(event Event)
}

// Tee returns a Logger that forwards each event to every non-nil sink in
// the order given. With no sinks left it returns nil, which a Recorder
// treats as disabled; with one it returns that sink unwrapped.
func Tee(sinks ...Logger) Logger {
	var live tee
	for _, s := range sinks {
		if s != nil {
			live = append(live, s)
		}
	}
	switch len(live) {
	case 0:
		return nil
	case 1:
		return live[0]
	}
	return live
}

type tee []Logger

func (t tee) Log(event Event) {
	for _, s := range t {
		s.Log(event)
	}
}
