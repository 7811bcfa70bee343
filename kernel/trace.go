package kernel

import "fmt"

// EventKind identifies a trace event.
type EventKind uint8

const (
	EventTaskBegin EventKind = iota + 1
	EventTaskEnd
	EventLockEnter
	EventLockExit
	EventMask
)

func (k EventKind) String() string {
	switch k {
	case EventTaskBegin:
		return "begin"
	case EventTaskEnd:
		return "end"
	case EventLockEnter:
		return "lock"
	case EventLockExit:
		return "unlock"
	case EventMask:
		return "mask"
	default:
		return "unknown"
	}
}

// Event is one trace record. Level is the task priority for task events,
// the mask level after entry for lock enter, the restored level for lock
// exit and the written level for mask events.
type Event struct {
	Kind     EventKind
	Task     TaskID
	Resource ResourceID
	Level    uint8
	Depth    uint8
}

func (e Event) String() string {
	switch e.Kind {
	case EventLockEnter, EventLockExit:
		return fmt.Sprintf("%s task=%d res=%d level=%d depth=%d", e.Kind, e.Task, e.Resource, e.Level, e.Depth)
	default:
		return fmt.Sprintf("%s task=%d level=%d depth=%d", e.Kind, e.Task, e.Level, e.Depth)
	}
}

// Tracer receives events from the core goroutine.
type Tracer interface {
	Trace(Event)
}

const recorderSlots = 4096

// Recorder is a fixed-size trace buffer. It keeps the first recorderSlots
// events after a Reset and counts the rest as dropped. It is not safe for
// concurrent use; read it from the core goroutine or after Run returned.
type Recorder struct {
	_       [0]func() // prevent accidental copying.
	n       int
	dropped uint64
	slots   [recorderSlots]Event
}

func (r *Recorder) Trace(ev Event) {
	if r.n >= recorderSlots {
		r.dropped++
		return
	}
	r.slots[r.n] = ev
	r.n++
}

// Events returns the recorded events in order. The slice aliases the
// recorder and is valid until the next Trace or Reset.
func (r *Recorder) Events() []Event { return r.slots[:r.n] }

// Dropped returns how many events did not fit.
func (r *Recorder) Dropped() uint64 { return r.dropped }

// Reset discards all recorded events.
func (r *Recorder) Reset() {
	r.n = 0
	r.dropped = 0
}
