package session

import "time"

// State represents the lifecycle state of a dictation session
type State int

const (
	// StateLoading means a model is still being loaded
	StateLoading State = iota
	// StateListening means the session is capturing audio and waiting for speech
	StateListening
	// StateTranscribing means a finalized segment is being decoded
	StateTranscribing
	// StateResult means the session finished with a transcript
	StateResult
	// StateError means the session finished with a fatal error
	StateError
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateListening:
		return "listening"
	case StateTranscribing:
		return "transcribing"
	case StateResult:
		return "result"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// EventKind identifies the type of a session event
type EventKind int

const (
	// EventState signals a state transition
	EventState EventKind = iota
	// EventPartial carries a live preview of the current segment
	EventPartial
	// EventText carries a finalized segment ready for delivery
	EventText
	// EventResult carries the full session transcript
	EventResult
	// EventError carries a fatal session error
	EventError
	// EventDone is the last event a session emits
	EventDone
)

// String returns the event kind name
func (k EventKind) String() string {
	switch k {
	case EventState:
		return "state"
	case EventPartial:
		return "partial"
	case EventText:
		return "text"
	case EventResult:
		return "result"
	case EventError:
		return "error"
	case EventDone:
		return "done"
	default:
		return "unknown"
	}
}

// Event is one item on a session's event stream
type Event struct {
	Kind    EventKind `json:"kind"`
	State   State     `json:"state,omitempty"`   // EventState
	Text    string    `json:"text,omitempty"`    // EventPartial, EventText, EventResult
	Segment int       `json:"segment,omitempty"` // segment index for EventPartial and EventText
	Err     error     `json:"-"`                 // EventError
	Time    time.Time `json:"time"`
}
