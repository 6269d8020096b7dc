package models

// EventType names the kind of event on a chat response stream.
type EventType string

const (
	EventText  EventType = "text"
	EventDone  EventType = "done"
	EventError EventType = "error"
)

// Event is one element of the chat response stream. Every stream ends with
// exactly one done or error event.
type Event struct {
	Type      EventType  `json:"type"`
	Text      string     `json:"text,omitempty"`
	Citations []Citation `json:"citations,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Terminal reports whether the event closes its stream.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// TextEvent builds a text delta event.
func TextEvent(text string) Event {
	return Event{Type: EventText, Text: text}
}

// DoneEvent builds the successful terminal event.
func DoneEvent(citations []Citation) Event {
	return Event{Type: EventDone, Citations: citations}
}

// ErrorEvent builds the failing terminal event.
func ErrorEvent(err error) Event {
	return Event{Type: EventError, Error: ErrorMessage(err)}
}

// ChatRequest is the caller-facing request of the chat flow.
type ChatRequest struct {
	DocID    string `json:"docId"`
	Question string `json:"question"`
	TopK     int    `json:"topK,omitempty"`
}

// Delta is one element produced by a generation stream. Exactly one delta
// per stream has Done set or Err non-nil, and it is the last one.
type Delta struct {
	Text string
	Done bool
	Err  error
}
