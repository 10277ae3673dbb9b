package protocol

// EventType enumerates the typed events emitted on the outbound stream.
type EventType string

const (
	EventStatus    EventType = "status"
	EventToolStart EventType = "tool_start"
	EventToolEnd   EventType = "tool_end"
	EventChunk     EventType = "chunk"
	EventSources   EventType = "sources"
	EventDone      EventType = "done"
	EventError     EventType = "error"
)

// Event is one element of the outbound stream. Exactly one of the optional
// payload fields is populated depending on Type. Exactly one terminal event
// (done or error) closes every stream.
type Event struct {
	Type EventType `json:"type"`

	// status
	Phase  string `json:"phase,omitempty"`
	Detail string `json:"detail,omitempty"`

	// tool_start / tool_end
	ToolName string         `json:"name,omitempty"`
	ToolArgs map[string]any `json:"args,omitempty"`
	Outcome  ToolOutcome    `json:"outcome,omitempty"`
	Summary  string         `json:"summary,omitempty"`

	// chunk
	Text string `json:"text,omitempty"`

	// sources
	Citations         []Citation `json:"citations,omitempty"`
	VerificationScore float64    `json:"verification_score,omitempty"`

	// done
	SessionID string `json:"session_id,omitempty"`
	TurnIndex int    `json:"turn_index,omitempty"`

	// error
	ErrorKind    ErrorKind `json:"kind,omitempty"`
	ErrorMessage string    `json:"message,omitempty"`
}

// IsTerminal reports whether the event closes the stream.
func (e Event) IsTerminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// StatusEvent builds a status event for a phase transition.
func StatusEvent(phase, detail string) Event {
	return Event{Type: EventStatus, Phase: phase, Detail: detail}
}

// ToolStartEvent brackets the beginning of a tool invocation.
func ToolStartEvent(name string, args map[string]any) Event {
	return Event{Type: EventToolStart, ToolName: name, ToolArgs: args}
}

// ToolEndEvent brackets the end of a tool invocation.
func ToolEndEvent(name string, outcome ToolOutcome, summary string) Event {
	return Event{Type: EventToolEnd, ToolName: name, Outcome: outcome, Summary: summary}
}

// ChunkEvent carries an incremental block of answer text.
func ChunkEvent(text string) Event {
	return Event{Type: EventChunk, Text: text}
}

// SourcesEvent carries citations and the verification score, emitted once
// before done.
func SourcesEvent(citations []Citation, score float64) Event {
	return Event{Type: EventSources, Citations: citations, VerificationScore: score}
}

// DoneEvent terminates a successful stream.
func DoneEvent(sessionID string, turnIndex int) Event {
	return Event{Type: EventDone, SessionID: sessionID, TurnIndex: turnIndex}
}

// ErrorEvent terminates a failed stream.
func ErrorEvent(kind ErrorKind, message string) Event {
	return Event{Type: EventError, ErrorKind: kind, ErrorMessage: message}
}
