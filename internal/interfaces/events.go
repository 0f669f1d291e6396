package interfaces

// EventType tags a unit of the output stream.
type EventType string

const (
	EventChunk EventType = "chunk"
	EventNode  EventType = "node"
	EventFinal EventType = "final"
	EventError EventType = "error"
	EventDone  EventType = "done"
)

// AgentEvent is one unit of a turn's output stream. A well-formed stream is
// zero or more chunk/node events, then exactly one final followed by done, or
// a single error terminal instead.
type AgentEvent struct {
	Type EventType `json:"type"`

	// chunk
	Content string `json:"content,omitempty"`

	// node
	Node string `json:"node,omitempty"`

	// final
	Text         string                 `json:"text,omitempty"`
	Options      []string               `json:"options,omitempty"`
	Citations    []Citation             `json:"citations,omitempty"`
	ProductCards []ProductCard          `json:"product_cards,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}

func ChunkEvent(content string) AgentEvent {
	return AgentEvent{Type: EventChunk, Content: content}
}

func NodeEvent(node string) AgentEvent {
	return AgentEvent{Type: EventNode, Node: node}
}

func ErrorEvent(message string) AgentEvent {
	return AgentEvent{Type: EventError, Message: message}
}

func DoneEvent() AgentEvent {
	return AgentEvent{Type: EventDone}
}

// Terminal reports whether the event ends a stream segment.
func (e AgentEvent) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}
