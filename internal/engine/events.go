package engine

import (
	"go.uber.org/atomic"

	"ShopScout/server/internal/interfaces"
)

// Stream is the ordered event channel for one turn. Events are emitted by a
// single producer goroutine; consumers range over Events() until it closes.
type Stream struct {
	ch     chan interfaces.AgentEvent
	closed *atomic.Bool
}

func NewStream(buffer int) *Stream {
	if buffer <= 0 {
		buffer = 64
	}
	return &Stream{
		ch:     make(chan interfaces.AgentEvent, buffer),
		closed: atomic.NewBool(false),
	}
}

// Emit delivers an event to the consumer. Late emits after Close are dropped.
func (s *Stream) Emit(ev interfaces.AgentEvent) {
	if s.closed.Load() {
		return
	}
	s.ch <- ev
}

// Events returns the consumer side of the stream.
func (s *Stream) Events() <-chan interfaces.AgentEvent {
	return s.ch
}

// Close ends the stream. Must be called by the producer after the last Emit.
func (s *Stream) Close() {
	if s.closed.CAS(false, true) {
		close(s.ch)
	}
}
