package orchestrator

import (
	"sync"

	"github.com/balizero/nuzantara/pkg/protocol"
)

// emitter guards the outbound event stream: events after the terminal one
// are dropped, and exactly one terminal event goes out no matter how many
// code paths try to close the turn.
type emitter struct {
	mu       sync.Mutex
	sink     func(protocol.Event) error
	closed   bool
	terminal bool
}

func newEmitter(sink func(protocol.Event) error) *emitter {
	return &emitter{sink: sink}
}

// emit forwards a non-terminal event. Returns protocol.ErrStreamClosed once
// the consumer is gone or a terminal event was already sent.
func (e *emitter) emit(ev protocol.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed || e.terminal {
		return protocol.ErrStreamClosed
	}
	if ev.IsTerminal() {
		e.terminal = true
	}
	if err := e.sink(ev); err != nil {
		e.closed = true
		return protocol.ErrStreamClosed
	}
	return nil
}

// finished reports whether a terminal event has been emitted.
func (e *emitter) finished() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.terminal
}

// consumerGone reports whether the sink rejected an event.
func (e *emitter) consumerGone() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
