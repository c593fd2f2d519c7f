// Package bus defines the internal receive bus the block listener emits
// decoded Whiteflag messages on. The concrete event-emitter implementation
// is an external collaborator; this package only fixes the event shape and
// provides an in-memory Recorder for tests.
package bus

import (
	"sync"

	"github.com/whiteflag/relay/chainrelay/chainstate"
)

// EventMessageReceived is the single event name the core produces.
const EventMessageReceived = "messageReceived"

// Bus is the write side of the protocol event bus, consumed only by C7 (and
// by the boundary API for out-of-band paths, outside this module's scope).
type Bus interface {
	Emit(event string, payload interface{})
}

// MessageReceived emits a messageReceived event carrying msg.
func MessageReceived(b Bus, msg chainstate.WfMessage) {
	b.Emit(EventMessageReceived, msg)
}

// Recorder is an in-memory Bus double that appends every emitted event in
// order, for assertions in tests about delivery count and ordering.
type Recorder struct {
	mu     sync.Mutex
	Events []RecordedEvent
}

type RecordedEvent struct {
	Name    string
	Payload interface{}
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Emit(event string, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, RecordedEvent{Name: event, Payload: payload})
}

// Messages returns every recorded messageReceived payload, in emission
// order.
func (r *Recorder) Messages() []chainstate.WfMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []chainstate.WfMessage
	for _, e := range r.Events {
		if e.Name != EventMessageReceived {
			continue
		}
		if msg, ok := e.Payload.(chainstate.WfMessage); ok {
			out = append(out, msg)
		}
	}
	return out
}
