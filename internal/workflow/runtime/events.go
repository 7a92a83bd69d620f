package runtime

import (
	"time"

	"github.com/linkflow-ai/linkflow-ai/internal/workflow/model"
)

// EventType enumerates the events the engine emits during a run, per §2 and
// §4.4/§4.5.
type EventType string

const (
	EventNodeStarted       EventType = "node_started"
	EventNodeCompleted     EventType = "node_completed"
	EventProgress          EventType = "progress"
	EventWorkflowCompleted EventType = "workflow_completed"
	EventWorkflowFailed    EventType = "workflow_failed"
	EventWorkflowCancelled EventType = "workflow_cancelled"
)

// Event is a single emitted occurrence during a run.
type Event struct {
	Type            EventType
	NodeID          model.NodeID
	NodeType        string
	ProgressPercent float64
	Message         string
	Timestamp       time.Time
}

// Emitter is a per-run event sink, injected into the executor and engine
// rather than reached through a module-level singleton (the redesign note
// in §9 calling out the teacher's global event bus). Observers subscribe via
// an explicit handle returned by Subscribe.
type Emitter struct {
	handlers map[int]func(Event)
	nextID   int
}

// NewEmitter creates an empty per-run emitter.
func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[int]func(Event))}
}

// Subscribe registers a handler and returns a handle usable with
// Unsubscribe.
func (e *Emitter) Subscribe(handler func(Event)) int {
	e.nextID++
	id := e.nextID
	e.handlers[id] = handler
	return id
}

// Unsubscribe removes a previously registered handler.
func (e *Emitter) Unsubscribe(handle int) {
	delete(e.handlers, handle)
}

// Emit delivers an event synchronously to every subscriber. Synchronous
// delivery is deliberate: the durable runtime relies on NodeCompleted events
// being fully processed (checkpointed) before the engine proceeds to the
// next dispatch, per the ordering guarantee in §5.
func (e *Emitter) Emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	for _, h := range e.handlers {
		h(ev)
	}
}
