package events

// Event is a typed record of a committed lending operation.
type Event interface {
	EventType() string
}

// Emitter receives the events of committed calls, in commit order.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter discards every event.
type NoopEmitter struct{}

func (NoopEmitter) Emit(Event) {}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(Event)

func (f EmitterFunc) Emit(evt Event) { f(evt) }

// Fanout forwards each event to every non-nil emitter in order. Nil events
// are dropped.
type Fanout []Emitter

func (f Fanout) Emit(evt Event) {
	if evt == nil {
		return
	}
	for _, emitter := range f {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}
