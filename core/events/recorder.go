package events

import "sync"

// Recorder keeps every emitted event in memory. The RPC layer uses it as a
// bounded feed and tests use it to assert emission order.
type Recorder struct {
	mu     sync.Mutex
	limit  int
	events []Event
}

// NewRecorder returns a recorder retaining at most limit events. A limit of
// zero keeps everything.
func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(evt Event) {
	if evt == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	if r.limit > 0 && len(r.events) > r.limit {
		r.events = append([]Event(nil), r.events[len(r.events)-r.limit:]...)
	}
}

// Events returns a copy of the retained events, oldest first.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Reset drops all retained events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
