package stream

import (
	"sync"
	"time"
)

// Event is one recorded emission.
type Event struct {
	Name    string
	Payload map[string]any
}

// Recorder is an [Emitter] that keeps every event in memory. An optional
// OnEmit hook sees each event as it arrives.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	pings  int
	now    func() time.Time

	// OnEmit, when set, is called after each event is recorded.
	OnEmit func(Event)
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{now: time.Now}
}

// Emit records the event with a timestamp added.
func (r *Recorder) Emit(name string, payload map[string]any) error {
	ev := Event{Name: name, Payload: withTimestamp(payload, r.now())}
	r.mu.Lock()
	r.events = append(r.events, ev)
	hook := r.OnEmit
	r.mu.Unlock()
	if hook != nil {
		hook(ev)
	}
	return nil
}

// Ping counts a heartbeat.
func (r *Recorder) Ping() error {
	r.mu.Lock()
	r.pings++
	r.mu.Unlock()
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Names returns the recorded event names in order.
func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.events))
	for i, ev := range r.events {
		names[i] = ev.Name
	}
	return names
}

// Find returns every recorded event with the given name.
func (r *Recorder) Find(name string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

// Last returns the most recent event, if any.
func (r *Recorder) Last() (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return Event{}, false
	}
	return r.events[len(r.events)-1], true
}

// Pings returns the number of heartbeats received.
func (r *Recorder) Pings() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pings
}
