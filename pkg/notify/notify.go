// Package notify carries user-facing outcome events out of the sync layer.
// Rendering (toast, terminal line, log entry) is up to the Notifier the
// caller supplies.
package notify

import (
	"sync"
	"time"
)

// Kind is the severity of a user-facing event
type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
	KindInfo    Kind = "info"
)

// Event is one user-visible outcome
type Event struct {
	Kind     Kind
	Message  string
	ActionID string
	Err      error
	At       time.Time
}

// Notifier renders events
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(Event)

// Notify calls f(e)
func (f NotifierFunc) Notify(e Event) {
	f(e)
}

// Discard drops every event
var Discard Notifier = NotifierFunc(func(Event) {})

// Multi fans an event out to every notifier in order
func Multi(notifiers ...Notifier) Notifier {
	return NotifierFunc(func(e Event) {
		for _, n := range notifiers {
			if n != nil {
				n.Notify(e)
			}
		}
	})
}

// Recorder keeps every event it receives. Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Notify appends e
func (r *Recorder) Notify(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of everything recorded so far
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Kinds returns the kinds of the recorded events in arrival order
func (r *Recorder) Kinds() []Kind {
	events := r.Events()
	kinds := make([]Kind, len(events))
	for i, e := range events {
		kinds[i] = e.Kind
	}
	return kinds
}

// Queue buffers events on a channel for a consumer loop. When the buffer is
// full the oldest pending event is discarded so producers never block.
type Queue struct {
	ch chan Event
}

// NewQueue creates a queue holding up to size events
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 64
	}
	return &Queue{ch: make(chan Event, size)}
}

// Notify enqueues e without blocking
func (q *Queue) Notify(e Event) {
	for {
		select {
		case q.ch <- e:
			return
		default:
		}
		select {
		case <-q.ch:
		default:
		}
	}
}

// Events is the receive side of the queue
func (q *Queue) Events() <-chan Event {
	return q.ch
}
