// Package realtime turns server change notifications into a bounded rate of
// client cache invalidations.
package realtime

import (
	"context"
	"sync"
	"time"
)

// EventType is the kind of row change the server reported
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// ChangeEvent is one push notification: something changed in Table
type ChangeEvent struct {
	EventType EventType              `json:"event_type"`
	Table     string                 `json:"table"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// Subscription is a live registration on a push channel
type Subscription interface {
	Unsubscribe() error
}

// Channel is a publish/subscribe transport keyed by resource name
type Channel interface {
	Subscribe(ctx context.Context, resourceKey string, handler func(ChangeEvent)) (Subscription, error)
}

// Clock is the time source the invalidator schedules against
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a scheduled callback
type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// handlerSet is the listener bookkeeping shared by the transports: handlers
// grouped by resource key, removable by id.
type handlerSet struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[string]map[int]func(ChangeEvent)
}

func newHandlerSet() *handlerSet {
	return &handlerSet{handlers: make(map[string]map[int]func(ChangeEvent))}
}

// add registers h under key and reports whether it is the first for key
func (s *handlerSet) add(key string, h func(ChangeEvent)) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	first := len(s.handlers[key]) == 0
	if s.handlers[key] == nil {
		s.handlers[key] = make(map[int]func(ChangeEvent))
	}
	s.nextID++
	s.handlers[key][s.nextID] = h
	return s.nextID, first
}

// remove drops the handler and reports whether key has no handlers left
func (s *handlerSet) remove(key string, id int) (removed bool, last bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hs, ok := s.handlers[key]
	if !ok {
		return false, false
	}
	if _, ok := hs[id]; !ok {
		return false, false
	}
	delete(hs, id)
	if len(hs) == 0 {
		delete(s.handlers, key)
		return true, true
	}
	return true, false
}

func (s *handlerSet) snapshot(key string) []func(ChangeEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hs := s.handlers[key]
	out := make([]func(ChangeEvent), 0, len(hs))
	for _, h := range hs {
		out = append(out, h)
	}
	return out
}

func (s *handlerSet) keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.handlers))
	for k := range s.handlers {
		out = append(out, k)
	}
	return out
}

func (s *handlerSet) count(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handlers[key])
}

func (s *handlerSet) dispatch(ev ChangeEvent) int {
	handlers := s.snapshot(ev.Table)
	for _, h := range handlers {
		h(ev)
	}
	return len(handlers)
}

// funcSubscription adapts a cleanup function to Subscription
type funcSubscription struct {
	once sync.Once
	fn   func() error
	err  error
}

func (f *funcSubscription) Unsubscribe() error {
	f.once.Do(func() { f.err = f.fn() })
	return f.err
}
