// Package ledger tracks in-flight optimistic mutations so a client can render
// them before the server confirms.
package ledger

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zfogg/sidechain/clientsync/pkg/metrics"
)

// Kind is the mutation an action represents
type Kind string

const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// State is the lifecycle state of an action
type State string

const (
	StatePending   State = "pending"
	StateConfirmed State = "confirmed"
	StateFailed    State = "failed"
)

// ErrAlreadyTerminal is returned when an action that already confirmed or
// failed is asked to transition again.
var ErrAlreadyTerminal = errors.New("action already reached a terminal state")

// ErrUnknownAction is returned for ids the ledger does not hold
var ErrUnknownAction = errors.New("unknown action")

// PendingAction is one client mutation awaiting reconciliation
type PendingAction struct {
	ID        string
	Kind      Kind
	Payload   interface{}
	CreatedAt time.Time
	State     State
	Err       error
	SettledAt time.Time
}

// Ledger holds actions in insertion order. Safe for concurrent use.
type Ledger struct {
	mu      sync.RWMutex
	order   []string
	actions map[string]*PendingAction
	now     func() time.Time
	metrics *metrics.Metrics
}

// Option configures a Ledger
type Option func(*Ledger)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithMetrics reports the pending count to m
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// New creates an empty ledger
func New(opts ...Option) *Ledger {
	l := &Ledger{
		actions: make(map[string]*PendingAction),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// AddAction records a pending mutation and returns its id
func (l *Ledger) AddAction(kind Kind, payload interface{}) string {
	action := &PendingAction{
		ID:        uuid.New().String(),
		Kind:      kind,
		Payload:   payload,
		CreatedAt: l.now(),
		State:     StatePending,
	}

	l.mu.Lock()
	l.actions[action.ID] = action
	l.order = append(l.order, action.ID)
	l.reportLocked()
	l.mu.Unlock()

	return action.ID
}

// ResolveAction removes the action. Unknown or already-resolved ids are a no-op.
func (l *Ledger) ResolveAction(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.actions[id]; !ok {
		return
	}
	delete(l.actions, id)
	for i, existing := range l.order {
		if existing == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	l.reportLocked()
}

// Confirm moves a pending action to confirmed and replaces its payload with
// the authoritative value from the server.
func (l *Ledger) Confirm(id string, authoritative interface{}) error {
	return l.settle(id, func(a *PendingAction) {
		a.State = StateConfirmed
		if authoritative != nil {
			a.Payload = authoritative
		}
	})
}

// Fail moves a pending action to failed
func (l *Ledger) Fail(id string, cause error) error {
	return l.settle(id, func(a *PendingAction) {
		a.State = StateFailed
		a.Err = cause
	})
}

func (l *Ledger) settle(id string, apply func(*PendingAction)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.actions[id]
	if !ok {
		return ErrUnknownAction
	}
	if a.State != StatePending {
		return ErrAlreadyTerminal
	}
	apply(a)
	a.SettledAt = l.now()
	l.reportLocked()
	return nil
}

// Get returns a copy of the action with the given id
func (l *Ledger) Get(id string) (PendingAction, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	a, ok := l.actions[id]
	if !ok {
		return PendingAction{}, false
	}
	return *a, true
}

// ListPending returns pending actions oldest first
func (l *Ledger) ListPending() []PendingAction {
	return l.list(func(a *PendingAction) bool { return a.State == StatePending })
}

// List returns every held action, including settled ones still on display
func (l *Ledger) List() []PendingAction {
	return l.list(func(*PendingAction) bool { return true })
}

func (l *Ledger) list(keep func(*PendingAction) bool) []PendingAction {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]PendingAction, 0, len(l.order))
	for _, id := range l.order {
		if a := l.actions[id]; keep(a) {
			out = append(out, *a)
		}
	}
	return out
}

// Len returns the number of held actions
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.order)
}

// Prune drops settled actions whose display window has passed and returns how
// many were removed. Pending actions are never pruned.
func (l *Ledger) Prune(retain time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-retain)
	kept := l.order[:0]
	removed := 0
	for _, id := range l.order {
		a := l.actions[id]
		if a.State != StatePending && !a.SettledAt.After(cutoff) {
			delete(l.actions, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	l.order = kept
	if removed > 0 {
		l.reportLocked()
	}
	return removed
}

func (l *Ledger) reportLocked() {
	if l.metrics == nil {
		return
	}
	pending := 0
	for _, a := range l.actions {
		if a.State == StatePending {
			pending++
		}
	}
	l.metrics.PendingActions.Set(float64(pending))
}
