package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	syncerrors "github.com/zfogg/sidechain/clientsync/pkg/errors"
	"github.com/zfogg/sidechain/clientsync/pkg/logger"
	"github.com/zfogg/sidechain/clientsync/pkg/metrics"
)

// Config bounds how often push events turn into cache refreshes
type Config struct {
	// Debounce is the quiet period after the last event of a burst
	Debounce time.Duration
	// Window is the rate-limit counting window
	Window time.Duration
	// MaxPerWindow caps invalidations per resource per window
	MaxPerWindow int
}

// DefaultConfig returns the production limits
func DefaultConfig() Config {
	return Config{
		Debounce:     time.Second,
		Window:       time.Minute,
		MaxPerWindow: 10,
	}
}

// SubscriptionStats is the rate-limit bookkeeping for one resource
type SubscriptionStats struct {
	ResourceKey               string
	LastInvalidationAt        time.Time
	InvalidationCountInWindow int
	WindowStartedAt           time.Time
	Dropped                   int
}

// Invalidator subscribes to a push channel per resource, debounces bursts
// and caps the number of invalidations per window. It never reconnects a
// failed channel; that belongs to the transport.
type Invalidator struct {
	channel Channel
	cfg     Config
	clock   Clock
	metrics *metrics.Metrics

	mu      sync.Mutex
	windows map[string]*SubscriptionStats
	refs    map[string]int
	subs    map[*subscription]struct{}
}

// Option configures an Invalidator
type Option func(*Invalidator)

// WithClock overrides the time source, mainly for tests
func WithClock(c Clock) Option {
	return func(inv *Invalidator) { inv.clock = c }
}

// WithMetrics records events and invalidation outcomes on m
func WithMetrics(m *metrics.Metrics) Option {
	return func(inv *Invalidator) { inv.metrics = m }
}

// NewInvalidator creates an invalidator on top of channel. Zero config
// fields fall back to DefaultConfig.
func NewInvalidator(channel Channel, cfg Config, opts ...Option) *Invalidator {
	def := DefaultConfig()
	if cfg.Debounce <= 0 {
		cfg.Debounce = def.Debounce
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.MaxPerWindow <= 0 {
		cfg.MaxPerWindow = def.MaxPerWindow
	}

	inv := &Invalidator{
		channel: channel,
		cfg:     cfg,
		clock:   realClock{},
		windows: make(map[string]*SubscriptionStats),
		refs:    make(map[string]int),
		subs:    make(map[*subscription]struct{}),
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Subscribe watches resourceKey and calls onInvalidate when the cache for it
// should be refreshed. The returned function cancels any pending debounce and
// releases the push channel; it is safe to call more than once. A callback
// already running when it is called finishes, but none starts afterwards.
func (inv *Invalidator) Subscribe(ctx context.Context, resourceKey string, onInvalidate func(resourceKey string)) (func(), error) {
	if resourceKey == "" {
		return nil, syncerrors.ValidationError("resource_key", "must not be empty")
	}
	if onInvalidate == nil {
		return nil, syncerrors.ValidationError("on_invalidate", "must not be nil")
	}

	s := &subscription{
		inv:          inv,
		key:          resourceKey,
		onInvalidate: onInvalidate,
	}

	inv.mu.Lock()
	inv.windowLocked(resourceKey, inv.clock.Now())
	inv.refs[resourceKey]++
	inv.mu.Unlock()

	upstream, err := inv.channel.Subscribe(ctx, resourceKey, s.handleEvent)
	if err != nil {
		inv.release(resourceKey)
		logger.Error("Push channel subscribe failed", "resource", resourceKey, "error", err)
		return nil, fmt.Errorf("subscribe to %s: %w", resourceKey, err)
	}
	s.upstream = upstream

	inv.mu.Lock()
	inv.subs[s] = struct{}{}
	inv.mu.Unlock()
	if inv.metrics != nil {
		inv.metrics.ActiveSubscriptions.Inc()
	}

	logger.Debug("Watching resource", "resource", resourceKey)
	return s.unsubscribe, nil
}

// Stats returns the rate-limit bookkeeping for resourceKey. The window
// outlives the last unsubscribe until it expires, so a quick resubscribe
// cannot reset the cap.
func (inv *Invalidator) Stats(resourceKey string) (SubscriptionStats, bool) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	w, ok := inv.windows[resourceKey]
	if !ok {
		return SubscriptionStats{}, false
	}
	return *w, true
}

// Close unsubscribes every live subscription
func (inv *Invalidator) Close() {
	inv.mu.Lock()
	subs := make([]*subscription, 0, len(inv.subs))
	for s := range inv.subs {
		subs = append(subs, s)
	}
	inv.mu.Unlock()

	for _, s := range subs {
		s.unsubscribe()
	}
}

// rollWindowLocked starts a new counting window once the old one expired
func (inv *Invalidator) rollWindowLocked(w *SubscriptionStats, now time.Time) {
	if now.Sub(w.WindowStartedAt) >= inv.cfg.Window {
		w.InvalidationCountInWindow = 0
		w.WindowStartedAt = now
	}
}

func (inv *Invalidator) windowLocked(resourceKey string, now time.Time) *SubscriptionStats {
	w, ok := inv.windows[resourceKey]
	if !ok {
		w = &SubscriptionStats{ResourceKey: resourceKey, WindowStartedAt: now}
		inv.windows[resourceKey] = w
	}
	return w
}

// admit consumes one invalidation from the window, or reports the cap hit
func (inv *Invalidator) admit(resourceKey string) (bool, SubscriptionStats) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	now := inv.clock.Now()
	w := inv.windowLocked(resourceKey, now)
	inv.rollWindowLocked(w, now)

	if w.InvalidationCountInWindow >= inv.cfg.MaxPerWindow {
		w.Dropped++
		return false, *w
	}
	w.InvalidationCountInWindow++
	w.LastInvalidationAt = now
	return true, *w
}

func (inv *Invalidator) noteEvent(resourceKey string) {
	inv.mu.Lock()
	if w, ok := inv.windows[resourceKey]; ok {
		inv.rollWindowLocked(w, inv.clock.Now())
	}
	inv.mu.Unlock()

	if inv.metrics != nil {
		inv.metrics.PushEventsTotal.WithLabelValues(resourceKey).Inc()
	}
}

func (inv *Invalidator) forget(s *subscription) {
	inv.mu.Lock()
	_, ok := inv.subs[s]
	delete(inv.subs, s)
	inv.mu.Unlock()

	if !ok {
		return
	}
	inv.release(s.key)
	if inv.metrics != nil {
		inv.metrics.ActiveSubscriptions.Dec()
	}
}

// release drops one reference to resourceKey. Once nobody watches it, its
// window is discarded as soon as it has expired.
func (inv *Invalidator) release(resourceKey string) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	inv.refs[resourceKey]--
	if inv.refs[resourceKey] > 0 {
		return
	}
	delete(inv.refs, resourceKey)
	if remaining := inv.dropIdleWindowLocked(resourceKey); remaining > 0 {
		inv.clock.AfterFunc(remaining, func() {
			inv.mu.Lock()
			inv.dropIdleWindowLocked(resourceKey)
			inv.mu.Unlock()
		})
	}
}

// dropIdleWindowLocked deletes an unwatched, expired window. Otherwise it
// returns how long until the window expires, or zero if it is still watched.
func (inv *Invalidator) dropIdleWindowLocked(resourceKey string) time.Duration {
	w, ok := inv.windows[resourceKey]
	if !ok || inv.refs[resourceKey] > 0 {
		return 0
	}
	remaining := inv.cfg.Window - inv.clock.Now().Sub(w.WindowStartedAt)
	if remaining <= 0 {
		delete(inv.windows, resourceKey)
		return 0
	}
	return remaining
}

func (inv *Invalidator) outcome(resourceKey, outcome string) {
	if inv.metrics != nil {
		inv.metrics.InvalidationsTotal.WithLabelValues(resourceKey, outcome).Inc()
	}
}

// subscription is one consumer's debounce state machine:
// idle -> debounce-pending -> (invalidated | rate-limited) -> idle
type subscription struct {
	inv          *Invalidator
	key          string
	onInvalidate func(string)
	upstream     Subscription

	mu     sync.Mutex
	timer  Timer
	gen    uint64
	closed bool
	once   sync.Once
}

func (s *subscription) handleEvent(ev ChangeEvent) {
	s.inv.noteEvent(s.key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	// Debounce: a newer event supersedes the pending one
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.timer = s.inv.clock.AfterFunc(s.inv.cfg.Debounce, func() { s.fire(gen) })

	logger.Debug("Push event", "resource", s.key, "event", ev.EventType)
}

func (s *subscription) fire(gen uint64) {
	// Closing and spending a window slot are serialized on s.mu
	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	ok, stats := s.inv.admit(s.key)
	s.mu.Unlock()

	if !ok {
		s.inv.outcome(s.key, "dropped")
		logger.Warn("Invalidation dropped by rate limit",
			"resource", s.key,
			"max_per_window", s.inv.cfg.MaxPerWindow,
			"window_started_at", stats.WindowStartedAt,
		)
		return
	}

	s.inv.outcome(s.key, "fired")
	logger.Debug("Invalidating resource", "resource", s.key, "count_in_window", stats.InvalidationCountInWindow)
	s.invoke()
}

func (s *subscription) invoke() {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Invalidation callback panicked", "resource", s.key, "panic", r)
		}
	}()
	s.onInvalidate(s.key)
}

func (s *subscription) unsubscribe() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		s.mu.Unlock()

		s.inv.forget(s)
		if s.upstream != nil {
			if err := s.upstream.Unsubscribe(); err != nil {
				logger.Warn("Releasing push channel failed", "resource", s.key, "error", err)
			}
		}
		logger.Debug("Stopped watching resource", "resource", s.key)
	})
}
