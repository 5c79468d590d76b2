// Package resources tracks ephemeral client-side handles and releases each
// exactly once: on consumer teardown, on explicit cleanup, or under pressure.
package resources

import (
	"sort"
	"sync"
	"time"

	"github.com/zfogg/sidechain/clientsync/pkg/logger"
	"github.com/zfogg/sidechain/clientsync/pkg/metrics"
)

// DefaultThreshold is the tracked count above which older handles are swept
const DefaultThreshold = 50

// Sweep triggers, also used as metric labels
const (
	TriggerManual     = "manual"
	TriggerTeardown   = "teardown"
	TriggerBackground = "background"
	TriggerPressure   = "pressure"
)

// ReleaseFunc frees one resource
type ReleaseFunc func() error

// Resource describes a tracked handle
type Resource struct {
	Handle       string
	RegisteredAt time.Time
}

type tracked struct {
	Resource
	seq     uint64
	release ReleaseFunc
	once    sync.Once
	err     error
}

func (t *tracked) run() error {
	t.once.Do(func() { t.err = t.release() })
	return t.err
}

// Registry is the process-wide set of live handles
type Registry struct {
	threshold int
	dir       string
	now       func() time.Time
	metrics   *metrics.Metrics

	mu      sync.Mutex
	seq     uint64
	entries map[string]*tracked
}

// Option configures a Registry
type Option func(*Registry)

// WithThreshold sets the pressure threshold
func WithThreshold(n int) Option {
	return func(r *Registry) { r.threshold = n }
}

// WithDir sets where CreateAndRegister writes its files. Empty uses the OS
// temp dir.
func WithDir(dir string) Option {
	return func(r *Registry) { r.dir = dir }
}

// WithClock overrides the registration timestamp source
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithMetrics records releases and sweeps on m
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// NewRegistry creates an empty registry
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		threshold: DefaultThreshold,
		now:       time.Now,
		entries:   make(map[string]*tracked),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.threshold <= 0 {
		r.threshold = DefaultThreshold
	}
	return r
}

// Track registers release for handle. Registering a handle that is already
// tracked keeps the first registration and reports false. When the count
// passes the threshold every other handle is released; the one just tracked
// is kept so the caller never holds a released handle.
func (r *Registry) Track(handle string, release ReleaseFunc) bool {
	if handle == "" || release == nil {
		return false
	}

	r.mu.Lock()
	if _, ok := r.entries[handle]; ok {
		r.mu.Unlock()
		logger.Debug("Resource already tracked", "handle", handle)
		return false
	}
	r.seq++
	t := &tracked{
		Resource: Resource{Handle: handle, RegisteredAt: r.now()},
		seq:      r.seq,
		release:  release,
	}
	r.entries[handle] = t

	var evicted []*tracked
	if len(r.entries) > r.threshold {
		evicted = r.takeLocked(func(e *tracked) bool { return e != t })
	}
	r.reportLocked()
	r.mu.Unlock()

	if evicted != nil {
		logger.Info("Resource threshold exceeded, sweeping", "threshold", r.threshold, "released", len(evicted))
		r.releaseAll(evicted, TriggerPressure)
	}
	return true
}

// Release frees handle if it is still tracked
func (r *Registry) Release(handle string) bool {
	r.mu.Lock()
	t, ok := r.entries[handle]
	if ok {
		delete(r.entries, handle)
		r.reportLocked()
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	r.release(t)
	return true
}

// Sweep releases every tracked handle and returns how many it released
func (r *Registry) Sweep() int {
	return r.sweep(TriggerManual)
}

// OnBackground sweeps everything when the app loses focus
func (r *Registry) OnBackground() int {
	return r.sweep(TriggerBackground)
}

// Len returns the number of tracked handles
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Tracked returns the live handles, oldest first
func (r *Registry) Tracked() []Resource {
	r.mu.Lock()
	defer r.mu.Unlock()

	ts := make([]*tracked, 0, len(r.entries))
	for _, t := range r.entries {
		ts = append(ts, t)
	}
	sortOldestFirst(ts)

	out := make([]Resource, len(ts))
	for i, t := range ts {
		out[i] = t.Resource
	}
	return out
}

func (r *Registry) sweep(trigger string) int {
	r.mu.Lock()
	all := r.takeLocked(func(*tracked) bool { return true })
	r.reportLocked()
	r.mu.Unlock()

	r.releaseAll(all, trigger)
	logger.Debug("Resources swept", "trigger", trigger, "released", len(all))
	return len(all)
}

// takeLocked removes the matching entries and returns them oldest first
func (r *Registry) takeLocked(match func(*tracked) bool) []*tracked {
	var out []*tracked
	for handle, t := range r.entries {
		if match(t) {
			out = append(out, t)
			delete(r.entries, handle)
		}
	}
	sortOldestFirst(out)
	return out
}

func (r *Registry) releaseAll(ts []*tracked, trigger string) {
	if r.metrics != nil {
		r.metrics.SweepsTotal.WithLabelValues(trigger).Inc()
	}
	for _, t := range ts {
		r.release(t)
	}
}

func (r *Registry) release(t *tracked) {
	outcome := "ok"
	if err := t.run(); err != nil {
		outcome = "error"
		logger.Warn("Resource release failed", "handle", t.Handle, "error", err)
	}
	if r.metrics != nil {
		r.metrics.ReleasesTotal.WithLabelValues(outcome).Inc()
	}
}

func (r *Registry) reportLocked() {
	if r.metrics != nil {
		r.metrics.TrackedResources.Set(float64(len(r.entries)))
	}
}

func sortOldestFirst(ts []*tracked) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].seq < ts[j].seq })
}
