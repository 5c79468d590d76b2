// Package upload wraps a raw upload call with simulated progress, a terminal
// success or error state, and caller-driven retry.
package upload

import (
	"context"
	"fmt"
	"sync"
	"time"

	syncerrors "github.com/zfogg/sidechain/clientsync/pkg/errors"
	"github.com/zfogg/sidechain/clientsync/pkg/logger"
	"github.com/zfogg/sidechain/clientsync/pkg/metrics"
)

// State is the upload state machine: idle -> in_progress -> complete | error
type State string

const (
	StateIdle       State = "idle"
	StateInProgress State = "in_progress"
	StateComplete   State = "complete"
	StateError      State = "error"
)

const (
	// DefaultCeiling is where simulated progress stops until the upload resolves
	DefaultCeiling       = 85
	DefaultTick          = 200 * time.Millisecond
	DefaultCompleteDelay = 500 * time.Millisecond

	defaultErrorMessage = "Upload failed. Please try again."
)

// File describes the payload being uploaded
type File struct {
	Name        string
	Size        int64
	ContentType string
}

// Task is a snapshot of one upload
type Task struct {
	File         File
	Progress     int
	State        State
	RetryCount   int
	ErrorMessage string
}

// Func performs the real upload. It reports success with true; false or an
// error puts the task in the error state.
type Func func(ctx context.Context) (bool, error)

// Options tunes progress simulation and callbacks
type Options struct {
	Tick          time.Duration
	Ceiling       int
	CompleteDelay time.Duration
	ErrorMessage  string
	OnProgress    func(Task)
	OnComplete    func(Task)
}

// Pipeline drives a single task through its attempts
type Pipeline struct {
	opts    Options
	metrics *metrics.Metrics

	mu            sync.Mutex
	task          Task
	attempt       uint64
	running       bool
	completeTimer *time.Timer
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithMetrics records upload outcomes on m
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New creates an idle pipeline for file
func New(file File, opts Options, options ...Option) *Pipeline {
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	if opts.Ceiling <= 0 || opts.Ceiling > 100 {
		opts.Ceiling = DefaultCeiling
	}
	if opts.CompleteDelay < 0 {
		opts.CompleteDelay = 0
	}
	if opts.ErrorMessage == "" {
		opts.ErrorMessage = defaultErrorMessage
	}

	p := &Pipeline{
		opts: opts,
		task: Task{File: file, State: StateIdle},
	}
	for _, o := range options {
		o(p)
	}
	return p
}

// NextProgress is the decelerating step toward ceiling
func NextProgress(progress, ceiling int) int {
	var step int
	switch {
	case progress < 30:
		step = 15
	case progress < 60:
		step = 10
	case progress < 80:
		step = 5
	default:
		step = 1
	}
	next := progress + step
	if next > ceiling {
		next = ceiling
	}
	if next < progress {
		return progress
	}
	return next
}

// Snapshot returns the current task state
func (p *Pipeline) Snapshot() Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.task
}

type result struct {
	ok  bool
	err error
}

// Run performs one attempt, simulating progress while fn runs. It returns
// whether the upload completed. A second Run while one is in flight is
// rejected and returns false without touching the task.
func (p *Pipeline) Run(ctx context.Context, fn Func) bool {
	if fn == nil {
		logger.Error("Upload rejected", "error", syncerrors.ValidationError("upload", "no upload function"))
		return false
	}

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		logger.Warn("Upload already in progress", "file", p.task.File.Name)
		return false
	}
	p.running = true
	p.attempt++
	attempt := p.attempt
	p.task.State = StateInProgress
	p.task.Progress = 0
	p.task.ErrorMessage = ""
	snap := p.task
	p.mu.Unlock()

	p.emitProgress(snap)
	logger.Debug("Upload started", "file", snap.File.Name, "retry_count", snap.RetryCount)

	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("upload panicked: %v", r)}
			}
		}()
		ok, err := fn(ctx)
		done <- result{ok: ok, err: err}
	}()

	ticker := time.NewTicker(p.opts.Tick)
	defer ticker.Stop()

	for {
		select {
		case r := <-done:
			return p.finish(attempt, r.ok, r.err)
		case <-ctx.Done():
			return p.finish(attempt, false, syncerrors.CategorizeError(ctx.Err()))
		case <-ticker.C:
			p.tick(attempt)
		}
	}
}

// Retry starts a fresh attempt after an error. There is no cap here; callers
// that want one count attempts themselves or use LoadWithRetry.
func (p *Pipeline) Retry(ctx context.Context, fn Func) bool {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		logger.Warn("Upload already in progress", "file", p.task.File.Name)
		return false
	}
	p.stopCompleteTimerLocked()
	p.task.RetryCount++
	p.task.State = StateIdle
	p.task.Progress = 0
	p.task.ErrorMessage = ""
	p.mu.Unlock()

	return p.Run(ctx, fn)
}

// Reset returns the task to idle and clears the retry count. An attempt still
// in flight keeps running but its outcome is discarded.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopCompleteTimerLocked()
	p.attempt++
	p.running = false
	p.task = Task{File: p.task.File, State: StateIdle}
}

func (p *Pipeline) tick(attempt uint64) {
	p.mu.Lock()
	if attempt != p.attempt || p.task.State != StateInProgress {
		p.mu.Unlock()
		return
	}
	next := NextProgress(p.task.Progress, p.opts.Ceiling)
	if next == p.task.Progress {
		p.mu.Unlock()
		return
	}
	p.task.Progress = next
	snap := p.task
	p.mu.Unlock()

	p.emitProgress(snap)
}

// finish moves the task to its terminal state unless the attempt was reset
func (p *Pipeline) finish(attempt uint64, ok bool, err error) bool {
	p.mu.Lock()
	if attempt != p.attempt {
		p.mu.Unlock()
		return false
	}
	p.running = false

	if ok && err == nil {
		p.task.State = StateComplete
		p.task.Progress = 100
		snap := p.task
		if p.opts.OnComplete != nil {
			p.completeTimer = time.AfterFunc(p.opts.CompleteDelay, func() { p.complete(attempt, snap) })
		}
		p.mu.Unlock()

		p.outcome("complete")
		logger.Info("Upload complete", "file", snap.File.Name, "retry_count", snap.RetryCount)
		p.emitProgress(snap)
		return true
	}

	p.task.State = StateError
	p.task.Progress = 0
	p.task.ErrorMessage = p.opts.ErrorMessage
	snap := p.task
	p.mu.Unlock()

	p.outcome("error")
	if err != nil {
		logger.Warn("Upload failed", "file", snap.File.Name, "retry_count", snap.RetryCount, "error", err)
	} else {
		logger.Warn("Upload rejected", "file", snap.File.Name, "retry_count", snap.RetryCount)
	}
	p.emitProgress(snap)
	return false
}

func (p *Pipeline) complete(attempt uint64, snap Task) {
	p.mu.Lock()
	current := attempt == p.attempt && p.task.State == StateComplete
	p.completeTimer = nil
	p.mu.Unlock()

	if current {
		p.opts.OnComplete(snap)
	}
}

func (p *Pipeline) stopCompleteTimerLocked() {
	if p.completeTimer != nil {
		p.completeTimer.Stop()
		p.completeTimer = nil
	}
}

func (p *Pipeline) emitProgress(t Task) {
	if p.opts.OnProgress != nil {
		p.opts.OnProgress(t)
	}
}

func (p *Pipeline) outcome(outcome string) {
	if p.metrics != nil {
		p.metrics.UploadsTotal.WithLabelValues(outcome).Inc()
	}
}
