// Package optimistic renders a mutation as successful before the server
// confirms it, then converges on whatever the server actually said.
package optimistic

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	syncerrors "github.com/zfogg/sidechain/clientsync/pkg/errors"
	"github.com/zfogg/sidechain/clientsync/pkg/ledger"
	"github.com/zfogg/sidechain/clientsync/pkg/logger"
	"github.com/zfogg/sidechain/clientsync/pkg/metrics"
	"github.com/zfogg/sidechain/clientsync/pkg/notify"
)

const (
	defaultSuccessMessage = "Done"
	defaultErrorMessage   = "Something went wrong. Please try again."
)

// Operation is the real server call behind an optimistic update
type Operation func(ctx context.Context) (interface{}, error)

// UpdateOptions configures a single optimistic update
type UpdateOptions struct {
	// Kind defaults to ledger.KindUpdate
	Kind           ledger.Kind
	SuccessMessage string
	ErrorMessage   string
	OnSuccess      func(result interface{})
	OnError        func(err error)
}

// Engine runs optimistic updates against a ledger and reports outcomes to a
// notifier.
type Engine struct {
	ledger        *ledger.Ledger
	notifier      notify.Notifier
	metrics       *metrics.Metrics
	tracer        trace.Tracer
	displayWindow time.Duration
}

// Option configures an Engine
type Option func(*Engine)

// WithMetrics records action outcomes on m
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer overrides the tracer used for operation spans
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithDisplayWindow keeps settled actions in the ledger for d so a UI can show
// them as confirmed or failed, then removes them. Zero removes them as soon as
// they settle.
func WithDisplayWindow(d time.Duration) Option {
	return func(e *Engine) { e.displayWindow = d }
}

// NewEngine creates an engine. A nil notifier discards events.
func NewEngine(l *ledger.Ledger, n notify.Notifier, opts ...Option) *Engine {
	if n == nil {
		n = notify.Discard
	}
	e := &Engine{
		ledger:   l,
		notifier: n,
		tracer:   otel.Tracer("github.com/zfogg/sidechain/clientsync/optimistic"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Ledger returns the ledger the engine records into
func (e *Engine) Ledger() *ledger.Ledger {
	return e.ledger
}

// PerformUpdate records payload as a pending action, announces success right
// away, runs op and reconciles. Exactly one of OnSuccess and OnError runs,
// once. The op error is returned after it has already been reported; a panic
// inside op is converted into an error.
func (e *Engine) PerformUpdate(ctx context.Context, payload interface{}, op Operation, opts UpdateOptions) error {
	if op == nil {
		return syncerrors.ValidationError("operation", "must not be nil")
	}
	kind := opts.Kind
	if kind == "" {
		kind = ledger.KindUpdate
	}

	if e.displayWindow > 0 {
		e.ledger.Prune(e.displayWindow)
	}

	ctx, span := e.tracer.Start(ctx, "optimistic."+string(kind))
	defer span.End()

	started := time.Now()
	id := e.ledger.AddAction(kind, payload)
	span.SetAttributes(attribute.String("action.id", id))

	e.notify(notify.KindSuccess, orDefault(opts.SuccessMessage, defaultSuccessMessage), id, nil)

	result, err := runSafely(ctx, op)
	e.observe(kind, started, err)

	if err != nil {
		if ferr := e.ledger.Fail(id, err); ferr != nil {
			logger.Warn("Optimistic action settled twice", "action_id", id, "error", ferr)
		}
		e.settle(id)

		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Debug("Optimistic action reverted", "action_id", id, "kind", kind, "error", err)

		e.notify(notify.KindError, orDefault(opts.ErrorMessage, defaultErrorMessage), id, err)
		if opts.OnError != nil {
			opts.OnError(err)
		}
		return err
	}

	if cerr := e.ledger.Confirm(id, result); cerr != nil {
		logger.Warn("Optimistic action settled twice", "action_id", id, "error", cerr)
	}
	e.settle(id)
	logger.Debug("Optimistic action confirmed", "action_id", id, "kind", kind)

	if opts.OnSuccess != nil {
		opts.OnSuccess(result)
	}
	return nil
}

// PerformDelete is PerformUpdate specialized for removal. The engine keeps no
// snapshot of the deleted item; callers that need a true rollback must hold
// the pre-delete value themselves.
func (e *Engine) PerformDelete(ctx context.Context, itemID string, op func(ctx context.Context) error, successMessage, errorMessage string) error {
	if op == nil {
		return syncerrors.ValidationError("operation", "must not be nil")
	}
	if itemID == "" {
		return syncerrors.ValidationError("item_id", "must not be empty")
	}
	return e.PerformUpdate(ctx, itemID, func(ctx context.Context) (interface{}, error) {
		return itemID, op(ctx)
	}, UpdateOptions{
		Kind:           ledger.KindDelete,
		SuccessMessage: orDefault(successMessage, "Deleted"),
		ErrorMessage:   orDefault(errorMessage, "Failed to delete. Please try again."),
	})
}

// Go runs PerformUpdate on its own goroutine. The returned channel yields the
// outcome once and is then closed.
func (e *Engine) Go(ctx context.Context, payload interface{}, op Operation, opts UpdateOptions) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		done <- e.PerformUpdate(ctx, payload, op, opts)
	}()
	return done
}

// settle removes a settled action now, or once its display window closes
func (e *Engine) settle(id string) {
	if e.displayWindow <= 0 {
		e.ledger.ResolveAction(id)
		return
	}
	time.AfterFunc(e.displayWindow, func() { e.ledger.ResolveAction(id) })
}

func (e *Engine) notify(kind notify.Kind, message, actionID string, err error) {
	e.notifier.Notify(notify.Event{
		Kind:     kind,
		Message:  message,
		ActionID: actionID,
		Err:      err,
		At:       time.Now(),
	})
}

func (e *Engine) observe(kind ledger.Kind, started time.Time, err error) {
	if e.metrics == nil {
		return
	}
	outcome := "confirmed"
	if err != nil {
		outcome = "failed"
	}
	e.metrics.ActionsTotal.WithLabelValues(string(kind), outcome).Inc()
	e.metrics.ActionDuration.WithLabelValues(string(kind)).Observe(time.Since(started).Seconds())
}

func runSafely(ctx context.Context, op Operation) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Optimistic operation panicked", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("operation panicked: %v", r)
		}
	}()
	return op(ctx)
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
