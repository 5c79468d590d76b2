package realtime

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrChannelClosed is returned when subscribing to a closed channel
var ErrChannelClosed = errors.New("push channel closed")

// Broker is an in-process Channel. Publish delivers synchronously on the
// caller's goroutine.
type Broker struct {
	handlers *handlerSet
	closed   atomic.Bool
}

// NewBroker creates an empty broker
func NewBroker() *Broker {
	return &Broker{handlers: newHandlerSet()}
}

// Subscribe registers handler for events on resourceKey
func (b *Broker) Subscribe(ctx context.Context, resourceKey string, handler func(ChangeEvent)) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.closed.Load() {
		return nil, ErrChannelClosed
	}
	id, _ := b.handlers.add(resourceKey, handler)
	return &funcSubscription{fn: func() error {
		b.handlers.remove(resourceKey, id)
		return nil
	}}, nil
}

// Publish delivers ev to every subscriber of ev.Table and returns how many
// received it
func (b *Broker) Publish(ev ChangeEvent) int {
	if b.closed.Load() {
		return 0
	}
	return b.handlers.dispatch(ev)
}

// SubscriberCount returns the number of live subscriptions on resourceKey
func (b *Broker) SubscriberCount(resourceKey string) int {
	return b.handlers.count(resourceKey)
}

// Close stops delivery and rejects new subscriptions
func (b *Broker) Close() error {
	b.closed.Store(true)
	return nil
}
