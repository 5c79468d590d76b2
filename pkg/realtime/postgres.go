package realtime

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/zfogg/sidechain/clientsync/pkg/logger"
)

// DefaultPostgresPrefix namespaces NOTIFY channels
const DefaultPostgresPrefix = "changes_"

// notifyListener is the subset of *pq.Listener the channel drives
type notifyListener interface {
	Listen(channel string) error
	Unlisten(channel string) error
	NotificationChannel() <-chan *pq.Notification
	Close() error
}

// PostgresChannel is a Channel over Postgres LISTEN/NOTIFY. A database
// trigger is expected to NOTIFY prefix+table with a JSON ChangeEvent.
type PostgresChannel struct {
	listener notifyListener
	handlers *handlerSet
	prefix   string

	listenMu  sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

// NewPostgresChannel opens a listener on dsn and starts dispatching
func NewPostgresChannel(dsn string) *PostgresChannel {
	listener := pq.NewListener(dsn, 10*time.Second, time.Minute, logListenerEvent)
	return newPostgresChannel(listener, DefaultPostgresPrefix)
}

func newPostgresChannel(listener notifyListener, prefix string) *PostgresChannel {
	c := &PostgresChannel{
		listener: listener,
		handlers: newHandlerSet(),
		prefix:   prefix,
		done:     make(chan struct{}),
	}
	go c.run()
	return c
}

// Subscribe registers handler and LISTENs on the resource's channel when it
// is the first handler for it
func (c *PostgresChannel) Subscribe(ctx context.Context, resourceKey string, handler func(ChangeEvent)) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case <-c.done:
		return nil, ErrChannelClosed
	default:
	}

	c.listenMu.Lock()
	defer c.listenMu.Unlock()

	id, first := c.handlers.add(resourceKey, handler)
	if first {
		if err := c.listener.Listen(c.prefix + resourceKey); err != nil && err != pq.ErrChannelAlreadyOpen {
			c.handlers.remove(resourceKey, id)
			return nil, fmt.Errorf("listen %s: %w", c.prefix+resourceKey, err)
		}
	}

	return &funcSubscription{fn: func() error {
		c.listenMu.Lock()
		defer c.listenMu.Unlock()

		if _, last := c.handlers.remove(resourceKey, id); last {
			if err := c.listener.Unlisten(c.prefix + resourceKey); err != nil && err != pq.ErrChannelNotOpen {
				return err
			}
		}
		return nil
	}}, nil
}

// Close stops dispatching and closes the listener
func (c *PostgresChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.listener.Close()
	})
	return err
}

func (c *PostgresChannel) run() {
	notifications := c.listener.NotificationChannel()
	for {
		select {
		case <-c.done:
			return
		case n, ok := <-notifications:
			if !ok {
				return
			}
			c.dispatch(n)
		}
	}
}

// dispatch routes one notification. A nil notification means the listener
// reconnected and may have missed events.
func (c *PostgresChannel) dispatch(n *pq.Notification) {
	if n == nil {
		logger.Warn("Postgres listener reconnected, notifications may have been missed")
		return
	}

	ev, err := c.decode(n)
	if err != nil {
		logger.Warn("Malformed change notification", "channel", n.Channel, "error", err)
		return
	}
	c.handlers.dispatch(ev)
}

func (c *PostgresChannel) decode(n *pq.Notification) (ChangeEvent, error) {
	var ev ChangeEvent
	if n.Extra != "" {
		if err := json.Unmarshal([]byte(n.Extra), &ev); err != nil {
			return ChangeEvent{}, err
		}
	}
	if ev.Table == "" {
		ev.Table = strings.TrimPrefix(n.Channel, c.prefix)
	}
	if ev.EventType == "" {
		ev.EventType = EventUpdate
	}
	return ev, nil
}

func logListenerEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnected:
		logger.Debug("Postgres listener connected")
	case pq.ListenerEventDisconnected:
		logger.Warn("Postgres listener disconnected", "error", err)
	case pq.ListenerEventReconnected:
		logger.Info("Postgres listener reconnected")
	case pq.ListenerEventConnectionAttemptFailed:
		logger.Warn("Postgres listener connection attempt failed", "error", err)
	}
}
