package realtime

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zfogg/sidechain/clientsync/pkg/logger"
)

// DefaultRedisPrefix namespaces change notification channels
const DefaultRedisPrefix = "changes:"

// RedisChannel is a Channel backed by Redis pub/sub. Each resource key maps
// to the channel prefix+key and every message is a JSON ChangeEvent.
type RedisChannel struct {
	client *redis.Client
	prefix string
}

// NewRedisClient creates a pooled client and checks the connection
func NewRedisClient(ctx context.Context, addr, password string) (*redis.Client, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		MaxRetries:   3,
		PoolSize:     10,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		DialTimeout:  5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}

	logger.Debug("Redis client connected", "address", addr)
	return client, nil
}

// NewRedisChannel wraps client. An empty prefix uses DefaultRedisPrefix.
func NewRedisChannel(client *redis.Client, prefix string) *RedisChannel {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisChannel{client: client, prefix: prefix}
}

// Subscribe listens on the resource's pub/sub channel. It returns once the
// server has confirmed the subscription. Unsubscribe waits for the reader
// to stop, except when called from inside handler, where it returns at once
// and no further events are delivered.
func (c *RedisChannel) Subscribe(ctx context.Context, resourceKey string, handler func(ChangeEvent)) (Subscription, error) {
	name := c.prefix + resourceKey
	ps := c.client.Subscribe(ctx, name)

	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", name, err)
	}

	var stopped, dispatching atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range ps.Channel() {
			if stopped.Load() {
				return
			}
			ev, err := c.decode(msg)
			if err != nil {
				logger.Warn("Malformed change notification", "channel", msg.Channel, "error", err)
				continue
			}
			dispatching.Store(true)
			handler(ev)
			dispatching.Store(false)
		}
	}()

	logger.Debug("Redis subscribed", "channel", name)
	return &funcSubscription{fn: func() error {
		stopped.Store(true)
		err := ps.Close()
		if !dispatching.Load() {
			<-done
		}
		return err
	}}, nil
}

// Publish sends ev to subscribers of ev.Table
func (c *RedisChannel) Publish(ctx context.Context, ev ChangeEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, c.prefix+ev.Table, data).Err()
}

// Close closes the underlying client
func (c *RedisChannel) Close() error {
	return c.client.Close()
}

func (c *RedisChannel) decode(msg *redis.Message) (ChangeEvent, error) {
	var ev ChangeEvent
	if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
		return ChangeEvent{}, err
	}
	if ev.Table == "" {
		ev.Table = strings.TrimPrefix(msg.Channel, c.prefix)
	}
	return ev, nil
}
