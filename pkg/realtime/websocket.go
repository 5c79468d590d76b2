package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/zfogg/sidechain/clientsync/pkg/logger"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FrameType is the type of a websocket frame
type FrameType string

const (
	FrameSubscribe   FrameType = "subscribe"
	FrameUnsubscribe FrameType = "unsubscribe"
	FrameChange      FrameType = "change"
	FrameHeartbeat   FrameType = "heartbeat"
	FramePong        FrameType = "pong"
	FrameError       FrameType = "error"
)

// Frame is the wire envelope for every websocket message
type Frame struct {
	Type    FrameType           `json:"type"`
	Payload jsoniter.RawMessage `json:"payload,omitempty"`
}

type resourcePayload struct {
	Resource string `json:"resource"`
}

// WebSocketConfig holds websocket channel configuration
type WebSocketConfig struct {
	URL               string
	Token             string
	ConnectTimeout    time.Duration
	HeartbeatInterval time.Duration
	ReconnectInitial  time.Duration
	ReconnectMax      time.Duration
	// ReconnectGiveUp stops reconnecting after this long; zero retries forever
	ReconnectGiveUp time.Duration
}

// DefaultWebSocketConfig returns a development configuration
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		URL:               "ws://localhost:8787/api/v1/ws",
		ConnectTimeout:    15 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		ReconnectInitial:  2 * time.Second,
		ReconnectMax:      30 * time.Second,
	}
}

// ConnectionState represents the state of the websocket connection
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateError
)

// ConnectionStats holds connection statistics
type ConnectionStats struct {
	FramesReceived int64
	FramesSent     int64
	ReconnectCount int
	LastError      string
	ConnectedAt    time.Time
	DisconnectedAt time.Time
}

// WebSocketChannel is a Channel over a single websocket connection. The
// server is told which resources to push with subscribe/unsubscribe frames;
// after a reconnect every live resource is subscribed again.
type WebSocketChannel struct {
	config   WebSocketConfig
	handlers *handlerSet
	state    atomic.Int32

	mu      sync.RWMutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	statsMu sync.RWMutex
	stats   ConnectionStats
}

// NewWebSocketChannel creates a disconnected channel
func NewWebSocketChannel(config WebSocketConfig) *WebSocketChannel {
	def := DefaultWebSocketConfig()
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = def.ConnectTimeout
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = def.HeartbeatInterval
	}
	if config.ReconnectInitial <= 0 {
		config.ReconnectInitial = def.ReconnectInitial
	}
	if config.ReconnectMax <= 0 {
		config.ReconnectMax = def.ReconnectMax
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &WebSocketChannel{
		config:   config,
		handlers: newHandlerSet(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Connect dials the server and starts the read and heartbeat loops
func (c *WebSocketChannel) Connect(ctx context.Context) error {
	c.setState(StateConnecting)

	conn, err := c.dial(ctx)
	if err != nil {
		c.setState(StateError)
		c.recordError(err)
		return fmt.Errorf("websocket connect: %w", err)
	}
	if !c.attach(conn) {
		return ErrChannelClosed
	}

	c.wg.Add(1)
	go c.heartbeatLoop()

	logger.Debug("WebSocket connected", "url", c.config.URL)
	return nil
}

// Subscribe registers handler for resourceKey and asks the server to start
// pushing it if this is the first handler
func (c *WebSocketChannel) Subscribe(ctx context.Context, resourceKey string, handler func(ChangeEvent)) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.ctx.Err() != nil {
		return nil, ErrChannelClosed
	}

	id, first := c.handlers.add(resourceKey, handler)
	if first && c.IsConnected() {
		if err := c.send(FrameSubscribe, resourcePayload{Resource: resourceKey}); err != nil {
			c.handlers.remove(resourceKey, id)
			return nil, fmt.Errorf("subscribe %s: %w", resourceKey, err)
		}
	}

	return &funcSubscription{fn: func() error {
		_, last := c.handlers.remove(resourceKey, id)
		if last && c.IsConnected() {
			return c.send(FrameUnsubscribe, resourcePayload{Resource: resourceKey})
		}
		return nil
	}}, nil
}

// Close stops reconnecting and closes the connection
func (c *WebSocketChannel) Close() error {
	c.cancel()

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	var err error
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = conn.Close()
	}
	c.wg.Wait()

	c.setState(StateDisconnected)
	c.recordDisconnected()
	logger.Debug("WebSocket closed")
	return err
}

// IsConnected returns true if the connection is established
func (c *WebSocketChannel) IsConnected() bool {
	return c.State() == StateConnected
}

// State returns the current connection state
func (c *WebSocketChannel) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// Stats returns connection statistics
func (c *WebSocketChannel) Stats() ConnectionStats {
	c.statsMu.RLock()
	defer c.statsMu.RUnlock()
	return c.stats
}

func (c *WebSocketChannel) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.config.ConnectTimeout)
	defer cancel()

	header := http.Header{}
	if c.config.Token != "" {
		header.Set("Authorization", "Bearer "+c.config.Token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.config.URL, header)
	return conn, err
}

// attach installs conn, replays subscriptions and starts reading from it.
// It reports false if the channel was closed meanwhile.
func (c *WebSocketChannel) attach(conn *websocket.Conn) bool {
	c.mu.Lock()
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		conn.Close()
		return false
	}
	c.conn = conn
	c.mu.Unlock()

	c.setState(StateConnected)
	c.recordConnected()

	for _, key := range c.handlers.keys() {
		if err := c.send(FrameSubscribe, resourcePayload{Resource: key}); err != nil {
			logger.Warn("Resubscribe failed", "resource", key, "error", err)
		}
	}

	c.wg.Add(1)
	go c.readLoop(conn)
	return true
}

func (c *WebSocketChannel) send(frameType FrameType, payload interface{}) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return errors.New("not connected")
	}

	frame := Frame{Type: frameType}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		frame.Payload = raw
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		return err
	}

	c.statsMu.Lock()
	c.stats.FramesSent++
	c.statsMu.Unlock()
	return nil
}

func (c *WebSocketChannel) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.recordError(err)
			logger.Warn("WebSocket read error", "error", err)
			c.reconnect(conn)
			return
		}

		c.statsMu.Lock()
		c.stats.FramesReceived++
		c.statsMu.Unlock()

		c.handleFrame(data)
	}
}

func (c *WebSocketChannel) handleFrame(data []byte) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		logger.Warn("Malformed websocket frame", "error", err)
		return
	}

	switch frame.Type {
	case FrameChange:
		var ev ChangeEvent
		if err := json.Unmarshal(frame.Payload, &ev); err != nil {
			logger.Warn("Malformed change event", "error", err)
			return
		}
		if ev.Table == "" {
			logger.Warn("Change event without table")
			return
		}
		c.handlers.dispatch(ev)
	case FrameError:
		logger.Warn("Server reported error", "payload", string(frame.Payload))
	case FrameHeartbeat, FramePong:
	default:
		logger.Debug("Ignoring websocket frame", "type", frame.Type)
	}
}

func (c *WebSocketChannel) heartbeatLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if c.IsConnected() {
				if err := c.send(FrameHeartbeat, nil); err != nil {
					logger.Debug("Failed to send heartbeat", "error", err)
				}
			}
		}
	}
}

// reconnect replaces the dead connection using exponential backoff
func (c *WebSocketChannel) reconnect(dead *websocket.Conn) {
	c.mu.Lock()
	if c.conn == dead {
		c.conn = nil
	}
	c.mu.Unlock()
	dead.Close()

	c.setState(StateReconnecting)
	c.recordDisconnected()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.config.ReconnectInitial
	b.MaxInterval = c.config.ReconnectMax
	b.MaxElapsedTime = c.config.ReconnectGiveUp

	attempt := 0
	var conn *websocket.Conn
	err := backoff.Retry(func() error {
		attempt++
		logger.Debug("Reconnecting WebSocket", "attempt", attempt)
		var err error
		conn, err = c.dial(c.ctx)
		return err
	}, backoff.WithContext(b, c.ctx))
	if err != nil {
		if c.ctx.Err() == nil {
			c.setState(StateError)
			c.recordError(err)
			logger.Error("WebSocket reconnect gave up", "attempts", attempt, "error", err)
		}
		return
	}
	if !c.attach(conn) {
		return
	}

	c.statsMu.Lock()
	c.stats.ReconnectCount++
	c.statsMu.Unlock()
	logger.Info("WebSocket reconnected", "attempts", attempt)
}

func (c *WebSocketChannel) setState(s ConnectionState) {
	c.state.Store(int32(s))
}

func (c *WebSocketChannel) recordError(err error) {
	c.statsMu.Lock()
	c.stats.LastError = err.Error()
	c.statsMu.Unlock()
}

func (c *WebSocketChannel) recordConnected() {
	c.statsMu.Lock()
	c.stats.ConnectedAt = time.Now()
	c.statsMu.Unlock()
}

func (c *WebSocketChannel) recordDisconnected() {
	c.statsMu.Lock()
	c.stats.DisconnectedAt = time.Now()
	c.statsMu.Unlock()
}
