package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePushServer accepts websocket connections and hands them to the test
type fakePushServer struct {
	srv   *httptest.Server
	conns chan *websocket.Conn
	auth  chan string
}

func newFakePushServer(t *testing.T) *fakePushServer {
	t.Helper()
	s := &fakePushServer{
		conns: make(chan *websocket.Conn, 4),
		auth:  make(chan string, 4),
	}
	upgrader := websocket.Upgrader{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.auth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.conns <- conn
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *fakePushServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *fakePushServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-s.conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(5 * time.Second):
		t.Fatal("client never connected")
		return nil
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) (Frame, resourcePayload) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame Frame
	require.NoError(t, json.Unmarshal(data, &frame))
	var payload resourcePayload
	if len(frame.Payload) > 0 {
		require.NoError(t, json.Unmarshal(frame.Payload, &payload))
	}
	return frame, payload
}

func writeChange(t *testing.T, conn *websocket.Conn, ev ChangeEvent) {
	t.Helper()
	payload, err := json.Marshal(ev)
	require.NoError(t, err)
	data, err := json.Marshal(Frame{Type: FrameChange, Payload: payload})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func testWebSocketConfig(url string) WebSocketConfig {
	return WebSocketConfig{
		URL:              url,
		Token:            "test-jwt-token-123",
		ConnectTimeout:   2 * time.Second,
		ReconnectInitial: 10 * time.Millisecond,
		ReconnectMax:     50 * time.Millisecond,
	}
}

func TestWebSocketChannel_SubscribeAndReceive(t *testing.T) {
	server := newFakePushServer(t)
	ch := NewWebSocketChannel(testWebSocketConfig(server.url()))
	require.NoError(t, ch.Connect(context.Background()))
	defer ch.Close()

	assert.Equal(t, "Bearer test-jwt-token-123", <-server.auth)
	conn := server.accept(t)
	assert.True(t, ch.IsConnected())

	events := make(chan ChangeEvent, 1)
	_, err := ch.Subscribe(context.Background(), "posts", func(ev ChangeEvent) { events <- ev })
	require.NoError(t, err)

	frame, payload := readFrame(t, conn)
	assert.Equal(t, FrameSubscribe, frame.Type)
	assert.Equal(t, "posts", payload.Resource)

	writeChange(t, conn, ChangeEvent{EventType: EventInsert, Table: "posts", Payload: map[string]interface{}{"id": "p1"}})

	select {
	case ev := <-events:
		assert.Equal(t, EventInsert, ev.EventType)
		assert.Equal(t, "p1", ev.Payload["id"])
	case <-time.After(5 * time.Second):
		t.Fatal("change event never delivered")
	}
	assert.GreaterOrEqual(t, ch.Stats().FramesReceived, int64(1))
}

func TestWebSocketChannel_UnsubscribeOnLastHandler(t *testing.T) {
	server := newFakePushServer(t)
	ch := NewWebSocketChannel(testWebSocketConfig(server.url()))
	require.NoError(t, ch.Connect(context.Background()))
	defer ch.Close()
	conn := server.accept(t)

	first, err := ch.Subscribe(context.Background(), "posts", func(ChangeEvent) {})
	require.NoError(t, err)
	second, err := ch.Subscribe(context.Background(), "posts", func(ChangeEvent) {})
	require.NoError(t, err)

	frame, _ := readFrame(t, conn)
	require.Equal(t, FrameSubscribe, frame.Type)

	require.NoError(t, first.Unsubscribe())
	require.NoError(t, second.Unsubscribe())

	frame, payload := readFrame(t, conn)
	assert.Equal(t, FrameUnsubscribe, frame.Type)
	assert.Equal(t, "posts", payload.Resource)
}

func TestWebSocketChannel_SubscriptionsReplayedOnConnect(t *testing.T) {
	server := newFakePushServer(t)
	ch := NewWebSocketChannel(testWebSocketConfig(server.url()))
	defer ch.Close()

	_, err := ch.Subscribe(context.Background(), "comments", func(ChangeEvent) {})
	require.NoError(t, err)

	require.NoError(t, ch.Connect(context.Background()))
	conn := server.accept(t)

	frame, payload := readFrame(t, conn)
	assert.Equal(t, FrameSubscribe, frame.Type)
	assert.Equal(t, "comments", payload.Resource)
}

func TestWebSocketChannel_ReconnectResubscribes(t *testing.T) {
	server := newFakePushServer(t)
	ch := NewWebSocketChannel(testWebSocketConfig(server.url()))
	require.NoError(t, ch.Connect(context.Background()))
	defer ch.Close()
	conn := server.accept(t)

	_, err := ch.Subscribe(context.Background(), "posts", func(ChangeEvent) {})
	require.NoError(t, err)
	readFrame(t, conn)

	// Server drops the connection
	conn.Close()

	reconnected := server.accept(t)
	frame, payload := readFrame(t, reconnected)
	assert.Equal(t, FrameSubscribe, frame.Type)
	assert.Equal(t, "posts", payload.Resource)

	assert.Eventually(t, func() bool { return ch.Stats().ReconnectCount == 1 }, 5*time.Second, 10*time.Millisecond)
}

func TestWebSocketChannel_ConnectFailure(t *testing.T) {
	ch := NewWebSocketChannel(WebSocketConfig{URL: "ws://127.0.0.1:1/ws", ConnectTimeout: 500 * time.Millisecond})

	err := ch.Connect(context.Background())

	assert.Error(t, err)
	assert.Equal(t, StateError, ch.State())
	assert.NotEmpty(t, ch.Stats().LastError)
}

func TestWebSocketChannel_SubscribeAfterClose(t *testing.T) {
	ch := NewWebSocketChannel(DefaultWebSocketConfig())
	require.NoError(t, ch.Close())

	_, err := ch.Subscribe(context.Background(), "posts", func(ChangeEvent) {})

	assert.ErrorIs(t, err, ErrChannelClosed)
}

func TestWebSocketChannel_HandleFrame(t *testing.T) {
	ch := NewWebSocketChannel(DefaultWebSocketConfig())
	var got []ChangeEvent
	_, err := ch.Subscribe(context.Background(), "posts", func(ev ChangeEvent) { got = append(got, ev) })
	require.NoError(t, err)

	ch.handleFrame([]byte(`not json`))
	ch.handleFrame([]byte(`{"type":"heartbeat"}`))
	ch.handleFrame([]byte(`{"type":"change","payload":{"event_type":"DELETE"}}`))
	ch.handleFrame([]byte(`{"type":"change","payload":{"event_type":"DELETE","table":"comments"}}`))
	ch.handleFrame([]byte(`{"type":"change","payload":{"event_type":"DELETE","table":"posts"}}`))

	require.Len(t, got, 1)
	assert.Equal(t, EventDelete, got[0].EventType)
}

func TestDefaultWebSocketConfig(t *testing.T) {
	cfg := DefaultWebSocketConfig()

	assert.Equal(t, "ws://localhost:8787/api/v1/ws", cfg.URL)
	assert.Equal(t, 15*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Zero(t, cfg.ReconnectGiveUp, "retry forever by default")
}
