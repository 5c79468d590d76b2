package realtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroker_PublishRoutesByTable(t *testing.T) {
	b := NewBroker()
	var posts, comments []ChangeEvent

	_, err := b.Subscribe(context.Background(), "posts", func(ev ChangeEvent) { posts = append(posts, ev) })
	require.NoError(t, err)
	_, err = b.Subscribe(context.Background(), "comments", func(ev ChangeEvent) { comments = append(comments, ev) })
	require.NoError(t, err)

	n := b.Publish(ChangeEvent{EventType: EventUpdate, Table: "posts", Payload: map[string]interface{}{"id": "p1"}})

	assert.Equal(t, 1, n)
	require.Len(t, posts, 1)
	assert.Equal(t, "p1", posts[0].Payload["id"])
	assert.Empty(t, comments)
}

func TestBroker_UnsubscribeIsIdempotent(t *testing.T) {
	b := NewBroker()
	sub, err := b.Subscribe(context.Background(), "posts", func(ChangeEvent) {})
	require.NoError(t, err)
	_, err = b.Subscribe(context.Background(), "posts", func(ChangeEvent) {})
	require.NoError(t, err)
	require.Equal(t, 2, b.SubscriberCount("posts"))

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())

	assert.Equal(t, 1, b.SubscriberCount("posts"))
}

func TestBroker_Closed(t *testing.T) {
	b := NewBroker()
	called := false
	_, err := b.Subscribe(context.Background(), "posts", func(ChangeEvent) { called = true })
	require.NoError(t, err)

	require.NoError(t, b.Close())

	assert.Equal(t, 0, b.Publish(ChangeEvent{Table: "posts"}))
	assert.False(t, called)
	_, err = b.Subscribe(context.Background(), "posts", func(ChangeEvent) {})
	assert.ErrorIs(t, err, ErrChannelClosed)
}

func TestBroker_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewBroker().Subscribe(ctx, "posts", func(ChangeEvent) {})

	assert.ErrorIs(t, err, context.Canceled)
}
