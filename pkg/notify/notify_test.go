package notify

import (
	"bytes"
	"errors"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	var r Recorder
	r.Notify(Event{Kind: KindSuccess, Message: "Liked"})
	r.Notify(Event{Kind: KindError, Message: "Failed"})

	assert.Equal(t, []Kind{KindSuccess, KindError}, r.Kinds())
	assert.Len(t, r.Events(), 2)
}

func TestMulti_FansOutInOrder(t *testing.T) {
	var a, b Recorder
	n := Multi(&a, nil, &b)

	n.Notify(Event{Kind: KindInfo, Message: "hello"})

	assert.Len(t, a.Events(), 1)
	assert.Len(t, b.Events(), 1)
}

func TestQueue_DropsOldestWhenFull(t *testing.T) {
	q := NewQueue(2)
	q.Notify(Event{Message: "1"})
	q.Notify(Event{Message: "2"})
	q.Notify(Event{Message: "3"})

	first := <-q.Events()
	second := <-q.Events()
	assert.Equal(t, "2", first.Message)
	assert.Equal(t, "3", second.Message)
}

func TestQueue_DefaultSize(t *testing.T) {
	q := NewQueue(0)
	assert.Equal(t, 64, cap(q.ch))
}

func TestTerminalNotifier(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	n := TerminalNotifier{Out: &buf}

	n.Notify(Event{Kind: KindSuccess, Message: "Post liked"})
	n.Notify(Event{Kind: KindError, Message: "Failed to like post", Err: errors.New("network error")})
	n.Notify(Event{Kind: KindInfo, Message: "Retrying"})

	out := buf.String()
	assert.Contains(t, out, "✓ Post liked")
	assert.Contains(t, out, "✗ Failed to like post (network error)")
	assert.Contains(t, out, "Retrying")
}

func TestNotifierFunc(t *testing.T) {
	var got Event
	NotifierFunc(func(e Event) { got = e }).Notify(Event{Message: "x"})
	require.Equal(t, "x", got.Message)

	assert.NotPanics(t, func() { Discard.Notify(Event{}) })
}
