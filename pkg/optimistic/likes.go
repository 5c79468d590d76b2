package optimistic

import (
	"context"
	"sync"

	"github.com/zfogg/sidechain/clientsync/pkg/ledger"
)

// LikeAPI is the server side of a like toggle
type LikeAPI interface {
	LikePost(ctx context.Context, postID string) error
	UnlikePost(ctx context.Context, postID string) error
}

// LikeState is what a post's like button shows
type LikeState struct {
	Liked bool
	Count int
}

// LikeToggler flips like state immediately and reverts it if the server
// rejects the change.
type LikeToggler struct {
	engine *Engine
	api    LikeAPI

	mu     sync.Mutex
	states map[string]LikeState
}

// NewLikeToggler creates a toggler backed by engine and api
func NewLikeToggler(engine *Engine, api LikeAPI) *LikeToggler {
	return &LikeToggler{
		engine: engine,
		api:    api,
		states: make(map[string]LikeState),
	}
}

// Seed sets the server-known state for a post, e.g. after a feed fetch
func (t *LikeToggler) Seed(postID string, liked bool, count int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states[postID] = LikeState{Liked: liked, Count: count}
}

// State returns what should currently be rendered for postID
func (t *LikeToggler) State(postID string) LikeState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.states[postID]
}

// Toggle flips the like on postID. The returned error is the server's; by the
// time it is returned the displayed state has already been reverted.
func (t *LikeToggler) Toggle(ctx context.Context, postID string) error {
	t.mu.Lock()
	prev := t.states[postID]
	next := LikeState{Liked: !prev.Liked, Count: prev.Count + 1}
	if prev.Liked {
		next.Count = prev.Count - 1
		if next.Count < 0 {
			next.Count = 0
		}
	}
	t.states[postID] = next
	t.mu.Unlock()

	call := t.api.LikePost
	success, failure := "Post liked", "Failed to like post"
	if prev.Liked {
		call = t.api.UnlikePost
		success, failure = "Like removed", "Failed to remove like"
	}

	return t.engine.PerformUpdate(ctx, next, func(ctx context.Context) (interface{}, error) {
		return next, call(ctx, postID)
	}, UpdateOptions{
		Kind:           ledger.KindUpdate,
		SuccessMessage: success,
		ErrorMessage:   failure,
		OnError: func(error) {
			t.mu.Lock()
			defer t.mu.Unlock()
			// A newer toggle owns the state now
			if t.states[postID] == next {
				t.states[postID] = prev
			}
		},
	})
}
