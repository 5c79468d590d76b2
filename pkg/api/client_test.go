package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zfogg/sidechain/clientsync/pkg/config"
	syncerrors "github.com/zfogg/sidechain/clientsync/pkg/errors"
)

type recordedRequest struct {
	Method string
	Path   string
	Auth   string
	Body   string
}

func newTestClient(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*Client, *[]recordedRequest) {
	t.Helper()
	var requests []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		requests = append(requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Auth:   r.Header.Get("Authorization"),
			Body:   string(body),
		})
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	c := New(config.API{BaseURL: srv.URL, Timeout: 5 * time.Second})
	c.SetAuthToken("test_token_12345")
	return c, &requests
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

// =============================================================================
// POST ACTIONS
// =============================================================================

func TestPostActions(t *testing.T) {
	tests := []struct {
		name   string
		call   func(c *Client, id string) error
		method string
		suffix string
	}{
		{"like", func(c *Client, id string) error { return c.LikePost(context.Background(), id) }, http.MethodPost, "/like"},
		{"unlike", func(c *Client, id string) error { return c.UnlikePost(context.Background(), id) }, http.MethodDelete, "/like"},
		{"save", func(c *Client, id string) error { return c.SavePost(context.Background(), id) }, http.MethodPost, "/save"},
		{"unsave", func(c *Client, id string) error { return c.UnsavePost(context.Background(), id) }, http.MethodDelete, "/save"},
		{"delete", func(c *Client, id string) error { return c.DeletePost(context.Background(), id) }, http.MethodDelete, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, requests := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			})
			id := gofakeit.UUID()

			require.NoError(t, tt.call(c, id))

			require.Len(t, *requests, 1)
			got := (*requests)[0]
			assert.Equal(t, tt.method, got.Method)
			assert.Equal(t, "/api/v1/posts/"+id+tt.suffix, got.Path)
			assert.Equal(t, "Bearer test_token_12345", got.Auth)
		})
	}
}

func TestPostActions_EmptyIDRejectedLocally(t *testing.T) {
	c, requests := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})

	err := c.LikePost(context.Background(), "")

	assert.True(t, syncerrors.Is(err, syncerrors.ErrorTypeValidation))
	assert.Empty(t, *requests)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		status int
		want   syncerrors.ErrorType
	}{
		{http.StatusBadRequest, syncerrors.ErrorTypeValidation},
		{http.StatusUnauthorized, syncerrors.ErrorTypeUnauthorized},
		{http.StatusNotFound, syncerrors.ErrorTypeNotFound},
		{http.StatusConflict, syncerrors.ErrorTypeConflict},
		{http.StatusInternalServerError, syncerrors.ErrorTypeServer},
		{http.StatusBadGateway, syncerrors.ErrorTypeServer},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, `{"code":"oops","message":"post is archived"}`)
			})

			err := c.LikePost(context.Background(), "p1")

			require.Error(t, err)
			assert.True(t, syncerrors.Is(err, tt.want), "got %v", err)
			if tt.status < 500 {
				assert.Contains(t, err.Error(), "post is archived")
			}
		})
	}
}

func TestErrorMapping_RateLimitRetryAfter(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "12")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	err := c.SavePost(context.Background(), "p1")

	var se *syncerrors.SyncError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, syncerrors.ErrorTypeRateLimit, se.Type)
	assert.Equal(t, 12, se.RetryAfter)
}

func TestErrorMapping_Transport(t *testing.T) {
	c := New(config.API{BaseURL: "http://127.0.0.1:1", Timeout: time.Second})

	err := c.LikePost(context.Background(), "p1")

	assert.True(t, syncerrors.Is(err, syncerrors.ErrorTypeNetwork), "got %v", err)
}

func TestCanceledContext(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.LikePost(ctx, "p1")

	assert.True(t, syncerrors.Is(err, syncerrors.ErrorTypeCanceled), "got %v", err)
}

// =============================================================================
// POSTS
// =============================================================================

func TestCreatePost(t *testing.T) {
	c, requests := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusCreated, `{"post":{"id":"p1","title":"Late night loop","bpm":92}}`)
	})

	post, err := c.CreatePost(context.Background(), CreatePostRequest{Title: "Late night loop", BPM: 92})
	require.NoError(t, err)

	assert.Equal(t, "p1", post.ID)
	assert.Equal(t, 92, post.BPM)
	assert.Equal(t, "/api/v1/posts", (*requests)[0].Path)
	assert.JSONEq(t, `{"title":"Late night loop","bpm":92}`, (*requests)[0].Body)

	_, err = c.CreatePost(context.Background(), CreatePostRequest{})
	assert.True(t, syncerrors.Is(err, syncerrors.ErrorTypeValidation))
}

func TestUpdatePost(t *testing.T) {
	c, requests := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"post":{"id":"p1","title":"Renamed"}}`)
	})
	title := "Renamed"

	post, err := c.UpdatePost(context.Background(), "p1", UpdatePostRequest{Title: &title})
	require.NoError(t, err)

	assert.Equal(t, "Renamed", post.Title)
	assert.Equal(t, http.MethodPatch, (*requests)[0].Method)
	assert.JSONEq(t, `{"title":"Renamed"}`, (*requests)[0].Body)
}

func TestGetPost(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"post":{"id":"p1","like_count":3,"is_liked":true}}`)
	})

	post, err := c.GetPost(context.Background(), "p1")
	require.NoError(t, err)

	assert.Equal(t, 3, post.LikeCount)
	assert.True(t, post.IsLiked)
}

// =============================================================================
// MEDIA
// =============================================================================

func TestUploadMedia(t *testing.T) {
	c, requests := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"media_id":"m1","key":"audio/m1.wav","url":"https://cdn.example.com/audio/m1.wav"}`)
	})
	path := filepath.Join(t.TempDir(), "loop.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF....WAVE"), 0o600))

	resp, err := c.UploadMedia(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "m1", resp.MediaID)
	assert.Equal(t, "/api/v1/media/upload", (*requests)[0].Path)
	assert.True(t, strings.Contains((*requests)[0].Body, "RIFF....WAVE"))
}

func TestUploadMedia_Validation(t *testing.T) {
	c, requests := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	empty := filepath.Join(t.TempDir(), "empty.wav")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))

	_, err := c.UploadMedia(context.Background(), empty)
	assert.True(t, syncerrors.Is(err, syncerrors.ErrorTypeValidation))

	_, err = c.UploadMedia(context.Background(), filepath.Join(t.TempDir(), "missing.wav"))
	assert.True(t, syncerrors.Is(err, syncerrors.ErrorTypeValidation))

	assert.Empty(t, *requests)
}
