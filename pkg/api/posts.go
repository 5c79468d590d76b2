package api

import (
	"context"
	"fmt"

	syncerrors "github.com/zfogg/sidechain/clientsync/pkg/errors"
	"github.com/zfogg/sidechain/clientsync/pkg/logger"
	"github.com/zfogg/sidechain/clientsync/pkg/optimistic"
)

// Client backs optimistic like toggles
var _ optimistic.LikeAPI = (*Client)(nil)

// Post is a feed post as the API returns it
type Post struct {
	ID          string   `json:"id"`
	UserID      string   `json:"user_id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	AudioURL    string   `json:"audio_url,omitempty"`
	Genre       []string `json:"genre,omitempty"`
	BPM         int      `json:"bpm,omitempty"`
	LikeCount   int      `json:"like_count"`
	IsLiked     bool     `json:"is_liked"`
	IsSaved     bool     `json:"is_saved"`
	CreatedAt   string   `json:"created_at"`
}

// CreatePostRequest is the request to create a new post
type CreatePostRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	AudioKey    string   `json:"audio_key,omitempty"`
	Genre       []string `json:"genre,omitempty"`
	BPM         int      `json:"bpm,omitempty"`
}

// UpdatePostRequest holds the fields to change on a post
type UpdatePostRequest struct {
	Title       *string  `json:"title,omitempty"`
	Description *string  `json:"description,omitempty"`
	Genre       []string `json:"genre,omitempty"`
}

type postEnvelope struct {
	Post Post `json:"post"`
}

func requirePostID(postID string) error {
	if postID == "" {
		return syncerrors.ValidationError("post_id", "must not be empty")
	}
	return nil
}

// GetPost retrieves a post by ID
func (c *Client) GetPost(ctx context.Context, postID string) (*Post, error) {
	if err := requirePostID(postID); err != nil {
		return nil, err
	}
	logger.Debug("Fetching post", "post_id", postID)

	var response postEnvelope
	resp, err := c.request(ctx).
		SetResult(&response).
		Get(fmt.Sprintf("/api/v1/posts/%s", postID))
	if err := check(resp, err, "get post"); err != nil {
		return nil, err
	}
	return &response.Post, nil
}

// CreatePost creates a post
func (c *Client) CreatePost(ctx context.Context, req CreatePostRequest) (*Post, error) {
	if req.Title == "" {
		return nil, syncerrors.ValidationError("title", "must not be empty")
	}
	logger.Debug("Creating post", "title", req.Title)

	var response postEnvelope
	resp, err := c.request(ctx).
		SetBody(req).
		SetResult(&response).
		Post("/api/v1/posts")
	if err := check(resp, err, "create post"); err != nil {
		return nil, err
	}
	return &response.Post, nil
}

// UpdatePost changes the given fields and returns the server's version
func (c *Client) UpdatePost(ctx context.Context, postID string, req UpdatePostRequest) (*Post, error) {
	if err := requirePostID(postID); err != nil {
		return nil, err
	}
	logger.Debug("Updating post", "post_id", postID)

	var response postEnvelope
	resp, err := c.request(ctx).
		SetBody(req).
		SetResult(&response).
		Patch(fmt.Sprintf("/api/v1/posts/%s", postID))
	if err := check(resp, err, "update post"); err != nil {
		return nil, err
	}
	return &response.Post, nil
}

// DeletePost deletes a post by ID
func (c *Client) DeletePost(ctx context.Context, postID string) error {
	return c.postAction(ctx, "DELETE", postID, "", "delete post")
}

// LikePost adds a like to a post
func (c *Client) LikePost(ctx context.Context, postID string) error {
	return c.postAction(ctx, "POST", postID, "/like", "like post")
}

// UnlikePost removes a like from a post
func (c *Client) UnlikePost(ctx context.Context, postID string) error {
	return c.postAction(ctx, "DELETE", postID, "/like", "unlike post")
}

// SavePost saves a post
func (c *Client) SavePost(ctx context.Context, postID string) error {
	return c.postAction(ctx, "POST", postID, "/save", "save post")
}

// UnsavePost removes a post from saved
func (c *Client) UnsavePost(ctx context.Context, postID string) error {
	return c.postAction(ctx, "DELETE", postID, "/save", "unsave post")
}

func (c *Client) postAction(ctx context.Context, method, postID, suffix, operation string) error {
	if err := requirePostID(postID); err != nil {
		return err
	}
	logger.Debug("Post action", "action", operation, "post_id", postID)

	resp, err := c.request(ctx).Execute(method, fmt.Sprintf("/api/v1/posts/%s%s", postID, suffix))
	return check(resp, err, operation)
}
