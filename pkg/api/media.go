package api

import (
	"context"
	"os"
	"path/filepath"

	syncerrors "github.com/zfogg/sidechain/clientsync/pkg/errors"
	"github.com/zfogg/sidechain/clientsync/pkg/logger"
)

// MediaUploadResponse is returned after a media upload
type MediaUploadResponse struct {
	MediaID string `json:"media_id"`
	Key     string `json:"key"`
	URL     string `json:"url"`
}

// UploadMedia posts a local file as multipart form data
func (c *Client) UploadMedia(ctx context.Context, path string) (*MediaUploadResponse, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, syncerrors.ValidationError("file", err.Error())
	}
	if info.Size() == 0 {
		return nil, syncerrors.ValidationError("file", "must not be empty")
	}
	logger.Debug("Uploading media", "file", path, "size", info.Size())

	var response MediaUploadResponse
	resp, err := c.request(ctx).
		SetFile("file", path).
		SetFormData(map[string]string{"filename": filepath.Base(path)}).
		SetResult(&response).
		Post("/api/v1/media/upload")
	if err := check(resp, err, "upload media"); err != nil {
		return nil, err
	}
	return &response, nil
}
