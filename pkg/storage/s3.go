// Package storage uploads media to object storage and resolves public and
// time-limited URLs for it.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/zfogg/sidechain/clientsync/pkg/config"
	syncerrors "github.com/zfogg/sidechain/clientsync/pkg/errors"
	"github.com/zfogg/sidechain/clientsync/pkg/logger"
)

// ObjectAPI is the subset of the S3 client the store uses
type ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Presigner signs time-limited GET URLs
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// UploadResult contains the result of an upload
type UploadResult struct {
	Key    string `json:"key"`
	URL    string `json:"url"`
	Bucket string `json:"bucket"`
	Size   int64  `json:"size"`
}

// Store uploads files to a single bucket
type Store struct {
	client    ObjectAPI
	presigner Presigner
	bucket    string
	region    string
	baseURL   string
	signedTTL time.Duration
	now       func() time.Time
}

// NewS3Store creates a store from the default AWS credential chain
func NewS3Store(ctx context.Context, cfg config.Storage) (*Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)
	return NewStore(client, s3.NewPresignClient(client), cfg), nil
}

// NewStore creates a store on top of explicit clients
func NewStore(client ObjectAPI, presigner Presigner, cfg config.Storage) *Store {
	ttl := cfg.SignedURLTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Store{
		client:    client,
		presigner: presigner,
		bucket:    cfg.Bucket,
		region:    cfg.Region,
		baseURL:   cfg.PublicBaseURL,
		signedTTL: ttl,
		now:       time.Now,
	}
}

// UploadFile stores body under folder/{year}/{month}/{ownerID}/{uuid}{ext}
func (s *Store) UploadFile(ctx context.Context, folder, ownerID, filename string, body io.Reader, size int64) (*UploadResult, error) {
	if filename == "" {
		return nil, syncerrors.ValidationError("filename", "must not be empty")
	}
	if body == nil || size <= 0 {
		return nil, syncerrors.ValidationError("content", "must not be empty")
	}
	if ownerID == "" {
		ownerID = "anonymous"
	}

	ext := strings.ToLower(filepath.Ext(filename))
	now := s.now()
	key := objectKey(folder, ownerID, uuid.New().String(), ext, now)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType(ext)),
		CacheControl:  aws.String("max-age=3600"),
		Metadata: map[string]string{
			"owner-id":          ownerID,
			"original-filename": filepath.Base(filename),
			"upload-timestamp":  now.Format(time.RFC3339),
		},
	})
	if err != nil {
		logger.Warn("Storage upload failed", "bucket", s.bucket, "key", key, "error", err)
		return nil, syncerrors.NetworkError("failed to upload to storage", err)
	}

	logger.Debug("Stored object", "bucket", s.bucket, "key", key, "size", size)
	return &UploadResult{
		Key:    key,
		URL:    s.PublicURL(key),
		Bucket: s.bucket,
		Size:   size,
	}, nil
}

// UploadPath uploads a local file, such as a tracked resource handle
func (s *Store) UploadPath(ctx context.Context, folder, ownerID, path string) (*UploadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, syncerrors.ValidationError("path", err.Error())
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, syncerrors.ValidationError("path", err.Error())
	}
	return s.UploadFile(ctx, folder, ownerID, path, f, info.Size())
}

// PublicURL resolves the permanent URL for key
func (s *Store) PublicURL(key string) string {
	if s.baseURL != "" {
		return fmt.Sprintf("%s/%s", strings.TrimSuffix(s.baseURL, "/"), key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}

// SignedURL returns a GET URL for key valid for ttl. Zero uses the configured TTL.
func (s *Store) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if key == "" {
		return "", syncerrors.ValidationError("key", "must not be empty")
	}
	if ttl <= 0 {
		ttl = s.signedTTL
	}

	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("failed to sign URL for %s: %w", key, err)
	}
	return req.URL, nil
}

// Delete removes key from the bucket
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from storage: %w", err)
	}
	return nil
}

func objectKey(folder, ownerID, id, ext string, now time.Time) string {
	folder = strings.Trim(folder, "/")
	if folder == "" {
		folder = "media"
	}
	return fmt.Sprintf("%s/%d/%02d/%s/%s%s", folder, now.Year(), now.Month(), ownerID, id, ext)
}

// contentType returns the MIME type for a file extension
func contentType(extension string) string {
	switch strings.ToLower(extension) {
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".ogg":
		return "audio/ogg"
	case ".m4a":
		return "audio/mp4"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".svg":
		return "image/svg+xml"
	default:
		return "application/octet-stream"
	}
}
