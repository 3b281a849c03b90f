package objectstore

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"vidtube/internal/config"
)

// Client wraps the MinIO SDK client and bucket name. Uploads take a staged
// local file path and return the object's public URL; deletes take that URL
// back. Removing an object that is already gone is a no-op.
type Client struct {
	client  *minio.Client
	bucket  string
	baseURL string
}

// New constructs a MinIO-backed object store client from config.
func New(cfg config.MinioConfig) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("minio endpoint is required")
	}
	if strings.TrimSpace(cfg.AccessKey) == "" || strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, errors.New("minio access key and secret key are required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("minio bucket is required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, err
	}

	baseURL := strings.TrimRight(cfg.PublicBaseURL, "/")
	if baseURL == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		baseURL = fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, cfg.Bucket)
	}

	return &Client{
		client:  client,
		bucket:  cfg.Bucket,
		baseURL: baseURL,
	}, nil
}

// EnsureBucket ensures the configured bucket exists.
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.client.BucketExists(ctx, c.bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return c.client.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{})
}

// Upload stores the file at localPath under a generated key and returns the
// object's public URL.
func (c *Client) Upload(ctx context.Context, localPath string) (string, error) {
	ext := filepath.Ext(localPath)
	key := uuid.NewString() + ext

	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := c.client.FPutObject(ctx, c.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", err
	}

	return c.baseURL + "/" + key, nil
}

// Delete removes the object an asset URL points at.
func (c *Client) Delete(ctx context.Context, assetURL string) error {
	key, err := c.objectKey(assetURL)
	if err != nil {
		return err
	}
	return c.client.RemoveObject(ctx, c.bucket, key, minio.RemoveObjectOptions{})
}

// objectKey extracts the object key from a URL produced by Upload.
func (c *Client) objectKey(assetURL string) (string, error) {
	u, err := url.Parse(assetURL)
	if err != nil {
		return "", fmt.Errorf("parse asset url: %w", err)
	}

	path := strings.TrimPrefix(u.Path, "/")
	path = strings.TrimPrefix(path, c.bucket+"/")
	if path == "" {
		return "", fmt.Errorf("asset url %q carries no object key", assetURL)
	}

	return path, nil
}

// Bucket returns the configured bucket name.
func (c *Client) Bucket() string {
	return c.bucket
}
