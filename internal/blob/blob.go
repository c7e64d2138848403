// Package blob offloads large map images to S3-compatible object
// storage so the session document carries a URL instead of megabytes of
// base64. The store is optional: a nil *Store keeps everything inline.
package blob

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"ritual/api/internal/util"
)

// ErrNotDataURI means the payload was not an inline base64 data URI.
var ErrNotDataURI = errors.New("not a data URI")

// Store wraps one bucket on an S3-compatible endpoint.
type Store struct {
	client *minio.Client
	bucket string
	public string
}

// Config carries the object-storage connection settings. An empty
// Endpoint disables offloading entirely.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicBaseURL is the prefix browsers fetch objects from. Defaults
	// to the endpoint itself.
	PublicBaseURL string
}

// New connects to the endpoint and ensures the bucket exists. Returns
// (nil, nil) when cfg.Endpoint is empty.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, nil
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object storage: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}
	public := cfg.PublicBaseURL
	if public == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		public = scheme + "://" + cfg.Endpoint
	}
	return &Store{client: client, bucket: cfg.Bucket, public: strings.TrimRight(public, "/")}, nil
}

// Enabled reports whether offloading is configured. Safe on nil.
func (s *Store) Enabled() bool { return s != nil }

// OffloadDataURI uploads an inline image and returns the URL to store in
// its place. On a nil store the data URI comes back unchanged, so
// callers never branch on configuration.
func (s *Store) OffloadDataURI(ctx context.Context, sessionCode, dataURI string) (string, error) {
	if s == nil {
		return dataURI, nil
	}
	contentType, payload, err := splitDataURI(dataURI)
	if err != nil {
		return "", err
	}
	ext := "bin"
	if parts := strings.SplitN(contentType, "/", 2); len(parts) == 2 {
		ext = parts[1]
	}
	key := fmt.Sprintf("maps/%s/%s.%s", sessionCode, util.NewID(""), ext)
	_, err = s.client.PutObject(ctx, s.bucket, key, strings.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return fmt.Sprintf("%s/%s/%s", s.public, s.bucket, key), nil
}

// splitDataURI returns the content type and the decoded payload.
func splitDataURI(uri string) (string, string, error) {
	const scheme = "data:"
	if !strings.HasPrefix(uri, scheme) {
		return "", "", ErrNotDataURI
	}
	meta, data, ok := strings.Cut(uri[len(scheme):], ",")
	if !ok {
		return "", "", ErrNotDataURI
	}
	contentType, encoding, _ := strings.Cut(meta, ";")
	if encoding != "base64" {
		return "", "", ErrNotDataURI
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrNotDataURI, err)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return contentType, string(raw), nil
}
