package objectstore

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"sermonpipe/internal/config"
	"sermonpipe/internal/services"
)

// UploadOptions carries the HTTP headers and custom metadata stored with an
// object.
type UploadOptions struct {
	ContentType        string
	ContentDisposition string
	Metadata           map[string]string
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key                string
	Size               int64
	ContentType        string
	ContentDisposition string
	Metadata           map[string]string
	ModTime            time.Time
}

// Bucket is the object store holding source recordings, intros and outros,
// and processed output.
type Bucket interface {
	Exists(ctx context.Context, key string) (bool, error)
	// Stat returns services.ErrNotFound when the object is missing.
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	Download(ctx context.Context, key, dst string) error
	Upload(ctx context.Context, localPath, key string, opts UploadOptions) error
	Delete(ctx context.Context, key string) error
	// SignedURL returns a location ffmpeg can read the object from.
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Open returns the bucket selected by cfg.Storage.
func Open(cfg *config.Config, logger *slog.Logger) (Bucket, error) {
	switch cfg.Storage.Backend {
	case config.StorageS3:
		return NewS3(S3Options{
			Endpoint:  cfg.Storage.Endpoint,
			Bucket:    cfg.Storage.Bucket,
			Region:    cfg.Storage.Region,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			UseSSL:    cfg.Storage.UseSSL,
			Logger:    logger,
		})
	case config.StorageLocal, "":
		return NewLocal(cfg.Storage.LocalRoot, logger)
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Storage.Backend)
	}
}

// cleanKey normalizes an object key and rejects keys escaping the bucket.
func cleanKey(key string) (string, error) {
	trimmed := strings.TrimLeft(strings.TrimSpace(key), "/")
	if trimmed == "" {
		return "", services.Wrap(services.ErrInvalidArgument, "storage", "key", "object key is empty", nil)
	}
	cleaned := path.Clean(trimmed)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", services.Wrap(services.ErrInvalidArgument, "storage", "key", fmt.Sprintf("object key %q escapes the bucket", key), nil)
	}
	return cleaned, nil
}
