package objectstore

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"sermonpipe/internal/logging"
	"sermonpipe/internal/services"
)

// S3Options configures an S3-compatible bucket.
type S3Options struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Logger    *slog.Logger
}

// S3Bucket stores objects in an S3-compatible service through minio-go.
type S3Bucket struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// NewS3 builds a client. No request is made until the first operation.
func NewS3(opts S3Options) (*S3Bucket, error) {
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, services.Wrap(services.ErrInvalidArgument, "storage", "s3", "bucket name is required", nil)
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, services.Wrap(services.ErrInvalidArgument, "storage", "s3", "create client", err)
	}
	return &S3Bucket{client: client, bucket: opts.Bucket, logger: logging.NewComponentLogger(opts.Logger, "storage")}, nil
}

func (b *S3Bucket) classify(op, key string, err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
		return services.Wrap(services.ErrNotFound, "storage", op, key, nil)
	}
	if errors.Is(err, context.Canceled) {
		return services.Wrap(services.ErrAborted, "storage", op, key, err)
	}
	return services.Wrap(services.ErrInternal, "storage", op, key, err)
}

func (b *S3Bucket) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.Stat(ctx, key)
	if errors.Is(err, services.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (b *S3Bucket) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return ObjectInfo{}, err
	}
	info, err := b.client.StatObject(ctx, b.bucket, cleaned, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, b.classify("stat", key, err)
	}
	return ObjectInfo{
		Key:                key,
		Size:               info.Size,
		ContentType:        info.ContentType,
		ContentDisposition: info.Metadata.Get("Content-Disposition"),
		Metadata:           info.UserMetadata,
		ModTime:            info.LastModified,
	}, nil
}

func (b *S3Bucket) Download(ctx context.Context, key, dst string) error {
	cleaned, err := cleanKey(key)
	if err != nil {
		return err
	}
	if err := b.client.FGetObject(ctx, b.bucket, cleaned, dst, minio.GetObjectOptions{}); err != nil {
		return b.classify("download", key, err)
	}
	return nil
}

func (b *S3Bucket) Upload(ctx context.Context, localPath, key string, opts UploadOptions) error {
	cleaned, err := cleanKey(key)
	if err != nil {
		return err
	}
	info, err := b.client.FPutObject(ctx, b.bucket, cleaned, localPath, minio.PutObjectOptions{
		ContentType:        opts.ContentType,
		ContentDisposition: opts.ContentDisposition,
		UserMetadata:       opts.Metadata,
	})
	if err != nil {
		return b.classify("upload", key, err)
	}
	b.logger.Debug("object uploaded", logging.String("key", key), logging.Int64("size", info.Size))
	return nil
}

func (b *S3Bucket) Delete(ctx context.Context, key string) error {
	cleaned, err := cleanKey(key)
	if err != nil {
		return err
	}
	if err := b.client.RemoveObject(ctx, b.bucket, cleaned, minio.RemoveObjectOptions{}); err != nil {
		return b.classify("delete", key, err)
	}
	return nil
}

func (b *S3Bucket) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	u, err := b.client.PresignedGetObject(ctx, b.bucket, cleaned, ttl, url.Values{})
	if err != nil {
		return "", b.classify("sign", key, err)
	}
	return u.String(), nil
}
