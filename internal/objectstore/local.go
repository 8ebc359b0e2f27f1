package objectstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"sermonpipe/internal/fileutil"
	"sermonpipe/internal/logging"
	"sermonpipe/internal/services"
)

const metaDir = ".meta"

// LocalBucket stores objects as files under a root directory. Headers and
// custom metadata live in JSON sidecars under <root>/.meta.
type LocalBucket struct {
	root   string
	logger *slog.Logger
}

type sidecar struct {
	ContentType        string            `json:"contentType,omitempty"`
	ContentDisposition string            `json:"contentDisposition,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// NewLocal returns a filesystem bucket rooted at root.
func NewLocal(root string, logger *slog.Logger) (*LocalBucket, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve bucket root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create bucket root: %w", err)
	}
	return &LocalBucket{root: abs, logger: logging.NewComponentLogger(logger, "storage")}, nil
}

// Root returns the bucket directory.
func (b *LocalBucket) Root() string { return b.root }

func (b *LocalBucket) objectPath(key string) (string, string, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return "", "", err
	}
	return filepath.Join(b.root, filepath.FromSlash(cleaned)),
		filepath.Join(b.root, metaDir, filepath.FromSlash(cleaned)+".json"), nil
}

func (b *LocalBucket) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.Stat(ctx, key)
	if errors.Is(err, services.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (b *LocalBucket) Stat(_ context.Context, key string) (ObjectInfo, error) {
	objPath, metaPath, err := b.objectPath(key)
	if err != nil {
		return ObjectInfo{}, err
	}
	info, err := os.Stat(objPath)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && info.IsDir()) {
		return ObjectInfo{}, services.Wrap(services.ErrNotFound, "storage", "stat", key, nil)
	}
	if err != nil {
		return ObjectInfo{}, services.Wrap(services.ErrInternal, "storage", "stat", key, err)
	}
	out := ObjectInfo{Key: key, Size: info.Size(), ModTime: info.ModTime()}
	if data, err := os.ReadFile(metaPath); err == nil {
		var meta sidecar
		if err := json.Unmarshal(data, &meta); err == nil {
			out.ContentType = meta.ContentType
			out.ContentDisposition = meta.ContentDisposition
			out.Metadata = meta.Metadata
		}
	}
	return out, nil
}

func (b *LocalBucket) Download(ctx context.Context, key, dst string) error {
	if _, err := b.Stat(ctx, key); err != nil {
		return err
	}
	objPath, _, _ := b.objectPath(key)
	if err := fileutil.CopyFileVerified(objPath, dst); err != nil {
		return services.Wrap(services.ErrInternal, "storage", "download", key, err)
	}
	return nil
}

func (b *LocalBucket) Upload(_ context.Context, localPath, key string, opts UploadOptions) error {
	objPath, metaPath, err := b.objectPath(key)
	if err != nil {
		return err
	}
	if err := fileutil.CopyFileVerified(localPath, objPath); err != nil {
		return services.Wrap(services.ErrInternal, "storage", "upload", key, err)
	}
	data, err := json.MarshalIndent(sidecar{
		ContentType:        opts.ContentType,
		ContentDisposition: opts.ContentDisposition,
		Metadata:           opts.Metadata,
	}, "", "  ")
	if err != nil {
		return services.Wrap(services.ErrInternal, "storage", "upload", "encode metadata", err)
	}
	if err := os.MkdirAll(filepath.Dir(metaPath), 0o755); err != nil {
		return services.Wrap(services.ErrInternal, "storage", "upload", "create metadata directory", err)
	}
	if err := os.WriteFile(metaPath, data, 0o644); err != nil {
		return services.Wrap(services.ErrInternal, "storage", "upload", "write metadata", err)
	}
	b.logger.Debug("object stored", logging.String("key", key), logging.String("path", objPath))
	return nil
}

func (b *LocalBucket) Delete(_ context.Context, key string) error {
	objPath, metaPath, err := b.objectPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(objPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return services.Wrap(services.ErrNotFound, "storage", "delete", key, nil)
		}
		return services.Wrap(services.ErrInternal, "storage", "delete", key, err)
	}
	if err := os.Remove(metaPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		b.logger.Debug("remove metadata sidecar", logging.String("key", key), logging.Error(err))
	}
	return nil
}

// SignedURL returns the object's absolute path; local files need no signing.
func (b *LocalBucket) SignedURL(ctx context.Context, key string, _ time.Duration) (string, error) {
	if _, err := b.Stat(ctx, key); err != nil {
		return "", err
	}
	objPath, _, _ := b.objectPath(key)
	return objPath, nil
}
