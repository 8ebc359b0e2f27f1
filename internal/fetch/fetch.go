package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"sermonpipe/internal/logging"
	"sermonpipe/internal/retry"
	"sermonpipe/internal/services"
)

const (
	defaultRetries = 2
	retryBase      = 500 * time.Millisecond
)

// Request names one remote resource and where to store it.
type Request struct {
	Label string
	URL   string
	Dest  string
}

// Fetcher downloads intro and outro clips over HTTP(S). Other schemes are
// rejected.
type Fetcher struct {
	client  *http.Client
	timeout time.Duration
	retries uint64
	logger  *slog.Logger
}

// New returns a fetcher whose single downloads are bounded by timeout.
func New(timeout time.Duration, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		client:  &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()},
		timeout: timeout,
		retries: defaultRetries,
		logger:  logging.NewComponentLogger(logger, "fetch"),
	}
}

// All downloads every request concurrently. The first failure cancels the
// rest.
func (f *Fetcher) All(ctx context.Context, requests []Request) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, req := range requests {
		g.Go(func() error {
			return f.Fetch(gctx, req)
		})
	}
	return g.Wait()
}

// Fetch downloads one request, retrying server errors and transport failures.
func (f *Fetcher) Fetch(ctx context.Context, req Request) error {
	logger := logging.WithContext(ctx, f.logger)
	started := time.Now()
	var written int64
	err := retry.Do(ctx, f.retries, retryBase, func(ctx context.Context) error {
		n, err := f.fetchOnce(ctx, req)
		written = n
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return services.Wrap(services.ErrAborted, "fetch", req.Label, "download cancelled", ctx.Err())
		}
		return err
	}
	logger.Info("fetched clip",
		logging.String("label", req.Label),
		logging.Int64("bytes", written),
		logging.Duration("elapsed", time.Since(started)),
	)
	return nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, req Request) (int64, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return 0, services.Wrap(services.ErrInvalidArgument, "fetch", req.Label, "bad url", err)
	}
	if scheme := httpReq.URL.Scheme; scheme != "http" && scheme != "https" {
		return 0, services.Wrap(services.ErrInvalidArgument, "fetch", req.Label,
			fmt.Sprintf("unsupported url scheme %q", scheme), nil)
	}
	resp, err := f.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return 0, err
		}
		return 0, retry.Retryable(services.Wrap(services.ErrInternal, "fetch", req.Label, "request failed", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		failure := services.Wrap(services.ErrInternal, "fetch", req.Label,
			fmt.Sprintf("%s returned %s", req.URL, resp.Status), nil)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return 0, retry.Retryable(failure)
		}
		return 0, failure
	}

	if err := os.MkdirAll(filepath.Dir(req.Dest), 0o755); err != nil {
		return 0, services.Wrap(services.ErrInternal, "fetch", req.Label, "create directory", err)
	}
	out, err := os.Create(req.Dest)
	if err != nil {
		return 0, services.Wrap(services.ErrInternal, "fetch", req.Label, "create file", err)
	}
	n, copyErr := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if copyErr != nil {
		if errors.Is(copyErr, context.Canceled) {
			return n, copyErr
		}
		return n, retry.Retryable(services.Wrap(services.ErrInternal, "fetch", req.Label, "read body", copyErr))
	}
	if closeErr != nil {
		return n, services.Wrap(services.ErrInternal, "fetch", req.Label, "close file", closeErr)
	}
	if resp.ContentLength > 0 && n != resp.ContentLength {
		return n, retry.Retryable(services.Wrap(services.ErrInternal, "fetch", req.Label,
			fmt.Sprintf("short body: got %d of %d bytes", n, resp.ContentLength), nil))
	}
	return n, nil
}
