package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"sermonpipe/internal/config"
	"sermonpipe/internal/deps"
	"sermonpipe/internal/objectstore"
)

const pingTimeout = 3 * time.Second

// bucketProbeKey is looked up to prove the bucket answers; it need not exist.
const bucketProbeKey = ".sermonpipe-preflight"

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckSystemDeps evaluates the configured executables. Both the daemon and
// the CLI use this so the requirement list lives in one place.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	return deps.CheckBinaries(deps.Requirements(cfg))
}

// CheckPing probes a backend with a short timeout.
func CheckPing(ctx context.Context, name string, p Pinger) Result {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := p.Ping(pingCtx); err != nil {
		return Result{Name: name, Detail: summarizePingError(err)}
	}
	return Result{Name: name, Passed: true, Detail: "reachable"}
}

// CheckBucket verifies the object store answers a metadata lookup.
func CheckBucket(ctx context.Context, bucket objectstore.Bucket) Result {
	const name = "Object storage"
	probeCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if _, err := bucket.Exists(probeCtx, bucketProbeKey); err != nil {
		return Result{Name: name, Detail: summarizePingError(err)}
	}
	return Result{Name: name, Passed: true, Detail: "reachable"}
}

// summarizePingError produces a human-readable summary for backend failures.
func summarizePingError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "ping timed out (backend unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "ping timed out (backend unreachable)"
	}
	return err.Error()
}
