package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"sermonpipe/internal/api"
	"sermonpipe/internal/config"
	"sermonpipe/internal/deps"
	"sermonpipe/internal/logging"
	"sermonpipe/internal/metrics"
	"sermonpipe/internal/preflight"
	"sermonpipe/internal/queue"
	"sermonpipe/internal/workflow"
)

// Deps are the collaborators a daemon coordinates. Service backs the HTTP
// API; Backends are probed by the deep health check.
type Deps struct {
	Store    *queue.Store
	Workflow *workflow.Manager
	Service  *api.Service
	Backends preflight.Backends
	Metrics  *metrics.Recorder
}

// Daemon coordinates the background processing services and enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *queue.Store
	workflow *workflow.Manager
	server   *apiServer

	lockPath string
	lock     *flock.Flock

	mu      sync.Mutex
	running atomic.Bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	Workflow     workflow.StatusSummary
	QueueDBPath  string
	LockFilePath string
	APIBind      string
	Dependencies []deps.Status
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, d Deps, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || d.Store == nil || d.Workflow == nil || d.Service == nil {
		return nil, errors.New("daemon requires config, store, workflow manager, and api service")
	}
	logger = logging.NewComponentLogger(logger, "daemon")
	daemon := &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    d.Store,
		workflow: d.Workflow,
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}
	daemon.server = newAPIServer(cfg, daemon, d.Service, d.Backends, d.Metrics, logger)
	return daemon, nil
}

// Start acquires the daemon lock, launches the workflow manager and begins
// serving the API.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another sermonpipe daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.workflow.Start(runCtx); err != nil {
		_ = d.lock.Unlock()
		cancel()
		return fmt.Errorf("start workflow: %w", err)
	}

	listener, err := d.server.listen()
	if err != nil {
		d.workflow.Stop()
		_ = d.lock.Unlock()
		cancel()
		return err
	}

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error { return d.server.serve(listener) })
	group.Go(func() error {
		<-groupCtx.Done()
		d.server.shutdown()
		return nil
	})

	d.cancel = cancel
	d.group = group
	d.running.Store(true)
	d.logger.Info("sermonpipe daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", d.server.address()),
	)
	return nil
}

// Wait blocks until the API server exits and returns its error, if any.
func (d *Daemon) Wait() error {
	d.mu.Lock()
	group := d.group
	d.mu.Unlock()
	if group == nil {
		return nil
	}
	return group.Wait()
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.group != nil {
		if err := d.group.Wait(); err != nil {
			logging.WarnWithContext(d.logger, "api server exited with error", "api_server_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check that api_bind is free"),
			)
		}
	}
	d.workflow.Stop()
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "lock_release_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove "+d.lockPath+" if it lingers"),
		)
	}
	d.running.Store(false)
	d.logger.Info("sermonpipe daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// APIAddress returns the address the API server listens on, or "" when it
// is not serving.
func (d *Daemon) APIAddress() string {
	return d.server.address()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Workflow:     d.workflow.Status(ctx),
		QueueDBPath:  d.store.Path(),
		LockFilePath: d.lockPath,
		APIBind:      d.server.address(),
		Dependencies: preflight.CheckSystemDeps(d.cfg),
	}
}
