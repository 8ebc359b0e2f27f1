package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"sermonpipe/internal/api"
	"sermonpipe/internal/config"
	"sermonpipe/internal/daemon"
	"sermonpipe/internal/logging"
	"sermonpipe/internal/pipeline"
	"sermonpipe/internal/preflight"
	"sermonpipe/internal/queue"
	"sermonpipe/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the sermonpipe daemon and blocks until a signal arrives, cmdCtx
// ends, or the API server fails.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("prepare directories: %w", err)
	}
	logger, err := NewLogger(cfg, opts)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	pidPath := filepath.Join(cfg.Paths.LogDir, "sermonpipe.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		return err
	}

	stack, err := OpenStack(signalCtx, cfg, logger)
	if err != nil {
		_ = store.Close()
		return err
	}
	defer stack.Close()

	backends := preflight.Backends{
		Documents: stack.Documents,
		Progress:  stack.Progress,
		Queue:     store,
		Bucket:    stack.Bucket,
	}
	logDependencySnapshot(signalCtx, logger, cfg, backends)

	manager := workflow.NewManager(store, stack.Orchestrator, workflow.OptionsFromConfig(cfg, logger), stack.Metrics, logger)
	service := api.NewService(api.ServiceDeps{
		Tasks:     store,
		Documents: stack.Documents,
		Progress:  stack.Progress,
		Generator: pipeline.NewGenerator(stack.Documents, stack.Bucket, store, logger),
		Aborter:   manager,
		Logger:    logger,
	})

	d, err := daemon.New(cfg, daemon.Deps{
		Store:    store,
		Workflow: manager,
		Service:  service,
		Backends: backends,
		Metrics:  stack.Metrics,
	}, logger)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check that no other daemon holds "+cfg.LockPath()+" and api_bind is free"),
		)
		return err
	}

	served := make(chan error, 1)
	go func() { served <- d.Wait() }()

	select {
	case <-signalCtx.Done():
		logger.Info("sermonpipe daemon shutting down")
		return nil
	case err := <-served:
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	}
}

// NewLogger builds the process logger from cfg, honoring a level override.
func NewLogger(cfg *config.Config, opts Options) (*slog.Logger, error) {
	level := cfg.Logging.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	outputs := []string{"stdout"}
	if cfg.Paths.LogDir != "" {
		outputs = append(outputs, filepath.Join(cfg.Paths.LogDir, "sermonpipe.log"))
	}
	return logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: outputs,
		Development: opts.Development,
	})
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(ctx context.Context, logger *slog.Logger, cfg *config.Config, backends preflight.Backends) {
	results := preflight.RunAll(ctx, cfg, backends)
	attrs := []logging.Attr{logging.String(logging.FieldEventType, "dependency_snapshot")}
	for _, result := range results {
		attrs = append(attrs, logging.Bool(result.Name, result.Passed))
		if !result.Passed {
			logging.WarnWithContext(logger, "dependency check failed", "dependency_unavailable",
				logging.String("check", result.Name),
				logging.String("detail", result.Detail),
				logging.String(logging.FieldErrorHint, "run sermonpipe deps for details"),
			)
		}
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
}
