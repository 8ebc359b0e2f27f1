package workflow

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"sermonpipe/internal/cancel"
	"sermonpipe/internal/config"
	"sermonpipe/internal/deadline"
	"sermonpipe/internal/logging"
	"sermonpipe/internal/metrics"
	"sermonpipe/internal/pipeline"
	"sermonpipe/internal/queue"
	"sermonpipe/internal/source"
)

// Runner executes one job. *pipeline.Orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context, job source.Job, token *cancel.Token) (pipeline.Result, error)
}

// Options tune the worker pool.
type Options struct {
	Workers           int
	PollInterval      time.Duration
	ErrorRetry        time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	Guard             deadline.Guard
}

// OptionsFromConfig derives manager options from cfg.
func OptionsFromConfig(cfg *config.Config, logger *slog.Logger) Options {
	return Options{
		Workers:           cfg.Queue.Workers,
		PollInterval:      cfg.QueuePollInterval(),
		ErrorRetry:        cfg.QueuePollInterval(),
		HeartbeatInterval: cfg.HeartbeatInterval(),
		HeartbeatTimeout:  cfg.HeartbeatTimeout(),
		Guard: deadline.Guard{
			Budget: cfg.JobBudget(),
			Drain:  cfg.DrainTimeout(),
			Logger: logger,
		},
	}
}

// Manager coordinates queue processing with a pool of workers.
type Manager struct {
	store   *queue.Store
	runner  Runner
	opts    Options
	metrics *metrics.Recorder
	logger  *slog.Logger

	heartbeat *HeartbeatMonitor

	mu       sync.RWMutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	lastErr  error
	lastTask *queue.Task
	active   map[string]*activeRun
}

type activeRun struct {
	task    *queue.Task
	token   *cancel.Token
	started time.Time
	aborted atomic.Bool
}

// NewManager constructs a workflow manager. metrics may be nil.
func NewManager(store *queue.Store, runner Runner, opts Options, recorder *metrics.Recorder, logger *slog.Logger) *Manager {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.ErrorRetry <= 0 {
		opts.ErrorRetry = opts.PollInterval
	}
	logger = logging.NewComponentLogger(logger, "workflow")
	return &Manager{
		store:     store,
		runner:    runner,
		opts:      opts,
		metrics:   recorder,
		logger:    logger,
		heartbeat: NewHeartbeatMonitor(store, logger, opts.HeartbeatInterval, opts.HeartbeatTimeout),
		active:    make(map[string]*activeRun),
	}
}
