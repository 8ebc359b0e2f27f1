package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"sermonpipe/internal/api"
	"sermonpipe/internal/cancel"
	"sermonpipe/internal/config"
	"sermonpipe/internal/daemon"
	"sermonpipe/internal/deadline"
	"sermonpipe/internal/docstore"
	"sermonpipe/internal/logging"
	"sermonpipe/internal/metrics"
	"sermonpipe/internal/objectstore"
	"sermonpipe/internal/pipeline"
	"sermonpipe/internal/preflight"
	"sermonpipe/internal/progress"
	"sermonpipe/internal/source"
	"sermonpipe/internal/testsupport"
	"sermonpipe/internal/workflow"
)

type runnerFunc func(ctx context.Context, job source.Job, token *cancel.Token) (pipeline.Result, error)

func (f runnerFunc) Run(ctx context.Context, job source.Job, token *cancel.Token) (pipeline.Result, error) {
	return f(ctx, job, token)
}

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	baseDir    string
}

// setupCLITestEnv writes a config file for an isolated test tree. No daemon
// is running, so commands fall back to the local stores.
func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	base := testsupport.BaseDir(cfg)
	t.Setenv("HOME", filepath.Join(base, "home"))
	cfg.Paths.APIBind = "127.0.0.1:1"

	env := &cliTestEnv{
		cfg:        cfg,
		configPath: filepath.Join(base, "sermonpipe.toml"),
		baseDir:    base,
	}
	writeTestConfig(t, env.configPath, cfg)
	return env
}

// startDaemon runs a daemon whose runner completes every job immediately and
// rewrites the config file to point at it.
func (e *cliTestEnv) startDaemon(t *testing.T) *daemon.Daemon {
	t.Helper()

	daemonCfg := *e.cfg
	daemonCfg.Paths.APIBind = "127.0.0.1:0"
	logger := logging.NewNop()
	store := testsupport.MustOpenStore(t, &daemonCfg)
	docs, err := docstore.OpenSQLite(context.Background(), daemonCfg.Documents.DSN, logger)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = docs.Close() })
	bucket, err := objectstore.NewLocal(daemonCfg.Storage.LocalRoot, logger)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	runner := runnerFunc(func(_ context.Context, job source.Job, _ *cancel.Token) (pipeline.Result, error) {
		return pipeline.Result{JobID: job.ID}, nil
	})
	mgr := workflow.NewManager(store, runner, workflow.Options{
		Workers:           1,
		PollInterval:      10 * time.Millisecond,
		HeartbeatInterval: 20 * time.Millisecond,
		HeartbeatTimeout:  time.Minute,
		Guard:             deadline.Guard{Budget: time.Minute, Drain: time.Second},
	}, nil, logger)
	channel := progress.NewMemory()
	svc := api.NewService(api.ServiceDeps{
		Tasks:     store,
		Documents: docs,
		Progress:  channel,
		Generator: pipeline.NewGenerator(docs, bucket, store, logger),
		Aborter:   mgr,
		Logger:    logger,
	})
	d, err := daemon.New(&daemonCfg, daemon.Deps{
		Store:    store,
		Workflow: mgr,
		Service:  svc,
		Backends: preflight.Backends{Documents: docs, Progress: channel, Queue: store, Bucket: bucket},
		Metrics:  metrics.New(),
	}, logger)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	e.cfg.Paths.APIBind = d.APIAddress()
	writeTestConfig(t, e.configPath, e.cfg)
	return d
}

func (e *cliTestEnv) putRaw(t *testing.T, key string) {
	t.Helper()
	testsupport.WriteFile(t, filepath.Join(e.cfg.Storage.LocalRoot, filepath.FromSlash(key)), 128)
}

func runCLI(t *testing.T, configPath string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", configPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func waitFor(t *testing.T, duration time.Duration, fn func() bool) {
	t.Helper()
	until := time.Now().Add(duration)
	for time.Now().Before(until) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", duration)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
