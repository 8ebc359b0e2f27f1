package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"sermonpipe/internal/api"
	"sermonpipe/internal/config"
	"sermonpipe/internal/ipc"
	"sermonpipe/internal/preflight"
	"sermonpipe/internal/queue"
)

const pollInterval = 200 * time.Millisecond

// LaunchOptions controls daemon process launch behavior.
type LaunchOptions struct {
	ConfigPath string
	LogLevel   string
}

type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
)

// StartResult captures daemon start orchestration state.
type StartResult struct {
	State    StartState
	Launched bool
	PID      int
}

// ErrDaemonNotRunning indicates the daemon API is unavailable.
var ErrDaemonNotRunning = errors.New("daemon not running")

// PIDPath returns the pid file the daemon writes into its log directory.
func PIDPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.LogDir, "sermonpipe.pid")
}

// Launch starts a detached sermonpipe daemon process.
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return fmt.Errorf("resolve executable: executable path is empty")
	}

	args := []string{"daemon"}
	if cfg := strings.TrimSpace(opts.ConfigPath); cfg != "" {
		args = append(args, "--config", cfg)
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		args = append(args, "--log-level", level)
	}

	proc := exec.Command(executablePath, args...)
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// WaitForClient waits for the daemon API and returns a connected client.
func WaitForClient(ctx context.Context, cfg *config.Config, timeout time.Duration) (*ipc.Client, error) {
	until := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(until) {
		client, err := ipc.Dial(ctx, cfg)
		if err == nil {
			return client, nil
		}
		lastErr = err
		if err := sleep(ctx, pollInterval); err != nil {
			return nil, err
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for daemon")
	}
	return nil, fmt.Errorf("daemon failed to start: %w", lastErr)
}

// EnsureStarted launches the daemon unless its API already answers.
func EnsureStarted(ctx context.Context, cfg *config.Config, executablePath string, opts LaunchOptions, waitTimeout time.Duration) (StartResult, error) {
	client, err := ipc.Dial(ctx, cfg)
	launched := false
	if err != nil {
		if launchErr := Launch(executablePath, opts); launchErr != nil {
			return StartResult{}, launchErr
		}
		client, err = WaitForClient(ctx, cfg, waitTimeout)
		if err != nil {
			return StartResult{}, err
		}
		launched = true
	}
	defer client.Close()

	result := StartResult{State: StartStateAlreadyRunning, Launched: launched}
	if launched {
		result.State = StartStateStarted
	}
	if status, statusErr := client.Status(ctx); statusErr == nil && status != nil {
		result.PID = status.PID
	}
	return result, nil
}

// WaitForShutdown waits until the daemon API stops answering.
func WaitForShutdown(ctx context.Context, cfg *config.Config, timeout time.Duration) error {
	until := time.Now().Add(timeout)
	for time.Now().Before(until) {
		client, err := ipc.Dial(ctx, cfg)
		if err != nil {
			return nil
		}
		_ = client.Close()
		if err := sleep(ctx, pollInterval); err != nil {
			return err
		}
	}
	return fmt.Errorf("daemon did not stop within %s", timeout)
}

// ProcessInfo returns whether the daemon API is reachable and the daemon PID
// when available.
func ProcessInfo(ctx context.Context, cfg *config.Config) (bool, int, error) {
	client, err := ipc.Dial(ctx, cfg)
	if err != nil {
		return false, 0, nil
	}
	defer client.Close()
	status, statusErr := client.Status(ctx)
	if statusErr != nil {
		return true, 0, statusErr
	}
	return true, status.PID, nil
}

// ReadPIDFile returns the pid recorded at path, or 0 when the file is absent.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read daemon pid file %q: %w", path, err)
	}
	pidStr := strings.TrimSpace(string(data))
	if pidStr == "" {
		return 0, nil
	}
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("malformed pid file %q", path)
	}
	return pid, nil
}

func signalProcess(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return fmt.Errorf("unable to determine daemon pid")
	}
	if pid == os.Getpid() {
		return fmt.Errorf("refusing to signal current process (pid %d)", pid)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("locate daemon process %d: %w", pid, err)
	}
	if err := proc.Signal(sig); err != nil {
		return fmt.Errorf("signal daemon process %d: %w", pid, err)
	}
	return nil
}

// StopResult captures daemon stop/termination outcome.
type StopResult struct {
	StopAcknowledged bool
	ForcedKill       bool
	PID              int
}

// RestartResult captures stop/start outcomes for daemon restart.
type RestartResult struct {
	WasRunning bool
	Stop       StopResult
	Start      StartResult
}

// StopAndTerminate sends SIGTERM to the daemon and SIGKILL if it is still
// answering after gracePeriod.
func StopAndTerminate(ctx context.Context, cfg *config.Config, gracePeriod time.Duration) (StopResult, error) {
	running, pid, err := ProcessInfo(ctx, cfg)
	if !running {
		return StopResult{}, ErrDaemonNotRunning
	}
	pidPath := PIDPath(cfg)
	if err != nil || pid == 0 {
		if pid, err = ReadPIDFile(pidPath); err != nil {
			return StopResult{}, err
		}
	}
	if err := signalProcess(pid, syscall.SIGTERM); err != nil {
		return StopResult{}, err
	}
	result := StopResult{StopAcknowledged: true, PID: pid}
	if err := WaitForShutdown(ctx, cfg, gracePeriod); err == nil {
		return result, nil
	}

	if err := signalProcess(pid, syscall.SIGKILL); err != nil {
		return result, fmt.Errorf("failed to stop daemon process: %w", err)
	}
	_ = os.Remove(pidPath)
	result.ForcedKill = true
	return result, nil
}

// Restart stops the daemon if running, then ensures it is started.
func Restart(ctx context.Context, cfg *config.Config, executablePath string, opts LaunchOptions, stopGracePeriod, startWaitTimeout time.Duration) (RestartResult, error) {
	stopResult, stopErr := StopAndTerminate(ctx, cfg, stopGracePeriod)
	if stopErr != nil && !errors.Is(stopErr, ErrDaemonNotRunning) {
		return RestartResult{}, stopErr
	}

	startResult, err := EnsureStarted(ctx, cfg, executablePath, opts, startWaitTimeout)
	if err != nil {
		return RestartResult{}, err
	}

	return RestartResult{
		WasRunning: stopErr == nil,
		Stop:       stopResult,
		Start:      startResult,
	}, nil
}

// Snapshot is the status report rendered by the CLI.
type Snapshot struct {
	api.DaemonStatus
	SystemChecks      []api.StatusLine      `json:"systemChecks"`
	DependencySummary api.DependencySummary `json:"dependencySummary"`
}

// BuildStatusSnapshot collects daemon status and falls back to reading the
// queue database directly when the daemon is not running.
func BuildStatusSnapshot(ctx context.Context, cfg *config.Config) (*Snapshot, error) {
	if cfg == nil {
		return nil, errors.New("configuration not available")
	}
	snap := &Snapshot{}

	client, err := ipc.Dial(ctx, cfg)
	if err == nil {
		defer client.Close()
		if resp, statusErr := client.Status(ctx); statusErr == nil && resp != nil {
			snap.DaemonStatus = *resp
		}
	}

	if !snap.Running {
		snap.QueueDBPath = cfg.QueuePath()
		snap.LockFilePath = cfg.LockPath()
		snap.Workflow.QueueStats = offlineQueueStats(ctx, cfg)
	}
	if len(snap.Dependencies) == 0 {
		snap.Dependencies = ResolveDependencies(cfg)
	}
	for i := range snap.Dependencies {
		if snap.Dependencies[i].Severity == "" {
			snap.Dependencies[i].Severity = dependencySeverity(snap.Dependencies[i])
		}
	}

	snap.SystemChecks = BuildSystemChecks(cfg, snap.Running)
	snap.DependencySummary = BuildDependencySummary(snap.Dependencies)
	return snap, nil
}

func offlineQueueStats(ctx context.Context, cfg *config.Config) map[string]int {
	queryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if _, err := os.Stat(cfg.QueuePath()); err != nil {
		return api.MergeQueueStats(nil)
	}
	store, err := queue.Open(cfg)
	if err != nil {
		return api.MergeQueueStats(nil)
	}
	defer store.Close()
	stats, err := store.Stats(queryCtx)
	if err != nil {
		return api.MergeQueueStats(nil)
	}
	return api.MergeQueueStats(stats)
}

// ResolveDependencies returns current dependency availability for status output.
func ResolveDependencies(cfg *config.Config) []api.DependencyStatus {
	if cfg == nil {
		return nil
	}
	statuses := api.FromDependencies(preflight.CheckSystemDeps(cfg))
	for i := range statuses {
		statuses[i].Severity = dependencySeverity(statuses[i])
	}
	return statuses
}

func dependencySeverity(dep api.DependencyStatus) string {
	switch {
	case dep.Available:
		return "ok"
	case dep.Optional:
		return "warn"
	default:
		return "error"
	}
}

// BuildSystemChecks resolves status lines that combine runtime state and config checks.
func BuildSystemChecks(cfg *config.Config, daemonRunning bool) []api.StatusLine {
	lines := make([]api.StatusLine, 0, 7)
	if daemonRunning {
		lines = append(lines, api.StatusLine{Label: "Sermonpipe", Severity: "ok", Detail: "Running on " + cfg.Paths.APIBind})
	} else {
		lines = append(lines, api.StatusLine{Label: "Sermonpipe", Severity: "warn", Detail: "Not running (run `sermonpipe start`)"})
	}

	for _, dir := range []struct {
		label string
		path  string
	}{
		{label: "Scratch", path: cfg.Paths.ScratchDir},
		{label: "Data", path: cfg.Paths.DataDir},
	} {
		result := preflight.CheckDirectoryAccess(dir.label, dir.path)
		severity := "error"
		if result.Passed {
			severity = "ok"
		}
		lines = append(lines, api.StatusLine{Label: dir.label, Severity: severity, Detail: result.Detail})
	}

	storage := cfg.Storage.Backend
	if storage == config.StorageLocal {
		storage += " (" + cfg.Storage.LocalRoot + ")"
	} else {
		storage += " (" + cfg.Storage.Bucket + ")"
	}
	lines = append(lines,
		api.StatusLine{Label: "Storage", Severity: "info", Detail: storage},
		api.StatusLine{Label: "Documents", Severity: "info", Detail: cfg.Documents.Driver},
		api.StatusLine{Label: "Progress", Severity: "info", Detail: cfg.Progress.Backend},
	)

	if strings.TrimSpace(cfg.Paths.APIToken) != "" {
		lines = append(lines, api.StatusLine{Label: "API Auth", Severity: "ok", Detail: "Bearer token required"})
	} else {
		lines = append(lines, api.StatusLine{Label: "API Auth", Severity: "warn", Detail: "No api_token configured"})
	}
	return lines
}

// BuildDependencySummary computes aggregate dependency readiness.
func BuildDependencySummary(deps []api.DependencyStatus) api.DependencySummary {
	if len(deps) == 0 {
		return api.DependencySummary{
			Severity: "info",
			Detail:   "No dependency checks configured",
		}
	}

	missingRequired := 0
	missingOptional := 0
	for _, dep := range deps {
		if dep.Available {
			continue
		}
		if dep.Optional {
			missingOptional++
		} else {
			missingRequired++
		}
	}

	missingCount := missingRequired + missingOptional
	available := len(deps) - missingCount
	severity := "ok"
	if missingRequired > 0 {
		severity = "error"
	} else if missingOptional > 0 {
		severity = "warn"
	}
	detail := fmt.Sprintf("%d/%d available (missing: %d required, %d optional)", available, len(deps), missingRequired, missingOptional)
	if missingCount == 0 {
		detail = fmt.Sprintf("%d/%d available", available, len(deps))
	}

	return api.DependencySummary{
		Total:           len(deps),
		Available:       available,
		MissingRequired: missingRequired,
		MissingOptional: missingOptional,
		Severity:        severity,
		Detail:          detail,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
