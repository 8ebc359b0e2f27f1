package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"sermonpipe/internal/cancel"
	"sermonpipe/internal/logging"
	"sermonpipe/internal/services"
)

// State is the lifecycle of one ffmpeg invocation.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateAborted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ProgressFunc receives stage-local progress in percent (0..100).
type ProgressFunc func(percent float64)

// Result summarizes a finished invocation.
type Result struct {
	State   State
	OutTime float64
	Elapsed time.Duration
}

const (
	stderrTail     = 20
	terminateGrace = 5 * time.Second
)

// Runner executes ffmpeg with machine-readable progress on stdout.
type Runner struct {
	Binary string
	logger *slog.Logger
}

// NewRunner returns a runner for binary, defaulting to "ffmpeg".
func NewRunner(binary string, logger *slog.Logger) *Runner {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	return &Runner{Binary: binary, logger: logging.NewComponentLogger(logger, "ffmpeg")}
}

type invocation struct {
	stage      string
	args       []string
	stdin      io.Reader
	expected   float64
	token      *cancel.Token
	onProgress ProgressFunc
}

func baseArgs() []string {
	return []string{"-hide_banner", "-nostats", "-loglevel", "warning", "-progress", "pipe:1", "-y"}
}

func (r *Runner) run(ctx context.Context, inv invocation) (Result, error) {
	logger := logging.WithContext(ctx, r.logger).With(logging.String(logging.FieldStage, inv.stage))
	result := Result{State: StateIdle}

	if inv.token.Requested() {
		result.State = StateAborted
		return result, services.Wrap(services.ErrAborted, inv.stage, "start", "cancelled before ffmpeg started", inv.token.Cause())
	}

	runCtx, stop := context.WithCancelCause(ctx)
	defer stop(nil)

	cmd := exec.CommandContext(runCtx, r.Binary, inv.args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return unix.Kill(-cmd.Process.Pid, unix.SIGTERM)
	}
	cmd.WaitDelay = terminateGrace
	if inv.stdin != nil {
		cmd.Stdin = inv.stdin
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return result, services.Wrap(services.ErrInternal, inv.stage, "stdout pipe", "", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return result, services.Wrap(services.ErrInternal, inv.stage, "stderr pipe", "", err)
	}

	logger.Debug("spawning ffmpeg", logging.String("command", r.Binary+" "+strings.Join(inv.args, " ")))
	started := time.Now()
	if err := cmd.Start(); err != nil {
		result.State = StateFailed
		return result, services.Wrap(services.ErrInternal, inv.stage, "start", "launch ffmpeg", err)
	}
	result.State = StateRunning

	go func() {
		select {
		case <-inv.token.Done():
			stop(services.ErrAborted)
		case <-runCtx.Done():
		}
	}()

	var (
		wg       sync.WaitGroup
		classify stderrClassifier
		outTime  float64
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		sampler := logging.NewProgressSampler(10)
		scanProgress(stdout, func(seconds float64) {
			outTime = seconds
			if inv.token.Requested() {
				stop(services.ErrAborted)
				return
			}
			percent := percentOf(seconds, inv.expected)
			if percent < 0 {
				return
			}
			if sampler.ShouldLog(percent, inv.stage) {
				logger.Debug("ffmpeg progress", logging.Float64(logging.FieldProgress, percent))
			}
			if inv.onProgress != nil {
				inv.onProgress(percent)
			}
		})
	}()
	go func() {
		defer wg.Done()
		scanner := newLineScanner(stderr)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if classify.observe(line) {
				logger.Debug("ffmpeg stderr", logging.String("line", line))
			}
		}
	}()
	wg.Wait()
	waitErr := cmd.Wait()
	result.OutTime = outTime
	result.Elapsed = time.Since(started)

	if cause := context.Cause(runCtx); errors.Is(cause, services.ErrAborted) || ctx.Err() != nil {
		result.State = StateAborted
		reason := inv.token.Cause()
		if reason == nil {
			reason = ctx.Err()
		}
		logger.Info("ffmpeg terminated on cancellation", logging.Duration("elapsed", result.Elapsed))
		return result, services.Wrap(services.ErrAborted, inv.stage, "ffmpeg", "operation was cancelled", reason)
	}
	if fatal := classify.fatal(); fatal != "" {
		result.State = StateFailed
		return result, services.Wrap(services.ErrInternal, inv.stage, "ffmpeg",
			fmt.Sprintf("fatal condition in stderr: %s", fatal), waitErr)
	}
	if waitErr != nil {
		result.State = StateFailed
		detail := "ffmpeg exited with an error"
		if tail := classify.tail(); tail != "" {
			detail += ": " + tail
		}
		return result, services.Wrap(services.ErrInternal, inv.stage, "ffmpeg", detail, waitErr)
	}

	result.State = StateCompleted
	if inv.onProgress != nil && inv.expected > 0 {
		inv.onProgress(100)
	}
	logger.Info("ffmpeg finished",
		logging.Duration("elapsed", result.Elapsed),
		logging.Float64("out_time_seconds", outTime),
	)
	return result, nil
}

func newLineScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return scanner
}

// scanProgress reads "-progress" key=value blocks and reports the processed
// output time in seconds whenever a block carries one.
func scanProgress(r io.Reader, report func(seconds float64)) {
	scanner := newLineScanner(r)
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "out_time_us", "out_time_ms":
			// Both keys carry microseconds.
			if us, err := strconv.ParseInt(value, 10, 64); err == nil && us >= 0 {
				report(float64(us) / 1e6)
			}
		case "out_time":
			if seconds, ok := parseTimemark(value); ok {
				report(seconds)
			}
		}
	}
	_, _ = io.Copy(io.Discard, r)
}

// parseTimemark converts "HH:MM:SS.micro" into seconds.
func parseTimemark(value string) (float64, bool) {
	value = strings.TrimSpace(value)
	if strings.HasPrefix(value, "-") {
		return 0, false
	}
	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return 0, false
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, false
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, false
	}
	secs, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0, false
	}
	return float64(hours*3600+minutes*60) + secs, true
}

func percentOf(seconds, expected float64) float64 {
	if expected <= 0 {
		return -1
	}
	p := seconds / expected * 100
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
