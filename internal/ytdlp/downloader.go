package ytdlp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"sermonpipe/internal/cancel"
	"sermonpipe/internal/logging"
	"sermonpipe/internal/services"
)

const (
	defaultSlowThreshold = 5
	terminateGrace       = 5 * time.Second
)

// Range restricts a download to a slice of the source, in seconds.
type Range struct {
	Start    float64
	Duration float64
}

// sections renders the --download-sections value, or "" for the whole source.
func (r Range) sections() string {
	if r.Start <= 0 && r.Duration <= 0 {
		return ""
	}
	end := "inf"
	if r.Duration > 0 {
		end = formatSeconds(r.Start + r.Duration)
	}
	return "*" + formatSeconds(r.Start) + "-" + end
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Options configures a Downloader.
type Options struct {
	Binary string
	// SlowThreshold is the number of consecutive slow samples tolerated
	// before the download fails. Zero uses the default of 5.
	SlowThreshold int
	// SlowFloor is the throughput, in bytes per second, below which a sample
	// counts as slow.
	SlowFloor int64
	Logger    *slog.Logger
}

// Downloader pulls audio from streaming URLs with yt-dlp.
type Downloader struct {
	binary    string
	threshold int
	floor     uint64
	logger    *slog.Logger
}

// New returns a downloader.
func New(opts Options) *Downloader {
	binary := strings.TrimSpace(opts.Binary)
	if binary == "" {
		binary = "yt-dlp"
	}
	threshold := opts.SlowThreshold
	if threshold <= 0 {
		threshold = defaultSlowThreshold
	}
	floor := uint64(0)
	if opts.SlowFloor > 0 {
		floor = uint64(opts.SlowFloor)
	}
	return &Downloader{
		binary:    binary,
		threshold: threshold,
		floor:     floor,
		logger:    logging.NewComponentLogger(opts.Logger, "yt-dlp"),
	}
}

func (d *Downloader) args(url string, rng Range, output string) []string {
	args := []string{"-f", "bestaudio", "-x", "--audio-format", "mp3", "-N", "4", "--newline", "--no-playlist"}
	if sections := rng.sections(); sections != "" {
		args = append(args, "--download-sections", sections)
	}
	return append(args, "-o", output, "--", url)
}

// Open starts streaming url to the returned Stream. The caller must Close the
// stream on every path.
func (d *Downloader) Open(ctx context.Context, url string, rng Range, token *cancel.Token) (*Stream, error) {
	return d.start(ctx, d.args(url, rng, "-"), token, nil)
}

// Download materializes url into dst. dst must end in ".mp3"; yt-dlp picks the
// extension after audio extraction.
func (d *Downloader) Download(ctx context.Context, url string, rng Range, dst string, token *cancel.Token, onProgress func(percent float64)) error {
	template := strings.TrimSuffix(dst, filepath.Ext(dst)) + ".%(ext)s"
	stream, err := d.start(ctx, d.args(url, rng, template), token, onProgress)
	if err != nil {
		return err
	}
	_, copyErr := io.Copy(io.Discard, stream)
	if err := stream.Close(); err != nil {
		return err
	}
	if copyErr != nil {
		return services.Wrap(services.ErrInternal, "download", "yt-dlp", "read output", copyErr)
	}
	if _, err := os.Stat(dst); err != nil {
		return services.Wrap(services.ErrInternal, "download", "yt-dlp", "expected output missing", err)
	}
	return nil
}

func (d *Downloader) start(ctx context.Context, args []string, token *cancel.Token, onProgress func(float64)) (*Stream, error) {
	logger := logging.WithContext(ctx, d.logger)
	if token.Requested() {
		return nil, services.Wrap(services.ErrAborted, "download", "start", "cancelled before download started", token.Cause())
	}

	cmd := exec.CommandContext(ctx, d.binary, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error { return unix.Kill(-cmd.Process.Pid, unix.SIGTERM) }
	cmd.WaitDelay = terminateGrace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, services.Wrap(services.ErrInternal, "download", "stdout pipe", "", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, services.Wrap(services.ErrInternal, "download", "stderr pipe", "", err)
	}

	logger.Debug("spawning yt-dlp", logging.String("command", d.binary+" "+strings.Join(args, " ")))
	if err := cmd.Start(); err != nil {
		return nil, services.Wrap(services.ErrInternal, "download", "start", "launch yt-dlp", err)
	}

	s := &Stream{
		cmd:        cmd,
		stdout:     stdout,
		logger:     logger,
		stderrDone: make(chan struct{}),
		stopWatch:  make(chan struct{}),
		started:    time.Now(),
	}
	go s.watchStderr(stderr, slowGuard{floor: d.floor, threshold: d.threshold}, onProgress)
	go s.watchToken(ctx, token)
	return s, nil
}

// Stream is a running yt-dlp process whose stdout carries the audio.
type Stream struct {
	cmd        *exec.Cmd
	stdout     io.ReadCloser
	logger     *slog.Logger
	started    time.Time
	stderrDone chan struct{}
	stopWatch  chan struct{}

	consuming atomic.Bool
	bytes     atomic.Int64
	killed    atomic.Bool
	eof       atomic.Bool

	mu      sync.Mutex
	failure error
	tail    []string

	closeOnce sync.Once
	closeErr  error
}

// MarkConsuming records that the downstream consumer has started making
// progress. From then on slow samples no longer abort the download.
func (s *Stream) MarkConsuming() {
	s.consuming.Store(true)
}

// Read reads audio bytes. When the download was stopped by the slow guard or
// by cancellation, the classified failure replaces io.EOF.
func (s *Stream) Read(p []byte) (int, error) {
	n, err := s.stdout.Read(p)
	s.bytes.Add(int64(n))
	if err != nil {
		if errors.Is(err, io.EOF) {
			s.eof.Store(true)
		}
		if failure := s.Err(); failure != nil {
			return n, failure
		}
	}
	return n, err
}

// Err returns the classified failure observed so far, if any.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// BytesRead returns the number of bytes delivered to the consumer.
func (s *Stream) BytesRead() int64 {
	return s.bytes.Load()
}

// Close stops the process if it is still running, waits for it, and returns
// the classified failure. It is safe to call more than once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopWatch)
		if s.eof.Load() {
			// stdout is closed, so the process is exiting on its own.
			select {
			case <-s.stderrDone:
			case <-time.After(terminateGrace):
				s.terminate()
			}
		} else {
			select {
			case <-s.stderrDone:
			default:
				s.terminate()
			}
		}
		<-s.stderrDone
		_, _ = io.Copy(io.Discard, s.stdout)
		waitErr := s.cmd.Wait()

		s.logger.Info("yt-dlp finished",
			logging.String("streamed", humanize.IBytes(uint64(s.bytes.Load()))),
			logging.Duration("elapsed", time.Since(s.started)),
		)
		if failure := s.Err(); failure != nil {
			s.closeErr = failure
			return
		}
		if waitErr != nil && !s.killed.Load() {
			detail := "yt-dlp exited with an error"
			if tail := s.stderrTail(); tail != "" {
				detail += ": " + tail
			}
			s.closeErr = services.Wrap(services.ErrInternal, "download", "yt-dlp", detail, waitErr)
		}
	})
	return s.closeErr
}

func (s *Stream) terminate() {
	if s.killed.Swap(true) {
		return
	}
	if s.cmd.Process != nil {
		if err := unix.Kill(-s.cmd.Process.Pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
			s.logger.Debug("terminate yt-dlp", logging.Error(err))
		}
	}
}

func (s *Stream) fail(err error) {
	s.mu.Lock()
	if s.failure == nil {
		s.failure = err
	}
	s.mu.Unlock()
	s.terminate()
}

func (s *Stream) watchToken(ctx context.Context, token *cancel.Token) {
	select {
	case <-token.Done():
		s.fail(services.Wrap(services.ErrAborted, "download", "yt-dlp", "operation was cancelled", token.Cause()))
	case <-ctx.Done():
		s.fail(services.Wrap(services.ErrAborted, "download", "yt-dlp", "context cancelled", ctx.Err()))
	case <-s.stopWatch:
	case <-s.stderrDone:
	}
}

func (s *Stream) watchStderr(stderr io.Reader, guard slowGuard, onProgress func(float64)) {
	defer close(s.stderrDone)
	sampler := logging.NewProgressSampler(10)
	scanner := newLineScanner(stderr)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		smp, ok := parseProgressLine(line)
		if !ok {
			s.rememberStderr(line)
			s.logger.Debug("yt-dlp stderr", logging.String("line", line))
			continue
		}
		if smp.hasPercent {
			if sampler.ShouldLog(smp.percent, "download") {
				s.logger.Debug("yt-dlp progress",
					logging.Float64(logging.FieldProgress, smp.percent),
					logging.String("speed", humanize.IBytes(smp.bytesPerSec)+"/s"),
				)
			}
			if onProgress != nil {
				onProgress(smp.percent)
			}
		}
		if smp.hasSpeed && !s.consuming.Load() && guard.observe(smp.bytesPerSec) {
			logging.WarnWithContext(s.logger, "source throughput below floor", "stream_too_slow",
				logging.String("speed", humanize.IBytes(smp.bytesPerSec)+"/s"),
				logging.Int("consecutive_samples", guard.streak),
				logging.String(logging.FieldErrorHint, "retry later or upload the recording instead"),
			)
			s.fail(services.Wrap(services.ErrResourceExhausted, "download", "yt-dlp",
				fmt.Sprintf("throughput stayed below %s/s for %d samples", humanize.IBytes(guard.floor), guard.streak), nil))
		}
	}
	_, _ = io.Copy(io.Discard, stderr)
}

func (s *Stream) rememberStderr(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tail = append(s.tail, line)
	if len(s.tail) > 5 {
		s.tail = s.tail[len(s.tail)-5:]
	}
}

func (s *Stream) stderrTail() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.tail, " | ")
}
