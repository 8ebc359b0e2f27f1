package ytdlp

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"sermonpipe/internal/cancel"
	"sermonpipe/internal/logging"
	"sermonpipe/internal/services"
)

type stubYTDLP struct {
	path     string
	argsFile string
	dir      string
}

// newStub writes a yt-dlp stand-in that records its arguments and then runs
// body. $tmpl holds the value following -o.
func newStub(t *testing.T, body string) stubYTDLP {
	t.Helper()
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args.txt")
	script := "#!/bin/sh\n" +
		"printf '%s\\n' \"$@\" > '" + argsFile + "'\n" +
		"prev=''\nfor a; do if [ \"$prev\" = '-o' ]; then tmpl=\"$a\"; fi; prev=\"$a\"; done\n" +
		body
	path := filepath.Join(dir, "yt-dlp")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return stubYTDLP{path: path, argsFile: argsFile, dir: dir}
}

func (s stubYTDLP) args(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(s.argsFile)
	if err != nil {
		t.Fatalf("read args: %v", err)
	}
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func newTestDownloader(binary string) *Downloader {
	return New(Options{Binary: binary, SlowThreshold: 5, SlowFloor: 64 * 1024, Logger: logging.NewNop()})
}

func slowLines(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteString("echo '[download]   1.0% of ~  50.00MiB at    1.00KiB/s ETA 59:00' >&2\n")
	}
	return b.String()
}

func containsSequence(args []string, seq ...string) bool {
	for i := 0; i+len(seq) <= len(args); i++ {
		match := true
		for j := range seq {
			if args[i+j] != seq[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func TestOpenStreamsStdoutWithSections(t *testing.T) {
	stub := newStub(t, "printf 'audio-bytes'\nexit 0\n")
	d := newTestDownloader(stub.path)

	stream, err := d.Open(context.Background(), "https://example.com/watch?v=abc", Range{Start: 30, Duration: 600}, cancel.New())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	data, err := io.ReadAll(stream)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if string(data) != "audio-bytes" {
		t.Fatalf("unexpected data %q", data)
	}
	if stream.BytesRead() != int64(len("audio-bytes")) {
		t.Fatalf("expected byte count %d, got %d", len("audio-bytes"), stream.BytesRead())
	}

	args := stub.args(t)
	for _, seq := range [][]string{
		{"-f", "bestaudio"},
		{"--audio-format", "mp3"},
		{"--download-sections", "*30-630"},
		{"-o", "-"},
	} {
		if !containsSequence(args, seq...) {
			t.Fatalf("expected %v in args %v", seq, args)
		}
	}
	if args[len(args)-1] != "https://example.com/watch?v=abc" {
		t.Fatalf("expected URL last, got %v", args)
	}
}

func TestOpenWithoutRangeOmitsSections(t *testing.T) {
	stub := newStub(t, "exit 0\n")
	stream, err := newTestDownloader(stub.path).Open(context.Background(), "https://example.com/v", Range{}, cancel.New())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_, _ = io.ReadAll(stream)
	if err := stream.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for _, arg := range stub.args(t) {
		if arg == "--download-sections" {
			t.Fatal("did not expect --download-sections without a range")
		}
	}
}

func TestSlowThroughputFailsWithResourceExhausted(t *testing.T) {
	stub := newStub(t, "trap 'exit 143' TERM\n"+slowLines(7)+"sleep 30 &\nwait $!\n")
	stream, err := newTestDownloader(stub.path).Open(context.Background(), "https://example.com/v", Range{}, cancel.New())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := io.ReadAll(stream)
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, services.ErrResourceExhausted) {
			t.Fatalf("expected resource exhausted from read, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("slow guard did not stop the download")
	}
	if err := stream.Close(); !errors.Is(err, services.ErrResourceExhausted) {
		t.Fatalf("expected resource exhausted from close, got %v", err)
	}
}

func TestFastSampleResetsSlowStreak(t *testing.T) {
	body := slowLines(4) +
		"echo '[download]  10.0% of ~  50.00MiB at    2.00MiB/s ETA 00:20' >&2\n" +
		slowLines(4) +
		"printf 'ok'\nexit 0\n"
	stub := newStub(t, body)
	stream, err := newTestDownloader(stub.path).Open(context.Background(), "https://example.com/v", Range{}, cancel.New())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := io.ReadAll(stream); err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("expected no failure, got %v", err)
	}
}

func TestSlowSamplesIgnoredOnceConsuming(t *testing.T) {
	dir := t.TempDir()
	gate := filepath.Join(dir, "gate")
	body := "while [ ! -f '" + gate + "' ]; do sleep 0.05; done\n" + slowLines(8) + "printf 'ok'\nexit 0\n"
	stub := newStub(t, body)
	stream, err := newTestDownloader(stub.path).Open(context.Background(), "https://example.com/v", Range{}, cancel.New())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	stream.MarkConsuming()
	if err := os.WriteFile(gate, nil, 0o644); err != nil {
		t.Fatalf("write gate: %v", err)
	}
	data, err := io.ReadAll(stream)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("expected no failure once consuming, got %v", err)
	}
	if string(data) != "ok" {
		t.Fatalf("unexpected data %q", data)
	}
}

func TestTokenCancelAbortsStream(t *testing.T) {
	stub := newStub(t, "trap 'exit 143' TERM\nprintf 'abc'\nsleep 30 &\nwait $!\n")
	token := cancel.New()
	stream, err := newTestDownloader(stub.path).Open(context.Background(), "https://example.com/v", Range{}, token)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	buf := make([]byte, 3)
	if _, err := io.ReadFull(stream, buf); err != nil {
		t.Fatalf("read first bytes: %v", err)
	}
	token.Cancel()

	_, err = io.ReadAll(stream)
	if !errors.Is(err, services.ErrAborted) {
		t.Fatalf("expected aborted read, got %v", err)
	}
	if err := stream.Close(); !errors.Is(err, services.ErrAborted) {
		t.Fatalf("expected aborted close, got %v", err)
	}
}

func TestOpenSkipsSpawnWhenCancelled(t *testing.T) {
	stub := newStub(t, "exit 0\n")
	token := cancel.New()
	token.Cancel()
	_, err := newTestDownloader(stub.path).Open(context.Background(), "https://example.com/v", Range{}, token)
	if !errors.Is(err, services.ErrAborted) {
		t.Fatalf("expected aborted, got %v", err)
	}
	if _, statErr := os.Stat(stub.argsFile); !os.IsNotExist(statErr) {
		t.Fatal("expected yt-dlp not to be spawned")
	}
}

func TestNonZeroExitIsInternalWithStderrTail(t *testing.T) {
	stub := newStub(t, "echo 'ERROR: [youtube] abc: Video unavailable' >&2\nexit 1\n")
	stream, err := newTestDownloader(stub.path).Open(context.Background(), "https://example.com/v", Range{}, cancel.New())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_, _ = io.ReadAll(stream)
	err = stream.Close()
	if !errors.Is(err, services.ErrInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
	if !strings.Contains(err.Error(), "Video unavailable") {
		t.Fatalf("expected stderr tail in error, got %v", err)
	}
}

func TestCloseBeforeEOFIsNotAnError(t *testing.T) {
	stub := newStub(t, "trap 'exit 143' TERM\nprintf 'abc'\nsleep 30 &\nwait $!\n")
	stream, err := newTestDownloader(stub.path).Open(context.Background(), "https://example.com/v", Range{}, cancel.New())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	buf := make([]byte, 3)
	if _, err := io.ReadFull(stream, buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("expected clean close, got %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("expected repeated close to be a no-op, got %v", err)
	}
}

func TestDownloadMaterializesFileAndReportsProgress(t *testing.T) {
	body := "dst=$(printf '%s' \"$tmpl\" | sed 's/%(ext)s/mp3/')\n" +
		"echo '[download]  50.0% of   10.00MiB at    5.00MiB/s ETA 00:01' >&2\n" +
		"echo '[download] 100.0% of   10.00MiB at    5.00MiB/s ETA 00:00' >&2\n" +
		"printf 'mp3' > \"$dst\"\nexit 0\n"
	stub := newStub(t, body)
	dst := filepath.Join(t.TempDir(), "source.mp3")

	var mu sync.Mutex
	var seen []float64
	err := newTestDownloader(stub.path).Download(context.Background(), "https://example.com/v", Range{Start: 10}, dst, cancel.New(), func(p float64) {
		mu.Lock()
		seen = append(seen, p)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	data, err := os.ReadFile(dst)
	if err != nil || string(data) != "mp3" {
		t.Fatalf("expected materialized file, got %q err=%v", data, err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != 50 || seen[1] != 100 {
		t.Fatalf("unexpected progress %v", seen)
	}
	if !containsSequence(stub.args(t), "--download-sections", "*10-inf") {
		t.Fatalf("expected open-ended section in %v", stub.args(t))
	}
}

func TestDownloadMissingOutputFails(t *testing.T) {
	stub := newStub(t, "exit 0\n")
	dst := filepath.Join(t.TempDir(), "source.mp3")
	err := newTestDownloader(stub.path).Download(context.Background(), "https://example.com/v", Range{}, dst, cancel.New(), nil)
	if !errors.Is(err, services.ErrInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
}

func TestRangeSections(t *testing.T) {
	cases := []struct {
		rng  Range
		want string
	}{
		{Range{}, ""},
		{Range{Start: 30, Duration: 600}, "*30-630"},
		{Range{Start: 0, Duration: 90.5}, "*0-90.5"},
		{Range{Start: 45}, "*45-inf"},
	}
	for _, tc := range cases {
		if got := tc.rng.sections(); got != tc.want {
			t.Fatalf("sections(%+v) = %q, want %q", tc.rng, got, tc.want)
		}
	}
}

func TestParseProgressLine(t *testing.T) {
	s, ok := parseProgressLine("[download]  12.5% of ~  50.00MiB at    1.50MiB/s ETA 00:30")
	if !ok || !s.hasPercent || s.percent != 12.5 {
		t.Fatalf("unexpected percent parse %+v ok=%v", s, ok)
	}
	if !s.hasSpeed || s.bytesPerSec != 1572864 {
		t.Fatalf("unexpected speed parse %+v", s)
	}

	s, ok = parseProgressLine("[download]   3.0% of ~  50.00MiB at  Unknown B/s ETA Unknown")
	if !ok || s.hasSpeed {
		t.Fatalf("expected percent without speed, got %+v ok=%v", s, ok)
	}

	if _, ok := parseProgressLine("[youtube] abc: Downloading webpage"); ok {
		t.Fatal("expected non-download line to be ignored")
	}
}

func TestSlowGuardThreshold(t *testing.T) {
	g := slowGuard{floor: 100, threshold: 2}
	if g.observe(10) || g.observe(10) {
		t.Fatal("guard tripped at threshold")
	}
	if !g.observe(10) {
		t.Fatal("expected guard to trip past threshold")
	}
	g = slowGuard{floor: 100, threshold: 2}
	g.observe(10)
	g.observe(10)
	g.observe(500)
	if g.observe(10) {
		t.Fatal("expected fast sample to reset the streak")
	}
}
