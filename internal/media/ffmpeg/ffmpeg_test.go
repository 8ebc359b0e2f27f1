package ffmpeg

import (
	"context"
	"errors"
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

type stubFFmpeg struct {
	path     string
	argsFile string
	dir      string
}

// newStub writes an ffmpeg stand-in. The script records its arguments one per
// line, exposes the last argument as $out, then runs body.
func newStub(t *testing.T, body string) stubFFmpeg {
	t.Helper()
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args.txt")
	script := "#!/bin/sh\n" +
		"printf '%s\\n' \"$@\" > '" + argsFile + "'\n" +
		"for out; do :; done\n" +
		body
	path := filepath.Join(dir, "ffmpeg")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return stubFFmpeg{path: path, argsFile: argsFile, dir: dir}
}

func (s stubFFmpeg) args(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(s.argsFile)
	if err != nil {
		t.Fatalf("read args: %v", err)
	}
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

type progressLog struct {
	mu     sync.Mutex
	values []float64
}

func (p *progressLog) record(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values = append(p.values, v)
}

func (p *progressLog) snapshot() []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]float64(nil), p.values...)
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

func TestTranscodeArgsAndProgress(t *testing.T) {
	stub := newStub(t, `
echo "out_time_us=150000000"
echo "progress=continue"
echo "out_time_ms=300000000"
echo "progress=continue"
echo "out_time=00:10:00.000000"
echo "progress=end"
echo mp3 > "$out"
`)
	output := filepath.Join(stub.dir, "content.mp3")
	var progress progressLog
	tr := NewTranscoder(stub.path, logging.NewNop())
	res, err := tr.Transcode(context.Background(), TranscodeRequest{
		Input:       "https://storage.example.com/raw/s1.mp3?sig=abc",
		Output:      output,
		StartOffset: 30,
		Duration:    600,
	}, cancel.New(), progress.record)
	if err != nil {
		t.Fatalf("Transcode: %v", err)
	}
	if res.State != StateCompleted {
		t.Fatalf("state = %s", res.State)
	}
	if res.OutTime != 600 {
		t.Fatalf("out time = %v", res.OutTime)
	}

	args := stub.args(t)
	for _, seq := range [][]string{
		{"-progress", "pipe:1"},
		{"-ss", "30.000"},
		{"-t", "600.000"},
		{"-i", "https://storage.example.com/raw/s1.mp3?sig=abc"},
		{"-af", AudioFilters},
		{"-c:a", "libmp3lame"},
		{"-b:a", "128k"},
		{"-ar", "44100"},
		{"-ac", "2"},
	} {
		if !containsSequence(args, seq...) {
			t.Fatalf("expected %v in args %v", seq, args)
		}
	}
	if args[len(args)-1] != output {
		t.Fatalf("expected output last, got %v", args)
	}

	values := progress.snapshot()
	want := []float64{25, 50, 100, 100}
	if len(values) != len(want) {
		t.Fatalf("progress = %v, want %v", values, want)
	}
	for i := range want {
		if values[i] != want[i] {
			t.Fatalf("progress = %v, want %v", values, want)
		}
	}
}

func TestTranscodeProgressUsesInputDurationWhenDurationUnset(t *testing.T) {
	stub := newStub(t, `
echo "out_time_us=45000000"
echo "progress=end"
`)
	var progress progressLog
	_, err := NewTranscoder(stub.path, nil).Transcode(context.Background(), TranscodeRequest{
		Input:         "in.mp3",
		Output:        filepath.Join(stub.dir, "out.mp3"),
		StartOffset:   10,
		InputDuration: 100,
	}, cancel.New(), progress.record)
	if err != nil {
		t.Fatalf("Transcode: %v", err)
	}
	if values := progress.snapshot(); len(values) == 0 || values[0] != 50 {
		t.Fatalf("progress = %v, want first value 50", values)
	}
	if containsSequence(stub.args(t), "-t") {
		t.Fatal("did not expect -t without a duration")
	}
}

func TestTrimUsesStreamCopy(t *testing.T) {
	stub := newStub(t, "exit 0\n")
	_, err := NewTranscoder(stub.path, nil).Trim(context.Background(), TranscodeRequest{
		Input:    "in.mp3",
		Output:   filepath.Join(stub.dir, "out.mp3"),
		Duration: 20,
	}, cancel.New(), nil)
	if err != nil {
		t.Fatalf("Trim: %v", err)
	}
	args := stub.args(t)
	if !containsSequence(args, "-c", "copy") {
		t.Fatalf("expected stream copy, got %v", args)
	}
	if containsSequence(args, "-af") {
		t.Fatalf("trim must not filter, got %v", args)
	}
}

func TestFatalStderrPreemptsExitError(t *testing.T) {
	stub := newStub(t, `
echo "Output file is empty, nothing was encoded" >&2
exit 1
`)
	res, err := NewTranscoder(stub.path, nil).Transcode(context.Background(), TranscodeRequest{
		Input: "in.mp3", Output: filepath.Join(stub.dir, "out.mp3"), Duration: 10,
	}, cancel.New(), nil)
	if !errors.Is(err, services.ErrInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
	if !strings.Contains(err.Error(), "Output file is empty") {
		t.Fatalf("expected classified message, got %v", err)
	}
	if res.State != StateFailed {
		t.Fatalf("state = %s", res.State)
	}
}

func TestFatalStderrFailsEvenOnCleanExit(t *testing.T) {
	stub := newStub(t, `
echo "Output file is empty, nothing was encoded" >&2
exit 0
`)
	_, err := NewTranscoder(stub.path, nil).Transcode(context.Background(), TranscodeRequest{
		Input: "in.mp3", Output: filepath.Join(stub.dir, "out.mp3"), Duration: 10,
	}, cancel.New(), nil)
	if !errors.Is(err, services.ErrInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
}

func TestTransientWarningsIgnored(t *testing.T) {
	stub := newStub(t, `
echo "[mp3 @ 0x1] Header missing" >&2
echo "[mp3 @ 0x1] Estimating duration from bitrate, this may be inaccurate" >&2
exit 0
`)
	if _, err := NewTranscoder(stub.path, nil).Transcode(context.Background(), TranscodeRequest{
		Input: "in.mp3", Output: filepath.Join(stub.dir, "out.mp3"), Duration: 10,
	}, cancel.New(), nil); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}

func TestGenericExitFailure(t *testing.T) {
	stub := newStub(t, `
echo "in.mp3: No such file or directory" >&2
exit 1
`)
	res, err := NewTranscoder(stub.path, nil).Transcode(context.Background(), TranscodeRequest{
		Input: "in.mp3", Output: filepath.Join(stub.dir, "out.mp3"), Duration: 10,
	}, cancel.New(), nil)
	if !errors.Is(err, services.ErrInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
	if !strings.Contains(err.Error(), "No such file or directory") {
		t.Fatalf("expected stderr tail in error, got %v", err)
	}
	if res.State != StateFailed {
		t.Fatalf("state = %s", res.State)
	}
}

func TestCancellationMidTranscodeSendsSIGTERM(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "terminated")
	stub := newStub(t, `
trap 'echo term > '"'`+marker+`'"'; exit 143' TERM
echo "out_time_us=240000000"
echo "progress=continue"
sleep 30 &
wait $!
echo "out_time_us=600000000"
`)
	token := cancel.New()
	var progress progressLog
	onProgress := func(p float64) {
		progress.record(p)
		if p >= 40 {
			token.Cancel()
		}
	}

	done := make(chan struct{})
	var (
		res Result
		err error
	)
	go func() {
		defer close(done)
		res, err = NewTranscoder(stub.path, logging.NewNop()).Transcode(context.Background(), TranscodeRequest{
			Input: "in.mp3", Output: filepath.Join(dir, "out.mp3"), Duration: 600,
		}, token, onProgress)
	}()

	select {
	case <-done:
	case <-time.After(15 * time.Second):
		t.Fatal("transcode did not stop after cancellation")
	}
	if !errors.Is(err, services.ErrAborted) {
		t.Fatalf("expected aborted, got %v", err)
	}
	if res.State != StateAborted {
		t.Fatalf("state = %s", res.State)
	}
	if _, statErr := os.Stat(marker); statErr != nil {
		t.Fatalf("expected ffmpeg to receive SIGTERM: %v", statErr)
	}
	for _, v := range progress.snapshot() {
		if v > 40 {
			t.Fatalf("unexpected progress after cancellation: %v", progress.snapshot())
		}
	}
}

func TestCancelledTokenSkipsSpawn(t *testing.T) {
	stub := newStub(t, "exit 0\n")
	token := cancel.New()
	token.Cancel()
	_, err := NewTranscoder(stub.path, nil).Transcode(context.Background(), TranscodeRequest{
		Input: "in.mp3", Output: filepath.Join(stub.dir, "out.mp3"), Duration: 10,
	}, token, nil)
	if !errors.Is(err, services.ErrAborted) {
		t.Fatalf("expected aborted, got %v", err)
	}
	if _, statErr := os.Stat(stub.argsFile); !os.IsNotExist(statErr) {
		t.Fatal("ffmpeg should not have been spawned")
	}
}

func TestTranscodeFromStdin(t *testing.T) {
	stub := newStub(t, `cat > "$out"`+"\n")
	output := filepath.Join(stub.dir, "out.mp3")
	_, err := NewTranscoder(stub.path, nil).Transcode(context.Background(), TranscodeRequest{
		Stdin:    strings.NewReader("streamed-bytes"),
		Output:   output,
		Duration: 10,
	}, cancel.New(), nil)
	if err != nil {
		t.Fatalf("Transcode: %v", err)
	}
	if !containsSequence(stub.args(t), "-i", "pipe:0") {
		t.Fatalf("expected pipe input, got %v", stub.args(t))
	}
	data, err := os.ReadFile(output)
	if err != nil || string(data) != "streamed-bytes" {
		t.Fatalf("unexpected output %q (%v)", data, err)
	}
}

func TestConcatWritesOrderedList(t *testing.T) {
	stub := newStub(t, `
echo "out_time_us=5000000"
echo "progress=end"
`)
	dir := t.TempDir()
	list := filepath.Join(dir, "list.txt")
	segments := SegmentOrder(filepath.Join(dir, "intro.mp3"), filepath.Join(dir, "it's content.mp3"), filepath.Join(dir, "outro.mp3"))
	var progress progressLog
	_, err := NewConcatenator(stub.path, nil).Concat(context.Background(), ConcatRequest{
		Segments:     segments,
		ListPath:     list,
		Output:       filepath.Join(dir, "final.mp3"),
		TotalSeconds: 10,
	}, cancel.New(), progress.record)
	if err != nil {
		t.Fatalf("Concat: %v", err)
	}

	data, err := os.ReadFile(list)
	if err != nil {
		t.Fatalf("read list: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("unexpected list %q", data)
	}
	if !strings.Contains(lines[0], "intro.mp3") || !strings.Contains(lines[2], "outro.mp3") {
		t.Fatalf("unexpected order %q", data)
	}
	if !strings.Contains(lines[1], `it'\''s content.mp3`) {
		t.Fatalf("expected escaped quote, got %q", lines[1])
	}
	if !containsSequence(stub.args(t), "-f", "concat", "-safe", "0", "-i", list, "-c", "copy") {
		t.Fatalf("unexpected args %v", stub.args(t))
	}
	if values := progress.snapshot(); len(values) == 0 || values[0] != 50 {
		t.Fatalf("progress = %v", values)
	}
}

func TestSegmentOrderSkipsMissing(t *testing.T) {
	got := SegmentOrder("", "content.mp3", "outro.mp3")
	if len(got) != 2 || got[0] != "content.mp3" || got[1] != "outro.mp3" {
		t.Fatalf("unexpected order %v", got)
	}
}

func TestParseTimemark(t *testing.T) {
	cases := map[string]float64{
		"00:00:01.500000": 1.5,
		"01:02:03.250000": 3723.25,
	}
	for in, want := range cases {
		got, ok := parseTimemark(in)
		if !ok || got != want {
			t.Fatalf("parseTimemark(%q) = %v %v, want %v", in, got, ok, want)
		}
	}
	for _, bad := range []string{"N/A", "-00:00:01", "12"} {
		if _, ok := parseTimemark(bad); ok {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestPercentOfClamps(t *testing.T) {
	if got := percentOf(700, 600); got != 100 {
		t.Fatalf("got %v", got)
	}
	if got := percentOf(-5, 600); got != 0 {
		t.Fatalf("got %v", got)
	}
	if got := percentOf(10, 0); got != -1 {
		t.Fatalf("got %v", got)
	}
}
