package daemonrun_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sermonpipe/internal/daemonrun"
	"sermonpipe/internal/docstore"
	"sermonpipe/internal/logging"
	"sermonpipe/internal/services"
	"sermonpipe/internal/source"
	"sermonpipe/internal/testsupport"
)

const ffmpegStub = `for out; do :; done
dur=60
prev=""
for a; do
  [ "$prev" = "-t" ] && dur="$a"
  prev="$a"
done
echo "progress=end"
printf 'duration=%s\n' "$dur" > "$out"
`

const ffprobeStub = `for p; do :; done
d=$(sed -n 's/^duration=//p' "$p")
printf '{"streams":[{"index":0,"codec_type":"audio","codec_name":"mp3"}],"format":{"duration":"%s"}}\n' "$d"
`

func TestRunOnceProcessesStorageSource(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries("yt-dlp"))
	binDir := filepath.Join(testsupport.BaseDir(cfg), "bin")
	cfg.Binaries.FFmpeg = testsupport.WriteStub(t, binDir, "ffmpeg", ffmpegStub)
	cfg.Binaries.FFprobe = testsupport.WriteStub(t, binDir, "ffprobe", ffprobeStub)

	ctx := context.Background()
	logger := logging.NewNop()
	docs, err := docstore.OpenSQLite(ctx, cfg.Documents.DSN, logger)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := docs.Put(ctx, docstore.Document{ID: "s1", Title: "Advent"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	_ = docs.Close()

	raw := filepath.Join(cfg.Storage.LocalRoot, "raw", "s1.mp3")
	if err := os.MkdirAll(filepath.Dir(raw), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(raw, []byte("duration=1200\n"), 0o644); err != nil {
		t.Fatalf("write raw: %v", err)
	}

	result, err := daemonrun.RunOnce(ctx, cfg, source.Payload{
		ID:              "s1",
		StartTime:       10,
		Duration:        300,
		StorageFilePath: "raw/s1.mp3",
	}, logger)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if result.JobID != "s1" || result.DurationSeconds != 300 {
		t.Fatalf("unexpected result %#v", result)
	}
	if !strings.HasSuffix(result.OutputKey, "s1") {
		t.Fatalf("output key = %q", result.OutputKey)
	}
	if _, err := os.Stat(filepath.Join(cfg.Storage.LocalRoot, filepath.FromSlash(result.OutputKey))); err != nil {
		t.Fatalf("output not uploaded: %v", err)
	}

	docs, err = docstore.OpenSQLite(ctx, cfg.Documents.DSN, logger)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer docs.Close()
	doc, err := docs.Get(ctx, "s1")
	if err != nil || doc == nil {
		t.Fatalf("Get: %v %v", doc, err)
	}
	if doc.AudioStatus() != docstore.StatusProcessed {
		t.Fatalf("status = %s", doc.AudioStatus())
	}
}

func TestRunOnceRejectsInvalidPayload(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	_, err := daemonrun.RunOnce(context.Background(), cfg, source.Payload{ID: "s1"}, logging.NewNop())
	if !errors.Is(err, services.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestRunOnceRequiresBinaries(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Binaries.FFmpeg = filepath.Join(t.TempDir(), "missing-ffmpeg")
	_, err := daemonrun.RunOnce(context.Background(), cfg, source.Payload{
		ID: "s1", Duration: 60, StorageFilePath: "raw/s1.mp3",
	}, logging.NewNop())
	if !errors.Is(err, services.ErrInvalidArgument) || !strings.Contains(err.Error(), "FFmpeg") {
		t.Fatalf("expected missing ffmpeg, got %v", err)
	}
}

func TestOpenStackRequiresConfig(t *testing.T) {
	if _, err := daemonrun.OpenStack(context.Background(), nil, logging.NewNop()); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestOpenStackClosesCleanly(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	stack, err := daemonrun.OpenStack(context.Background(), cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("OpenStack: %v", err)
	}
	if stack.Orchestrator == nil || stack.Metrics == nil {
		t.Fatalf("incomplete stack %#v", stack)
	}
	if err := stack.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := stack.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestNewLoggerWritesLogFile(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	logger, err := daemonrun.NewLogger(cfg, daemonrun.Options{LogLevel: "debug"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Debug("hello from the daemon")
	data, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, "sermonpipe.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "hello from the daemon") {
		t.Fatalf("debug line missing from log: %s", data)
	}
}
