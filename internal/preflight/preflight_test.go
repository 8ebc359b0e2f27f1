package preflight

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"sermonpipe/internal/objectstore"
	"sermonpipe/internal/testsupport"
)

type pingerFunc func(context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckPing(t *testing.T) {
	ok := CheckPing(context.Background(), "up", pingerFunc(func(context.Context) error { return nil }))
	if !ok.Passed {
		t.Fatalf("expected pass, got %q", ok.Detail)
	}
	down := CheckPing(context.Background(), "down", pingerFunc(func(context.Context) error {
		return errors.New("connection refused")
	}))
	if down.Passed || down.Detail != "connection refused" {
		t.Fatalf("unexpected result %#v", down)
	}
	slow := CheckPing(context.Background(), "slow", pingerFunc(func(context.Context) error {
		return context.DeadlineExceeded
	}))
	if slow.Passed || slow.Detail != "ping timed out (backend unresponsive)" {
		t.Fatalf("unexpected result %#v", slow)
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil, Backends{}); results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_StubbedBinaries(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	binDir := filepath.Join(testsupport.BaseDir(cfg), "bin")
	cfg.Binaries.FFmpeg = testsupport.WriteStub(t, binDir, "ffmpeg",
		"echo ' A....D libmp3lame           libmp3lame MP3 (MPEG audio layer 3)'\n")
	bucket, err := objectstore.NewLocal(cfg.Storage.LocalRoot, nil)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	up := pingerFunc(func(context.Context) error { return nil })
	results := RunAll(context.Background(), cfg, Backends{Documents: up, Progress: up, Queue: up, Bucket: bucket})
	// scratch, data, three binaries, encoder, three pings, bucket
	if len(results) != 10 {
		t.Fatalf("expected 10 results, got %d: %#v", len(results), results)
	}
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("unexpected failures: %#v", failed)
	}
}

func TestRunAll_ReportsMissingBinary(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries("ffprobe", "yt-dlp"))
	cfg.Binaries.FFmpeg = filepath.Join(t.TempDir(), "absent-ffmpeg")

	failed := Failed(RunAll(context.Background(), cfg, Backends{}))
	names := map[string]bool{}
	for _, r := range failed {
		names[r.Name] = true
	}
	if !names["FFmpeg"] || !names["FFmpeg libmp3lame"] {
		t.Fatalf("expected ffmpeg and encoder failures, got %#v", failed)
	}
}
