package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"sermonpipe/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Backends default to local storage, SQLite documents and in-memory progress.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.ScratchDir = filepath.Join(base, "scratch")
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Storage.Backend = config.StorageLocal
	cfgVal.Storage.LocalRoot = filepath.Join(base, "bucket")
	cfgVal.Documents.Driver = config.DocumentsSQLite
	cfgVal.Documents.DSN = filepath.Join(base, "data", "documents.db")
	cfgVal.Progress.Backend = config.ProgressMemory
	cfgVal.Pipeline.DocumentPollDelay = 0
	cfgVal.Queue.MinBackoff = 0
	cfgVal.Queue.MaxBackoff = 0
	cfgVal.Queue.PollInterval = 1

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithAPIToken sets the bearer token required by the API.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.APIToken = token
	}
}

// WithStubbedBinaries writes stub executables for the provided names into
// the config's bin directory and points the binaries section at them. Names
// without a script exit 0. If names is empty, ffmpeg, ffprobe and yt-dlp are
// stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"ffmpeg", "ffprobe", "yt-dlp"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		for _, name := range names {
			path := WriteStub(b.t, binDir, name, "exit 0\n")
			switch name {
			case "ffmpeg":
				b.cfg.Binaries.FFmpeg = path
			case "ffprobe":
				b.cfg.Binaries.FFprobe = path
			case "yt-dlp":
				b.cfg.Binaries.YTDLP = path
			}
		}
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.ScratchDir)
}

// WriteStub writes an executable shell script named name into dir and
// returns its path. body follows the "#!/bin/sh" line.
func WriteStub(t testing.TB, dir, name, body string) string {
	t.Helper()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write stub %s: %v", name, err)
	}
	return path
}
