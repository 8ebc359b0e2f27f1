package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	ScratchDir string `toml:"scratch_dir"`
	DataDir    string `toml:"data_dir"`
	LogDir     string `toml:"log_dir"`
	APIBind    string `toml:"api_bind"`
	APIToken   string `toml:"api_token"`
}

// Binaries names the external executables. The values are resolved once at
// startup and treated as read-only afterwards.
type Binaries struct {
	FFmpeg  string `toml:"ffmpeg"`
	FFprobe string `toml:"ffprobe"`
	YTDLP   string `toml:"yt_dlp"`
}

// Pipeline contains the audio assembly budget and tuning knobs.
type Pipeline struct {
	DispatcherTimeout   int    `toml:"dispatcher_timeout"`
	SafetyMargin        int    `toml:"safety_margin"`
	DrainTimeout        int    `toml:"drain_timeout"`
	DocumentPollTries   int    `toml:"document_poll_attempts"`
	DocumentPollDelay   int    `toml:"document_poll_delay"`
	DownloadBandEnd     int    `toml:"download_band_end"`
	TranscodeBandEnd    int    `toml:"transcode_band_end"`
	SlowSampleThreshold int    `toml:"slow_sample_threshold"`
	SlowThroughputBytes int64  `toml:"slow_throughput_bytes"`
	MaterializeStreams  bool   `toml:"materialize_streams"`
	OutputPrefix        string `toml:"output_prefix"`
	SignedURLTTL        int    `toml:"signed_url_ttl"`
	FetchTimeout        int    `toml:"fetch_timeout"`
}

// Queue contains dispatcher retry and worker settings.
type Queue struct {
	MaxAttempts       int `toml:"max_attempts"`
	MinBackoff        int `toml:"min_backoff"`
	MaxBackoff        int `toml:"max_backoff"`
	PollInterval      int `toml:"poll_interval"`
	Workers           int `toml:"workers"`
	HeartbeatInterval int `toml:"heartbeat_interval"`
	HeartbeatTimeout  int `toml:"heartbeat_timeout"`
}

// Storage selects and configures the object store.
type Storage struct {
	Backend   string `toml:"backend"`
	LocalRoot string `toml:"local_root"`
	Endpoint  string `toml:"endpoint"`
	Bucket    string `toml:"bucket"`
	Region    string `toml:"region"`
	UseSSL    bool   `toml:"use_ssl"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
}

// Documents selects the sermon document store.
type Documents struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

// Progress selects the live progress channel.
type Progress struct {
	Backend   string `toml:"backend"`
	RedisURL  string `toml:"redis_url"`
	KeyPrefix string `toml:"key_prefix"`
	TTL       int    `toml:"ttl"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for sermonpipe.
//
// Configuration sections by subsystem:
//   - Paths: scratch, data, and log directories plus the API bind address
//   - Binaries: ffmpeg, ffprobe, and yt-dlp executables
//   - Pipeline: deadline budget, progress bands, slow-stream guard
//   - Queue: dispatcher retry policy and worker pool
//   - Storage: object store backend (local or s3)
//   - Documents: document store driver (sqlite or postgres)
//   - Progress: progress channel backend (memory or redis)
//   - Logging: log format and level
type Config struct {
	Paths     Paths     `toml:"paths"`
	Binaries  Binaries  `toml:"binaries"`
	Pipeline  Pipeline  `toml:"pipeline"`
	Queue     Queue     `toml:"queue"`
	Storage   Storage   `toml:"storage"`
	Documents Documents `toml:"documents"`
	Progress  Progress  `toml:"progress"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and environment overrides applied.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("sermonpipe.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.ScratchDir, c.Paths.DataDir, c.Paths.LogDir}
	if c.Storage.Backend == StorageLocal {
		dirs = append(dirs, c.Storage.LocalRoot)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// QueuePath returns the SQLite database backing the task queue.
func (c *Config) QueuePath() string {
	return filepath.Join(c.Paths.DataDir, "queue.db")
}

// LockPath returns the daemon lock file path.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "sermonpipe.lock")
}

// JobBudget is the wall-clock budget of one pipeline run: the dispatcher
// timeout minus the safety margin.
func (c *Config) JobBudget() time.Duration {
	budget := c.Pipeline.DispatcherTimeout - c.Pipeline.SafetyMargin
	if budget <= 0 {
		budget = c.Pipeline.DispatcherTimeout
	}
	return seconds(budget)
}

// DrainTimeout bounds how long a timed-out run may keep cleaning up.
func (c *Config) DrainTimeout() time.Duration { return seconds(c.Pipeline.DrainTimeout) }

// DocumentPollDelay is the fixed delay between document existence checks.
func (c *Config) DocumentPollDelay() time.Duration { return seconds(c.Pipeline.DocumentPollDelay) }

// SignedURLTTL is the lifetime of signed URLs handed to ffmpeg.
func (c *Config) SignedURLTTL() time.Duration { return seconds(c.Pipeline.SignedURLTTL) }

// FetchTimeout bounds a single intro or outro download.
func (c *Config) FetchTimeout() time.Duration { return seconds(c.Pipeline.FetchTimeout) }

// MinBackoff is the first redelivery delay.
func (c *Config) MinBackoff() time.Duration { return seconds(c.Queue.MinBackoff) }

// MaxBackoff caps redelivery delays.
func (c *Config) MaxBackoff() time.Duration { return seconds(c.Queue.MaxBackoff) }

// QueuePollInterval is how often idle workers look for pending tasks.
func (c *Config) QueuePollInterval() time.Duration { return seconds(c.Queue.PollInterval) }

// HeartbeatInterval is how often running tasks refresh their heartbeat.
func (c *Config) HeartbeatInterval() time.Duration { return seconds(c.Queue.HeartbeatInterval) }

// HeartbeatTimeout is the age after which a running task is reclaimed.
func (c *Config) HeartbeatTimeout() time.Duration { return seconds(c.Queue.HeartbeatTimeout) }

// ProgressTTL bounds how long an abandoned progress key lingers.
func (c *Config) ProgressTTL() time.Duration { return seconds(c.Progress.TTL) }

func seconds(v int) time.Duration {
	return time.Duration(v) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
