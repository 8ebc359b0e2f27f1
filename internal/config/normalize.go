package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// envOverrides carries secrets and connection strings that are usually
// injected by the service manager rather than written to the TOML file.
type envOverrides struct {
	APIToken    string `envconfig:"SERMONPIPE_API_TOKEN"`
	S3AccessKey string `envconfig:"SERMONPIPE_S3_ACCESS_KEY"`
	S3SecretKey string `envconfig:"SERMONPIPE_S3_SECRET_KEY"`
	S3Endpoint  string `envconfig:"SERMONPIPE_S3_ENDPOINT"`
	RedisURL    string `envconfig:"SERMONPIPE_REDIS_URL"`
	PostgresDSN string `envconfig:"SERMONPIPE_POSTGRES_DSN"`
	LogLevel    string `envconfig:"SERMONPIPE_LOG_LEVEL"`
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("read environment overrides: %w", err)
	}
	override := func(dst *string, value string) {
		if v := strings.TrimSpace(value); v != "" {
			*dst = v
		}
	}
	override(&c.Paths.APIToken, env.APIToken)
	override(&c.Storage.AccessKey, env.S3AccessKey)
	override(&c.Storage.SecretKey, env.S3SecretKey)
	override(&c.Storage.Endpoint, env.S3Endpoint)
	override(&c.Progress.RedisURL, env.RedisURL)
	override(&c.Logging.Level, env.LogLevel)
	if dsn := strings.TrimSpace(env.PostgresDSN); dsn != "" {
		c.Documents.Driver = DocumentsPostgres
		c.Documents.DSN = dsn
	}
	return nil
}

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeBinaries()
	c.normalizePipeline()
	if err := c.normalizeBackends(); err != nil {
		return err
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.ScratchDir, err = expandPath(c.Paths.ScratchDir); err != nil {
		return fmt.Errorf("paths.scratch_dir: %w", err)
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	return nil
}

func (c *Config) normalizeBinaries() {
	trim := func(value, fallback string) string {
		if v := strings.TrimSpace(value); v != "" {
			return v
		}
		return fallback
	}
	c.Binaries.FFmpeg = trim(c.Binaries.FFmpeg, "ffmpeg")
	c.Binaries.FFprobe = trim(c.Binaries.FFprobe, "ffprobe")
	c.Binaries.YTDLP = trim(c.Binaries.YTDLP, "yt-dlp")
}

func (c *Config) normalizePipeline() {
	c.Pipeline.OutputPrefix = strings.Trim(strings.TrimSpace(c.Pipeline.OutputPrefix), "/")
	if c.Pipeline.OutputPrefix == "" {
		c.Pipeline.OutputPrefix = defaultOutputPrefix
	}
	if c.Pipeline.SlowSampleThreshold <= 0 {
		c.Pipeline.SlowSampleThreshold = defaultSlowSampleThreshold
	}
	if c.Pipeline.DocumentPollTries <= 0 {
		c.Pipeline.DocumentPollTries = defaultDocumentPollTries
	}
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = defaultWorkers
	}
	if c.Queue.PollInterval <= 0 {
		c.Queue.PollInterval = defaultPollInterval
	}
}

func (c *Config) normalizeBackends() error {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageLocal
	}
	if c.Storage.Backend == StorageLocal {
		root := c.Storage.LocalRoot
		if strings.TrimSpace(root) == "" {
			root = defaultLocalStorageRoot
		}
		var err error
		if c.Storage.LocalRoot, err = expandPath(root); err != nil {
			return fmt.Errorf("storage.local_root: %w", err)
		}
	}

	c.Documents.Driver = strings.ToLower(strings.TrimSpace(c.Documents.Driver))
	if c.Documents.Driver == "" {
		c.Documents.Driver = DocumentsSQLite
	}
	if c.Documents.Driver == DocumentsSQLite && strings.TrimSpace(c.Documents.DSN) == "" {
		c.Documents.DSN = filepath.Join(c.Paths.DataDir, "documents.db")
	}

	c.Progress.Backend = strings.ToLower(strings.TrimSpace(c.Progress.Backend))
	if c.Progress.Backend == "" {
		c.Progress.Backend = ProgressMemory
	}
	if c.Progress.Backend == ProgressMemory && strings.TrimSpace(c.Progress.RedisURL) != "" {
		c.Progress.Backend = ProgressRedis
	}
	c.Progress.KeyPrefix = strings.Trim(strings.TrimSpace(c.Progress.KeyPrefix), "/")
	if c.Progress.KeyPrefix == "" {
		c.Progress.KeyPrefix = defaultProgressKeyPrefix
	}
	return nil
}
