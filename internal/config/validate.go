package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateDocuments(); err != nil {
		return err
	}
	if err := c.validateProgress(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePipeline() error {
	p := c.Pipeline
	if p.DispatcherTimeout <= 0 {
		return errors.New("pipeline.dispatcher_timeout must be positive")
	}
	if p.SafetyMargin < 0 || p.SafetyMargin >= p.DispatcherTimeout {
		return errors.New("pipeline.safety_margin must be non-negative and below dispatcher_timeout")
	}
	if p.DrainTimeout < 0 {
		return errors.New("pipeline.drain_timeout must be non-negative")
	}
	if p.DocumentPollDelay < 0 {
		return errors.New("pipeline.document_poll_delay must be non-negative")
	}
	if p.TranscodeBandEnd <= 0 || p.TranscodeBandEnd >= 100 {
		return fmt.Errorf("pipeline.transcode_band_end must be between 1 and 99 (got %d)", p.TranscodeBandEnd)
	}
	if p.DownloadBandEnd < 0 || p.DownloadBandEnd >= p.TranscodeBandEnd {
		return errors.New("pipeline.download_band_end must be below transcode_band_end")
	}
	if p.SlowThroughputBytes < 0 {
		return errors.New("pipeline.slow_throughput_bytes must be non-negative")
	}
	if p.SignedURLTTL <= 0 {
		return errors.New("pipeline.signed_url_ttl must be positive")
	}
	return nil
}

func (c *Config) validateQueue() error {
	q := c.Queue
	if q.MaxAttempts < 1 {
		return errors.New("queue.max_attempts must be at least 1")
	}
	if q.MinBackoff < 0 || q.MaxBackoff < q.MinBackoff {
		return errors.New("queue.max_backoff must be greater than or equal to queue.min_backoff")
	}
	if q.HeartbeatInterval <= 0 {
		return errors.New("queue.heartbeat_interval must be positive")
	}
	if q.HeartbeatTimeout <= q.HeartbeatInterval {
		return errors.New("queue.heartbeat_timeout must be greater than queue.heartbeat_interval")
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case StorageLocal:
		return nil
	case StorageS3:
		if strings.TrimSpace(c.Storage.Endpoint) == "" {
			return errors.New("storage.endpoint must be set when storage.backend is s3")
		}
		if strings.TrimSpace(c.Storage.Bucket) == "" {
			return errors.New("storage.bucket must be set when storage.backend is s3")
		}
		if c.Storage.AccessKey == "" || c.Storage.SecretKey == "" {
			return errors.New("storage credentials missing; set SERMONPIPE_S3_ACCESS_KEY and SERMONPIPE_S3_SECRET_KEY")
		}
		return nil
	default:
		return fmt.Errorf("storage.backend: unsupported value %q", c.Storage.Backend)
	}
}

func (c *Config) validateDocuments() error {
	switch c.Documents.Driver {
	case DocumentsSQLite:
		return nil
	case DocumentsPostgres:
		if strings.TrimSpace(c.Documents.DSN) == "" {
			return errors.New("documents.dsn must be set when documents.driver is postgres")
		}
		return nil
	default:
		return fmt.Errorf("documents.driver: unsupported value %q", c.Documents.Driver)
	}
}

func (c *Config) validateProgress() error {
	switch c.Progress.Backend {
	case ProgressMemory:
		return nil
	case ProgressRedis:
		if strings.TrimSpace(c.Progress.RedisURL) == "" {
			return errors.New("progress.redis_url must be set when progress.backend is redis")
		}
		return nil
	default:
		return fmt.Errorf("progress.backend: unsupported value %q", c.Progress.Backend)
	}
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
