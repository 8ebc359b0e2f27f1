package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"sermonpipe/internal/config"
	"sermonpipe/internal/docstore"
	"sermonpipe/internal/fetch"
	"sermonpipe/internal/media/ffmpeg"
	"sermonpipe/internal/media/ffprobe"
	"sermonpipe/internal/metrics"
	"sermonpipe/internal/objectstore"
	"sermonpipe/internal/pipeline"
	"sermonpipe/internal/progress"
	"sermonpipe/internal/ytdlp"
)

// Stack holds the backends and the orchestrator built over them.
type Stack struct {
	Documents    docstore.Store
	Bucket       objectstore.Bucket
	Progress     progress.Channel
	Metrics      *metrics.Recorder
	Orchestrator *pipeline.Orchestrator

	closers []func() error
}

// OpenStack opens every backend named by cfg. On error anything already
// opened is closed again.
func OpenStack(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Stack, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	s := &Stack{Metrics: metrics.New()}

	docs, err := docstore.Open(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open document store: %w", err)
	}
	s.Documents = docs
	s.closers = append(s.closers, docs.Close)

	bucket, err := objectstore.Open(cfg, logger)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("open bucket: %w", err)
	}
	s.Bucket = bucket

	channel, err := progress.Open(cfg)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("open progress channel: %w", err)
	}
	s.Progress = channel
	s.closers = append(s.closers, channel.Close)

	orch, err := pipeline.New(pipeline.Deps{
		Documents: docs,
		Bucket:    bucket,
		Progress:  channel,
		Fetcher:   fetch.New(cfg.FetchTimeout(), logger),
		Downloader: ytdlp.New(ytdlp.Options{
			Binary:        cfg.Binaries.YTDLP,
			SlowThreshold: cfg.Pipeline.SlowSampleThreshold,
			SlowFloor:     cfg.Pipeline.SlowThroughputBytes,
			Logger:        logger,
		}),
		Transcoder:   ffmpeg.NewTranscoder(cfg.Binaries.FFmpeg, logger),
		Concatenator: ffmpeg.NewConcatenator(cfg.Binaries.FFmpeg, logger),
		Prober:       ffprobe.New(cfg.Binaries.FFprobe),
		Metrics:      s.Metrics,
		Logger:       logger,
	}, pipeline.OptionsFromConfig(cfg))
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.Orchestrator = orch
	return s, nil
}

// Close releases the stack's backends in reverse order.
func (s *Stack) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	s.closers = nil
	return errors.Join(errs...)
}
