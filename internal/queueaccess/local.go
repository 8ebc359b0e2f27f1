package queueaccess

import (
	"context"
	"errors"
	"log/slog"

	"sermonpipe/internal/api"
	"sermonpipe/internal/config"
	"sermonpipe/internal/docstore"
	"sermonpipe/internal/objectstore"
	"sermonpipe/internal/pipeline"
	"sermonpipe/internal/progress"
	"sermonpipe/internal/queue"
)

// OpenLocal builds an api.Service directly over the stores named by cfg.
// Without a workflow manager only pending tasks can be aborted. The returned
// function closes every store that was opened.
func OpenLocal(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*api.Service, func() error, error) {
	var closers []func() error
	closeAll := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}
	fail := func(err error) (*api.Service, func() error, error) {
		_ = closeAll()
		return nil, nil, err
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return fail(err)
	}
	store, err := queue.Open(cfg)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, store.Close)

	docs, err := docstore.Open(ctx, cfg, logger)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, docs.Close)

	bucket, err := objectstore.Open(cfg, logger)
	if err != nil {
		return fail(err)
	}

	channel, err := progress.Open(cfg)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, channel.Close)

	service := api.NewService(api.ServiceDeps{
		Tasks:     store,
		Documents: docs,
		Progress:  channel,
		Generator: pipeline.NewGenerator(docs, bucket, store, logger),
		Logger:    logger,
	})
	return service, closeAll, nil
}
