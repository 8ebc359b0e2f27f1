package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"sermonpipe/internal/docstore"
	"sermonpipe/internal/logging"
	"sermonpipe/internal/objectstore"
	"sermonpipe/internal/queue"
	"sermonpipe/internal/services"
	"sermonpipe/internal/source"
)

// MessageQueued is the status message of an accepted job.
const MessageQueued = "Queued"

// Enqueuer accepts validated payloads for background processing.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload source.Payload) (*queue.Task, error)
}

// Generator validates incoming jobs, marks their documents pending and hands
// them to the queue.
type Generator struct {
	documents docstore.Store
	bucket    objectstore.Bucket
	queue     Enqueuer
	logger    *slog.Logger
}

// NewGenerator returns a generator.
func NewGenerator(documents docstore.Store, bucket objectstore.Bucket, q Enqueuer, logger *slog.Logger) *Generator {
	return &Generator{
		documents: documents,
		bucket:    bucket,
		queue:     q,
		logger:    logging.NewComponentLogger(logger, "generator"),
	}
}

// Submit validates payload and enqueues it. A storage path that does not
// exist is rejected before anything is written. A missing document is not an
// error here; the run waits for it to appear.
func (g *Generator) Submit(ctx context.Context, payload source.Payload) (*queue.Task, error) {
	job, err := source.NewJob(payload)
	if err != nil {
		return nil, err
	}
	ctx = services.WithJobID(ctx, job.ID)
	logger := logging.WithContext(ctx, g.logger)

	if job.Source.Kind == source.KindStoragePath {
		exists, err := g.bucket.Exists(ctx, job.Source.Path)
		if err != nil {
			return nil, services.Wrap(services.ErrInternal, "submit", "stat source", job.Source.Path, err)
		}
		if !exists {
			return nil, services.Wrap(services.ErrNotFound, "submit", "stat source",
				fmt.Sprintf("%s could not be found", job.Source.Path), nil)
		}
	}

	update := docstore.StatusUpdate{AudioStatus: docstore.StatusPending, Message: MessageQueued}
	if err := g.documents.MergeStatus(ctx, job.ID, update); err != nil {
		if !errors.Is(err, services.ErrNotFound) {
			return nil, services.Wrap(services.ErrInternal, "submit", "status", "mark pending", err)
		}
		logger.Debug("sermon document not yet created; status deferred to the run")
	}

	task, err := g.queue.Enqueue(ctx, payload)
	if err != nil {
		return nil, services.Wrap(services.ErrInternal, "submit", "enqueue", "", err)
	}
	logger.Info("job queued",
		logging.Int64("task_id", task.ID),
		logging.String("source", job.Source.Kind.String()),
	)
	return task, nil
}
