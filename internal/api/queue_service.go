package api

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"sermonpipe/internal/docstore"
	"sermonpipe/internal/logging"
	"sermonpipe/internal/progress"
	"sermonpipe/internal/queue"
	"sermonpipe/internal/services"
	"sermonpipe/internal/source"
)

// TaskStore abstracts the queue persistence the API needs.
type TaskStore interface {
	List(ctx context.Context, statuses ...queue.Status) ([]*queue.Task, error)
	Stats(ctx context.Context) (map[queue.Status]int, error)
	GetByID(ctx context.Context, id int64) (*queue.Task, error)
	GetByJobID(ctx context.Context, jobID string) (*queue.Task, error)
	Cancel(ctx context.Context, jobID string) (int64, error)
	RetryFailed(ctx context.Context, ids ...int64) (int64, error)
	Remove(ctx context.Context, cutoff time.Time) (int64, error)
}

// Submitter validates and enqueues new jobs.
type Submitter interface {
	Submit(ctx context.Context, payload source.Payload) (*queue.Task, error)
}

// Aborter stops a pending or running job.
type Aborter interface {
	Abort(ctx context.Context, jobID string) (bool, error)
}

// ServiceDeps wires a Service. Progress and Aborter are optional: without an
// aborter only pending tasks can be cancelled.
type ServiceDeps struct {
	Tasks     TaskStore
	Documents docstore.Store
	Progress  progress.Channel
	Generator Submitter
	Aborter   Aborter
	Logger    *slog.Logger
}

// Service implements the API operations and returns DTOs.
type Service struct {
	tasks     TaskStore
	documents docstore.Store
	progress  progress.Channel
	generator Submitter
	aborter   Aborter
	logger    *slog.Logger
}

// NewService constructs a Service around the provided collaborators.
func NewService(deps ServiceDeps) *Service {
	return &Service{
		tasks:     deps.Tasks,
		documents: deps.Documents,
		progress:  deps.Progress,
		generator: deps.Generator,
		aborter:   deps.Aborter,
		logger:    logging.NewComponentLogger(deps.Logger, "api"),
	}
}

// Submit queues a job.
func (s *Service) Submit(ctx context.Context, payload source.Payload) (Task, error) {
	if s.generator == nil {
		return Task{}, services.Wrap(services.ErrInternal, "api", "submit", "task generator unavailable", nil)
	}
	task, err := s.generator.Submit(ctx, payload)
	if err != nil {
		return Task{}, err
	}
	return FromTask(task), nil
}

// Job returns the combined view of jobID. A job with neither a document nor
// a task is not found.
func (s *Service) Job(ctx context.Context, jobID string) (Job, error) {
	jobID = strings.TrimSpace(jobID)
	view := Job{ID: jobID}

	task, err := s.tasks.GetByJobID(ctx, jobID)
	if err != nil {
		return Job{}, err
	}
	if task != nil {
		dto := FromTask(task)
		view.Task = &dto
	}

	if s.documents != nil {
		doc, err := s.documents.Get(ctx, jobID)
		if err != nil {
			return Job{}, err
		}
		if doc != nil {
			sermon := FromDocument(doc)
			view.Sermon = &sermon
		}
	}
	if view.Task == nil && view.Sermon == nil {
		return Job{}, services.Wrap(services.ErrNotFound, "api", "job", "no document or task for "+jobID, nil)
	}

	if s.progress != nil {
		value, ok, err := s.progress.Get(ctx, jobID)
		switch {
		case err != nil:
			logging.WarnWithContext(s.logger, "progress lookup failed", "progress_read_failed",
				logging.String(logging.FieldJobID, jobID),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the progress backend connection"),
			)
		case ok:
			view.Progress = &value
		}
	}
	return view, nil
}

// Tasks lists queue tasks, optionally filtered by status.
func (s *Service) Tasks(ctx context.Context, statuses ...queue.Status) ([]Task, error) {
	tasks, err := s.tasks.List(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	return FromTasks(tasks), nil
}

// Stats returns queue summary counts keyed by status string.
func (s *Service) Stats(ctx context.Context) (map[string]int, error) {
	stats, err := s.tasks.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return MergeQueueStats(stats), nil
}

// Describe fetches a single task, or nil when it does not exist.
func (s *Service) Describe(ctx context.Context, id int64) (*Task, error) {
	task, err := s.tasks.GetByID(ctx, id)
	if err != nil || task == nil {
		return nil, err
	}
	dto := FromTask(task)
	return &dto, nil
}

// Retry moves the given failed tasks back to pending.
func (s *Service) Retry(ctx context.Context, ids []int64) (int64, error) {
	return s.tasks.RetryFailed(ctx, ids...)
}

// Prune deletes finished tasks last updated more than olderThan ago.
func (s *Service) Prune(ctx context.Context, olderThan time.Duration) (PruneResult, error) {
	if olderThan < 0 {
		return PruneResult{}, services.Wrap(services.ErrInvalidArgument, "api", "prune", "age must not be negative", nil)
	}
	removed, err := s.tasks.Remove(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return PruneResult{}, err
	}
	return PruneResult{RemovedCount: removed}, nil
}

// Abort stops jobID. Finished and unknown jobs report an outcome instead of
// an error.
func (s *Service) Abort(ctx context.Context, jobID string) (AbortResult, error) {
	jobID = strings.TrimSpace(jobID)
	result := AbortResult{JobID: jobID}

	task, err := s.tasks.GetByJobID(ctx, jobID)
	if err != nil {
		return AbortResult{}, err
	}
	if task == nil {
		result.Outcome = AbortNotFound
		return result, nil
	}
	result.PriorStatus = string(task.Status)
	if task.Status.Terminal() {
		result.Outcome = AbortAlreadyFinished
		return result, nil
	}

	var aborted bool
	if s.aborter != nil {
		aborted, err = s.aborter.Abort(ctx, jobID)
	} else {
		var n int64
		n, err = s.tasks.Cancel(ctx, jobID)
		aborted = n > 0
	}
	if err != nil {
		return AbortResult{}, err
	}
	if aborted {
		result.Outcome = AbortRequested
	} else {
		result.Outcome = AbortAlreadyFinished
	}
	return result, nil
}

// PutSermon creates or renames a sermon document. Status and duration are
// never rewritten, so concurrent pipeline status writes survive.
func (s *Service) PutSermon(ctx context.Context, id string, input SermonInput) (Sermon, error) {
	if s.documents == nil {
		return Sermon{}, services.Wrap(services.ErrInternal, "api", "put sermon", "document store unavailable", nil)
	}
	id = strings.TrimSpace(id)
	if !source.SafeID(id) {
		return Sermon{}, services.Wrap(services.ErrInvalidArgument, "api", "put sermon", "invalid sermon id", nil)
	}
	if err := s.documents.SetTitle(ctx, id, strings.TrimSpace(input.Title)); err != nil {
		return Sermon{}, err
	}
	stored, err := s.documents.Get(ctx, id)
	if err != nil {
		return Sermon{}, err
	}
	if stored == nil {
		return Sermon{}, services.Wrap(services.ErrInternal, "api", "put sermon", "document vanished after write", nil)
	}
	return FromDocument(stored), nil
}

// Sermons lists recently updated sermon documents.
func (s *Service) Sermons(ctx context.Context, limit int) ([]Sermon, error) {
	if s.documents == nil {
		return nil, nil
	}
	docs, err := s.documents.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Sermon, 0, len(docs))
	for i := range docs {
		out = append(out, FromDocument(&docs[i]))
	}
	return out, nil
}
