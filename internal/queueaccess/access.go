package queueaccess

import (
	"context"
	"time"

	"sermonpipe/internal/api"
	"sermonpipe/internal/ipc"
	"sermonpipe/internal/queue"
	"sermonpipe/internal/source"
)

// Access provides job operations regardless of daemon or direct store backing.
type Access interface {
	Stats(ctx context.Context) (map[string]int, error)
	Tasks(ctx context.Context, statuses []queue.Status) ([]api.Task, error)
	Job(ctx context.Context, jobID string) (*api.Job, error)
	Submit(ctx context.Context, payload source.Payload) (*api.Task, error)
	Abort(ctx context.Context, jobID string) (*api.AbortResult, error)
	Retry(ctx context.Context, ids []int64) (*api.RetryTasksResult, error)
	Prune(ctx context.Context, age time.Duration) (*api.PruneResult, error)
	PutSermon(ctx context.Context, id string, input api.SermonInput) (*api.Sermon, error)
	Sermons(ctx context.Context, limit int) ([]api.Sermon, error)
}

// NewIPCAccess returns an Access backed by the daemon API.
func NewIPCAccess(client *ipc.Client) Access {
	return &ipcAccess{client: client}
}

// NewServiceAccess returns an Access backed by an in-process service.
func NewServiceAccess(service *api.Service) Access {
	return &serviceAccess{service: service}
}

type ipcAccess struct {
	client *ipc.Client
}

func (a *ipcAccess) Stats(ctx context.Context) (map[string]int, error) {
	status, err := a.client.Status(ctx)
	if err != nil {
		return nil, err
	}
	return status.Workflow.QueueStats, nil
}

func (a *ipcAccess) Tasks(ctx context.Context, statuses []queue.Status) ([]api.Task, error) {
	return a.client.Tasks(ctx, statuses...)
}

func (a *ipcAccess) Job(ctx context.Context, jobID string) (*api.Job, error) {
	return a.client.Job(ctx, jobID)
}

func (a *ipcAccess) Submit(ctx context.Context, payload source.Payload) (*api.Task, error) {
	return a.client.Submit(ctx, payload)
}

func (a *ipcAccess) Abort(ctx context.Context, jobID string) (*api.AbortResult, error) {
	return a.client.Abort(ctx, jobID)
}

func (a *ipcAccess) Retry(ctx context.Context, ids []int64) (*api.RetryTasksResult, error) {
	return a.client.Retry(ctx, ids)
}

func (a *ipcAccess) Prune(ctx context.Context, age time.Duration) (*api.PruneResult, error) {
	return a.client.Prune(ctx, age)
}

func (a *ipcAccess) PutSermon(ctx context.Context, id string, input api.SermonInput) (*api.Sermon, error) {
	return a.client.PutSermon(ctx, id, input)
}

func (a *ipcAccess) Sermons(ctx context.Context, limit int) ([]api.Sermon, error) {
	return a.client.Sermons(ctx, limit)
}

type serviceAccess struct {
	service *api.Service
}

func (a *serviceAccess) Stats(ctx context.Context) (map[string]int, error) {
	return a.service.Stats(ctx)
}

func (a *serviceAccess) Tasks(ctx context.Context, statuses []queue.Status) ([]api.Task, error) {
	return a.service.Tasks(ctx, statuses...)
}

func (a *serviceAccess) Job(ctx context.Context, jobID string) (*api.Job, error) {
	job, err := a.service.Job(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (a *serviceAccess) Submit(ctx context.Context, payload source.Payload) (*api.Task, error) {
	task, err := a.service.Submit(ctx, payload)
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (a *serviceAccess) Abort(ctx context.Context, jobID string) (*api.AbortResult, error) {
	result, err := a.service.Abort(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (a *serviceAccess) Retry(ctx context.Context, ids []int64) (*api.RetryTasksResult, error) {
	result, err := api.RetryFailedTasksByID(ctx, a.service, ids)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (a *serviceAccess) Prune(ctx context.Context, age time.Duration) (*api.PruneResult, error) {
	result, err := a.service.Prune(ctx, age)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (a *serviceAccess) PutSermon(ctx context.Context, id string, input api.SermonInput) (*api.Sermon, error) {
	sermon, err := a.service.PutSermon(ctx, id, input)
	if err != nil {
		return nil, err
	}
	return &sermon, nil
}

func (a *serviceAccess) Sermons(ctx context.Context, limit int) ([]api.Sermon, error) {
	return a.service.Sermons(ctx, limit)
}
