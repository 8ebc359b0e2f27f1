package api

import (
	"context"

	"sermonpipe/internal/queue"
)

// QueueActionService captures queue operations needed by per-task retry workflows.
type QueueActionService interface {
	Describe(ctx context.Context, id int64) (*Task, error)
	Retry(ctx context.Context, ids []int64) (int64, error)
}

type RetryTaskOutcome string

const (
	RetryTaskUpdated   RetryTaskOutcome = "retried"
	RetryTaskNotFound  RetryTaskOutcome = "not_found"
	RetryTaskNotFailed RetryTaskOutcome = "not_failed"
)

type RetryTaskResult struct {
	ID      int64            `json:"id"`
	Outcome RetryTaskOutcome `json:"outcome"`
}

type RetryTasksResult struct {
	UpdatedCount int64             `json:"updatedCount"`
	Tasks        []RetryTaskResult `json:"tasks"`
}

type AbortOutcome string

const (
	AbortRequested       AbortOutcome = "aborted"
	AbortNotFound        AbortOutcome = "not_found"
	AbortAlreadyFinished AbortOutcome = "already_finished"
)

type AbortResult struct {
	JobID       string       `json:"jobId"`
	Outcome     AbortOutcome `json:"outcome"`
	PriorStatus string       `json:"priorStatus,omitempty"`
}

type PruneResult struct {
	RemovedCount int64 `json:"removedCount"`
}

// RetryFailedTasksByID validates IDs and retries only failed tasks. With no
// IDs every failed task is retried.
func RetryFailedTasksByID(ctx context.Context, service QueueActionService, ids []int64) (RetryTasksResult, error) {
	result := RetryTasksResult{Tasks: make([]RetryTaskResult, 0, len(ids))}
	if len(ids) == 0 {
		updated, err := service.Retry(ctx, nil)
		if err != nil {
			return RetryTasksResult{}, err
		}
		result.UpdatedCount = updated
		return result, nil
	}
	for _, id := range ids {
		task, err := service.Describe(ctx, id)
		if err != nil {
			return RetryTasksResult{}, err
		}
		if task == nil {
			result.Tasks = append(result.Tasks, RetryTaskResult{ID: id, Outcome: RetryTaskNotFound})
			continue
		}
		status, ok := queue.ParseStatus(task.Status)
		if !ok || status != queue.StatusFailed {
			result.Tasks = append(result.Tasks, RetryTaskResult{ID: id, Outcome: RetryTaskNotFailed})
			continue
		}
		updated, err := service.Retry(ctx, []int64{id})
		if err != nil {
			return RetryTasksResult{}, err
		}
		if updated > 0 {
			result.UpdatedCount += updated
			result.Tasks = append(result.Tasks, RetryTaskResult{ID: id, Outcome: RetryTaskUpdated})
			continue
		}
		result.Tasks = append(result.Tasks, RetryTaskResult{ID: id, Outcome: RetryTaskNotFailed})
	}
	return result, nil
}
