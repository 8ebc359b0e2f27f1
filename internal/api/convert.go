package api

import (
	"time"

	"sermonpipe/internal/deps"
	"sermonpipe/internal/docstore"
	"sermonpipe/internal/preflight"
	"sermonpipe/internal/queue"
	"sermonpipe/internal/source"
	"sermonpipe/internal/workflow"
)

// FromTask converts a queue record to its API representation.
func FromTask(task *queue.Task) Task {
	if task == nil {
		return Task{}
	}
	dto := Task{
		ID:           task.ID,
		JobID:        task.JobID,
		Status:       string(task.Status),
		Attempts:     task.Attempts,
		MaxAttempts:  task.MaxAttempts,
		RunID:        task.RunID,
		ErrorKind:    task.ErrorKind,
		ErrorMessage: task.ErrorMessage,
		NotBefore:    FormatTime(task.NotBefore),
		CreatedAt:    FormatTime(task.CreatedAt),
		UpdatedAt:    FormatTime(task.UpdatedAt),
		Payload:      task.Payload,
	}
	if src, err := source.Resolve(task.Payload); err == nil {
		dto.Source = src.Kind.String() + ":" + src.Location()
	}
	return dto
}

// FromTasks converts a slice of queue records into API DTOs.
func FromTasks(tasks []*queue.Task) []Task {
	out := make([]Task, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, FromTask(task))
	}
	return out
}

// FromDocument converts a sermon document.
func FromDocument(doc *docstore.Document) Sermon {
	if doc == nil {
		return Sermon{}
	}
	return Sermon{
		ID:              doc.ID,
		Title:           doc.Title,
		AudioStatus:     string(doc.AudioStatus()),
		Message:         doc.StatusMessage(),
		DurationSeconds: doc.DurationSeconds,
		UpdatedAt:       FormatTime(doc.UpdatedAt),
	}
}

// FromStatusSummary converts a workflow status summary to API payload.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	wf := WorkflowStatus{
		Running:    summary.Running,
		Workers:    summary.Workers,
		Active:     make([]ActiveRun, 0, len(summary.Active)),
		QueueStats: MergeQueueStats(summary.QueueStats),
		LastError:  summary.LastError,
	}
	for _, run := range summary.Active {
		wf.Active = append(wf.Active, ActiveRun{
			TaskID:    run.TaskID,
			JobID:     run.JobID,
			RunID:     run.RunID,
			Attempt:   run.Attempt,
			StartedAt: FormatTime(run.Started),
		})
	}
	if summary.LastTask != nil {
		last := FromTask(summary.LastTask)
		wf.LastTask = &last
	}
	return wf
}

// FromDependencies converts executable checks.
func FromDependencies(statuses []deps.Status) []DependencyStatus {
	out := make([]DependencyStatus, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, DependencyStatus{
			Name:        s.Name,
			Command:     s.Command,
			Description: s.Description,
			Optional:    s.Optional,
			Available:   s.Available,
			Detail:      s.Detail,
		})
	}
	return out
}

// FromPreflight converts readiness checks into a health payload. Any failed
// check degrades the overall status.
func FromPreflight(results []preflight.Result) HealthResponse {
	resp := HealthResponse{Status: "ok", Checks: make([]HealthCheck, 0, len(results))}
	for _, r := range results {
		if !r.Passed {
			resp.Status = "degraded"
		}
		resp.Checks = append(resp.Checks, HealthCheck(r))
	}
	return resp
}

// MergeQueueStats produces a string-keyed representation of queue stats.
func MergeQueueStats(stats map[queue.Status]int) map[string]int {
	out := make(map[string]int, len(stats))
	for status, count := range stats {
		out[string(status)] = count
	}
	return out
}

// FormatTime converts a time to RFC3339 or returns empty string.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
