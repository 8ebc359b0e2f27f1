package api

import "sermonpipe/internal/source"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Task describes a queue task in a transport-friendly format.
type Task struct {
	ID           int64          `json:"id"`
	JobID        string         `json:"jobId"`
	Status       string         `json:"status"`
	Source       string         `json:"source"`
	Attempts     int            `json:"attempts"`
	MaxAttempts  int            `json:"maxAttempts"`
	RunID        string         `json:"runId,omitempty"`
	ErrorKind    string         `json:"errorKind,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	NotBefore    string         `json:"notBefore,omitempty"`
	CreatedAt    string         `json:"createdAt,omitempty"`
	UpdatedAt    string         `json:"updatedAt,omitempty"`
	Payload      source.Payload `json:"payload"`
}

// Sermon is the pipeline-facing part of a sermon document.
type Sermon struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	AudioStatus     string   `json:"audioStatus,omitempty"`
	Message         string   `json:"message,omitempty"`
	DurationSeconds *float64 `json:"durationSeconds,omitempty"`
	UpdatedAt       string   `json:"updatedAt,omitempty"`
}

// SermonInput is the body of a sermon upsert.
type SermonInput struct {
	Title string `json:"title"`
}

// Job aggregates everything known about one job.
type Job struct {
	ID       string  `json:"id"`
	Sermon   *Sermon `json:"sermon,omitempty"`
	Progress *int    `json:"progress,omitempty"`
	Task     *Task   `json:"task,omitempty"`
}

// ActiveRun is a task a worker is executing right now.
type ActiveRun struct {
	TaskID    int64  `json:"taskId"`
	JobID     string `json:"jobId"`
	RunID     string `json:"runId"`
	Attempt   int    `json:"attempt"`
	StartedAt string `json:"startedAt"`
}

// WorkflowStatus summarizes workflow execution state.
type WorkflowStatus struct {
	Running    bool           `json:"running"`
	Workers    int            `json:"workers"`
	Active     []ActiveRun    `json:"active"`
	QueueStats map[string]int `json:"queueStats"`
	LastError  string         `json:"lastError,omitempty"`
	LastTask   *Task          `json:"lastTask,omitempty"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
	Severity    string `json:"severity,omitempty"`
}

// StatusLine is one labelled row of the status report.
type StatusLine struct {
	Label    string `json:"label"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
}

// DependencySummary aggregates dependency readiness.
type DependencySummary struct {
	Total           int    `json:"total"`
	Available       int    `json:"available"`
	MissingRequired int    `json:"missingRequired"`
	MissingOptional int    `json:"missingOptional"`
	Severity        string `json:"severity"`
	Detail          string `json:"detail"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	QueueDBPath  string             `json:"queueDbPath"`
	LockFilePath string             `json:"lockFilePath"`
	APIBind      string             `json:"apiBind"`
	Workflow     WorkflowStatus     `json:"workflow"`
	Dependencies []DependencyStatus `json:"dependencies"`
}

// HealthCheck is one probe reported by the health endpoint.
type HealthCheck struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status string        `json:"status"`
	Checks []HealthCheck `json:"checks,omitempty"`
}

// ErrorResponse is the envelope of every failed API call.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// TaskListResponse wraps a collection of tasks.
type TaskListResponse struct {
	Tasks []Task `json:"tasks"`
}

// TaskResponse wraps a single task.
type TaskResponse struct {
	Task Task `json:"task"`
}

// SermonListResponse wraps a collection of sermons.
type SermonListResponse struct {
	Sermons []Sermon `json:"sermons"`
}

// QueueStatsResponse provides a normalized queue stats payload.
type QueueStatsResponse struct {
	Counts map[string]int `json:"counts"`
}

// RetryRequest names the failed tasks to retry. Empty means all of them.
type RetryRequest struct {
	IDs []int64 `json:"ids,omitempty"`
}
