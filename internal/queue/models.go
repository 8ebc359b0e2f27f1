package queue

import (
	"time"

	"sermonpipe/internal/source"
)

// Status represents the lifecycle of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// AbortReason is recorded on tasks stopped by an explicit abort request.
const AbortReason = "Abort requested"

var allStatuses = []Status{
	StatusPending,
	StatusRunning,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

// AllStatuses returns every status in lifecycle order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus converts a string into a known status.
func ParseStatus(value string) (Status, bool) {
	for _, status := range allStatuses {
		if string(status) == value {
			return status, true
		}
	}
	return "", false
}

// Terminal reports whether the task will not run again.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Task is one delivery unit of the dispatcher.
type Task struct {
	ID            int64          `json:"id"`
	JobID         string         `json:"jobId"`
	Payload       source.Payload `json:"payload"`
	Status        Status         `json:"status"`
	Attempts      int            `json:"attempts"`
	MaxAttempts   int            `json:"maxAttempts"`
	RunID         string         `json:"runId,omitempty"`
	ErrorKind     string         `json:"errorKind,omitempty"`
	ErrorMessage  string         `json:"errorMessage,omitempty"`
	NotBefore     time.Time      `json:"notBefore"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
	LastHeartbeat *time.Time     `json:"lastHeartbeat,omitempty"`
}

// HasAttemptsLeft reports whether a retryable failure may be redelivered.
func (t *Task) HasAttemptsLeft() bool {
	return t.Attempts < t.MaxAttempts
}
