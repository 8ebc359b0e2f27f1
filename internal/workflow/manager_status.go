package workflow

import (
	"context"
	"sort"
	"time"

	"sermonpipe/internal/logging"
	"sermonpipe/internal/queue"
)

// ActiveTask describes a task a worker is currently running.
type ActiveTask struct {
	TaskID  int64     `json:"taskId"`
	JobID   string    `json:"jobId"`
	RunID   string    `json:"runId"`
	Attempt int       `json:"attempt"`
	Started time.Time `json:"started"`
}

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running    bool                 `json:"running"`
	Workers    int                  `json:"workers"`
	Active     []ActiveTask         `json:"active"`
	LastError  string               `json:"lastError,omitempty"`
	LastTask   *queue.Task          `json:"lastTask,omitempty"`
	QueueStats map[queue.Status]int `json:"queueStats"`
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{Running: m.running, Workers: m.opts.Workers}
	for _, run := range m.active {
		summary.Active = append(summary.Active, ActiveTask{
			TaskID:  run.task.ID,
			JobID:   run.task.JobID,
			RunID:   run.task.RunID,
			Attempt: run.task.Attempts,
			Started: run.started,
		})
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	if m.lastTask != nil {
		copy := *m.lastTask
		summary.LastTask = &copy
	}
	m.mu.RUnlock()

	sort.Slice(summary.Active, func(i, j int) bool {
		return summary.Active[i].Started.Before(summary.Active[j].Started)
	})

	stats, err := m.store.Stats(ctx)
	if err != nil {
		m.logger.Warn("failed to read queue stats", logging.Error(err))
	}
	summary.QueueStats = stats
	return summary
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setLastTask(task *queue.Task) {
	m.mu.Lock()
	if task != nil {
		copy := *task
		m.lastTask = &copy
	} else {
		m.lastTask = nil
	}
	m.mu.Unlock()
}
