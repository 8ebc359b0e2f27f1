package queue

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const taskColumns = "id, job_id, payload_json, status, attempts, max_attempts, run_id, error_kind, error_message, not_before, created_at, updated_at, last_heartbeat"

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const maxErrorMessage = 2048

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTimeString(value string) (time.Time, error) {
	if t, err := time.Parse(timeLayout, value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}

func scanTask(scanner interface{ Scan(dest ...any) error }) (*Task, error) {
	var (
		task         Task
		payloadJSON  string
		statusStr    string
		runID        sql.NullString
		errorKind    sql.NullString
		errorMessage sql.NullString
		notBefore    string
		createdRaw   string
		updatedRaw   string
		heartbeatRaw sql.NullString
	)
	if err := scanner.Scan(
		&task.ID,
		&task.JobID,
		&payloadJSON,
		&statusStr,
		&task.Attempts,
		&task.MaxAttempts,
		&runID,
		&errorKind,
		&errorMessage,
		&notBefore,
		&createdRaw,
		&updatedRaw,
		&heartbeatRaw,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(payloadJSON), &task.Payload); err != nil {
		return nil, fmt.Errorf("decode payload of task %d: %w", task.ID, err)
	}
	task.Status = Status(statusStr)
	task.RunID = runID.String
	task.ErrorKind = errorKind.String
	task.ErrorMessage = errorMessage.String
	if t, err := parseTimeString(notBefore); err == nil {
		task.NotBefore = t
	}
	if t, err := parseTimeString(createdRaw); err == nil {
		task.CreatedAt = t
	}
	if t, err := parseTimeString(updatedRaw); err == nil {
		task.UpdatedAt = t
	}
	if heartbeatRaw.Valid {
		if t, err := parseTimeString(heartbeatRaw.String); err == nil {
			task.LastHeartbeat = &t
		}
	}
	return &task, nil
}

func scanTasks(rows *sql.Rows) ([]*Task, error) {
	defer rows.Close()
	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func truncateMessage(message string) string {
	message = strings.TrimSpace(message)
	if len(message) <= maxErrorMessage {
		return message
	}
	return message[:maxErrorMessage]
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", count), ",")
}
