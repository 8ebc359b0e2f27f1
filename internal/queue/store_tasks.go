package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"sermonpipe/internal/retry"
	"sermonpipe/internal/services"
	"sermonpipe/internal/source"
)

// Enqueue adds a pending task for payload. When the job already has a pending
// or running task, that task is returned instead.
func (s *Store) Enqueue(ctx context.Context, payload source.Payload) (*Task, error) {
	jobID := strings.TrimSpace(payload.ID)
	if jobID == "" {
		return nil, errors.New("enqueue: job id is required")
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	var id int64
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		existing := tx.QueryRowContext(ctx,
			`SELECT id FROM tasks WHERE job_id = ? AND status IN (?, ?) ORDER BY id DESC LIMIT 1`,
			jobID, StatusPending, StatusRunning,
		)
		switch scanErr := existing.Scan(&id); {
		case scanErr == nil:
			return nil
		case !errors.Is(scanErr, sql.ErrNoRows):
			return scanErr
		}

		now := formatTime(s.now())
		res, err := tx.ExecContext(ctx,
			`INSERT INTO tasks (job_id, payload_json, status, attempts, max_attempts, not_before, created_at, updated_at)
             VALUES (?, ?, ?, 0, ?, ?, ?, ?)`,
			jobID, string(encoded), StatusPending, s.maxAttempts, now, now, now,
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", jobID, err)
	}
	return s.GetByID(ctx, id)
}

// ClaimNext atomically moves the oldest due pending task to running under
// runID. It returns nil when nothing is due.
func (s *Store) ClaimNext(ctx context.Context, runID string) (*Task, error) {
	now := formatTime(s.now())
	var task *Task
	err := retryOnBusy(ctx, func() error {
		row := s.db.QueryRowContext(ctx,
			`UPDATE tasks
             SET status = ?, attempts = attempts + 1, run_id = ?, last_heartbeat = ?, updated_at = ?
             WHERE id = (
                 SELECT id FROM tasks WHERE status = ? AND not_before <= ?
                 ORDER BY not_before, id LIMIT 1
             ) AND status = ?
             RETURNING `+taskColumns,
			StatusRunning, runID, now, now,
			StatusPending, now,
			StatusPending,
		)
		claimed, err := scanTask(row)
		if errors.Is(err, sql.ErrNoRows) {
			task = nil
			return nil
		}
		task = claimed
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("claim next task: %w", err)
	}
	return task, nil
}

// Heartbeat refreshes the liveness timestamp of a task still running under
// runID. A run that lost its claim leaves the row untouched.
func (s *Store) Heartbeat(ctx context.Context, id int64, runID string) error {
	now := formatTime(s.now())
	if _, err := s.execWithRetry(ctx,
		`UPDATE tasks SET last_heartbeat = ?, updated_at = ? WHERE id = ? AND status = ? AND run_id = ?`,
		now, now, id, StatusRunning, runID,
	); err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// Complete marks a task running under runID as completed.
func (s *Store) Complete(ctx context.Context, id int64, runID string) error {
	now := formatTime(s.now())
	if _, err := s.execWithRetry(ctx,
		`UPDATE tasks SET status = ?, error_kind = NULL, error_message = NULL, last_heartbeat = NULL, updated_at = ?
         WHERE id = ? AND status = ? AND run_id = ?`,
		StatusCompleted, now, id, StatusRunning, runID,
	); err != nil {
		return fmt.Errorf("complete task %d: %w", id, err)
	}
	return nil
}

// Fail records failure for a task running under runID. Retryable failures
// with attempts left return the task to pending after an exponential backoff;
// everything else ends in failed. The current task is returned either way.
func (s *Store) Fail(ctx context.Context, id int64, runID string, failure error, retryable bool) (*Task, error) {
	kind := string(services.KindOf(failure))
	message := ""
	if failure != nil {
		message = truncateMessage(failure.Error())
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			status      string
			owner       sql.NullString
			attempts    int
			maxAttempts int
		)
		if err := tx.QueryRowContext(ctx,
			`SELECT status, run_id, attempts, max_attempts FROM tasks WHERE id = ?`, id,
		).Scan(&status, &owner, &attempts, &maxAttempts); err != nil {
			return err
		}
		if Status(status) != StatusRunning || owner.String != runID {
			return nil
		}

		now := s.now()
		next := StatusFailed
		notBefore := now
		if retryable && attempts < maxAttempts {
			next = StatusPending
			notBefore = now.Add(retry.BackoffDelay(attempts, s.minBackoff, s.maxBackoff))
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE tasks
             SET status = ?, error_kind = ?, error_message = ?, not_before = ?,
                 run_id = NULL, last_heartbeat = NULL, updated_at = ?
             WHERE id = ?`,
			next, nullableString(kind), nullableString(message), formatTime(notBefore), formatTime(now), id,
		)
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("fail task %d: %w", id, services.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fail task %d: %w", id, err)
	}
	return s.GetByID(ctx, id)
}

// MarkCancelled ends a task running under runID after an explicit abort.
func (s *Store) MarkCancelled(ctx context.Context, id int64, runID, reason string) error {
	now := formatTime(s.now())
	if _, err := s.execWithRetry(ctx,
		`UPDATE tasks SET status = ?, error_kind = ?, error_message = ?, run_id = NULL, last_heartbeat = NULL, updated_at = ?
         WHERE id = ? AND status = ? AND run_id = ?`,
		StatusCancelled, string(services.KindAborted), nullableString(truncateMessage(reason)), now, id, StatusRunning, runID,
	); err != nil {
		return fmt.Errorf("cancel task %d: %w", id, err)
	}
	return nil
}

// Cancel cancels every pending task of jobID and returns how many changed.
func (s *Store) Cancel(ctx context.Context, jobID string) (int64, error) {
	now := formatTime(s.now())
	res, err := s.execWithRetry(ctx,
		`UPDATE tasks SET status = ?, error_kind = ?, error_message = ?, updated_at = ?
         WHERE job_id = ? AND status = ?`,
		StatusCancelled, string(services.KindAborted), AbortReason, now, jobID, StatusPending,
	)
	if err != nil {
		return 0, fmt.Errorf("cancel pending tasks of %s: %w", jobID, err)
	}
	return res.RowsAffected()
}

// GetByID returns the task, or nil when it does not exist.
func (s *Store) GetByID(ctx context.Context, id int64) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task %d: %w", id, err)
	}
	return task, nil
}

// GetByJobID returns the most recent task of jobID, or nil when there is none.
func (s *Store) GetByJobID(ctx context.Context, jobID string) (*Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE job_id = ? ORDER BY id DESC LIMIT 1`, jobID)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task for job %s: %w", jobID, err)
	}
	return task, nil
}

// List returns tasks newest first, optionally filtered by status.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, status)
		}
	}
	query += ` ORDER BY id DESC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return scanTasks(rows)
}
