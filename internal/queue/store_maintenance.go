package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"sermonpipe/internal/services"
)

// HeartbeatExpired is recorded on tasks reclaimed after their worker went quiet.
const HeartbeatExpired = "Worker heartbeat expired"

// Stats returns a count of tasks grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int, len(allStatuses))
	for _, status := range allStatuses {
		stats[status] = 0
	}
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// ReclaimStale returns running tasks whose last heartbeat is older than
// cutoff to pending, or fails them when no attempts remain.
func (s *Store) ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.reclaim(ctx, `last_heartbeat IS NULL OR last_heartbeat < ?`, formatTime(cutoff))
}

// ResetRunning reclaims every running task. It is called at startup, when
// no worker of this process can own one.
func (s *Store) ResetRunning(ctx context.Context) (int64, error) {
	return s.reclaim(ctx, `1 = 1`)
}

func (s *Store) reclaim(ctx context.Context, where string, args ...any) (int64, error) {
	var total int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		total = 0
		now := formatTime(s.now())

		exhausted := append([]any{StatusFailed, string(services.KindDeadlineExceeded), HeartbeatExpired, now, StatusRunning}, args...)
		res, err := tx.ExecContext(ctx,
			`UPDATE tasks
             SET status = ?, error_kind = ?, error_message = ?, run_id = NULL, last_heartbeat = NULL, updated_at = ?
             WHERE status = ? AND attempts >= max_attempts AND (`+where+`)`,
			exhausted...,
		)
		if err != nil {
			return err
		}
		failed, _ := res.RowsAffected()

		requeue := append([]any{StatusPending, now, now, StatusRunning}, args...)
		res, err = tx.ExecContext(ctx,
			`UPDATE tasks
             SET status = ?, run_id = NULL, last_heartbeat = NULL, not_before = ?, updated_at = ?
             WHERE status = ? AND (`+where+`)`,
			requeue...,
		)
		if err != nil {
			return err
		}
		requeued, _ := res.RowsAffected()
		total = failed + requeued
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("reclaim running tasks: %w", err)
	}
	return total, nil
}

// RetryFailed moves failed tasks back to pending with a fresh attempt budget.
// With no ids every failed task is retried.
func (s *Store) RetryFailed(ctx context.Context, ids ...int64) (int64, error) {
	now := formatTime(s.now())
	query := `UPDATE tasks
        SET status = ?, attempts = 0, error_kind = NULL, error_message = NULL, not_before = ?, updated_at = ?
        WHERE status = ?`
	args := []any{StatusPending, now, now, StatusFailed}
	if len(ids) > 0 {
		query += ` AND id IN (` + makePlaceholders(len(ids)) + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	}
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry failed tasks: %w", err)
	}
	return res.RowsAffected()
}

// Remove deletes finished tasks older than cutoff.
func (s *Store) Remove(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`DELETE FROM tasks WHERE status IN (?, ?, ?) AND updated_at < ?`,
		StatusCompleted, StatusFailed, StatusCancelled, formatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("remove finished tasks: %w", err)
	}
	return res.RowsAffected()
}
