package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"sermonpipe/internal/cancel"
	"sermonpipe/internal/logging"
	"sermonpipe/internal/queue"
	"sermonpipe/internal/services"
	"sermonpipe/internal/source"
)

// Start resets tasks orphaned by a previous process and launches the workers.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	m.mu.Unlock()

	reset, err := m.store.ResetRunning(ctx)
	if err != nil {
		return fmt.Errorf("reset running tasks: %w", err)
	}
	if reset > 0 {
		m.logger.Info("requeued tasks from previous run", logging.Int64("count", reset))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("workflow already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(m.opts.Workers)
	for i := 0; i < m.opts.Workers; i++ {
		go m.runWorker(runCtx, i)
	}
	m.logger.Info("workflow started", logging.Int("workers", m.opts.Workers))
	return nil
}

// Stop cancels in-flight runs and waits for the workers to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

func (m *Manager) runWorker(ctx context.Context, index int) {
	defer m.wg.Done()
	logger := m.logger.With(logging.Int("worker", index))
	reclaimer := index == 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if reclaimer {
			if err := m.heartbeat.ReclaimStaleTasks(ctx); err != nil && ctx.Err() == nil {
				logging.WarnWithContext(logger, "reclaim stale tasks failed; stuck tasks may remain", "heartbeat_reclaim_failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check queue database access"),
				)
			}
			m.refreshQueueDepth(ctx)
		}

		task, err := m.store.ClaimNext(ctx, uuid.NewString())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.handleClaimError(ctx, logger, err)
			continue
		}
		if task == nil {
			m.wait(ctx, m.opts.PollInterval)
			continue
		}
		m.processTask(ctx, logger, task)
	}
}

func (m *Manager) handleClaimError(ctx context.Context, logger *slog.Logger, err error) {
	m.setLastError(err)
	logging.ErrorWithContext(logger, "failed to claim next task", "queue_claim_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check queue database access"),
	)
	m.wait(ctx, m.opts.ErrorRetry)
}

func (m *Manager) wait(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// processTask runs one claimed task to completion and records the result.
func (m *Manager) processTask(ctx context.Context, logger *slog.Logger, task *queue.Task) {
	ctx = services.WithJobID(ctx, task.JobID)
	ctx = services.WithRunID(ctx, task.RunID)
	logger = logging.WithContext(ctx, logger)
	m.setLastTask(task)

	run := m.register(task)
	defer m.unregister(task.JobID, run)

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeat.StartLoop(hbCtx, &hbWG, task.ID, task.RunID)

	logger.Info("task claimed",
		logging.Int64("task_id", task.ID),
		logging.Int("attempt", task.Attempts),
		logging.Int("max_attempts", task.MaxAttempts),
	)
	err := m.execute(ctx, task, run.token)

	stopHeartbeat()
	hbWG.Wait()
	m.record(context.WithoutCancel(ctx), logger, task, run, err)
}

func (m *Manager) execute(ctx context.Context, task *queue.Task, token *cancel.Token) error {
	job, err := source.NewJob(task.Payload)
	if err != nil {
		return err
	}
	return m.opts.Guard.Run(ctx, token, func(runCtx context.Context) error {
		_, err := m.runner.Run(runCtx, job, token)
		return err
	})
}

func (m *Manager) record(ctx context.Context, logger *slog.Logger, task *queue.Task, run *activeRun, runErr error) {
	var err error
	switch {
	case runErr == nil:
		err = m.store.Complete(ctx, task.ID, task.RunID)
		logger.Info("task completed", logging.Int64("task_id", task.ID))
	case run.aborted.Load():
		err = m.store.MarkCancelled(ctx, task.ID, task.RunID, queue.AbortReason)
		logger.Info("task cancelled on request", logging.Int64("task_id", task.ID))
	default:
		m.setLastError(runErr)
		var updated *queue.Task
		updated, err = m.store.Fail(ctx, task.ID, task.RunID, runErr, services.Retryable(runErr))
		if err == nil && updated != nil {
			logging.WarnWithContext(logger, "task failed", "task_failed",
				logging.Int64("task_id", task.ID),
				logging.String(logging.FieldErrorKind, string(services.KindOf(runErr))),
				logging.String("next_status", string(updated.Status)),
				logging.Error(runErr),
				logging.String(logging.FieldErrorHint, "see the job_failed entry for this run"),
			)
		}
	}
	if err != nil {
		m.setLastError(err)
		logging.ErrorWithContext(logger, "task result not recorded", "queue_record_failed",
			logging.Int64("task_id", task.ID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the heartbeat reclaimer will redeliver the task"),
		)
	}
	m.refreshQueueDepth(ctx)
}

func (m *Manager) register(task *queue.Task) *activeRun {
	run := &activeRun{task: task, token: cancel.New(), started: time.Now()}
	m.mu.Lock()
	m.active[task.JobID] = run
	m.mu.Unlock()
	return run
}

func (m *Manager) unregister(jobID string, run *activeRun) {
	m.mu.Lock()
	if m.active[jobID] == run {
		delete(m.active, jobID)
	}
	m.mu.Unlock()
}

// Abort cancels jobID. A running task has its token cancelled and is
// recorded as cancelled once the run unwinds; pending tasks are cancelled in
// the queue. It reports whether anything was cancelled.
func (m *Manager) Abort(ctx context.Context, jobID string) (bool, error) {
	m.mu.RLock()
	run := m.active[jobID]
	m.mu.RUnlock()
	if run != nil {
		run.aborted.Store(true)
		run.token.Cancel()
		m.logger.Info("abort requested for running task",
			logging.String(logging.FieldJobID, jobID),
			logging.Int64("task_id", run.task.ID),
		)
		return true, nil
	}

	n, err := m.store.Cancel(ctx, jobID)
	if err != nil {
		return false, err
	}
	if n > 0 {
		m.logger.Info("pending task cancelled", logging.String(logging.FieldJobID, jobID))
		m.refreshQueueDepth(ctx)
	}
	return n > 0, nil
}

func (m *Manager) refreshQueueDepth(ctx context.Context) {
	if m.metrics == nil {
		return
	}
	stats, err := m.store.Stats(ctx)
	if err != nil {
		m.logger.Debug("queue stats unavailable", logging.Error(err))
		return
	}
	for status, count := range stats {
		m.metrics.SetQueueDepth(string(status), count)
	}
}
