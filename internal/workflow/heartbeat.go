package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"sermonpipe/internal/logging"
	"sermonpipe/internal/queue"
)

// HeartbeatMonitor keeps running tasks alive and reclaims abandoned ones.
type HeartbeatMonitor struct {
	store             *queue.Store
	logger            *slog.Logger
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
}

// NewHeartbeatMonitor creates a new monitor.
func NewHeartbeatMonitor(store *queue.Store, logger *slog.Logger, interval, timeout time.Duration) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		store:             store,
		logger:            logging.NewComponentLogger(logger, "workflow-heartbeat"),
		heartbeatInterval: interval,
		heartbeatTimeout:  timeout,
	}
}

// ReclaimStaleTasks requeues running tasks that stopped sending heartbeats.
func (h *HeartbeatMonitor) ReclaimStaleTasks(ctx context.Context) error {
	if h.heartbeatTimeout <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-h.heartbeatTimeout)
	reclaimed, err := h.store.ReclaimStale(ctx, cutoff)
	if err != nil {
		return err
	}
	if reclaimed > 0 {
		logging.WarnWithContext(h.logger, "reclaimed stale tasks", "heartbeat_reclaimed",
			logging.Int64("count", reclaimed),
			logging.String(logging.FieldErrorHint, "a worker stopped without finishing its task"),
		)
	}
	return nil
}

// StartLoop refreshes the heartbeat of taskID under runID until ctx ends.
func (h *HeartbeatMonitor) StartLoop(ctx context.Context, wg *sync.WaitGroup, taskID int64, runID string) {
	defer wg.Done()
	if h.heartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	logger := logging.WithContext(ctx, h.logger)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.store.Heartbeat(ctx, taskID, runID); err != nil {
				if errors.Is(err, context.Canceled) {
					logger.Debug("heartbeat stopped")
					return
				}
				logger.Warn("heartbeat update failed", logging.Error(err))
			}
		}
	}
}
