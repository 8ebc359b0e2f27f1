package deadline

import (
	"context"
	"log/slog"
	"time"

	"sermonpipe/internal/cancel"
	"sermonpipe/internal/logging"
	"sermonpipe/internal/services"
)

// Guard bounds a run by a wall-clock budget.
type Guard struct {
	// Budget is the time fn may take. Zero disables the guard.
	Budget time.Duration
	// Drain is how long the guard waits for a timed-out fn to finish its
	// cleanup before returning.
	Drain  time.Duration
	Logger *slog.Logger
}

// Run races fn against the budget. When the budget elapses first the token is
// cancelled with services.ErrDeadlineExceeded, fn's context is cancelled, and
// Run returns ErrDeadlineExceeded; fn's eventual result is discarded. When
// ctx ends first the token is cancelled with services.ErrAborted.
func (g Guard) Run(ctx context.Context, token *cancel.Token, fn func(context.Context) error) error {
	logger := logging.WithContext(ctx, logging.NewComponentLogger(g.Logger, "deadline"))
	runCtx, stop := context.WithCancelCause(ctx)
	defer stop(nil)

	done := make(chan error, 1)
	go func() {
		done <- fn(runCtx)
	}()

	var expired <-chan time.Time
	if g.Budget > 0 {
		timer := time.NewTimer(g.Budget)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case err := <-done:
		return err
	case <-expired:
		token.CancelWithCause(services.ErrDeadlineExceeded)
		stop(services.ErrDeadlineExceeded)
		logging.WarnWithContext(logger, "run exceeded its budget", "deadline_exceeded",
			logging.Duration("budget", g.Budget),
			logging.String(logging.FieldErrorHint, "shorten the requested range or raise pipeline.dispatcher_timeout"),
		)
		g.drain(logger, done)
		return services.Wrap(services.ErrDeadlineExceeded, "deadline", "", "budget of "+g.Budget.String()+" exceeded", nil)
	case <-ctx.Done():
		token.CancelWithCause(services.ErrAborted)
		g.drain(logger, done)
		return services.Wrap(services.ErrAborted, "deadline", "", "run context ended", context.Cause(ctx))
	}
}

func (g Guard) drain(logger *slog.Logger, done <-chan error) {
	if g.Drain <= 0 {
		return
	}
	timer := time.NewTimer(g.Drain)
	defer timer.Stop()
	select {
	case err := <-done:
		logger.Debug("timed-out run finished cleanup", logging.Error(err))
	case <-timer.C:
		logging.WarnWithContext(logger, "run still cleaning up after drain period", "deadline_drain_expired",
			logging.Duration("drain", g.Drain),
			logging.String(logging.FieldErrorHint, "a stage is ignoring cancellation"),
		)
	}
}
