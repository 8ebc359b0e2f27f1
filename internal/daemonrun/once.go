package daemonrun

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"sermonpipe/internal/cancel"
	"sermonpipe/internal/config"
	"sermonpipe/internal/deadline"
	"sermonpipe/internal/deps"
	"sermonpipe/internal/logging"
	"sermonpipe/internal/pipeline"
	"sermonpipe/internal/services"
	"sermonpipe/internal/source"
	"sermonpipe/internal/workflow"
)

// RunOnce processes payload in the foreground under the configured deadline
// budget. Progress stays in process memory and the queue is not touched.
func RunOnce(ctx context.Context, cfg *config.Config, payload source.Payload, logger *slog.Logger) (pipeline.Result, error) {
	job, err := source.NewJob(payload)
	if err != nil {
		return pipeline.Result{}, err
	}
	if missing := deps.Missing(deps.CheckBinaries(deps.Requirements(cfg))); len(missing) > 0 {
		return pipeline.Result{}, services.Wrap(services.ErrInvalidArgument, "preflight", "check binaries",
			"missing "+missing[0].Name, nil)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return pipeline.Result{}, err
	}

	local := *cfg
	local.Progress.Backend = config.ProgressMemory
	stack, err := OpenStack(ctx, &local, logger)
	if err != nil {
		return pipeline.Result{}, err
	}
	defer stack.Close()

	runID := uuid.NewString()
	ctx = services.WithJobID(ctx, job.ID)
	ctx = services.WithRunID(ctx, runID)
	logging.WithContext(ctx, logger).Info("one-shot run starting",
		logging.String(logging.FieldEventType, "run_once_started"),
		logging.String("source", job.Source.Kind.String()),
	)

	guard := workflow.OptionsFromConfig(&local, logger).Guard
	token := cancel.New()
	return runGuarded(ctx, guard, token, func(runCtx context.Context) (pipeline.Result, error) {
		return stack.Orchestrator.Run(runCtx, job, token)
	})
}

// runGuarded runs fn under guard. The result is only read once fn has
// returned; when the guard gives up first the zero Result is returned.
func runGuarded(ctx context.Context, guard deadline.Guard, token *cancel.Token, fn func(context.Context) (pipeline.Result, error)) (pipeline.Result, error) {
	results := make(chan pipeline.Result, 1)
	err := guard.Run(ctx, token, func(runCtx context.Context) error {
		result, runErr := fn(runCtx)
		results <- result
		return runErr
	})
	if err != nil {
		return pipeline.Result{}, err
	}
	return <-results, nil
}
