package preflight

import (
	"context"

	"sermonpipe/internal/config"
	"sermonpipe/internal/deps"
	"sermonpipe/internal/objectstore"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// Pinger is implemented by every backend with a cheap liveness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Backends are the opened collaborators RunAll probes. Nil entries are
// skipped.
type Backends struct {
	Documents Pinger
	Progress  Pinger
	Queue     Pinger
	Bucket    objectstore.Bucket
}

// RunAll executes every preflight check for cfg.
func RunAll(ctx context.Context, cfg *config.Config, backends Backends) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Scratch directory", cfg.Paths.ScratchDir),
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
	}
	for _, status := range CheckSystemDeps(cfg) {
		results = append(results, fromStatus(status))
	}
	results = append(results, fromStatus(deps.CheckFFmpegEncoder(ctx, cfg.Binaries.FFmpeg, deps.MP3Encoder)))

	if backends.Documents != nil {
		results = append(results, CheckPing(ctx, "Document store", backends.Documents))
	}
	if backends.Progress != nil {
		results = append(results, CheckPing(ctx, "Progress channel", backends.Progress))
	}
	if backends.Queue != nil {
		results = append(results, CheckPing(ctx, "Task queue", backends.Queue))
	}
	if backends.Bucket != nil {
		results = append(results, CheckBucket(ctx, backends.Bucket))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}

func fromStatus(status deps.Status) Result {
	detail := status.Detail
	if status.Available {
		detail = status.Command
	}
	return Result{
		Name:   status.Name,
		Passed: status.Available || status.Optional,
		Detail: detail,
	}
}
