// Package ffmpeg wraps the ffmpeg binary for the three media operations of
// the pipeline: normalizing transcode, stream-copy trim, and stream-copy
// concatenation.
//
// Every invocation reports machine-readable progress through "-progress
// pipe:1", watches the run's cancellation token on each progress tick and in
// a watcher goroutine, and on cancellation sends SIGTERM to the ffmpeg process
// group before returning an error wrapping services.ErrAborted. Known fatal
// stderr conditions take precedence over the generic exit failure; both are
// reported as services.ErrInternal. The wrappers never retry.
package ffmpeg
