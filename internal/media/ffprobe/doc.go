// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// The pipeline uses it to measure segment durations: the intro and outro
// fetched for a job and the transcoded content, whose sum becomes the
// document's durationSeconds.
package ffprobe
