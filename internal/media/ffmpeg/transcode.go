package ffmpeg

import (
	"context"
	"io"
	"log/slog"
	"strconv"

	"sermonpipe/internal/cancel"
)

// Output encoding policy shared by every produced segment so that segments
// can later be concatenated with stream copy.
const (
	OutputBitrate    = "128k"
	OutputSampleRate = "44100"
	OutputChannels   = "2"
	OutputCodec      = "libmp3lame"
	OutputFormat     = "mp3"
)

// AudioFilters normalizes loudness, reduces noise, and folds both channels
// into a balanced stereo image.
const AudioFilters = "dynaudnorm=g=21:m=40:c=1:b=1,afftdn,pan=stereo|c0<c0+c1|c1<c0+c1"

// TranscodeRequest describes one trim-and-encode invocation.
type TranscodeRequest struct {
	// Input is a file path or URL. Ignored when Stdin is set.
	Input string
	// Stdin feeds ffmpeg from a stream, for example a yt-dlp download.
	Stdin  io.Reader
	Output string
	// StartOffset and Duration are in seconds; zero means unset.
	StartOffset float64
	Duration    float64
	// InputDuration is used for progress when Duration is unset.
	InputDuration float64
}

// ExpectedSeconds is the output duration progress is measured against.
func (r TranscodeRequest) ExpectedSeconds() float64 {
	if r.Duration > 0 {
		return r.Duration
	}
	if r.InputDuration > 0 {
		if remaining := r.InputDuration - r.StartOffset; remaining > 0 {
			return remaining
		}
	}
	return 0
}

// Transcoder trims, filters, and re-encodes a single input into an MP3 file.
type Transcoder struct {
	runner *Runner
}

// NewTranscoder returns a transcoder using binary.
func NewTranscoder(binary string, logger *slog.Logger) *Transcoder {
	return &Transcoder{runner: NewRunner(binary, logger)}
}

// Transcode runs the full normalization and encode. It returns an error
// wrapping services.ErrAborted when token is cancelled and
// services.ErrInternal for process failures.
func (t *Transcoder) Transcode(ctx context.Context, req TranscodeRequest, token *cancel.Token, onProgress ProgressFunc) (Result, error) {
	args := append(baseArgs(), rangeArgs(req)...)
	args = append(args,
		"-i", inputArg(req),
		"-vn",
		"-af", AudioFilters,
		"-c:a", OutputCodec,
		"-b:a", OutputBitrate,
		"-ar", OutputSampleRate,
		"-ac", OutputChannels,
		"-f", OutputFormat,
		req.Output,
	)
	return t.runner.run(ctx, invocation{
		stage:      "transcode",
		args:       args,
		stdin:      req.Stdin,
		expected:   req.ExpectedSeconds(),
		token:      token,
		onProgress: onProgress,
	})
}

// Trim cuts the requested range with stream copy. It is used for inputs that
// were already produced by this pipeline and only need trimming.
func (t *Transcoder) Trim(ctx context.Context, req TranscodeRequest, token *cancel.Token, onProgress ProgressFunc) (Result, error) {
	args := append(baseArgs(), rangeArgs(req)...)
	args = append(args,
		"-i", inputArg(req),
		"-vn",
		"-c", "copy",
		"-f", OutputFormat,
		req.Output,
	)
	return t.runner.run(ctx, invocation{
		stage:      "trim",
		args:       args,
		stdin:      req.Stdin,
		expected:   req.ExpectedSeconds(),
		token:      token,
		onProgress: onProgress,
	})
}

func rangeArgs(req TranscodeRequest) []string {
	var args []string
	if req.StartOffset > 0 {
		args = append(args, "-ss", formatSeconds(req.StartOffset))
	}
	if req.Duration > 0 {
		args = append(args, "-t", formatSeconds(req.Duration))
	}
	return args
}

func inputArg(req TranscodeRequest) string {
	if req.Stdin != nil {
		return "pipe:0"
	}
	return req.Input
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
