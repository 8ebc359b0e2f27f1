package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"sermonpipe/internal/cancel"
	"sermonpipe/internal/services"
)

// SegmentOrder returns the concatenation order intro, content, outro,
// skipping empty paths.
func SegmentOrder(intro, content, outro string) []string {
	segments := make([]string, 0, 3)
	for _, path := range []string{intro, content, outro} {
		if strings.TrimSpace(path) != "" {
			segments = append(segments, path)
		}
	}
	return segments
}

// Concatenator joins MP3 segments that share codec parameters without
// re-encoding.
type Concatenator struct {
	runner *Runner
}

// NewConcatenator returns a concatenator using binary.
func NewConcatenator(binary string, logger *slog.Logger) *Concatenator {
	return &Concatenator{runner: NewRunner(binary, logger)}
}

// ConcatRequest describes one concat demuxer invocation.
type ConcatRequest struct {
	Segments []string
	// ListPath is where the demuxer list file is written.
	ListPath     string
	Output       string
	TotalSeconds float64
}

// Concat writes the list file and runs the concat demuxer with stream copy.
func (c *Concatenator) Concat(ctx context.Context, req ConcatRequest, token *cancel.Token, onProgress ProgressFunc) (Result, error) {
	if len(req.Segments) == 0 {
		return Result{}, services.Wrap(services.ErrInternal, "merge", "concat", "no segments", nil)
	}
	if err := WriteConcatList(req.ListPath, req.Segments); err != nil {
		return Result{}, services.Wrap(services.ErrInternal, "merge", "write list", req.ListPath, err)
	}
	args := append(baseArgs(),
		"-f", "concat",
		"-safe", "0",
		"-i", req.ListPath,
		"-c", "copy",
		"-f", OutputFormat,
		req.Output,
	)
	return c.runner.run(ctx, invocation{
		stage:      "merge",
		args:       args,
		expected:   req.TotalSeconds,
		token:      token,
		onProgress: onProgress,
	})
}

// WriteConcatList writes one "file '<path>'" line per segment.
func WriteConcatList(path string, segments []string) error {
	if path == "" {
		return errors.New("empty list path")
	}
	var b strings.Builder
	for _, segment := range segments {
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(segment, "'", `'\''`))
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}
