package progress

import (
	"context"
	"log/slog"
	"math"
	"sync"

	"sermonpipe/internal/logging"
)

// Band is a slice of the overall 0..100 progress range owned by one stage.
type Band struct {
	Start float64
	End   float64
}

// Map converts a stage-local percent into the overall range.
func (b Band) Map(percent float64) float64 {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return b.Start + (b.End-b.Start)*percent/100
}

// Bands splits a run into download, transcode and merge ranges. DownloadEnd
// is zero when the source is piped rather than materialized.
type Bands struct {
	DownloadEnd  float64
	TranscodeEnd float64
}

func (b Bands) Download() Band  { return Band{Start: 0, End: b.DownloadEnd} }
func (b Bands) Transcode() Band { return Band{Start: b.DownloadEnd, End: b.TranscodeEnd} }
func (b Bands) Merge() Band     { return Band{Start: b.TranscodeEnd, End: 100} }

// Reporter publishes one job's progress, never letting it go backwards.
type Reporter struct {
	channel Channel
	jobID   string
	logger  *slog.Logger

	mu   sync.Mutex
	last int
}

// NewReporter returns a reporter for jobID. A nil channel discards updates.
func NewReporter(channel Channel, jobID string, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Reporter{channel: channel, jobID: jobID, logger: logger, last: -1}
}

// Stage returns a callback that maps stage-local percent into band.
func (r *Reporter) Stage(ctx context.Context, band Band) func(percent float64) {
	return func(percent float64) {
		r.Publish(ctx, band.Map(percent))
	}
}

// Publish rounds value and sends it when it is greater than the last value
// sent. Channel errors are logged, not returned.
func (r *Reporter) Publish(ctx context.Context, value float64) {
	v := int(math.Round(value))
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if v <= r.last {
		return
	}
	r.last = v
	if r.channel == nil {
		return
	}
	if err := r.channel.Set(ctx, r.jobID, v); err != nil {
		logging.WarnWithContext(r.logger, "progress publish failed", "progress_publish_failed",
			logging.Int(logging.FieldProgress, v),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the progress backend connection"),
		)
	}
}

// Complete publishes 100.
func (r *Reporter) Complete(ctx context.Context) {
	r.Publish(ctx, 100)
}

// Last returns the last published value, or -1 before the first publish.
func (r *Reporter) Last() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Clear deletes the job's progress key.
func (r *Reporter) Clear(ctx context.Context) {
	if r.channel == nil {
		return
	}
	if err := r.channel.Clear(ctx, r.jobID); err != nil {
		logging.WarnWithContext(r.logger, "progress clear failed", "progress_clear_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the key expires after the configured TTL"),
		)
	}
}
