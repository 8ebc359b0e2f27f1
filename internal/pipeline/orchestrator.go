package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"sermonpipe/internal/arena"
	"sermonpipe/internal/cancel"
	"sermonpipe/internal/config"
	"sermonpipe/internal/docstore"
	"sermonpipe/internal/fetch"
	"sermonpipe/internal/logging"
	"sermonpipe/internal/media/ffmpeg"
	"sermonpipe/internal/media/ffprobe"
	"sermonpipe/internal/metrics"
	"sermonpipe/internal/objectstore"
	"sermonpipe/internal/progress"
	"sermonpipe/internal/retry"
	"sermonpipe/internal/services"
	"sermonpipe/internal/source"
	"sermonpipe/internal/textutil"
	"sermonpipe/internal/ytdlp"
)

// Stage names used for logging, metrics and error context.
const (
	StageAwaitDocument = "await_document"
	StagePrepare       = "prepare"
	StageDownload      = "download"
	StageTranscode     = "transcode"
	StageMerge         = "merge"
	StageFinalize      = "finalize"
)

// Status messages written to the sermon document while a run progresses.
const (
	MessageGettingData  = "Getting Data"
	MessageDownloading  = "Downloading"
	MessageTranscoding  = "Trimming and Transcoding"
	MessageTrimming     = "Trimming"
	MessageAddingClips  = "Adding Intro and Outro"
	outputContentType   = "audio/mpeg"
	streamShortfallRate = 0.98
)

// Deps are the collaborators a run needs. Metrics may be nil.
type Deps struct {
	Documents    docstore.Store
	Bucket       objectstore.Bucket
	Progress     progress.Channel
	Fetcher      *fetch.Fetcher
	Downloader   *ytdlp.Downloader
	Transcoder   *ffmpeg.Transcoder
	Concatenator *ffmpeg.Concatenator
	Prober       *ffprobe.Prober
	Metrics      *metrics.Recorder
	Logger       *slog.Logger
}

// Options tune a run.
type Options struct {
	ScratchDir         string
	OutputPrefix       string
	PollAttempts       int
	PollDelay          time.Duration
	SignedURLTTL       time.Duration
	MaterializeStreams bool
	DownloadBandEnd    float64
	TranscodeBandEnd   float64
}

// OptionsFromConfig derives run options from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ScratchDir:         cfg.Paths.ScratchDir,
		OutputPrefix:       cfg.Pipeline.OutputPrefix,
		PollAttempts:       cfg.Pipeline.DocumentPollTries,
		PollDelay:          cfg.DocumentPollDelay(),
		SignedURLTTL:       cfg.SignedURLTTL(),
		MaterializeStreams: cfg.Pipeline.MaterializeStreams,
		DownloadBandEnd:    float64(cfg.Pipeline.DownloadBandEnd),
		TranscodeBandEnd:   float64(cfg.Pipeline.TranscodeBandEnd),
	}
}

// Result describes a successful run.
type Result struct {
	JobID           string
	RunID           string
	OutputKey       string
	DurationSeconds float64
}

// Orchestrator drives one job from document lookup to the uploaded result.
type Orchestrator struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
}

// New validates deps and returns an orchestrator.
func New(deps Deps, opts Options) (*Orchestrator, error) {
	switch {
	case deps.Documents == nil:
		return nil, errors.New("pipeline: document store is required")
	case deps.Bucket == nil:
		return nil, errors.New("pipeline: bucket is required")
	case deps.Fetcher == nil, deps.Downloader == nil, deps.Transcoder == nil,
		deps.Concatenator == nil, deps.Prober == nil:
		return nil, errors.New("pipeline: media tools are required")
	case opts.ScratchDir == "":
		return nil, errors.New("pipeline: scratch directory is required")
	}
	if deps.Progress == nil {
		deps.Progress = progress.NewMemory()
	}
	if opts.OutputPrefix == "" {
		opts.OutputPrefix = "processed-sermons"
	}
	if opts.TranscodeBandEnd <= 0 || opts.TranscodeBandEnd > 100 {
		opts.TranscodeBandEnd = 95
	}
	return &Orchestrator{
		deps:   deps,
		opts:   opts,
		logger: logging.NewComponentLogger(deps.Logger, "pipeline"),
	}, nil
}

// OutputKey returns the object key a job's result is uploaded to.
func (o *Orchestrator) OutputKey(jobID string) string {
	return path.Join(o.opts.OutputPrefix, jobID)
}

// Run executes job. The returned error carries one of the services markers.
// Cancelling token aborts every running stage; a token cancelled with
// services.ErrDeadlineExceeded classifies the failure as a timeout.
// Progress is cleared and temporary files are removed before Run returns.
func (o *Orchestrator) Run(ctx context.Context, job source.Job, token *cancel.Token) (Result, error) {
	if token == nil {
		token = cancel.New()
	}
	runID, ok := services.RunIDFromContext(ctx)
	if !ok {
		runID = uuid.NewString()
		ctx = services.WithRunID(ctx, runID)
	}
	ctx = services.WithJobID(ctx, job.ID)

	r := &run{
		o:      o,
		job:    job,
		token:  token,
		runID:  runID,
		logger: logging.WithContext(ctx, o.logger),
		bands:  o.bands(job),
	}
	r.arena = arena.New(filepath.Join(o.opts.ScratchDir, job.ID, runID), o.deps.Logger)
	r.reporter = progress.NewReporter(o.deps.Progress, job.ID, o.deps.Logger)

	o.deps.Metrics.RunStarted()
	started := time.Now()

	stageCtx, stop := context.WithCancelCause(ctx)
	defer stop(nil)
	go func() {
		select {
		case <-token.Done():
			stop(services.ErrAborted)
		case <-stageCtx.Done():
		}
	}()

	r.reporter.Publish(stageCtx, 0)
	settleCtx := context.WithoutCancel(ctx)
	defer r.cleanup(settleCtx)
	result, err := r.execute(stageCtx)
	if err != nil {
		err = r.classify(err)
		r.fail(settleCtx, err)
	}

	outcome := string(services.KindOf(err))
	if err == nil {
		outcome = "processed"
		r.logger.Info("job processed",
			logging.String("output_key", result.OutputKey),
			logging.Float64("duration_seconds", result.DurationSeconds),
			logging.Duration("elapsed", time.Since(started)),
		)
	}
	o.deps.Metrics.RecordOutcome(outcome)
	o.deps.Metrics.RunFinished()
	return result, err
}

func (o *Orchestrator) bands(job source.Job) progress.Bands {
	bands := progress.Bands{TranscodeEnd: o.opts.TranscodeBandEnd}
	if o.fileMode(job) {
		bands.DownloadEnd = o.opts.DownloadBandEnd
	}
	if bands.DownloadEnd < 0 || bands.DownloadEnd >= bands.TranscodeEnd {
		bands.DownloadEnd = 0
	}
	return bands
}

func (o *Orchestrator) fileMode(job source.Job) bool {
	return job.Source.Kind == source.KindStreamingURL && o.opts.MaterializeStreams
}

// run holds the state of a single execution.
type run struct {
	o        *Orchestrator
	job      source.Job
	token    *cancel.Token
	runID    string
	logger   *slog.Logger
	arena    *arena.Arena
	reporter *progress.Reporter
	bands    progress.Bands

	title    string
	stage    string
	terminal bool
	settle   sync.Once
}

type segment struct {
	path     string
	duration float64
}

func (r *run) execute(ctx context.Context) (Result, error) {
	if err := r.step(ctx, StageAwaitDocument, r.awaitDocument); err != nil {
		return Result{}, err
	}

	var intro, outro segment
	if err := r.step(ctx, StagePrepare, func(ctx context.Context) error {
		var err error
		intro, outro, err = r.prepare(ctx)
		return err
	}); err != nil {
		return Result{}, err
	}

	input := ""
	if r.o.fileMode(r.job) {
		if err := r.step(ctx, StageDownload, func(ctx context.Context) error {
			var err error
			input, err = r.download(ctx)
			return err
		}); err != nil {
			return Result{}, err
		}
	}

	var content segment
	if err := r.step(ctx, StageTranscode, func(ctx context.Context) error {
		var err error
		content, err = r.transcode(ctx, input)
		return err
	}); err != nil {
		return Result{}, err
	}

	final := content
	if r.job.HasIntroOrOutro() {
		if err := r.step(ctx, StageMerge, func(ctx context.Context) error {
			var err error
			final, err = r.merge(ctx, intro, content, outro)
			return err
		}); err != nil {
			return Result{}, err
		}
	}

	var result Result
	err := r.step(ctx, StageFinalize, func(ctx context.Context) error {
		var err error
		result, err = r.finalize(ctx, final)
		return err
	})
	return result, err
}

// step runs fn as stage, refusing to start once cancellation was requested.
func (r *run) step(ctx context.Context, stage string, fn func(context.Context) error) error {
	if r.token.Requested() {
		return services.Wrap(services.ErrAborted, stage, "start", "cancellation requested", r.token.Cause())
	}
	r.stage = stage
	ctx = services.WithStage(ctx, stage)
	started := time.Now()
	err := fn(ctx)
	r.o.deps.Metrics.ObserveStage(stage, time.Since(started))
	if err == nil {
		r.logger.Debug("stage finished",
			logging.String(logging.FieldStage, stage),
			logging.Duration("elapsed", time.Since(started)),
		)
	}
	return err
}

func (r *run) awaitDocument(ctx context.Context) error {
	doc, err := retry.Poll(ctx, r.o.opts.PollAttempts, r.o.opts.PollDelay,
		func(ctx context.Context) (*docstore.Document, bool, error) {
			doc, err := r.o.deps.Documents.Get(ctx, r.job.ID)
			if err != nil {
				return nil, false, err
			}
			return doc, doc != nil, nil
		})
	switch {
	case errors.Is(err, retry.ErrExhausted):
		return services.Wrap(services.ErrNotFound, StageAwaitDocument, "get document",
			fmt.Sprintf("sermon %s does not exist", r.job.ID), nil)
	case err != nil && ctx.Err() != nil:
		return services.Wrap(services.ErrAborted, StageAwaitDocument, "get document", "cancelled while waiting", err)
	case err != nil:
		return services.Wrap(services.ErrInternal, StageAwaitDocument, "get document", "document store failure", err)
	}
	r.title = doc.Title
	return nil
}

func (r *run) prepare(ctx context.Context) (segment, segment, error) {
	if err := r.writeStatus(ctx, MessageGettingData); err != nil {
		return segment{}, segment{}, err
	}

	var intro, outro segment
	var requests []fetch.Request
	for _, clip := range []struct {
		label string
		url   string
		into  *segment
	}{
		{label: "intro", url: r.job.IntroURL, into: &intro},
		{label: "outro", url: r.job.OutroURL, into: &outro},
	} {
		if clip.url == "" {
			continue
		}
		dest, err := r.arena.CreatePath(clip.label + ".mp3")
		if err != nil {
			return segment{}, segment{}, services.Wrap(services.ErrInternal, StagePrepare, "scratch", "allocate "+clip.label, err)
		}
		clip.into.path = dest
		requests = append(requests, fetch.Request{Label: clip.label, URL: clip.url, Dest: dest})
	}
	if err := r.o.deps.Fetcher.All(ctx, requests); err != nil {
		return segment{}, segment{}, err
	}

	for _, seg := range []*segment{&intro, &outro} {
		if seg.path == "" {
			continue
		}
		duration, err := r.o.deps.Prober.Duration(ctx, seg.path)
		if err != nil {
			return segment{}, segment{}, err
		}
		seg.duration = duration
	}
	return intro, outro, nil
}

func (r *run) download(ctx context.Context) (string, error) {
	if err := r.writeStatus(ctx, MessageDownloading); err != nil {
		return "", err
	}
	dst, err := r.arena.CreatePath("download.mp3")
	if err != nil {
		return "", services.Wrap(services.ErrInternal, StageDownload, "scratch", "allocate download", err)
	}
	rng := ytdlp.Range{Start: r.job.StartOffset, Duration: r.job.Duration}
	onProgress := r.reporter.Stage(ctx, r.bands.Download())
	if err := r.o.deps.Downloader.Download(ctx, r.job.Source.URL, rng, dst, r.token, onProgress); err != nil {
		return "", err
	}
	return dst, nil
}

// transcode produces the content segment. input is a materialized download
// in file mode and empty otherwise.
func (r *run) transcode(ctx context.Context, input string) (segment, error) {
	message := MessageTranscoding
	if r.job.SkipTranscode {
		message = MessageTrimming
	}
	if err := r.writeStatus(ctx, message); err != nil {
		return segment{}, err
	}
	output, err := r.arena.CreatePath("content.mp3")
	if err != nil {
		return segment{}, services.Wrap(services.ErrInternal, StageTranscode, "scratch", "allocate output", err)
	}

	req := ffmpeg.TranscodeRequest{Output: output, Duration: r.job.Duration}
	onProgress := r.reporter.Stage(ctx, r.bands.Transcode())

	switch {
	case input != "":
		req.Input = input
	case r.job.Source.Kind == source.KindStoragePath:
		url, err := r.sourceURL(ctx)
		if err != nil {
			return segment{}, err
		}
		req.Input = url
		req.StartOffset = r.job.StartOffset
	default:
		return r.transcodeStream(ctx, req, onProgress)
	}

	if r.job.SkipTranscode {
		_, err = r.o.deps.Transcoder.Trim(ctx, req, r.token, onProgress)
	} else {
		_, err = r.o.deps.Transcoder.Transcode(ctx, req, r.token, onProgress)
	}
	if err != nil {
		return segment{}, err
	}
	return r.probeSegment(ctx, output)
}

func (r *run) sourceURL(ctx context.Context) (string, error) {
	key := r.job.Source.Path
	exists, err := r.o.deps.Bucket.Exists(ctx, key)
	if err != nil {
		return "", services.Wrap(services.ErrInternal, StageTranscode, "stat source", key, err)
	}
	if !exists {
		return "", services.Wrap(services.ErrInvalidArgument, StageTranscode, "stat source",
			fmt.Sprintf("%s could not be found", key), nil)
	}
	url, err := r.o.deps.Bucket.SignedURL(ctx, key, r.o.opts.SignedURLTTL)
	if err != nil {
		return "", services.Wrap(services.ErrInternal, StageTranscode, "sign source", key, err)
	}
	return url, nil
}

// transcodeStream pipes yt-dlp into ffmpeg. Throughput and cancellation
// failures of the stream take precedence over the encoder's result.
func (r *run) transcodeStream(ctx context.Context, req ffmpeg.TranscodeRequest, report func(float64)) (segment, error) {
	rng := ytdlp.Range{Start: r.job.StartOffset, Duration: r.job.Duration}
	stream, err := r.o.deps.Downloader.Open(ctx, r.job.Source.URL, rng, r.token)
	if err != nil {
		return segment{}, err
	}
	req.Stdin = stream

	var consuming sync.Once
	_, transcodeErr := r.o.deps.Transcoder.Transcode(ctx, req, r.token, func(percent float64) {
		consuming.Do(stream.MarkConsuming)
		report(percent)
	})
	streamErr := stream.Close()

	switch {
	case errors.Is(streamErr, services.ErrResourceExhausted), errors.Is(streamErr, services.ErrAborted):
		return segment{}, streamErr
	case transcodeErr != nil:
		return segment{}, transcodeErr
	}

	content, err := r.probeSegment(ctx, req.Output)
	if err != nil {
		return segment{}, err
	}
	if streamErr != nil {
		if content.duration < req.Duration*streamShortfallRate {
			return segment{}, streamErr
		}
		logging.WarnWithContext(r.logger, "downloader exited with error after complete stream", "stream_exit_ignored",
			logging.Error(streamErr),
			logging.Float64("duration_seconds", content.duration),
			logging.String(logging.FieldErrorHint, "update yt-dlp if this repeats"),
		)
	}
	return content, nil
}

func (r *run) probeSegment(ctx context.Context, path string) (segment, error) {
	duration, err := r.o.deps.Prober.Duration(ctx, path)
	if err != nil {
		return segment{}, err
	}
	return segment{path: path, duration: duration}, nil
}

func (r *run) merge(ctx context.Context, intro, content, outro segment) (segment, error) {
	if err := r.writeStatus(ctx, MessageAddingClips); err != nil {
		return segment{}, err
	}
	listPath, err := r.arena.CreatePath("concat.txt")
	if err != nil {
		return segment{}, services.Wrap(services.ErrInternal, StageMerge, "scratch", "allocate list", err)
	}
	output, err := r.arena.CreatePath("merged.mp3")
	if err != nil {
		return segment{}, services.Wrap(services.ErrInternal, StageMerge, "scratch", "allocate output", err)
	}
	total := intro.duration + content.duration + outro.duration
	req := ffmpeg.ConcatRequest{
		Segments:     ffmpeg.SegmentOrder(intro.path, content.path, outro.path),
		ListPath:     listPath,
		Output:       output,
		TotalSeconds: total,
	}
	if _, err := r.o.deps.Concatenator.Concat(ctx, req, r.token, r.reporter.Stage(ctx, r.bands.Merge())); err != nil {
		return segment{}, err
	}
	return segment{path: output, duration: total}, nil
}

func (r *run) finalize(ctx context.Context, final segment) (Result, error) {
	key := r.o.OutputKey(r.job.ID)
	opts := objectstore.UploadOptions{
		ContentType:        outputContentType,
		ContentDisposition: textutil.ContentDisposition(r.title),
		Metadata: map[string]string{
			"duration": strconv.FormatFloat(final.duration, 'f', -1, 64),
			"title":    textutil.FoldASCII(r.title),
			"introUrl": r.job.IntroURL,
			"outroUrl": r.job.OutroURL,
		},
	}
	if r.token.Requested() {
		return Result{}, services.Wrap(services.ErrAborted, StageFinalize, "upload", "cancelled before upload", r.token.Cause())
	}
	if err := r.o.deps.Bucket.Upload(ctx, final.path, key, opts); err != nil {
		return Result{}, services.Wrap(services.ErrInternal, StageFinalize, "upload", key, err)
	}

	duration := final.duration
	update := docstore.StatusUpdate{AudioStatus: docstore.StatusProcessed, DurationSeconds: &duration}
	if err := r.o.deps.Documents.MergeStatus(ctx, r.job.ID, update); err != nil {
		return Result{}, services.Wrap(services.ErrInternal, StageFinalize, "status", "record processed", err)
	}
	r.terminal = true
	r.reporter.Complete(ctx)

	if r.job.DeleteOriginal && r.job.Source.Kind == source.KindStoragePath {
		if err := r.o.deps.Bucket.Delete(ctx, r.job.Source.Path); err != nil {
			logging.WarnWithContext(r.logger, "original audio not deleted", "delete_original_failed",
				logging.String("key", r.job.Source.Path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "remove the original upload manually"),
			)
		}
	}

	return Result{
		JobID:           r.job.ID,
		RunID:           r.runID,
		OutputKey:       key,
		DurationSeconds: final.duration,
	}, nil
}

// writeStatus records a Processing status with message.
func (r *run) writeStatus(ctx context.Context, message string) error {
	update := docstore.StatusUpdate{AudioStatus: docstore.StatusProcessing, Message: message}
	if err := r.o.deps.Documents.MergeStatus(ctx, r.job.ID, update); err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return err
		}
		return services.Wrap(services.ErrInternal, r.stage, "status", message, err)
	}
	r.logger.Info("job status updated", logging.String("message", message))
	return nil
}

func (r *run) classify(err error) error {
	if errors.Is(r.token.Cause(), services.ErrDeadlineExceeded) && !errors.Is(err, services.ErrDeadlineExceeded) {
		return services.Wrap(services.ErrDeadlineExceeded, r.stage, "budget", "job ran out of time", err)
	}
	return err
}

// fail writes the Error status at most once and never after a terminal
// status was recorded.
func (r *run) fail(ctx context.Context, err error) {
	kind := services.KindOf(err)
	logging.ErrorWithContext(r.logger, "job failed", "job_failed",
		logging.String(logging.FieldStage, r.stage),
		logging.String(logging.FieldErrorKind, string(kind)),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, errorHint(kind)),
	)
	r.settle.Do(func() {
		if r.terminal {
			return
		}
		r.terminal = true
		update := docstore.StatusUpdate{AudioStatus: docstore.StatusError, Message: services.UserMessage(err)}
		if writeErr := r.o.deps.Documents.MergeStatus(ctx, r.job.ID, update); writeErr != nil {
			logging.WarnWithContext(r.logger, "error status not recorded", "status_write_failed",
				logging.Error(writeErr),
				logging.String(logging.FieldErrorHint, "check document store connectivity"),
			)
		}
	})
}

func (r *run) cleanup(ctx context.Context) {
	r.reporter.Clear(ctx)
	r.arena.RemoveAll()
}

func errorHint(kind services.Kind) string {
	switch kind {
	case services.KindInvalidArgument:
		return "fix the job payload and resubmit"
	case services.KindNotFound:
		return "create the sermon document before submitting"
	case services.KindResourceExhausted:
		return "the source is throttling downloads; retry later"
	case services.KindAborted:
		return "the job was cancelled"
	case services.KindDeadlineExceeded:
		return "raise pipeline.dispatcher_timeout or shorten the requested range"
	default:
		return "check ffmpeg and yt-dlp output in the logs"
	}
}
