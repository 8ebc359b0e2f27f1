package source

import (
	"strings"

	"sermonpipe/internal/services"
)

// Kind tags where a job's audio comes from.
type Kind int

const (
	KindStoragePath Kind = iota + 1
	KindStreamingURL
)

func (k Kind) String() string {
	switch k {
	case KindStoragePath:
		return "storage_path"
	case KindStreamingURL:
		return "streaming_url"
	default:
		return "unknown"
	}
}

// AudioSource identifies the raw audio of a job. Exactly one of Path and URL
// is set, matching Kind.
type AudioSource struct {
	Kind Kind
	Path string
	URL  string
}

// Location returns the path or URL, whichever the kind uses.
func (s AudioSource) Location() string {
	if s.Kind == KindStreamingURL {
		return s.URL
	}
	return s.Path
}

// Resolve classifies the payload's audio source. Neither or both sources,
// and skipTranscode with a streaming source, are invalid arguments.
func Resolve(p Payload) (AudioSource, error) {
	path := strings.TrimSpace(p.StorageFilePath)
	url := strings.TrimSpace(p.YoutubeURL)

	var src AudioSource
	switch {
	case path != "" && url != "":
		return AudioSource{}, services.Wrap(services.ErrInvalidArgument, "source", "resolve",
			"provide either storageFilePath or youtubeUrl, not both", nil)
	case path != "":
		src = AudioSource{Kind: KindStoragePath, Path: strings.TrimPrefix(path, "/")}
	case url != "":
		src = AudioSource{Kind: KindStreamingURL, URL: url}
	default:
		return AudioSource{}, services.Wrap(services.ErrInvalidArgument, "source", "resolve",
			"one of storageFilePath or youtubeUrl is required", nil)
	}

	if p.SkipTranscode && src.Kind != KindStoragePath {
		return AudioSource{}, services.Wrap(services.ErrInvalidArgument, "source", "resolve",
			"skipTranscode requires a storageFilePath source", nil)
	}
	return src, nil
}

// Job is the validated, immutable description of one pipeline run.
type Job struct {
	ID             string
	StartOffset    float64
	Duration       float64
	IntroURL       string
	OutroURL       string
	DeleteOriginal bool
	SkipTranscode  bool
	Source         AudioSource
}

// HasIntroOrOutro reports whether a merge stage is needed.
func (j Job) HasIntroOrOutro() bool {
	return j.IntroURL != "" || j.OutroURL != ""
}

// NewJob validates p and converts it into a Job.
func NewJob(p Payload) (Job, error) {
	if err := ValidatePayload(p); err != nil {
		return Job{}, err
	}
	src, err := Resolve(p)
	if err != nil {
		return Job{}, err
	}
	return Job{
		ID:             strings.TrimSpace(p.ID),
		StartOffset:    p.StartTime,
		Duration:       p.Duration,
		IntroURL:       strings.TrimSpace(p.IntroURL),
		OutroURL:       strings.TrimSpace(p.OutroURL),
		DeleteOriginal: p.DeleteOriginal,
		SkipTranscode:  p.SkipTranscode,
		Source:         src,
	}, nil
}
