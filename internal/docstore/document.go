package docstore

import (
	"context"
	"time"
)

// AudioStatus is the processing state recorded under status.audioStatus.
type AudioStatus string

const (
	StatusPending    AudioStatus = "PENDING"
	StatusProcessing AudioStatus = "PROCESSING"
	StatusProcessed  AudioStatus = "PROCESSED"
	StatusError      AudioStatus = "ERROR"
)

// Terminal reports whether no further transition follows within a run.
func (s AudioStatus) Terminal() bool {
	return s == StatusProcessed || s == StatusError
}

const (
	keyAudioStatus = "audioStatus"
	keyMessage     = "message"
)

// Document is a sermon record. Status is an open JSON object; the pipeline
// owns audioStatus and message, other keys belong to other writers.
type Document struct {
	ID              string         `json:"id"`
	Title           string         `json:"title"`
	Status          map[string]any `json:"status"`
	DurationSeconds *float64       `json:"durationSeconds,omitempty"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// AudioStatus returns the current audio status, or "" when unset.
func (d Document) AudioStatus() AudioStatus {
	if v, ok := d.Status[keyAudioStatus].(string); ok {
		return AudioStatus(v)
	}
	return ""
}

// StatusMessage returns the human-readable status message.
func (d Document) StatusMessage() string {
	if v, ok := d.Status[keyMessage].(string); ok {
		return v
	}
	return ""
}

// StatusUpdate is merged into a document's status object. Message is always
// written so a stale message never outlives its status.
type StatusUpdate struct {
	AudioStatus     AudioStatus
	Message         string
	DurationSeconds *float64
}

func (u StatusUpdate) patch() map[string]any {
	return map[string]any{
		keyAudioStatus: string(u.AudioStatus),
		keyMessage:     u.Message,
	}
}

// Store persists sermon documents.
type Store interface {
	// Get returns the document, or nil and no error when it does not exist.
	Get(ctx context.Context, id string) (*Document, error)
	// Put creates or replaces a document.
	Put(ctx context.Context, doc Document) error
	// SetTitle creates the document or changes only its title. Status and
	// duration are left untouched.
	SetTitle(ctx context.Context, id, title string) error
	// MergeStatus merges update into an existing document's status object.
	// Sibling keys are preserved. A missing document is services.ErrNotFound.
	MergeStatus(ctx context.Context, id string, update StatusUpdate) error
	// List returns the most recently updated documents first.
	List(ctx context.Context, limit int) ([]Document, error)
	Ping(ctx context.Context) error
	Close() error
}
