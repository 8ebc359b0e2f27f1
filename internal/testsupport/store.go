package testsupport

import (
	"context"
	"testing"

	"sermonpipe/internal/config"
	"sermonpipe/internal/queue"
	"sermonpipe/internal/source"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// Enqueue adds a pending task for a minimal valid storage-path payload.
func Enqueue(t testing.TB, store *queue.Store, jobID string) *queue.Task {
	t.Helper()

	task, err := store.Enqueue(context.Background(), source.Payload{
		ID:              jobID,
		Duration:        60,
		StorageFilePath: "raw/" + jobID + ".mp3",
	})
	if err != nil {
		t.Fatalf("store.Enqueue: %v", err)
	}
	return task
}
