// Package pipeline turns a sermon job into a processed MP3.
//
// The Generator validates incoming payloads, marks the sermon document
// pending and hands the job to the queue. The Orchestrator executes a job:
// it waits for the document, fetches intro and outro clips, trims and
// transcodes the source (streamed through yt-dlp or read from the bucket),
// concatenates the clips, uploads the result and records the final status.
// Every run publishes monotonic progress and removes its scratch files.
package pipeline
