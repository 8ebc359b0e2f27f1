// Package workflow drives queued tasks through the audio pipeline.
//
// The Manager runs a fixed pool of workers. Each worker claims the next due
// task, keeps its heartbeat fresh, runs the pipeline under the deadline guard
// and records the outcome back in the queue. A stale-task reclaimer returns
// work abandoned by a crashed worker to the queue, so delivery is
// at-least-once.
//
// Abort requests reach a running task through its cancellation token; pending
// tasks are cancelled in the queue directly.
package workflow
