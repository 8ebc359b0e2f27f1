// Package daemonrun is the composition root of the sermonpipe process.
//
// OpenStack wires the configured document store, bucket, progress channel,
// metrics recorder and media tools into a pipeline orchestrator. Run builds
// the long-lived daemon on top of that stack; RunOnce processes a single
// payload in the foreground without touching the queue.
package daemonrun
