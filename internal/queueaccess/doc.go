// Package queueaccess gives CLI commands one interface over the job API,
// whether the daemon is running or not.
//
// OpenWithFallback dials the daemon first and falls back to a local
// api.Service built over the configured stores, so inspection and queue
// maintenance keep working while the daemon is down.
package queueaccess
