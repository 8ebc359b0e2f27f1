// Package source validates dispatcher payloads and resolves the job's audio
// source into a StoragePath or StreamingURL handle.
//
// Validation happens before any resource is touched: a malformed payload, a
// payload naming neither or both sources, or a skip-transcode request against
// a streaming source is rejected with services.ErrInvalidArgument.
package source
