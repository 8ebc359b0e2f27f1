// Package objectstore abstracts the bucket holding source recordings, intro
// and outro clips, and processed output. S3Bucket talks to any S3-compatible
// service via minio-go; LocalBucket keeps objects on disk for single-host
// deployments and tests.
package objectstore
