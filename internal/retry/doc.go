// Package retry wraps sethvargo/go-retry with the two shapes the pipeline
// needs: fixed-delay polling for a value that may not exist yet, and
// exponential backoff for transient failures and queue redelivery.
package retry
