// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics
