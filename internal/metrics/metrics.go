package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "sermonpipe"

// Recorder owns the daemon's Prometheus collectors. All methods are safe on a
// nil receiver so callers can run without metrics.
type Recorder struct {
	registry      *prometheus.Registry
	runs          *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	activeRuns    prometheus.Gauge
	queueDepth    *prometheus.GaugeVec
	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
}

// New creates a recorder with its own registry, including Go runtime and
// process collectors.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs partitioned by terminal outcome.",
		}, []string{"outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each pipeline stage.",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"stage"}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Pipeline runs currently executing.",
		}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_tasks",
			Help:      "Queued tasks partitioned by status.",
		}, []string{"status"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests partitioned by status code, method and route.",
		}, []string{"code", "method", "path"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "API request latency partitioned by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
	r.registry.MustRegister(
		r.runs,
		r.stageDuration,
		r.activeRuns,
		r.queueDepth,
		r.requests,
		r.latency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registry exposes the registry for the /metrics handler.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// RecordOutcome counts one finished run. outcome is "processed" or an error
// kind.
func (r *Recorder) RecordOutcome(outcome string) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(outcome).Inc()
}

// ObserveStage records how long a stage ran.
func (r *Recorder) ObserveStage(stage string, d time.Duration) {
	if r == nil {
		return
	}
	r.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RunStarted and RunFinished bracket one executing run.
func (r *Recorder) RunStarted() {
	if r == nil {
		return
	}
	r.activeRuns.Inc()
}

func (r *Recorder) RunFinished() {
	if r == nil {
		return
	}
	r.activeRuns.Dec()
}

// SetQueueDepth publishes the number of tasks in status.
func (r *Recorder) SetQueueDepth(status string, count int) {
	if r == nil {
		return
	}
	r.queueDepth.WithLabelValues(status).Set(float64(count))
}

// ObserveRequest records one API request.
func (r *Recorder) ObserveRequest(method, path string, code int, d time.Duration) {
	if r == nil {
		return
	}
	r.requests.WithLabelValues(strconv.Itoa(code), method, path).Inc()
	r.latency.WithLabelValues(method, path).Observe(d.Seconds())
}
