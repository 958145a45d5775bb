/*
metrics.go - Prometheus collectors for the recargo engine

PURPOSE:
  Implements recargo.Metrics (snapshot writes, committed mutations, replay
  lengths) and the HTTP request histogram used by the api middleware. All
  collectors live on one Registry so tests and the /metrics handler see
  the same set.

SEE ALSO:
  - recargo/notify.go: The Metrics interface
  - api/server.go: Mounts Handler at /metrics
*/
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config adds constant labels to every series.
type Config struct {
	ServiceName string
	Environment string
}

// Recorder owns the collectors.
type Recorder struct {
	registry *prometheus.Registry

	snapshots     *prometheus.CounterVec
	snapshotBytes *prometheus.HistogramVec
	mutations     *prometheus.CounterVec
	replayed      prometheus.Histogram
	requests      *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry, plus the Go and
// process collectors.
func New(cfg Config) *Recorder {
	service := cfg.ServiceName
	if service == "" {
		service = "recargo-engine"
	}
	env := cfg.Environment
	if env == "" {
		env = "unknown"
	}
	constLabels := prometheus.Labels{"service": service, "env": env}

	r := &Recorder{
		registry: prometheus.NewRegistry(),
		snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "recargo_snapshots_written_total",
			Help:        "Snapshots written by reason.",
			ConstLabels: constLabels,
		}, []string{"reason"}),
		snapshotBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "recargo_snapshot_size_bytes",
			Help:        "Serialized snapshot payload size.",
			Buckets:     prometheus.ExponentialBuckets(512, 2, 10),
			ConstLabels: constLabels,
		}, []string{"reason"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "recargo_mutations_committed_total",
			Help:        "Committed planilla mutations by action.",
			ConstLabels: constLabels,
		}, []string{"action"}),
		replayed: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "recargo_reconstruct_deltas_replayed",
			Help:        "Change records applied on top of a snapshot per reconstruction.",
			Buckets:     []float64{0, 1, 2, 3, 4, 5, 7, 9, 15, 25},
			ConstLabels: constLabels,
		}),
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "recargo_http_request_duration_seconds",
			Help:        "HTTP request latency by route pattern and status.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		}, []string{"method", "route", "status"}),
	}
	r.registry.MustRegister(
		r.snapshots, r.snapshotBytes, r.mutations, r.replayed, r.requests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// SnapshotWritten implements recargo.Metrics.
func (r *Recorder) SnapshotWritten(reason string, sizeBytes int) {
	r.snapshots.WithLabelValues(reason).Inc()
	r.snapshotBytes.WithLabelValues(reason).Observe(float64(sizeBytes))
}

// MutationCommitted implements recargo.Metrics.
func (r *Recorder) MutationCommitted(action string) {
	r.mutations.WithLabelValues(action).Inc()
}

// DeltasReplayed implements recargo.Metrics.
func (r *Recorder) DeltasReplayed(n int) {
	r.replayed.Observe(float64(n))
}

// ObserveRequest records one served HTTP request.
func (r *Recorder) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	r.requests.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

// Registry exposes the registry for tests and custom handlers.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
