// Package metrics exposes Prometheus collectors for uploads, blob traffic,
// tree synchronization and database queries.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "councilhub"

// Metrics owns a private registry. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	uploads        *prometheus.CounterVec
	blobOps        *prometheus.CounterVec
	filesCollected prometheus.Counter
	syncDuration   *prometheus.HistogramVec
	queryDuration  *prometheus.HistogramVec
	queryErrors    *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Upload and delete requests by section and outcome.",
		}, []string{"section", "action", "outcome"}),
		blobOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blob_operations_total",
			Help:      "Blob store operations by kind and outcome.",
		}, []string{"op", "outcome"}),
		filesCollected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_collected_total",
			Help:      "File rows removed after their last reference was dropped.",
		}),
		syncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tree_sync_duration_seconds",
			Help:      "Time spent replacing a document subtree.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tree", "phase"}),
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "SQL statement latency by operation.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		}, []string{"operation"}),
		queryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_query_errors_total",
			Help:      "Failed SQL statements by operation.",
		}, []string{"operation"}),
	}

	for _, c := range []prometheus.Collector{
		m.uploads, m.blobOps, m.filesCollected, m.syncDuration, m.queryDuration, m.queryErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := m.registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}

// Registry returns the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveRequest counts one upload or delete request.
func (m *Metrics) ObserveRequest(section, action string, err error) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(section, action, outcome(err)).Inc()
}

// ObserveBlob counts one blob store call.
func (m *Metrics) ObserveBlob(op string, err error) {
	if m == nil {
		return
	}
	m.blobOps.WithLabelValues(op, outcome(err)).Inc()
}

// FileCollected counts a garbage-collected file row.
func (m *Metrics) FileCollected() {
	if m == nil {
		return
	}
	m.filesCollected.Inc()
}

// ObserveSync records how long one phase of a subtree replacement took.
func (m *Metrics) ObserveSync(tree, phase string, started time.Time) {
	if m == nil {
		return
	}
	m.syncDuration.WithLabelValues(tree, phase).Observe(time.Since(started).Seconds())
}

// ObserveQuery records SQL latency and failures.
func (m *Metrics) ObserveQuery(operation string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.queryDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
	if err != nil {
		m.queryErrors.WithLabelValues(operation).Inc()
	}
}
