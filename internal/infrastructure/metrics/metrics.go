// Package metrics exports catalog, upstream-source and HTTP metrics in the
// Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oceanvision/marine-catalog/internal/application/catalog"
	"github.com/oceanvision/marine-catalog/pkg/circuitbreaker"
)

const namespace = "oceanvision"

// Recorder owns a private registry so several recorders (one per test, for
// example) never collide on metric names.
type Recorder struct {
	registry *prometheus.Registry

	sourceFetches  *prometheus.CounterVec
	sourceRecords  *prometheus.CounterVec
	sourceDuration *prometheus.HistogramVec
	breakerState   *prometheus.GaugeVec

	reloads        *prometheus.CounterVec
	reloadDuration *prometheus.HistogramVec
	catalogSize    prometheus.Gauge

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

var _ catalog.Observer = (*Recorder)(nil)

// Options tune what the recorder registers besides the catalog metrics.
type Options struct {
	// ProcessCollectors adds the Go runtime and process collectors.
	ProcessCollectors bool
}

// NewRecorder creates a recorder and registers all its collectors.
func NewRecorder(opts Options) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),

		sourceFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "fetches_total",
			Help:      "Upstream source fetches by outcome.",
		}, []string{"source", "result"}),
		sourceRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "records_total",
			Help:      "Partial records returned by upstream sources.",
		}, []string{"source"}),
		sourceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "fetch_duration_seconds",
			Help:      "Time spent fetching one upstream source.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"source"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "circuit_state",
			Help:      "Circuit breaker state per source (0 closed, 1 open, 2 half-open).",
		}, []string{"source"}),

		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "reloads_total",
			Help:      "Catalog reloads by trigger and outcome.",
		}, []string{"trigger", "result"}),
		reloadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "reload_duration_seconds",
			Help:      "Time spent loading a catalog snapshot.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"trigger"}),
		catalogSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "species",
			Help:      "Species in the last successfully loaded snapshot.",
		}),

		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}

	r.registry.MustRegister(
		r.sourceFetches, r.sourceRecords, r.sourceDuration, r.breakerState,
		r.reloads, r.reloadDuration, r.catalogSize,
		r.httpRequests, r.httpDuration,
	)
	if opts.ProcessCollectors {
		r.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	return r
}

// Registry exposes the underlying registry, mostly for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// ObserveSourceFetch implements catalog.Observer.
func (r *Recorder) ObserveSourceFetch(source string, records int, duration time.Duration, err error) {
	r.sourceFetches.WithLabelValues(source, result(err)).Inc()
	r.sourceDuration.WithLabelValues(source).Observe(duration.Seconds())
	if err == nil {
		r.sourceRecords.WithLabelValues(source).Add(float64(records))
	}
}

// ObserveReload implements catalog.Observer.
func (r *Recorder) ObserveReload(trigger string, records int, duration time.Duration, err error) {
	r.reloads.WithLabelValues(trigger, result(err)).Inc()
	r.reloadDuration.WithLabelValues(trigger).Observe(duration.Seconds())
	if err == nil {
		r.catalogSize.Set(float64(records))
	}
}

// ObserveBreakerState has the signature of the biodiversity client's
// OnStateChange hook.
func (r *Recorder) ObserveBreakerState(source string, _, to circuitbreaker.State) {
	r.breakerState.WithLabelValues(source).Set(float64(to))
}

// ObserveHTTPRequest records one served request. route is the router
// pattern, never the raw path, to keep label cardinality bounded.
func (r *Recorder) ObserveHTTPRequest(route, method string, status int, duration time.Duration) {
	r.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	r.httpDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
