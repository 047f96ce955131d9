package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pokedex"

// Fetch stages reported by FetchFailed.
const (
	StageListing = "listing"
	StageDetail  = "detail"
	StageImage   = "image"
	StageSpecies = "species"
)

// Record kinds reported by cache and persistence counters.
const (
	KindItem   = "item"
	KindDetail = "detail"
)

// Recorder collects counters for the data-access layer on its own registry.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry        *prometheus.Registry
	cacheLookups    *prometheus.CounterVec
	fetchFailures   *prometheus.CounterVec
	fallbacks       *prometheus.CounterVec
	persistFailures *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	connected       prometheus.Gauge
}

// New creates a Recorder with Go runtime and process collectors registered.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Local store lookups by record kind and result.",
		}, []string{"kind", "result"}),
		fetchFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_failures_total",
			Help:      "Remote calls that failed, by stage.",
		}, []string{"stage"}),
		fallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Operations served from the local store after a network path was unavailable.",
		}, []string{"op", "result"}),
		persistFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Best-effort cache writes that failed.",
		}, []string{"kind"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of repository operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "status"}),
		connected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected",
			Help:      "1 when the upstream API is reachable.",
		}),
	}
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// CacheHit counts a local store lookup that found a record.
func (r *Recorder) CacheHit(kind string) {
	if r == nil {
		return
	}
	r.cacheLookups.WithLabelValues(kind, "hit").Inc()
}

// CacheMiss counts a local store lookup that found nothing or failed.
func (r *Recorder) CacheMiss(kind string) {
	if r == nil {
		return
	}
	r.cacheLookups.WithLabelValues(kind, "miss").Inc()
}

// FetchFailed counts a failed remote call at the given stage.
func (r *Recorder) FetchFailed(stage string) {
	if r == nil {
		return
	}
	r.fetchFailures.WithLabelValues(stage).Inc()
}

// Fallback counts a store fallback for op; served reports whether it produced data.
func (r *Recorder) Fallback(op string, served bool) {
	if r == nil {
		return
	}
	result := "empty"
	if served {
		result = "served"
	}
	r.fallbacks.WithLabelValues(op, result).Inc()
}

// PersistFailed counts a failed best-effort write.
func (r *Recorder) PersistFailed(kind string) {
	if r == nil {
		return
	}
	r.persistFailures.WithLabelValues(kind).Inc()
}

// Observe records the outcome and duration of a repository operation.
func (r *Recorder) Observe(op string, success bool, d time.Duration) {
	if r == nil || op == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	r.duration.WithLabelValues(op, status).Observe(d.Seconds())
}

// SetConnected mirrors the connectivity state into a gauge.
func (r *Recorder) SetConnected(connected bool) {
	if r == nil {
		return
	}
	if connected {
		r.connected.Set(1)
	} else {
		r.connected.Set(0)
	}
}
