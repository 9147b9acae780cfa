// Package metrics exposes sweep, fetch and record counters to Prometheus.
// Every method is safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrSnakeDoc/toposync/internal/version"
)

const namespace = "toposync"

// Sweep outcomes.
const (
	SweepChanged   = "changed"
	SweepUnchanged = "unchanged"
	SweepPartial   = "partial"
	SweepFailed    = "failed"
)

// Metrics groups the collectors of one process.
type Metrics struct {
	registry *prometheus.Registry

	sweeps          *prometheus.CounterVec
	sweepDuration   prometheus.Histogram
	sweepsSkipped   prometheus.Counter
	fetches         *prometheus.CounterVec
	fetchDuration   prometheus.Histogram
	recordsInserted prometheus.Counter
	endpoints       *prometheus.GaugeVec
	notifications   *prometheus.CounterVec
	lastSweep       prometheus.Gauge
}

// New registers every collector on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_total",
			Help:      "Completed sweeps by outcome.",
		}, []string{"result"}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Wall time of a sweep.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		sweepsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_skipped_total",
			Help:      "Ticks or triggers dropped because a sweep was still running.",
		}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Topology fetches by result (ok or failure kind).",
		}, []string{"result"}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Time spent fetching one topology document.",
			Buckets:   prometheus.DefBuckets,
		}),
		recordsInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_inserted_total",
			Help:      "Service records inserted.",
		}),
		endpoints: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "endpoints",
			Help:      "Endpoints seen by the last sweep, by availability.",
		}, []string{"available"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Change notifications by delivery result.",
		}, []string{"result"}),
		lastSweep: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_sweep_timestamp_seconds",
			Help:      "Unix time the last sweep finished.",
		}),
	}

	build := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build information (always 1).",
	}, []string{"version", "commit", "goversion"})
	build.WithLabelValues(version.Version, version.Commit, version.GoVersion).Set(1)

	reg.MustRegister(
		m.sweeps, m.sweepDuration, m.sweepsSkipped,
		m.fetches, m.fetchDuration, m.recordsInserted,
		m.endpoints, m.notifications, m.lastSweep, build,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// GaugeFunc registers a gauge sampled at scrape time.
func (m *Metrics) GaugeFunc(name, help string, fn func() float64) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

func (m *Metrics) ObserveSweep(result string, elapsed time.Duration, finished time.Time) {
	if m == nil {
		return
	}
	m.sweeps.WithLabelValues(result).Inc()
	m.sweepDuration.Observe(elapsed.Seconds())
	m.lastSweep.Set(float64(finished.Unix()))
}

func (m *Metrics) SweepSkipped() {
	if m == nil {
		return
	}
	m.sweepsSkipped.Inc()
}

func (m *Metrics) ObserveFetch(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(result).Inc()
	m.fetchDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) RecordsInserted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.recordsInserted.Add(float64(n))
}

func (m *Metrics) SetEndpoints(available, unavailable int) {
	if m == nil {
		return
	}
	m.endpoints.WithLabelValues("true").Set(float64(available))
	m.endpoints.WithLabelValues("false").Set(float64(unavailable))
}

func (m *Metrics) Notification(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.notifications.WithLabelValues(result).Inc()
}
