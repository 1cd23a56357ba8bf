package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics instruments the refresh pipeline.
type Metrics struct {
	registry *prometheus.Registry

	CyclesTotal        *prometheus.CounterVec
	CycleDuration      prometheus.Histogram
	ProvidersPersisted prometheus.Gauge
	SnapshotBytes      prometheus.Gauge
}

// New creates and registers all pipeline metrics on a dedicated registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "provider_directory",
			Name:      "refresh_cycles_total",
			Help:      "Refresh cycles run, labeled by outcome.",
		}, []string{"result"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "provider_directory",
			Name:      "refresh_cycle_duration_seconds",
			Help:      "Wall-clock duration of a full refresh cycle.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		ProvidersPersisted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "provider_directory",
			Name:      "providers_persisted",
			Help:      "Provider records persisted by the last successful cycle.",
		}),
		SnapshotBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "provider_directory",
			Name:      "snapshot_size_bytes",
			Help:      "Size of the currently published snapshot archive.",
		}),
	}

	m.registry.MustRegister(m.CyclesTotal, m.CycleDuration, m.ProvidersPersisted, m.SnapshotBytes)
	return m
}

// Handler exposes the registry for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
