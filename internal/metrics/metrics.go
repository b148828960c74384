package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for scans and inventory writes
type Metrics struct {
	ScansTotal         prometheus.Counter
	ProbesTotal        *prometheus.CounterVec
	HostsUpsertedTotal prometheus.Counter
	HostsMarkedDead    prometheus.Counter
	ModelsStoredTotal  prometheus.Counter
	StoreErrorsTotal   prometheus.Counter
	ProbeDuration      prometheus.Histogram
	ScanRunning        prometheus.Gauge
}

// NewMetrics registers all collectors on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ScansTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "compass_scans_total",
			Help: "Total number of subnet scans started",
		}),
		ProbesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "compass_probes_total",
			Help: "Total number of host probes by result",
		}, []string{"result"}),
		HostsUpsertedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "compass_hosts_upserted_total",
			Help: "Total number of host upserts",
		}),
		HostsMarkedDead: f.NewCounter(prometheus.CounterOpts{
			Name: "compass_hosts_marked_dead_total",
			Help: "Total number of hosts marked dead",
		}),
		ModelsStoredTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "compass_models_stored_total",
			Help: "Total number of model rows written by inventory refreshes",
		}),
		StoreErrorsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "compass_store_errors_total",
			Help: "Total number of failed store operations",
		}),
		ProbeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "compass_probe_duration_seconds",
			Help:    "Latency of successful Ollama probes",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		ScanRunning: f.NewGauge(prometheus.GaugeOpts{
			Name: "compass_scan_running",
			Help: "1 while a subnet scan is in progress",
		}),
	}
}

// IncProbe counts one probe with the given result (ok, unreachable, error)
func (m *Metrics) IncProbe(result string) {
	m.ProbesTotal.WithLabelValues(result).Inc()
}
