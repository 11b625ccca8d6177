package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	registry          *prometheus.Registry
	CapturedTotal     prometheus.Counter
	ReplaysTotal      *prometheus.CounterVec
	ReplayInflight    prometheus.Gauge
	StoreSize         prometheus.Gauge
	IndexSize         prometheus.Gauge
	ImportErrorsTotal prometheus.Counter
	IngestErrorsTotal prometheus.Counter
}

func NewMetrics() *Metrics {
	r := prometheus.NewRegistry()
	m := &Metrics{
		registry: r,
		CapturedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reqlens",
			Name:      "captured_total",
			Help:      "Total transactions emitted by the normalizer",
		}),
		ReplaysTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reqlens",
			Name:      "replays_total",
			Help:      "Total replay dispatches by terminal status",
		}, []string{"status"}),
		ReplayInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "reqlens",
			Name:      "replay_inflight",
			Help:      "Replay network calls currently in flight",
		}),
		StoreSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "reqlens",
			Name:      "store_size",
			Help:      "Transactions currently stored (tombstones excluded)",
		}),
		IndexSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "reqlens",
			Name:      "index_size",
			Help:      "Transactions currently indexed",
		}),
		ImportErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reqlens",
			Name:      "import_errors_total",
			Help:      "Malformed records rejected during HAR import",
		}),
		IngestErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reqlens",
			Name:      "ingest_errors_total",
			Help:      "Capture ingest messages that could not be decoded",
		}),
	}
	r.MustRegister(m.CapturedTotal, m.ReplaysTotal, m.ReplayInflight, m.StoreSize, m.IndexSize, m.ImportErrorsTotal, m.IngestErrorsTotal)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
