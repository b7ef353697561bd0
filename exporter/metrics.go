package exporter

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeAccepted = "accepted"
	outcomeOverflow = "overflow"
	outcomeError    = "error"
)

// Metrics are the Prometheus collectors updated by a Service. A nil
// *Metrics records nothing.
type Metrics struct {
	submits       *prometheus.CounterVec
	polls         prometheus.Counter
	downloads     *prometheus.CounterVec
	downloadBytes prometheus.Counter
	splits        prometheus.Counter
	inFlight      prometheus.Gauge
}

// NewMetrics creates the exporter collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		submits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tileexport_submits_total",
			Help: "Export job submissions by outcome (accepted, overflow, error).",
		}, []string{"outcome"}),
		polls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tileexport_job_polls_total",
			Help: "Job status checks.",
		}),
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tileexport_downloads_total",
			Help: "Artifact downloads by result.",
		}, []string{"result"}),
		downloadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tileexport_download_bytes_total",
			Help: "Bytes written to disk by artifact downloads.",
		}),
		splits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tileexport_extent_splits_total",
			Help: "Extents partitioned after a tile count overflow.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tileexport_pipelines_in_flight",
			Help: "Submit, poll and fetch pipelines currently holding a worker slot.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.submits, m.polls, m.downloads, m.downloadBytes, m.splits, m.inFlight)
	}
	return m
}

func (m *Metrics) submit(outcome string) {
	if m == nil {
		return
	}
	m.submits.WithLabelValues(outcome).Inc()
}

func (m *Metrics) poll() {
	if m == nil {
		return
	}
	m.polls.Inc()
}

func (m *Metrics) download(n int64, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.downloads.WithLabelValues(result).Inc()
	m.downloadBytes.Add(float64(n))
}

func (m *Metrics) split() {
	if m == nil {
		return
	}
	m.splits.Inc()
}

func (m *Metrics) pipelineStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

func (m *Metrics) pipelineDone() {
	if m == nil {
		return
	}
	m.inFlight.Dec()
}
