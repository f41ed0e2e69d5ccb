package discovery

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for fetching and extraction.
type Metrics struct {
	Registry        *prometheus.Registry
	RequestsTotal   *prometheus.CounterVec
	RequestDuration prometheus.Histogram
	StoriesTotal    *prometheus.CounterVec
	BlocksTotal     *prometheus.CounterVec
	ErrorsTotal     *prometheus.CounterVec
	LastScan        *prometheus.GaugeVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsdigest_requests_total",
			Help: "Page requests by result (ok, error, cache_hit).",
		},
		[]string{"result"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "newsdigest_request_duration_seconds",
			Help:    "HTTP latency of page requests, excluding the politeness delay.",
			Buckets: prometheus.DefBuckets,
		},
	)
	storiesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsdigest_stories_total",
			Help: "Stories extracted per site.",
		},
		[]string{"site"},
	)
	blocksTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsdigest_blocks_total",
			Help: "Block scans by outcome.",
		},
		[]string{"site", "outcome"},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsdigest_errors_total",
			Help: "Scan errors by type.",
		},
		[]string{"error_type"},
	)
	lastScan := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "newsdigest_last_scan_timestamp_seconds",
			Help: "Unix time of the last finished scan per site.",
		},
		[]string{"site"},
	)

	registry.MustRegister(requests, requestDuration, storiesTotal, blocksTotal, errorsTotal, lastScan)

	return &Metrics{
		Registry:        registry,
		RequestsTotal:   requests,
		RequestDuration: requestDuration,
		StoriesTotal:    storiesTotal,
		BlocksTotal:     blocksTotal,
		ErrorsTotal:     errorsTotal,
		LastScan:        lastScan,
	}
}

// IncRequest increments the requests counter.
func (m *Metrics) IncRequest(result string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(result).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// AddStories adds n to the site's story counter.
func (m *Metrics) AddStories(site string, n int) {
	if m == nil {
		return
	}
	m.StoriesTotal.WithLabelValues(site).Add(float64(n))
}

// IncBlock counts a finished block scan.
func (m *Metrics) IncBlock(site string, outcome Outcome) {
	if m == nil {
		return
	}
	m.BlocksTotal.WithLabelValues(site, outcome.String()).Inc()
}

// IncError increments the errors counter for err's type.
func (m *Metrics) IncError(err error) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorTypeLabel(err)).Inc()
}

// SetLastScan records when a site scan finished.
func (m *Metrics) SetLastScan(site string, at time.Time) {
	if m == nil {
		return
	}
	m.LastScan.WithLabelValues(site).Set(float64(at.Unix()))
}
