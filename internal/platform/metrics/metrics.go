package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the status server.
type Metrics struct {
	registry              *prometheus.Registry
	requestsTotal         prometheus.Counter
	errorsTotal           prometheus.Counter
	transfersStartedTotal *prometheus.CounterVec
	transfersEndedTotal   *prometheus.CounterVec
	bytesTransferredTotal *prometheus.CounterVec
	remotePlaysTotal      prometheus.Counter
	activeTransfers       *prometheus.GaugeVec
	inactiveStreams       prometheus.Gauge
	remotePlays           prometheus.Gauge
}

// New creates and registers Prometheus metrics for the status server.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "media_status_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "media_status_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	transfersStartedTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "media_status_transfers_started_total",
		Help: "Total number of transfers started by kind",
	}, []string{"kind"})
	transfersEndedTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "media_status_transfers_ended_total",
		Help: "Total number of transfers ended by kind",
	}, []string{"kind"})
	bytesTransferredTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "media_status_bytes_transferred_total",
		Help: "Total bytes moved by transfers by kind",
	}, []string{"kind"})
	remotePlaysTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "media_status_remote_plays_total",
		Help: "Total number of remote play reports accepted",
	})
	activeTransfers := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "media_status_active_transfers",
		Help: "Number of active transfers by kind",
	}, []string{"kind"})
	inactiveStreams := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "media_status_inactive_streams",
		Help: "Number of players with a retained inactive stream",
	})
	remotePlays := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "media_status_remote_plays",
		Help: "Number of unexpired remote play reports",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		transfersStartedTotal,
		transfersEndedTotal,
		bytesTransferredTotal,
		remotePlaysTotal,
		activeTransfers,
		inactiveStreams,
		remotePlays,
	)

	return &Metrics{
		registry:              registry,
		requestsTotal:         requestsTotal,
		errorsTotal:           errorsTotal,
		transfersStartedTotal: transfersStartedTotal,
		transfersEndedTotal:   transfersEndedTotal,
		bytesTransferredTotal: bytesTransferredTotal,
		remotePlaysTotal:      remotePlaysTotal,
		activeTransfers:       activeTransfers,
		inactiveStreams:       inactiveStreams,
		remotePlays:           remotePlays,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// IncTransfersStarted counts a started transfer of kind.
func (m *Metrics) IncTransfersStarted(kind string) {
	m.transfersStartedTotal.WithLabelValues(kind).Inc()
}

// IncTransfersEnded counts an ended transfer of kind.
func (m *Metrics) IncTransfersEnded(kind string) {
	m.transfersEndedTotal.WithLabelValues(kind).Inc()
}

// AddBytesTransferred adds n bytes to the counter for kind.
func (m *Metrics) AddBytesTransferred(kind string, n int64) {
	if n > 0 {
		m.bytesTransferredTotal.WithLabelValues(kind).Add(float64(n))
	}
}

// IncRemotePlays counts an accepted remote play report.
func (m *Metrics) IncRemotePlays() {
	m.remotePlaysTotal.Inc()
}

// SetActiveTransfers sets the active transfers gauge for kind.
func (m *Metrics) SetActiveTransfers(kind string, n int) {
	m.activeTransfers.WithLabelValues(kind).Set(float64(n))
}

// SetInactiveStreams sets the inactive streams gauge.
func (m *Metrics) SetInactiveStreams(n int) {
	m.inactiveStreams.Set(float64(n))
}

// SetRemotePlays sets the unexpired remote plays gauge.
func (m *Metrics) SetRemotePlays(n int) {
	m.remotePlays.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
