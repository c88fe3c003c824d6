package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Request outcomes.
const (
	OutcomeOK          = "ok"
	OutcomeNetwork     = "network_error"
	OutcomeEnvelope    = "envelope_error"
	OutcomeParse       = "parse_error"
	OutcomeShape       = "shape_error"
	OutcomeInvalidItem = "invalid_item"
	OutcomeBadRequest  = "bad_request"
)

// Metrics holds the collectors for the news API.
type Metrics struct {
	requests *prometheus.CounterVec
	upstream *prometheus.HistogramVec
	items    prometheus.Histogram
	registry *prometheus.Registry
}

// New registers the API collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "area_news",
			Name:      "requests_total",
			Help:      "News requests by outcome.",
		}, []string{"outcome"}),
		upstream: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "area_news",
			Name:      "upstream_duration_seconds",
			Help:      "Latency of the Sonar chat-completions call.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"mode", "success"}),
		items: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "area_news",
			Name:      "items_returned",
			Help:      "Number of news items returned per successful request.",
			Buckets:   []float64{0, 1, 2, 3, 4, 5, 8},
		}),
		registry: reg,
	}
	reg.MustRegister(m.requests, m.upstream, m.items)
	return m
}

// ObserveRequest counts one finished request.
func (m *Metrics) ObserveRequest(outcome string) {
	m.requests.WithLabelValues(outcome).Inc()
}

// ObserveUpstream records one upstream call.
func (m *Metrics) ObserveUpstream(mode string, took time.Duration, err error) {
	success := "true"
	if err != nil {
		success = "false"
	}
	m.upstream.WithLabelValues(mode, success).Observe(took.Seconds())
}

// ObserveItems records how many items a successful request returned.
func (m *Metrics) ObserveItems(n int) {
	m.items.Observe(float64(n))
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
