package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds process-wide metrics that do not belong to one module.
type Metrics struct {
	BuildInfo   *prometheus.GaugeVec
	HTTPLatency *prometheus.HistogramVec
}

// New creates and registers process metrics.
func New(version string) *Metrics {
	m := &Metrics{
		BuildInfo: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aegis_build_info",
			Help: "Build information for the running process",
		}, []string{"version"}),
		HTTPLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aegis_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
	m.BuildInfo.WithLabelValues(version).Set(1)
	return m
}

// ObserveHTTP records one request.
func (m *Metrics) ObserveHTTP(route, status string, seconds float64) {
	if m != nil {
		m.HTTPLatency.WithLabelValues(route, status).Observe(seconds)
	}
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
