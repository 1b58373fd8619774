package admin

import "github.com/prometheus/client_golang/prometheus"

// metrics holds the Prometheus collectors this admin surface exposes on
// GET /metrics. client_golang also has a query-client half for pulling
// metrics out of an external Prometheus; this package uses the other
// half instead, exposing counters/histograms/gauges for an external
// Prometheus to scrape.
type metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	poolAvailable   *prometheus.GaugeVec
	poolInUse       *prometheus.GaugeVec
	poolUnhealthy   *prometheus.GaugeVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arenabridge_requests_total",
			Help: "Total chat-completions requests handled, by model and outcome.",
		}, []string{"model", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "arenabridge_request_duration_seconds",
			Help:    "Chat-completions request duration in seconds, by model.",
			Buckets: prometheus.DefBuckets,
		}, []string{"model"}),
		poolAvailable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "arenabridge_pool_available_sessions",
			Help: "Available warmed sessions, by model.",
		}, []string{"model"}),
		poolInUse: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "arenabridge_pool_in_use_sessions",
			Help: "In-use sessions, by model.",
		}, []string{"model"}),
		poolUnhealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "arenabridge_pool_unhealthy_sessions",
			Help: "Sessions marked unhealthy, by model.",
		}, []string{"model"}),
	}

	m.registry.MustRegister(m.requestsTotal, m.requestDuration, m.poolAvailable, m.poolInUse, m.poolUnhealthy)
	return m
}

func (m *metrics) observeRequest(model, status string, seconds float64) {
	m.requestsTotal.WithLabelValues(model, status).Inc()
	m.requestDuration.WithLabelValues(model).Observe(seconds)
}

func (m *metrics) setPoolGauges(model string, available, inUse, unhealthy int) {
	m.poolAvailable.WithLabelValues(model).Set(float64(available))
	m.poolInUse.WithLabelValues(model).Set(float64(inUse))
	m.poolUnhealthy.WithLabelValues(model).Set(float64(unhealthy))
}
