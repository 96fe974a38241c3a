package httpx

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var latencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

type httpMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	limited  *prometheus.CounterVec
}

func newHTTPMetrics(reg prometheus.Registerer) *httpMetrics {
	labels := []string{"method", "route", "status"}
	return &httpMetrics{
		requests: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "perfwatch",
			Subsystem: "relay",
			Name:      "http_requests_total",
			Help:      "HTTP requests served by the relay",
		}, labels)),
		latency: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "perfwatch",
			Subsystem: "relay",
			Name:      "http_request_duration_seconds",
			Help:      "Relay HTTP handler latency",
			Buckets:   latencyBuckets,
		}, labels)),
		limited: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "perfwatch",
			Subsystem: "relay",
			Name:      "rate_limit_hits_total",
			Help:      "Requests rejected by the rate limiter",
		}, []string{"route"})),
	}
}

// register returns the collector already registered under c's descriptor, if any.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}

func (m *httpMetrics) observe(method, route string, status int, took time.Duration) {
	code := strconv.Itoa(status)
	m.requests.WithLabelValues(method, route, code).Inc()
	m.latency.WithLabelValues(method, route, code).Observe(took.Seconds())
}

func (m *httpMetrics) rateLimited(route string) {
	m.limited.WithLabelValues(route).Inc()
}
