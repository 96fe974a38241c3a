package relay

import (
	"github.com/prometheus/client_golang/prometheus"
)

type serviceMetrics struct {
	events      prometheus.Counter
	batches     prometheus.Counter
	deliveries  prometheus.Counter
	subscribers prometheus.Gauge
}

func newServiceMetrics(reg prometheus.Registerer) *serviceMetrics {
	m := &serviceMetrics{
		events: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "perfwatch",
			Subsystem: "relay",
			Name:      "events_ingested_total",
			Help:      "Metric events accepted by the relay",
		}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "perfwatch",
			Subsystem: "relay",
			Name:      "batches_ingested_total",
			Help:      "Batches accepted by the relay",
		}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "perfwatch",
			Subsystem: "relay",
			Name:      "broadcast_deliveries_total",
			Help:      "Batch frames delivered to live subscribers",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "perfwatch",
			Subsystem: "relay",
			Name:      "subscribers",
			Help:      "Currently connected live subscribers",
		}),
	}
	m.events = registerCounter(reg, m.events)
	m.batches = registerCounter(reg, m.batches)
	m.deliveries = registerCounter(reg, m.deliveries)
	if err := reg.Register(m.subscribers); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				m.subscribers = existing
			}
		}
	}
	return m
}

func registerCounter(reg prometheus.Registerer, c prometheus.Counter) prometheus.Counter {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing
			}
		}
	}
	return c
}

func (m *serviceMetrics) observeIngest(events, delivered, subscribers int) {
	m.batches.Inc()
	m.events.Add(float64(events))
	m.deliveries.Add(float64(delivered))
	m.subscribers.Set(float64(subscribers))
}
