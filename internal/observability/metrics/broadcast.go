// Package metrics provides custom Prometheus metrics for the components of
// the World Café server.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// BroadcastMetrics contains all Prometheus metrics related to the broadcast hub.
type BroadcastMetrics struct {
	Subscribers     prometheus.Gauge
	EventsPublished *prometheus.CounterVec
	EventsDelivered prometheus.Counter
	EventsDropped   prometheus.Counter
	SlowDisconnects prometheus.Counter
	registry        *prometheus.Registry
}

// NewBroadcastMetrics creates and registers broadcast hub metrics.
func NewBroadcastMetrics(registry *prometheus.Registry) (*BroadcastMetrics, error) {
	m := &BroadcastMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register broadcast metrics: %w", err)
	}
	return m, nil
}

func (m *BroadcastMetrics) initMetrics() {
	m.Subscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "broadcast_subscribers",
		Help: "Current number of broadcast hub subscribers",
	})

	m.EventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "broadcast_events_published_total",
		Help: "Total number of events published to the broadcast hub",
	}, []string{"event_type"})

	m.EventsDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "broadcast_events_delivered_total",
		Help: "Total number of events delivered to subscribers",
	})

	m.EventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "broadcast_events_dropped_total",
		Help: "Total number of events dropped due to full subscriber queues",
	})

	m.SlowDisconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "broadcast_slow_disconnects_total",
		Help: "Total number of subscribers disconnected for not keeping up",
	})
}

// Describe implements prometheus.Collector.
func (m *BroadcastMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Subscribers.Describe(ch)
	m.EventsPublished.Describe(ch)
	m.EventsDelivered.Describe(ch)
	m.EventsDropped.Describe(ch)
	m.SlowDisconnects.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *BroadcastMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Subscribers.Collect(ch)
	m.EventsPublished.Collect(ch)
	m.EventsDelivered.Collect(ch)
	m.EventsDropped.Collect(ch)
	m.SlowDisconnects.Collect(ch)
}
