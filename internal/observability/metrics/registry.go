package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// RegistryMetrics contains Prometheus metrics for table-lifecycle operations.
type RegistryMetrics struct {
	Operations         *prometheus.CounterVec
	OperationErrors    *prometheus.CounterVec
	ActiveParticipants prometheus.Gauge
	OperationDuration  *prometheus.HistogramVec
	registry           *prometheus.Registry
}

// NewRegistryMetrics creates and registers table-registry metrics.
func NewRegistryMetrics(registry *prometheus.Registry) (*RegistryMetrics, error) {
	m := &RegistryMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register registry metrics: %w", err)
	}
	return m, nil
}

func (m *RegistryMetrics) initMetrics() {
	m.Operations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "registry_operations_total",
		Help: "Total number of table registry operations",
	}, []string{"operation"})

	m.OperationErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "registry_operation_errors_total",
		Help: "Total number of rejected or failed table registry operations",
	}, []string{"operation", "category"})

	m.ActiveParticipants = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "registry_active_participants",
		Help: "Current number of active participants across all tables",
	})

	m.OperationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "registry_operation_duration_seconds",
		Help:    "Duration of table registry operations",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
	}, []string{"operation"})
}

// Describe implements prometheus.Collector.
func (m *RegistryMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Operations.Describe(ch)
	m.OperationErrors.Describe(ch)
	m.ActiveParticipants.Describe(ch)
	m.OperationDuration.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *RegistryMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Operations.Collect(ch)
	m.OperationErrors.Collect(ch)
	m.ActiveParticipants.Collect(ch)
	m.OperationDuration.Collect(ch)
}
