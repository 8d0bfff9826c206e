// Package observability provides Prometheus metrics for monitoring the
// World Café server. Error telemetry is handled in the telemetry package.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/theRAGEhero/world-cafe/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry   *prometheus.Registry
	Broadcast  *metrics.BroadcastMetrics
	Registry   *metrics.RegistryMetrics
	Transcript *metrics.TranscriptMetrics
}

// NewMetrics creates a new instance of Metrics, initializing all collectors.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	broadcastMetrics, err := metrics.NewBroadcastMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create broadcast metrics: %w", err)
	}

	registryMetrics, err := metrics.NewRegistryMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create registry metrics: %w", err)
	}

	transcriptMetrics, err := metrics.NewTranscriptMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create transcript metrics: %w", err)
	}

	return &Metrics{
		registry:   registry,
		Broadcast:  broadcastMetrics,
		Registry:   registryMetrics,
		Transcript: transcriptMetrics,
	}, nil
}

// Handler returns an http.Handler serving the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
