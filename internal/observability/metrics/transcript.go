package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// TranscriptMetrics contains Prometheus metrics for the transcription pipeline.
type TranscriptMetrics struct {
	ActiveRecordings     prometheus.Gauge
	WordEventsReceived   *prometheus.CounterVec
	SegmentsConsolidated prometheus.Counter
	StreamReconnects     prometheus.Counter
	StreamFailures       prometheus.Counter
	registry             *prometheus.Registry
}

// NewTranscriptMetrics creates and registers transcription pipeline metrics.
func NewTranscriptMetrics(registry *prometheus.Registry) (*TranscriptMetrics, error) {
	m := &TranscriptMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register transcript metrics: %w", err)
	}
	return m, nil
}

func (m *TranscriptMetrics) initMetrics() {
	m.ActiveRecordings = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "transcript_active_recordings",
		Help: "Current number of live recordings being ingested",
	})

	m.WordEventsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "transcript_word_events_total",
		Help: "Total number of word events received from the speech service",
	}, []string{"kind"}) // kind is "interim" or "final"

	m.SegmentsConsolidated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "transcript_segments_consolidated_total",
		Help: "Total number of consolidated speaker segments emitted",
	})

	m.StreamReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "transcript_stream_reconnects_total",
		Help: "Total number of speech stream reconnect attempts",
	})

	m.StreamFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "transcript_stream_failures_total",
		Help: "Total number of recordings marked failed due to stream errors",
	})
}

// Describe implements prometheus.Collector.
func (m *TranscriptMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.ActiveRecordings.Describe(ch)
	m.WordEventsReceived.Describe(ch)
	m.SegmentsConsolidated.Describe(ch)
	m.StreamReconnects.Describe(ch)
	m.StreamFailures.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *TranscriptMetrics) Collect(ch chan<- prometheus.Metric) {
	m.ActiveRecordings.Collect(ch)
	m.WordEventsReceived.Collect(ch)
	m.SegmentsConsolidated.Collect(ch)
	m.StreamReconnects.Collect(ch)
	m.StreamFailures.Collect(ch)
}
