package transcript

import (
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/theRAGEhero/world-cafe/internal/broadcast"
	"github.com/theRAGEhero/world-cafe/internal/observability"
	"github.com/theRAGEhero/world-cafe/internal/speech"
)

// eventQueueSize bounds the per-recording queue between the speech reader
// and the ingestion worker.
const eventQueueSize = 1024

// Preview is the ephemeral payload published for interim word events. It is
// never persisted; the final transcription supersedes it.
type Preview struct {
	TableID uint   `json:"tableId"`
	Speaker int    `json:"speaker"`
	Text    string `json:"text"`
}

// Ingestor consumes the word-event stream of one table recording. Interim
// events become rate-limited preview broadcasts; final events feed the
// consolidator. It runs on its own goroutine and never touches table locks,
// so transcription and membership changes cannot block each other.
type Ingestor struct {
	sessionID string
	tableID   uint
	hub       *broadcast.Hub
	metrics   *observability.Metrics
	logger    *slog.Logger

	consolidator   *Consolidator
	previewLimiter *rate.Limiter

	events    chan speech.WordEvent
	done      chan struct{}
	closeOnce sync.Once

	mu              sync.Mutex
	droppedInterims uint64
}

// NewIngestor creates an ingestor and starts its worker. previewRate limits
// interim preview broadcasts per second; metrics may be nil.
func NewIngestor(sessionID string, tableID uint, hub *broadcast.Hub, previewRate float64, metrics *observability.Metrics, logger *slog.Logger) *Ingestor {
	in := &Ingestor{
		sessionID:      sessionID,
		tableID:        tableID,
		hub:            hub,
		metrics:        metrics,
		logger:         logger,
		consolidator:   NewConsolidator(),
		previewLimiter: rate.NewLimiter(rate.Limit(previewRate), 1),
		events:         make(chan speech.WordEvent, eventQueueSize),
		done:           make(chan struct{}),
	}
	go in.worker()
	return in
}

// OnWord receives events from the speech client's reader goroutine. Finals
// must not be lost, so they block when the queue is full; interims are
// droppable by contract and are discarded instead.
func (in *Ingestor) OnWord(event speech.WordEvent) {
	if event.IsFinal {
		in.events <- event
		return
	}
	select {
	case in.events <- event:
	default:
		in.mu.Lock()
		in.droppedInterims++
		in.mu.Unlock()
	}
}

// worker drains the queue in arrival order.
func (in *Ingestor) worker() {
	defer close(in.done)
	for event := range in.events {
		if event.IsFinal {
			in.consolidator.Add(event)
			in.observeWord("final")
			continue
		}
		in.observeWord("interim")
		// Previews are ephemeral; over the rate limit they are dropped.
		if in.previewLimiter.Allow() {
			in.hub.Publish(in.sessionID, in.tableID, broadcast.EventTranscriptPreview, Preview{
				TableID: in.tableID,
				Speaker: event.Speaker,
				Text:    event.Word,
			})
		}
	}
}

func (in *Ingestor) observeWord(kind string) {
	if in.metrics != nil {
		in.metrics.Transcript.WordEventsReceived.WithLabelValues(kind).Inc()
	}
}

// Close stops the worker after draining queued events and returns the
// consolidator holding every final event seen. Idempotent.
func (in *Ingestor) Close() *Consolidator {
	in.closeOnce.Do(func() {
		close(in.events)
	})
	<-in.done

	in.mu.Lock()
	dropped := in.droppedInterims
	in.mu.Unlock()
	if dropped > 0 {
		in.logger.Debug("interim previews dropped under load",
			"table_id", in.tableID, "dropped", dropped)
	}
	return in.consolidator
}
