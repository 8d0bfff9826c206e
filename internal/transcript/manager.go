package transcript

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/theRAGEhero/world-cafe/internal/broadcast"
	"github.com/theRAGEhero/world-cafe/internal/conf"
	"github.com/theRAGEhero/world-cafe/internal/datastore"
	"github.com/theRAGEhero/world-cafe/internal/errors"
	"github.com/theRAGEhero/world-cafe/internal/logging"
	"github.com/theRAGEhero/world-cafe/internal/observability"
	"github.com/theRAGEhero/world-cafe/internal/registry"
	"github.com/theRAGEhero/world-cafe/internal/speech"
)

// RecordingStatus is the payload of recording-status events.
type RecordingStatus struct {
	TableID     uint      `json:"tableId"`
	RecordingID uint      `json:"recordingId"`
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
}

// TranscriptionCompleted is the payload published when a transcription is
// persisted.
type TranscriptionCompleted struct {
	TableID         uint                       `json:"tableId"`
	TranscriptionID uint                       `json:"transcriptionId"`
	Segments        []datastore.SpeakerSegment `json:"segments"`
}

// streamFactory builds a live speech stream; swapped out in tests.
type streamFactory func(settings conf.SpeechSettings, handler speech.Handler, metrics *observability.Metrics) speech.Stream

// batchTranscriber transcribes a complete audio file; swapped out in tests.
type batchTranscriber interface {
	Transcribe(ctx context.Context, audio []byte, contentType string) ([]speech.WordEvent, error)
}

// liveRecording is one active table recording.
type liveRecording struct {
	recordingID uint
	sessionID   string
	stream      speech.Stream
	ingestor    *Ingestor
}

// Manager owns the recording lifecycle per table: it opens and closes speech
// streams, routes word events through ingestors and persists the resulting
// transcriptions. At most one live recording runs per table.
type Manager struct {
	ds       datastore.Interface
	hub      *broadcast.Hub
	registry *registry.Registry
	settings *conf.Settings
	metrics  *observability.Metrics
	logger   *slog.Logger

	newStream streamFactory
	batch     batchTranscriber

	mu       sync.Mutex
	active   map[uint]*liveRecording // keyed by table id
	starting map[uint]struct{}       // tables with a stream dial in flight
}

// NewManager creates a recording manager. metrics may be nil.
func NewManager(ds datastore.Interface, hub *broadcast.Hub, reg *registry.Registry, settings *conf.Settings, metrics *observability.Metrics) *Manager {
	return &Manager{
		ds:       ds,
		hub:      hub,
		registry: reg,
		settings: settings,
		metrics:  metrics,
		logger:   logging.ForService("transcript"),
		newStream: func(s conf.SpeechSettings, h speech.Handler, m *observability.Metrics) speech.Stream {
			return speech.NewLiveStream(s, h, m)
		},
		batch:    speech.NewBatchClient(settings.Speech),
		active:   make(map[uint]*liveRecording),
		starting: make(map[uint]struct{}),
	}
}

// StartRecording begins a live recording on a table: the table transitions
// to recording, a recording row is created and a speech stream is opened.
func (m *Manager) StartRecording(ctx context.Context, tableID uint) (recordingID uint, err error) {
	// Reserve the table slot up front so the network dial below happens
	// outside the manager lock and cannot stall other tables.
	m.mu.Lock()
	_, busy := m.active[tableID]
	if !busy {
		_, busy = m.starting[tableID]
	}
	if busy {
		m.mu.Unlock()
		return 0, errors.New(errors.ErrInvalidTransition).
			Component("transcript").
			Category(errors.CategoryState).
			Context("table_id", tableID).
			Context("reason", "recording already active").
			Build()
	}
	m.starting[tableID] = struct{}{}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.starting, tableID)
		m.mu.Unlock()
	}()

	snapshot, err := m.registry.BeginRecording(tableID)
	if err != nil {
		return 0, err
	}
	sessionID := snapshot.SessionID

	recording := &datastore.Recording{
		TableID:   tableID,
		Status:    datastore.RecordingActive,
		Source:    "live",
		StartedAt: time.Now(),
	}
	if err := m.ds.CreateRecording(recording); err != nil {
		m.registry.EndRecording(tableID)
		return 0, errors.New(err).
			Component("transcript").
			Category(errors.CategoryDatabase).
			Build()
	}

	ingestor := NewIngestor(sessionID, tableID, m.hub,
		float64(m.settings.Realtime.PreviewRateLimit), m.metrics, m.logger)
	stream := m.newStream(m.settings.Speech, ingestor.OnWord, m.metrics)
	if err := stream.Start(ctx); err != nil {
		ingestor.Close()
		m.markFailed(sessionID, recording.ID, tableID)
		m.registry.EndRecording(tableID)
		return 0, err
	}

	rec := &liveRecording{
		recordingID: recording.ID,
		sessionID:   sessionID,
		stream:      stream,
		ingestor:    ingestor,
	}
	m.mu.Lock()
	m.active[tableID] = rec
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.Transcript.ActiveRecordings.Inc()
	}
	go m.watch(tableID, rec)

	m.publishStatus(sessionID, tableID, recording.ID, datastore.RecordingActive)
	m.logger.Info("recording started",
		"session_id", sessionID, "table_id", tableID, "recording_id", recording.ID)
	return recording.ID, nil
}

// WriteAudio feeds raw audio into the table's live stream.
func (m *Manager) WriteAudio(tableID uint, data []byte) error {
	m.mu.Lock()
	rec := m.active[tableID]
	m.mu.Unlock()
	if rec == nil {
		return errors.Newf("no active recording on table %d", tableID).
			Component("transcript").
			Category(errors.CategoryState).
			Context("table_id", tableID).
			Build()
	}
	return rec.stream.WriteAudio(data)
}

// StopRecording ends a table's live recording, consolidates everything
// finalized so far and persists the transcription. Finalized segments are
// kept even when the stream failed. Stopping a table that is not recording
// is a no-op.
func (m *Manager) StopRecording(tableID uint) error {
	m.mu.Lock()
	rec := m.active[tableID]
	delete(m.active, tableID)
	m.mu.Unlock()
	if rec == nil {
		return nil
	}
	if m.metrics != nil {
		m.metrics.Transcript.ActiveRecordings.Dec()
	}

	// Stop flushes staged audio and waits for the reader to drain, so no
	// events arrive after the ingestor is closed.
	streamErr := rec.stream.Stop()
	consolidator := rec.ingestor.Close()

	if _, err := m.registry.EndRecording(tableID); err != nil {
		m.logger.Warn("table not in recording state on stop",
			"table_id", tableID, "error", err)
	}

	if _, err := m.persistTranscription(rec.sessionID, tableID, rec.recordingID, consolidator, "live"); err != nil {
		return err
	}

	if streamErr != nil {
		// Partial segments are persisted above; the recording itself is
		// marked failed so the gap is visible.
		m.markFailed(rec.sessionID, rec.recordingID, tableID)
		return errors.New(streamErr).
			Component("transcript").
			Category(errors.CategorySpeechStream).
			Priority(errors.PriorityHigh).
			Context("recording_id", rec.recordingID).
			Build()
	}

	m.publishStatus(rec.sessionID, tableID, rec.recordingID, datastore.RecordingCompleted)
	m.logger.Info("recording completed",
		"session_id", rec.sessionID, "table_id", tableID, "recording_id", rec.recordingID)
	return nil
}

// watch finalizes a recording whose stream died on its own: the failure is
// stamped on the recording row and announced, everything finalized before
// the failure is persisted and the table is released. A stream that ends
// without error is left for StopRecording to finalize.
func (m *Manager) watch(tableID uint, rec *liveRecording) {
	<-rec.stream.Done()
	streamErr := rec.stream.Err()
	if streamErr == nil {
		return
	}

	m.mu.Lock()
	if m.active[tableID] != rec {
		// StopRecording already claimed this recording.
		m.mu.Unlock()
		return
	}
	delete(m.active, tableID)
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.Transcript.ActiveRecordings.Dec()
	}

	consolidator := rec.ingestor.Close()
	if _, err := m.registry.EndRecording(tableID); err != nil {
		m.logger.Warn("table not in recording state on stream failure",
			"table_id", tableID, "error", err)
	}
	if _, err := m.persistTranscription(rec.sessionID, tableID, rec.recordingID, consolidator, "live"); err != nil {
		m.logger.Error("persisting partial transcription",
			"recording_id", rec.recordingID, "error", err)
	}
	m.markFailed(rec.sessionID, rec.recordingID, tableID)
	m.logger.Error("recording failed",
		"session_id", rec.sessionID, "table_id", tableID,
		"recording_id", rec.recordingID, "error", streamErr)
}

// TranscribeUpload runs the batch path: one recording row, one service
// round-trip, one persisted transcription.
func (m *Manager) TranscribeUpload(ctx context.Context, sessionID string, tableID uint, audio []byte, contentType string) (*datastore.Transcription, error) {
	recording := &datastore.Recording{
		TableID:   tableID,
		Status:    datastore.RecordingActive,
		Source:    "upload",
		StartedAt: time.Now(),
	}
	if err := m.ds.CreateRecording(recording); err != nil {
		return nil, errors.New(err).
			Component("transcript").
			Category(errors.CategoryDatabase).
			Build()
	}

	events, err := m.batch.Transcribe(ctx, audio, contentType)
	if err != nil {
		m.markFailed(sessionID, recording.ID, tableID)
		return nil, err
	}

	consolidator := NewConsolidator()
	for _, event := range events {
		consolidator.Add(event)
	}
	return m.persistTranscription(sessionID, tableID, recording.ID, consolidator, "upload")
}

// persistTranscription stores the consolidated output of one recording and
// announces it. The store marks the recording completed in the same
// transaction.
func (m *Manager) persistTranscription(sessionID string, tableID, recordingID uint, consolidator *Consolidator, source string) (*datastore.Transcription, error) {
	segments := consolidator.Segments()
	transcription := &datastore.Transcription{
		RecordingID:     recordingID,
		TableID:         tableID,
		TranscriptText:  consolidator.FullText(),
		SpeakerSegments: segments,
		WordCount:       consolidator.WordCount(),
		Confidence:      consolidator.Confidence(),
		Source:          source,
	}
	if err := m.ds.CreateTranscription(transcription); err != nil {
		return nil, errors.New(err).
			Component("transcript").
			Category(errors.CategoryDatabase).
			Context("recording_id", recordingID).
			Build()
	}
	if m.metrics != nil {
		m.metrics.Transcript.SegmentsConsolidated.Add(float64(len(segments)))
	}

	m.hub.Publish(sessionID, tableID, broadcast.EventTranscriptionCompleted, TranscriptionCompleted{
		TableID:         tableID,
		TranscriptionID: transcription.ID,
		Segments:        segments,
	})
	return transcription, nil
}

// markFailed stamps a recording failed and announces it.
func (m *Manager) markFailed(sessionID string, recordingID, tableID uint) {
	now := time.Now()
	err := m.ds.UpdateRecording(recordingID, map[string]any{
		"status":   datastore.RecordingFailed,
		"ended_at": &now,
	})
	if err != nil {
		m.logger.Error("could not mark recording failed",
			"recording_id", recordingID, "error", err)
	}
	m.publishStatus(sessionID, tableID, recordingID, datastore.RecordingFailed)
}

func (m *Manager) publishStatus(sessionID string, tableID, recordingID uint, status string) {
	m.hub.Publish(sessionID, tableID, broadcast.EventRecordingStatus, RecordingStatus{
		TableID:     tableID,
		RecordingID: recordingID,
		Status:      status,
		Timestamp:   time.Now(),
	})
}

// StopAll ends every active recording, for shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	tables := make([]uint, 0, len(m.active))
	for tableID := range m.active {
		tables = append(tables, tableID)
	}
	m.mu.Unlock()
	for _, tableID := range tables {
		if err := m.StopRecording(tableID); err != nil {
			m.logger.Error("stopping recording on shutdown", "table_id", tableID, "error", err)
		}
	}
}
