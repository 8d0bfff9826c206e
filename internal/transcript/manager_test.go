package transcript

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theRAGEhero/world-cafe/internal/broadcast"
	"github.com/theRAGEhero/world-cafe/internal/conf"
	"github.com/theRAGEhero/world-cafe/internal/datastore"
	"github.com/theRAGEhero/world-cafe/internal/errors"
	"github.com/theRAGEhero/world-cafe/internal/observability"
	"github.com/theRAGEhero/world-cafe/internal/registry"
	"github.com/theRAGEhero/world-cafe/internal/speech"
)

// recordingStore implements the persistence surface these tests exercise.
// The embedded nil Interface panics on anything unexpected.
type recordingStore struct {
	datastore.Interface

	mu             sync.Mutex
	nextID         uint
	sessions       map[uint]*datastore.Session
	recordings     map[uint]*datastore.Recording
	transcriptions []datastore.Transcription
}

func newRecordingStore() *recordingStore {
	return &recordingStore{
		sessions:   make(map[uint]*datastore.Session),
		recordings: make(map[uint]*datastore.Recording),
	}
}

func (s *recordingStore) CreateSession(session *datastore.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	session.ID = s.nextID
	for i := range session.Tables {
		s.nextID++
		session.Tables[i].ID = s.nextID
		session.Tables[i].SessionID = session.ID
	}
	clone := *session
	s.sessions[session.ID] = &clone
	return nil
}

func (s *recordingStore) MaxParticipantID() (uint, error) { return 0, nil }

func (s *recordingStore) UpdateTable(uint, map[string]any) error { return nil }

func (s *recordingStore) UpdateSession(uint, map[string]any) error { return nil }

func (s *recordingStore) CreateParticipant(*datastore.Participant) error { return nil }

func (s *recordingStore) UpdateParticipant(uint, map[string]any) error { return nil }

func (s *recordingStore) CreateRecording(recording *datastore.Recording) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	recording.ID = s.nextID
	clone := *recording
	s.recordings[recording.ID] = &clone
	return nil
}

func (s *recordingStore) UpdateRecording(id uint, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recordings[id]
	if !ok {
		return errors.ErrStreamFailed
	}
	if status, ok := fields["status"].(string); ok {
		r.Status = status
	}
	return nil
}

func (s *recordingStore) CreateTranscription(transcription *datastore.Transcription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	transcription.ID = s.nextID
	s.transcriptions = append(s.transcriptions, *transcription)
	if r, ok := s.recordings[transcription.RecordingID]; ok && r.Status == datastore.RecordingActive {
		r.Status = datastore.RecordingCompleted
	}
	return nil
}

func (s *recordingStore) GetTableTranscriptions(tableID uint) ([]datastore.Transcription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []datastore.Transcription
	for _, t := range s.transcriptions {
		if t.TableID == tableID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *recordingStore) recordingStatus(t *testing.T, id uint) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recordings[id]
	require.True(t, ok)
	return r.Status
}

func (s *recordingStore) storedTranscriptions(tableID uint) []datastore.Transcription {
	out, _ := s.GetTableTranscriptions(tableID)
	return out
}

// fakeStream satisfies speech.Stream and lets a test inject word events and
// terminal failures.
type fakeStream struct {
	handler speech.Handler

	mu      sync.Mutex
	failure error
	stopped bool
	written int

	done chan struct{}
	once sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{done: make(chan struct{})}
}

func (f *fakeStream) Start(context.Context) error { return nil }

func (f *fakeStream) WriteAudio(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written += len(data)
	return nil
}

func (f *fakeStream) Stop() error {
	f.mu.Lock()
	f.stopped = true
	err := f.failure
	f.mu.Unlock()
	f.once.Do(func() { close(f.done) })
	return err
}

func (f *fakeStream) Done() <-chan struct{} { return f.done }

func (f *fakeStream) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failure
}

// setFailure arms a failure that Stop will report.
func (f *fakeStream) setFailure(err error) {
	f.mu.Lock()
	f.failure = err
	f.mu.Unlock()
}

// fail ends the stream with a terminal error, the way a dropped connection
// whose reconnect also failed would.
func (f *fakeStream) fail(err error) {
	f.setFailure(err)
	f.once.Do(func() { close(f.done) })
}

func (f *fakeStream) emit(events ...speech.WordEvent) {
	for _, event := range events {
		f.handler(event)
	}
}

// slowStream blocks in Start until released, standing in for a slow dial.
type slowStream struct {
	*fakeStream
	release chan struct{}
}

func (s *slowStream) Start(ctx context.Context) error {
	select {
	case <-s.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type fakeBatch struct {
	events []speech.WordEvent
	err    error
}

func (f *fakeBatch) Transcribe(context.Context, []byte, string) ([]speech.WordEvent, error) {
	return f.events, f.err
}

func testSettings() *conf.Settings {
	return &conf.Settings{
		Speech: conf.SpeechSettings{Language: "en-US", SampleRate: 16000, Channels: 1},
		Session: conf.SessionSettings{
			DefaultTableCount: 2,
			DefaultMaxSize:    6,
			DefaultLanguage:   "en-US",
		},
		Realtime: conf.RealtimeSettings{SubscriberBuffer: 64, PreviewRateLimit: 100},
	}
}

type managerFixture struct {
	manager *Manager
	reg     *registry.Registry
	store   *recordingStore
	hub     *broadcast.Hub
	stream  *fakeStream
	session *registry.SessionSnapshot
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()
	settings := testSettings()
	store := newRecordingStore()
	hub := broadcast.NewHub(64, nil)
	reg := registry.New(store, hub, nil)
	t.Cleanup(func() {
		reg.Close()
		hub.Shutdown()
	})

	session, err := reg.CreateSession("Energy transition", &settings.Session)
	require.NoError(t, err)

	stream := newFakeStream()
	m := NewManager(store, hub, reg, settings, nil)
	m.newStream = func(_ conf.SpeechSettings, h speech.Handler, _ *observability.Metrics) speech.Stream {
		stream.handler = h
		return stream
	}
	return &managerFixture{manager: m, reg: reg, store: store, hub: hub, stream: stream, session: session}
}

func TestRecordingLifecycle(t *testing.T) {
	f := newManagerFixture(t)
	tableID := f.session.Tables[0].ID

	recordingID, err := f.manager.StartRecording(context.Background(), tableID)
	require.NoError(t, err)
	assert.Equal(t, datastore.RecordingActive, f.store.recordingStatus(t, recordingID))

	status, err := f.reg.TableStatus(tableID)
	require.NoError(t, err)
	assert.Equal(t, datastore.TableRecording, status)

	f.stream.emit(
		finalWord(0, "hi", 0.0, 0.2),
		finalWord(0, "there", 0.2, 0.5),
		finalWord(1, "hello", 1.0, 1.3),
	)

	require.NoError(t, f.manager.StopRecording(tableID))

	status, err = f.reg.TableStatus(tableID)
	require.NoError(t, err)
	assert.Equal(t, datastore.TableWaiting, status)
	assert.Equal(t, datastore.RecordingCompleted, f.store.recordingStatus(t, recordingID))

	transcriptions := f.store.storedTranscriptions(tableID)
	require.Len(t, transcriptions, 1)
	tr := transcriptions[0]
	assert.Equal(t, "hi there\nhello", tr.TranscriptText)
	require.Len(t, tr.SpeakerSegments, 2)
	assert.Equal(t, "hi there", tr.SpeakerSegments[0].Text)
	assert.Equal(t, 3, tr.WordCount)
	assert.Equal(t, "live", tr.Source)
}

func TestStartRecordingRejectsSecondStart(t *testing.T) {
	f := newManagerFixture(t)
	tableID := f.session.Tables[0].ID

	_, err := f.manager.StartRecording(context.Background(), tableID)
	require.NoError(t, err)

	_, err = f.manager.StartRecording(context.Background(), tableID)
	assert.True(t, errors.Is(err, errors.ErrInvalidTransition))

	require.NoError(t, f.manager.StopRecording(tableID))
}

func TestStopRecordingIsIdempotent(t *testing.T) {
	f := newManagerFixture(t)
	tableID := f.session.Tables[0].ID

	_, err := f.manager.StartRecording(context.Background(), tableID)
	require.NoError(t, err)

	require.NoError(t, f.manager.StopRecording(tableID))
	require.NoError(t, f.manager.StopRecording(tableID), "second stop is a no-op")

	assert.Len(t, f.store.storedTranscriptions(tableID), 1)
}

func TestStreamFailureKeepsFinalizedSegments(t *testing.T) {
	f := newManagerFixture(t)
	tableID := f.session.Tables[0].ID

	recordingID, err := f.manager.StartRecording(context.Background(), tableID)
	require.NoError(t, err)

	f.stream.emit(finalWord(0, "partial", 0, 1))
	f.stream.setFailure(errors.ErrStreamFailed)

	err = f.manager.StopRecording(tableID)
	require.Error(t, err)

	// Finalized words survive the failure; the recording is marked failed.
	transcriptions := f.store.storedTranscriptions(tableID)
	require.Len(t, transcriptions, 1)
	assert.Equal(t, "partial", transcriptions[0].TranscriptText)
	assert.Equal(t, datastore.RecordingFailed, f.store.recordingStatus(t, recordingID))

	status, err := f.reg.TableStatus(tableID)
	require.NoError(t, err)
	assert.Equal(t, datastore.TableWaiting, status, "the table is released even on failure")
}

func TestStreamFailureSurfacedWithoutStop(t *testing.T) {
	f := newManagerFixture(t)
	tableID := f.session.Tables[0].ID

	sub := f.hub.Subscribe(f.session.ID, tableID)
	defer sub.Unsubscribe()

	recordingID, err := f.manager.StartRecording(context.Background(), tableID)
	require.NoError(t, err)

	f.stream.emit(finalWord(0, "partial", 0, 1))
	f.stream.fail(errors.ErrStreamFailed)

	// The failure is announced without anyone calling StopRecording.
	var failed *RecordingStatus
	deadline := time.After(2 * time.Second)
	for failed == nil {
		select {
		case event := <-sub.C:
			if payload, ok := event.Payload.(RecordingStatus); ok && payload.Status == datastore.RecordingFailed {
				failed = &payload
			}
		case <-deadline:
			t.Fatal("no failed recording-status event published")
		}
	}
	assert.Equal(t, recordingID, failed.RecordingID)
	assert.Equal(t, datastore.RecordingFailed, f.store.recordingStatus(t, recordingID))

	status, err := f.reg.TableStatus(tableID)
	require.NoError(t, err)
	assert.Equal(t, datastore.TableWaiting, status, "the table is released on failure")

	// Words finalized before the failure are persisted.
	transcriptions := f.store.storedTranscriptions(tableID)
	require.Len(t, transcriptions, 1)
	assert.Equal(t, "partial", transcriptions[0].TranscriptText)

	// A later stop finds nothing to do and adds no second transcription.
	require.NoError(t, f.manager.StopRecording(tableID))
	assert.Len(t, f.store.storedTranscriptions(tableID), 1)
}

func TestSlowStreamDialDoesNotBlockOtherTables(t *testing.T) {
	f := newManagerFixture(t)
	firstTable := f.session.Tables[0].ID
	secondTable := f.session.Tables[1].ID

	_, err := f.manager.StartRecording(context.Background(), firstTable)
	require.NoError(t, err)

	release := make(chan struct{})
	slow := &slowStream{fakeStream: newFakeStream(), release: release}
	f.manager.newStream = func(_ conf.SpeechSettings, h speech.Handler, _ *observability.Metrics) speech.Stream {
		slow.handler = h
		return slow
	}

	started := make(chan error, 1)
	go func() {
		_, err := f.manager.StartRecording(context.Background(), secondTable)
		started <- err
	}()

	require.Eventually(t, func() bool {
		f.manager.mu.Lock()
		defer f.manager.mu.Unlock()
		_, dialing := f.manager.starting[secondTable]
		return dialing
	}, time.Second, 5*time.Millisecond)

	// The first table keeps working while the second table's dial blocks.
	require.NoError(t, f.manager.WriteAudio(firstTable, []byte{1, 2, 3}))
	require.NoError(t, f.manager.StopRecording(firstTable))

	// Starting the dialing table again is rejected, not queued.
	_, err = f.manager.StartRecording(context.Background(), secondTable)
	assert.True(t, errors.Is(err, errors.ErrInvalidTransition))

	close(release)
	require.NoError(t, <-started)
	require.NoError(t, f.manager.StopRecording(secondTable))
}

func TestRecordingEventsPublished(t *testing.T) {
	f := newManagerFixture(t)
	tableID := f.session.Tables[0].ID

	sub := f.hub.Subscribe(f.session.ID, tableID)
	defer sub.Unsubscribe()

	recordingID, err := f.manager.StartRecording(context.Background(), tableID)
	require.NoError(t, err)
	f.stream.emit(finalWord(0, "hi", 0, 1))
	require.NoError(t, f.manager.StopRecording(tableID))

	var types []broadcast.EventType
	var completed *TranscriptionCompleted
	deadline := time.After(2 * time.Second)
	for len(types) < 4 {
		select {
		case event := <-sub.C:
			types = append(types, event.Type)
			if payload, ok := event.Payload.(TranscriptionCompleted); ok {
				completed = &payload
			}
		case <-deadline:
			t.Fatalf("timed out, got %v", types)
		}
	}

	// table-updated (recording), recording-status (active), table-updated
	// (waiting), transcription-completed, recording-status (completed).
	assert.Contains(t, types, broadcast.EventRecordingStatus)
	assert.Contains(t, types, broadcast.EventTranscriptionCompleted)
	require.NotNil(t, completed)
	assert.NotZero(t, completed.TranscriptionID)
	require.Len(t, completed.Segments, 1)
	_ = recordingID
}

func TestInterimEventsBecomePreviews(t *testing.T) {
	f := newManagerFixture(t)
	tableID := f.session.Tables[0].ID

	sub := f.hub.Subscribe(f.session.ID, tableID)
	defer sub.Unsubscribe()

	_, err := f.manager.StartRecording(context.Background(), tableID)
	require.NoError(t, err)

	f.stream.emit(speech.WordEvent{Speaker: 0, Word: "typing", IsFinal: false})

	var preview *Preview
	deadline := time.After(2 * time.Second)
	for preview == nil {
		select {
		case event := <-sub.C:
			if event.Type == broadcast.EventTranscriptPreview {
				p := event.Payload.(Preview)
				preview = &p
			}
		case <-deadline:
			t.Fatal("no preview event published")
		}
	}
	assert.Equal(t, "typing", preview.Text)
	assert.Equal(t, tableID, preview.TableID)

	require.NoError(t, f.manager.StopRecording(tableID))

	// Interim events are never persisted.
	transcriptions := f.store.storedTranscriptions(tableID)
	require.Len(t, transcriptions, 1)
	assert.Zero(t, transcriptions[0].WordCount)
	assert.Empty(t, transcriptions[0].SpeakerSegments)
}

func TestTranscribeUpload(t *testing.T) {
	f := newManagerFixture(t)
	tableID := f.session.Tables[1].ID

	f.manager.batch = &fakeBatch{events: []speech.WordEvent{
		finalWord(0, "uploaded", 0, 1),
		finalWord(0, "audio", 1, 2),
	}}

	tr, err := f.manager.TranscribeUpload(context.Background(), f.session.ID, tableID, []byte("wav"), "audio/wav")
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.Equal(t, "uploaded audio", tr.TranscriptText)
	assert.Equal(t, "upload", tr.Source)
	assert.Equal(t, 2, tr.WordCount)
}

func TestTranscribeUploadFailureMarksRecordingFailed(t *testing.T) {
	f := newManagerFixture(t)
	tableID := f.session.Tables[1].ID

	f.manager.batch = &fakeBatch{err: errors.ErrStreamFailed}

	_, err := f.manager.TranscribeUpload(context.Background(), f.session.ID, tableID, []byte("wav"), "audio/wav")
	require.Error(t, err)
	assert.Empty(t, f.store.storedTranscriptions(tableID))
}

func TestStopAll(t *testing.T) {
	f := newManagerFixture(t)

	_, err := f.manager.StartRecording(context.Background(), f.session.Tables[0].ID)
	require.NoError(t, err)

	f.manager.StopAll()

	status, err := f.reg.TableStatus(f.session.Tables[0].ID)
	require.NoError(t, err)
	assert.Equal(t, datastore.TableWaiting, status)
}
