package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theRAGEhero/world-cafe/internal/broadcast"
	"github.com/theRAGEhero/world-cafe/internal/conf"
	"github.com/theRAGEhero/world-cafe/internal/datastore"
	"github.com/theRAGEhero/world-cafe/internal/errors"
	"github.com/theRAGEhero/world-cafe/internal/registry"
	"github.com/theRAGEhero/world-cafe/internal/transcript"
)

// apiStore is the in-memory persistence backing the API tests. The embedded
// nil Interface panics on anything the handlers should never touch.
type apiStore struct {
	datastore.Interface

	mu             sync.Mutex
	nextID         uint
	sessions       map[uint]*datastore.Session
	recordings     map[uint]*datastore.Recording
	transcriptions []datastore.Transcription
}

func newAPIStore() *apiStore {
	return &apiStore{
		sessions:   make(map[uint]*datastore.Session),
		recordings: make(map[uint]*datastore.Recording),
	}
}

func (s *apiStore) CreateSession(session *datastore.Session) error {
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

func (s *apiStore) GetSessionByPublicID(publicID string) (*datastore.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, session := range s.sessions {
		if session.PublicID == publicID {
			clone := *session
			return &clone, nil
		}
	}
	return nil, errors.ErrSessionNotFound
}

func (s *apiStore) ListSessions() ([]datastore.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]datastore.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, *session)
	}
	return out, nil
}

func (s *apiStore) DeleteSession(id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *apiStore) MaxParticipantID() (uint, error) { return 0, nil }

func (s *apiStore) UpdateSession(uint, map[string]any) error { return nil }

func (s *apiStore) UpdateTable(uint, map[string]any) error { return nil }

func (s *apiStore) CreateParticipant(*datastore.Participant) error { return nil }

func (s *apiStore) UpdateParticipant(uint, map[string]any) error { return nil }

func (s *apiStore) CreateRecording(recording *datastore.Recording) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	recording.ID = s.nextID
	clone := *recording
	s.recordings[recording.ID] = &clone
	return nil
}

func (s *apiStore) UpdateRecording(id uint, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.recordings[id]; ok {
		if status, ok := fields["status"].(string); ok {
			r.Status = status
		}
	}
	return nil
}

func (s *apiStore) CreateTranscription(transcription *datastore.Transcription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	transcription.ID = s.nextID
	s.transcriptions = append(s.transcriptions, *transcription)
	return nil
}

func (s *apiStore) GetTableTranscriptions(tableID uint) ([]datastore.Transcription, error) {
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

// speechEndpoint fakes both the streaming and the batch side of the speech
// service.
func speechEndpoint(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/live", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			messageType, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if messageType == websocket.TextMessage && strings.Contains(string(payload), "CloseStream") {
				conn.WriteMessage(websocket.TextMessage, []byte(
					`{"type":"Results","is_final":true,"channel":{"alternatives":[{"words":[{"word":"hello","start":0,"end":1,"confidence":0.9,"speaker":0}]}]}}`))
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				return
			}
		}
	})
	mux.HandleFunc("/batch", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"results":{"channels":[{"alternatives":[{"transcript":"uploaded audio","confidence":0.9,"words":[
			{"word":"uploaded","start":0,"end":1,"confidence":0.9,"speaker":0},
			{"word":"audio","start":1,"end":2,"confidence":0.9,"speaker":0}]}]}]}}`)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

type apiFixture struct {
	e          *echo.Echo
	controller *Controller
	store      *apiStore
	hub        *broadcast.Hub
	registry   *registry.Registry
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	speech := speechEndpoint(t)
	settings := &conf.Settings{
		Version: "test",
		Speech: conf.SpeechSettings{
			URL:            "ws" + strings.TrimPrefix(speech.URL, "http") + "/live",
			BatchURL:       speech.URL + "/batch",
			Language:       "en-US",
			SampleRate:     16000,
			Channels:       1,
			ReconnectDelay: "10ms",
		},
		Session: conf.SessionSettings{
			DefaultTableCount: 2,
			DefaultMaxSize:    3,
			DefaultLanguage:   "en-US",
		},
		Realtime: conf.RealtimeSettings{
			SubscriberBuffer: 64,
			HeartbeatSeconds: 1,
			PreviewRateLimit: 100,
		},
	}

	store := newAPIStore()
	hub := broadcast.NewHub(64, nil)
	reg := registry.New(store, hub, nil)
	manager := transcript.NewManager(store, hub, reg, settings, nil)

	e := echo.New()
	controller := New(e, store, settings, reg, manager, hub, nil)

	t.Cleanup(func() {
		manager.StopAll()
		reg.Close()
		hub.Shutdown()
	})
	return &apiFixture{e: e, controller: controller, store: store, hub: hub, registry: reg}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) createSession(t *testing.T) *registry.SessionSnapshot {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/v1/sessions", map[string]any{"title": "Local food systems"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var snapshot registry.SessionSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	return &snapshot
}

func TestHealthCheck(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestCreateSessionValidatesTitle(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/sessions", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	session := f.createSession(t)
	require.Len(t, session.Tables, 2)

	rec := f.do(t, http.MethodGet, "/api/v1/sessions/"+session.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/sessions/"+session.ID+"/close", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// Joins are rejected while closed.
	rec = f.do(t, http.MethodPost,
		fmt.Sprintf("/api/v1/sessions/%s/tables/1/join", session.ID),
		map[string]any{"name": "Ada"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/sessions/"+session.ID+"/reopen", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestGetUnknownSessionReturns404(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/sessions/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJoinLeaveMoveOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	session := f.createSession(t)

	rec := f.do(t, http.MethodPost,
		fmt.Sprintf("/api/v1/sessions/%s/tables/1/join", session.ID),
		map[string]any{"name": "Ada"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var participant datastore.Participant
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &participant))
	assert.True(t, participant.IsFacilitator)

	rec = f.do(t, http.MethodPost,
		fmt.Sprintf("/api/v1/participants/%d/move", participant.ID),
		map[string]any{"tableId": session.Tables[1].ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost,
		fmt.Sprintf("/api/v1/participants/%d/leave", participant.ID), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodPost,
		fmt.Sprintf("/api/v1/participants/%d/leave", participant.ID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "leaving twice reports not found")
}

func TestJoinFullTableReturnsConflict(t *testing.T) {
	f := newAPIFixture(t)
	session := f.createSession(t)

	for i := 0; i < 3; i++ {
		rec := f.do(t, http.MethodPost,
			fmt.Sprintf("/api/v1/sessions/%s/tables/1/join", session.ID),
			map[string]any{"name": fmt.Sprintf("guest-%d", i)})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := f.do(t, http.MethodPost,
		fmt.Sprintf("/api/v1/sessions/%s/tables/1/join", session.ID),
		map[string]any{"name": "overflow"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestTableTransitionsOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	session := f.createSession(t)
	tableID := session.Tables[0].ID

	rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/tables/%d/pause", tableID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var snapshot registry.TableSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	assert.Equal(t, datastore.TablePaused, snapshot.Status)

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/tables/%d/resume", tableID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/tables/%d/complete", tableID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Completed is terminal.
	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/tables/%d/pause", tableID), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRecordingOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	session := f.createSession(t)
	tableID := session.Tables[0].ID

	rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/tables/%d/recordings/start", tableID), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	req := httptest.NewRequest(http.MethodPost,
		fmt.Sprintf("/api/v1/tables/%d/recordings/audio", tableID),
		bytes.NewReader(make([]byte, 2048)))
	chunkRec := httptest.NewRecorder()
	f.e.ServeHTTP(chunkRec, req)
	require.Equal(t, http.StatusAccepted, chunkRec.Code)

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/tables/%d/recordings/stop", tableID), nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/tables/%d/transcriptions", tableID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var transcriptions []datastore.Transcription
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &transcriptions))
	require.Len(t, transcriptions, 1)
	assert.Equal(t, "hello", transcriptions[0].TranscriptText)
}

func TestUploadAudioOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	session := f.createSession(t)
	tableID := session.Tables[1].ID

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("audio", "discussion.wav")
	require.NoError(t, err)
	part.Write([]byte("fake-wav-bytes"))
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost,
		fmt.Sprintf("/api/v1/tables/%d/recordings/upload", tableID), &body)
	req.Header.Set(echo.HeaderContentType, writer.FormDataContentType())
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var transcription datastore.Transcription
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &transcription))
	assert.Equal(t, "uploaded audio", transcription.TranscriptText)
	assert.Equal(t, "upload", transcription.Source)
}

func TestSSEStreamDeliversTableUpdates(t *testing.T) {
	f := newAPIFixture(t)
	session := f.createSession(t)

	server := httptest.NewServer(f.e)
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/v1/sessions/" + session.ID + "/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Wait until the handler's subscription is registered, then trigger an
	// event through a join.
	require.Eventually(t, func() bool { return f.hub.SubscriberCount() > 0 },
		2*time.Second, 10*time.Millisecond)
	_, err = f.registry.Join(session.ID, 1, "Ada")
	require.NoError(t, err)

	scanner := bufio.NewScanner(resp.Body)
	deadline := time.AfterFunc(5*time.Second, func() { resp.Body.Close() })
	defer deadline.Stop()

	var sawEvent, sawData bool
	for scanner.Scan() {
		line := scanner.Text()
		if line == "event: table-updated" {
			sawEvent = true
		}
		if sawEvent && strings.HasPrefix(line, "data: ") {
			assert.Contains(t, line, `"participants"`)
			sawData = true
			break
		}
	}
	assert.True(t, sawEvent, "expected a table-updated SSE event")
	assert.True(t, sawData, "expected the event payload line")
}

func TestSSEStreamUnknownSession(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/sessions/nope/stream", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
