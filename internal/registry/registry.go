// Package registry holds the in-memory authoritative view of a session's
// tables and participants. It owns join/leave/move and the capacity and
// facilitator invariants. Operations on one table are serialized through a
// per-table mutex; operations on different tables run in parallel. The
// datastore is updated after each committed in-memory transition, never
// consulted inside a critical section.
package registry

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/theRAGEhero/world-cafe/internal/broadcast"
	"github.com/theRAGEhero/world-cafe/internal/conf"
	"github.com/theRAGEhero/world-cafe/internal/datastore"
	"github.com/theRAGEhero/world-cafe/internal/errors"
	"github.com/theRAGEhero/world-cafe/internal/logging"
	"github.com/theRAGEhero/world-cafe/internal/observability"
)

// tableState is the unit of concurrency: all mutations of one table happen
// under its mutex.
type tableState struct {
	mu           sync.Mutex
	table        datastore.Table
	participants map[uint]*datastore.Participant // active participants only
	pausedFrom   string                          // status to restore on resume
}

// sessionState tracks one hydrated session and its tables.
type sessionState struct {
	session  datastore.Session
	tables   map[uint]*tableState // keyed by table id
	byNumber map[int]*tableState  // keyed by table number
}

// Registry is the in-memory table registry.
type Registry struct {
	ds      datastore.Interface
	hub     *broadcast.Hub
	metrics *observability.Metrics // may be nil
	logger  *slog.Logger

	mu            sync.RWMutex
	sessions      map[string]*sessionState // keyed by session public id
	tableIndex    map[uint]*tableState     // table id -> state
	tableSession  map[uint]string          // table id -> session public id
	participantAt map[uint]uint            // participant id -> table id

	nextParticipantID atomic.Uint64

	persistCh   chan func()
	persistDone chan struct{}
	closeOnce   sync.Once
}

// New creates a registry backed by the given store and broadcast hub.
// metrics may be nil.
func New(ds datastore.Interface, hub *broadcast.Hub, metrics *observability.Metrics) *Registry {
	r := &Registry{
		ds:            ds,
		hub:           hub,
		metrics:       metrics,
		logger:        logging.ForService("registry"),
		sessions:      make(map[string]*sessionState),
		tableIndex:    make(map[uint]*tableState),
		tableSession:  make(map[uint]string),
		participantAt: make(map[uint]uint),
		persistCh:     make(chan func(), 1024),
		persistDone:   make(chan struct{}),
	}

	if maxID, err := ds.MaxParticipantID(); err == nil {
		r.nextParticipantID.Store(uint64(maxID))
	} else {
		r.logger.Warn("could not seed participant id counter", "error", err)
	}

	go r.persistWorker()
	return r
}

// persistWorker applies datastore writes in the order operations committed,
// so a leave can never be persisted before the join it depends on.
func (r *Registry) persistWorker() {
	defer close(r.persistDone)
	for fn := range r.persistCh {
		fn()
	}
}

// persist enqueues a datastore write. Persistence failures are logged, never
// rolled back into in-memory state.
func (r *Registry) persist(fn func() error, operation string) {
	r.persistCh <- func() {
		if err := fn(); err != nil {
			enhanced := errors.New(err).
				Component("registry").
				Category(errors.CategoryDatabase).
				Context("operation", operation).
				Build()
			r.logger.Error("persistence failed", "operation", operation, "error", enhanced)
		}
	}
}

// Close drains pending persistence writes and stops the worker.
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		close(r.persistCh)
		<-r.persistDone
	})
}

// CreateSession creates a session with its tables, persists it synchronously
// (administrative path, not latency sensitive) and hydrates it into memory.
func (r *Registry) CreateSession(title string, settings *conf.SessionSettings) (*SessionSnapshot, error) {
	tableCount := settings.DefaultTableCount
	maxSize := settings.DefaultMaxSize

	session := &datastore.Session{
		PublicID:   uuid.NewString(),
		Title:      title,
		Status:     datastore.SessionActive,
		Language:   settings.DefaultLanguage,
		TableCount: tableCount,
	}
	for n := 1; n <= tableCount; n++ {
		session.Tables = append(session.Tables, datastore.Table{
			TableNumber: n,
			Status:      datastore.TableWaiting,
			MaxSize:     maxSize,
		})
	}

	if err := r.ds.CreateSession(session); err != nil {
		return nil, errors.New(err).
			Component("registry").
			Category(errors.CategoryDatabase).
			Build()
	}

	r.mu.Lock()
	state := r.indexSessionLocked(session, nil)
	r.mu.Unlock()

	snapshot := r.sessionSnapshot(state)
	r.hub.Publish(session.PublicID, 0, broadcast.EventSessionUpdated, snapshot)
	r.logger.Info("session created",
		"session_id", session.PublicID, "title", title, "tables", tableCount)
	return snapshot, nil
}

// indexSessionLocked registers a session and its tables in the lookup maps.
// Caller holds r.mu. participants maps table id to its active participants.
func (r *Registry) indexSessionLocked(session *datastore.Session, participants map[uint][]datastore.Participant) *sessionState {
	state := &sessionState{
		session:  *session,
		tables:   make(map[uint]*tableState, len(session.Tables)),
		byNumber: make(map[int]*tableState, len(session.Tables)),
	}
	for i := range session.Tables {
		table := session.Tables[i]
		ts := &tableState{
			table:        table,
			participants: make(map[uint]*datastore.Participant),
		}
		for _, p := range participants[table.ID] {
			participant := p
			ts.participants[participant.ID] = &participant
			r.participantAt[participant.ID] = table.ID
			if uint64(participant.ID) > r.nextParticipantID.Load() {
				r.nextParticipantID.Store(uint64(participant.ID))
			}
		}
		state.tables[table.ID] = ts
		state.byNumber[table.TableNumber] = ts
		r.tableIndex[table.ID] = ts
		r.tableSession[table.ID] = session.PublicID
	}
	r.sessions[session.PublicID] = state
	return state
}

// getSession returns the hydrated session state, loading it from the store
// on first access after a restart.
func (r *Registry) getSession(sessionID string) (*sessionState, error) {
	r.mu.RLock()
	state, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if ok {
		return state, nil
	}
	return r.hydrateSession(sessionID)
}

// hydrateSession loads a session, its tables and their active participants
// from the store into memory.
func (r *Registry) hydrateSession(sessionID string) (*sessionState, error) {
	session, err := r.ds.GetSessionByPublicID(sessionID)
	if err != nil {
		return nil, errors.New(errors.ErrSessionNotFound).
			Component("registry").
			Category(errors.CategoryNotFound).
			Context("session_id", sessionID).
			Build()
	}

	participants := make(map[uint][]datastore.Participant, len(session.Tables))
	for i := range session.Tables {
		active, err := r.ds.GetActiveParticipants(session.Tables[i].ID)
		if err != nil {
			return nil, errors.New(err).
				Component("registry").
				Category(errors.CategoryDatabase).
				Context("table_id", session.Tables[i].ID).
				Build()
		}
		participants[session.Tables[i].ID] = active
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another caller may have hydrated while we were reading the store.
	if state, ok := r.sessions[sessionID]; ok {
		return state, nil
	}
	state := r.indexSessionLocked(session, participants)
	r.logger.Info("session hydrated from store", "session_id", sessionID, "tables", len(state.tables))
	return state, nil
}

// GetSessionSnapshot returns a point-in-time view of a session and its tables.
func (r *Registry) GetSessionSnapshot(sessionID string) (*SessionSnapshot, error) {
	state, err := r.getSession(sessionID)
	if err != nil {
		return nil, err
	}
	return r.sessionSnapshot(state), nil
}

// CloseSession marks a session closed; subsequent joins are rejected.
func (r *Registry) CloseSession(sessionID string) error {
	return r.setSessionStatus(sessionID, datastore.SessionClosed)
}

// ReopenSession reactivates a closed session.
func (r *Registry) ReopenSession(sessionID string) error {
	return r.setSessionStatus(sessionID, datastore.SessionActive)
}

func (r *Registry) setSessionStatus(sessionID, status string) error {
	state, err := r.getSession(sessionID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	state.session.Status = status
	sessionDBID := state.session.ID
	r.mu.Unlock()

	r.persist(func() error {
		return r.ds.UpdateSession(sessionDBID, map[string]any{"status": status})
	}, "update-session-status")

	r.hub.Publish(sessionID, 0, broadcast.EventSessionUpdated, r.sessionSnapshot(state))
	r.logger.Info("session status changed", "session_id", sessionID, "status", status)
	return nil
}

// lookupTable resolves a table id to its state and owning session.
func (r *Registry) lookupTable(tableID uint) (*tableState, string, error) {
	r.mu.RLock()
	ts, ok := r.tableIndex[tableID]
	sessionID := r.tableSession[tableID]
	r.mu.RUnlock()
	if !ok {
		return nil, "", errors.New(errors.ErrTableNotFound).
			Component("registry").
			Category(errors.CategoryNotFound).
			Context("table_id", tableID).
			Build()
	}
	return ts, sessionID, nil
}

// lookupParticipant resolves a participant id to its table.
func (r *Registry) lookupParticipant(participantID uint) (*tableState, string, error) {
	r.mu.RLock()
	tableID, ok := r.participantAt[participantID]
	r.mu.RUnlock()
	if !ok {
		return nil, "", errors.New(errors.ErrParticipantNotFound).
			Component("registry").
			Category(errors.CategoryNotFound).
			Context("participant_id", participantID).
			Build()
	}
	return r.lookupTable(tableID)
}

func (r *Registry) observeOperation(operation string, start time.Time, err error) {
	if r.metrics == nil {
		return
	}
	r.metrics.Registry.Operations.WithLabelValues(operation).Inc()
	r.metrics.Registry.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		category := errors.CategoryGeneric
		var enhanced *errors.EnhancedError
		if errors.As(err, &enhanced) {
			category = errors.ErrorCategory(enhanced.GetCategory())
		}
		r.metrics.Registry.OperationErrors.WithLabelValues(operation, string(category)).Inc()
	}
}
