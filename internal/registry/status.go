package registry

import (
	"time"

	"github.com/theRAGEhero/world-cafe/internal/broadcast"
	"github.com/theRAGEhero/world-cafe/internal/datastore"
	"github.com/theRAGEhero/world-cafe/internal/errors"
)

// BeginRecording moves a table from waiting to recording.
func (r *Registry) BeginRecording(tableID uint) (*TableSnapshot, error) {
	return r.transitionTable("begin-recording", tableID, func(ts *tableState) (string, error) {
		if ts.table.Status != datastore.TableWaiting {
			return "", invalidTransition(ts, datastore.TableRecording)
		}
		return datastore.TableRecording, nil
	})
}

// EndRecording returns a recording table to waiting.
func (r *Registry) EndRecording(tableID uint) (*TableSnapshot, error) {
	return r.transitionTable("end-recording", tableID, func(ts *tableState) (string, error) {
		if ts.table.Status != datastore.TableRecording {
			return "", invalidTransition(ts, datastore.TableWaiting)
		}
		return datastore.TableWaiting, nil
	})
}

// CompleteTable ends a table's round. Completed is terminal.
func (r *Registry) CompleteTable(tableID uint) (*TableSnapshot, error) {
	return r.transitionTable("complete-table", tableID, func(ts *tableState) (string, error) {
		switch ts.table.Status {
		case datastore.TableWaiting, datastore.TableRecording:
			return datastore.TableCompleted, nil
		default:
			return "", invalidTransition(ts, datastore.TableCompleted)
		}
	})
}

// PauseTable suspends a table, remembering the status to restore on resume.
func (r *Registry) PauseTable(tableID uint) (*TableSnapshot, error) {
	return r.transitionTable("pause-table", tableID, func(ts *tableState) (string, error) {
		switch ts.table.Status {
		case datastore.TableWaiting, datastore.TableRecording:
			ts.pausedFrom = ts.table.Status
			return datastore.TablePaused, nil
		default:
			return "", invalidTransition(ts, datastore.TablePaused)
		}
	})
}

// ResumeTable restores a paused table to the status it was paused from.
func (r *Registry) ResumeTable(tableID uint) (*TableSnapshot, error) {
	return r.transitionTable("resume-table", tableID, func(ts *tableState) (string, error) {
		if ts.table.Status != datastore.TablePaused {
			return "", invalidTransition(ts, datastore.TableWaiting)
		}
		target := ts.pausedFrom
		if target == "" {
			target = datastore.TableWaiting
		}
		ts.pausedFrom = ""
		return target, nil
	})
}

// GetTableSnapshot returns a point-in-time view of one table.
func (r *Registry) GetTableSnapshot(tableID uint) (*TableSnapshot, error) {
	ts, sessionID, err := r.lookupTable(tableID)
	if err != nil {
		return nil, err
	}
	ts.mu.Lock()
	snapshot := tableSnapshotLocked(ts, sessionID)
	ts.mu.Unlock()
	return &snapshot, nil
}

// TableStatus reports the current status of a table.
func (r *Registry) TableStatus(tableID uint) (string, error) {
	ts, _, err := r.lookupTable(tableID)
	if err != nil {
		return "", err
	}
	ts.mu.Lock()
	status := ts.table.Status
	ts.mu.Unlock()
	return status, nil
}

// transitionTable applies a status transition under the table lock. decide
// inspects the current state and returns the target status or an error; the
// snapshot is published before the lock is released.
func (r *Registry) transitionTable(operation string, tableID uint, decide func(*tableState) (string, error)) (snapshot *TableSnapshot, err error) {
	start := time.Now()
	defer func() { r.observeOperation(operation, start, err) }()

	ts, sessionID, err := r.lookupTable(tableID)
	if err != nil {
		return nil, err
	}

	ts.mu.Lock()
	target, err := decide(ts)
	if err != nil {
		ts.mu.Unlock()
		return nil, err
	}
	ts.table.Status = target
	s := tableSnapshotLocked(ts, sessionID)
	r.hub.Publish(sessionID, tableID, broadcast.EventTableUpdated, s)
	ts.mu.Unlock()

	r.persist(func() error {
		return r.ds.UpdateTable(tableID, map[string]any{"status": target})
	}, operation)

	r.logger.Info("table status changed",
		"session_id", sessionID, "table_id", tableID, "status", target)
	return &s, nil
}

// invalidTransition builds the error for a disallowed status change. Caller
// holds ts.mu.
func invalidTransition(ts *tableState, target string) error {
	return errors.New(errors.ErrInvalidTransition).
		Component("registry").
		Category(errors.CategoryState).
		Context("table_id", ts.table.ID).
		Context("from", ts.table.Status).
		Context("to", target).
		Build()
}
