package registry

import (
	"time"

	"github.com/theRAGEhero/world-cafe/internal/broadcast"
	"github.com/theRAGEhero/world-cafe/internal/datastore"
	"github.com/theRAGEhero/world-cafe/internal/errors"
)

// Join seats a new participant at a table. Capacity is enforced before any
// state is mutated; the first participant at an empty table becomes the
// facilitator. The updated table snapshot is published to the session and
// table channels before the table lock is released, so snapshot order always
// matches mutation order.
func (r *Registry) Join(sessionID string, tableNumber int, participantName string) (participant *datastore.Participant, err error) {
	start := time.Now()
	defer func() { r.observeOperation("join", start, err) }()

	state, err := r.getSession(sessionID)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	sessionStatus := state.session.Status
	sessionDBID := state.session.ID
	ts := state.byNumber[tableNumber]
	r.mu.RUnlock()

	if sessionStatus != datastore.SessionActive {
		return nil, errors.New(errors.ErrSessionClosed).
			Component("registry").
			Category(errors.CategoryState).
			Context("session_id", sessionID).
			Build()
	}
	if ts == nil {
		return nil, errors.New(errors.ErrTableNotFound).
			Component("registry").
			Category(errors.CategoryNotFound).
			SessionContext(sessionID, tableNumber).
			Build()
	}

	ts.mu.Lock()
	if len(ts.participants) >= ts.table.MaxSize {
		ts.mu.Unlock()
		return nil, errors.New(errors.ErrTableFull).
			Component("registry").
			Category(errors.CategoryCapacity).
			SessionContext(sessionID, tableNumber).
			Context("max_size", ts.table.MaxSize).
			Build()
	}

	p := &datastore.Participant{
		ID:        uint(r.nextParticipantID.Add(1)),
		SessionID: sessionDBID,
		TableID:   ts.table.ID,
		Name:      participantName,
		JoinedAt:  time.Now(),
	}
	ts.participants[p.ID] = p

	facilitatorID, changed := coordinateFacilitator(ts.participants)
	ts.table.FacilitatorID = facilitatorID

	snapshot := tableSnapshotLocked(ts, sessionID)
	r.hub.Publish(sessionID, ts.table.ID, broadcast.EventTableUpdated, snapshot)
	participant = copyParticipant(p)
	tableID := ts.table.ID
	ts.mu.Unlock()

	r.mu.Lock()
	r.participantAt[participant.ID] = tableID
	r.mu.Unlock()

	toCreate := *participant
	changedCopies := copyChanged(changed)
	r.persist(func() error {
		if err := r.ds.CreateParticipant(&toCreate); err != nil {
			return err
		}
		for _, c := range changedCopies {
			if err := r.ds.UpdateParticipant(c.ID, map[string]any{"is_facilitator": c.IsFacilitator}); err != nil {
				return err
			}
		}
		return r.ds.UpdateTable(tableID, map[string]any{"facilitator_id": facilitatorID})
	}, "join")

	if r.metrics != nil {
		r.metrics.Registry.ActiveParticipants.Inc()
	}
	r.logger.Info("participant joined",
		"session_id", sessionID, "table_number", tableNumber,
		"participant_id", participant.ID, "facilitator", participant.ID == derefID(facilitatorID))
	return participant, nil
}

// Leave marks a participant as departed. Leaving is a soft transition: the
// row keeps its history and only left_at is set. When the facilitator leaves
// the role is reassigned; when the table empties its status resets to waiting.
func (r *Registry) Leave(participantID uint) (err error) {
	start := time.Now()
	defer func() { r.observeOperation("leave", start, err) }()

	ts, sessionID, err := r.lookupParticipant(participantID)
	if err != nil {
		return err
	}

	ts.mu.Lock()
	p, ok := ts.participants[participantID]
	if !ok {
		ts.mu.Unlock()
		return errors.New(errors.ErrParticipantNotFound).
			Component("registry").
			Category(errors.CategoryNotFound).
			Context("participant_id", participantID).
			Build()
	}

	now := time.Now()
	p.LeftAt = &now
	p.IsFacilitator = false
	delete(ts.participants, participantID)

	facilitatorID, changed := coordinateFacilitator(ts.participants)
	ts.table.FacilitatorID = facilitatorID

	tableFields := map[string]any{"facilitator_id": facilitatorID}
	if len(ts.participants) == 0 && ts.table.Status != datastore.TableCompleted {
		ts.table.Status = datastore.TableWaiting
		ts.pausedFrom = ""
		tableFields["status"] = datastore.TableWaiting
	}

	snapshot := tableSnapshotLocked(ts, sessionID)
	r.hub.Publish(sessionID, ts.table.ID, broadcast.EventTableUpdated, snapshot)
	tableID := ts.table.ID
	ts.mu.Unlock()

	r.mu.Lock()
	delete(r.participantAt, participantID)
	r.mu.Unlock()

	changedCopies := copyChanged(changed)
	r.persist(func() error {
		if err := r.ds.UpdateParticipant(participantID, map[string]any{
			"left_at":        &now,
			"is_facilitator": false,
		}); err != nil {
			return err
		}
		for _, c := range changedCopies {
			if err := r.ds.UpdateParticipant(c.ID, map[string]any{"is_facilitator": c.IsFacilitator}); err != nil {
				return err
			}
		}
		return r.ds.UpdateTable(tableID, tableFields)
	}, "leave")

	if r.metrics != nil {
		r.metrics.Registry.ActiveParticipants.Dec()
	}
	r.logger.Info("participant left",
		"session_id", sessionID, "participant_id", participantID)
	return nil
}

// Move relocates a participant to another table of the same session. Both
// table locks are acquired in ascending table-id order so two crossing moves
// cannot deadlock. The destination capacity check happens before any state
// is mutated, making the operation all-or-nothing.
func (r *Registry) Move(participantID, newTableID uint) (participant *datastore.Participant, err error) {
	start := time.Now()
	defer func() { r.observeOperation("move", start, err) }()

	origin, sessionID, err := r.lookupParticipant(participantID)
	if err != nil {
		return nil, err
	}
	dest, destSessionID, err := r.lookupTable(newTableID)
	if err != nil {
		return nil, err
	}
	if sessionID != destSessionID {
		return nil, errors.Newf("cannot move participant across sessions").
			Component("registry").
			Category(errors.CategoryValidation).
			Context("participant_id", participantID).
			Context("destination_table_id", newTableID).
			Build()
	}

	if origin == dest {
		origin.mu.Lock()
		defer origin.mu.Unlock()
		p, ok := origin.participants[participantID]
		if !ok {
			return nil, errors.New(errors.ErrParticipantNotFound).
				Component("registry").
				Category(errors.CategoryNotFound).
				Context("participant_id", participantID).
				Build()
		}
		return copyParticipant(p), nil
	}

	// Lock ordering by table id prevents deadlock when two moves cross.
	first, second := origin, dest
	if dest.table.ID < origin.table.ID {
		first, second = dest, origin
	}
	first.mu.Lock()
	second.mu.Lock()

	p, ok := origin.participants[participantID]
	if !ok {
		second.mu.Unlock()
		first.mu.Unlock()
		return nil, errors.New(errors.ErrParticipantNotFound).
			Component("registry").
			Category(errors.CategoryNotFound).
			Context("participant_id", participantID).
			Build()
	}
	if len(dest.participants) >= dest.table.MaxSize {
		second.mu.Unlock()
		first.mu.Unlock()
		return nil, errors.New(errors.ErrTableFull).
			Component("registry").
			Category(errors.CategoryCapacity).
			Context("destination_table_id", newTableID).
			Context("max_size", dest.table.MaxSize).
			Build()
	}

	// Origin side: leave-equivalent bookkeeping.
	wasFacilitator := p.IsFacilitator
	delete(origin.participants, participantID)
	p.IsFacilitator = false

	originFacilitatorID, originChanged := coordinateFacilitator(origin.participants)
	origin.table.FacilitatorID = originFacilitatorID
	originFields := map[string]any{"facilitator_id": originFacilitatorID}
	if len(origin.participants) == 0 && origin.table.Status != datastore.TableCompleted {
		origin.table.Status = datastore.TableWaiting
		origin.pausedFrom = ""
		originFields["status"] = datastore.TableWaiting
	}

	// Destination side: join-equivalent bookkeeping. The participant joins
	// the destination now, so succession order there starts fresh.
	p.TableID = dest.table.ID
	p.JoinedAt = time.Now()
	dest.participants[p.ID] = p

	destFacilitatorID, destChanged := coordinateFacilitator(dest.participants)
	dest.table.FacilitatorID = destFacilitatorID

	originSnapshot := tableSnapshotLocked(origin, sessionID)
	destSnapshot := tableSnapshotLocked(dest, sessionID)
	r.hub.Publish(sessionID, origin.table.ID, broadcast.EventTableUpdated, originSnapshot)
	r.hub.Publish(sessionID, dest.table.ID, broadcast.EventTableUpdated, destSnapshot)

	participant = copyParticipant(p)
	originTableID := origin.table.ID
	destTableID := dest.table.ID

	second.mu.Unlock()
	first.mu.Unlock()

	r.mu.Lock()
	r.participantAt[participantID] = destTableID
	r.mu.Unlock()

	moved := *participant
	originChangedCopies := copyChanged(originChanged)
	destChangedCopies := copyChanged(destChanged)
	r.persist(func() error {
		if err := r.ds.UpdateParticipant(moved.ID, map[string]any{
			"table_id":       moved.TableID,
			"is_facilitator": moved.IsFacilitator,
			"joined_at":      moved.JoinedAt,
		}); err != nil {
			return err
		}
		for _, c := range append(originChangedCopies, destChangedCopies...) {
			if err := r.ds.UpdateParticipant(c.ID, map[string]any{"is_facilitator": c.IsFacilitator}); err != nil {
				return err
			}
		}
		if err := r.ds.UpdateTable(originTableID, originFields); err != nil {
			return err
		}
		return r.ds.UpdateTable(destTableID, map[string]any{"facilitator_id": destFacilitatorID})
	}, "move")

	r.logger.Info("participant moved",
		"session_id", sessionID, "participant_id", participantID,
		"from_table", originTableID, "to_table", destTableID,
		"was_facilitator", wasFacilitator)
	return participant, nil
}

// MakeFacilitator explicitly hands the facilitator role to the given
// participant, clearing it from every other active participant of the table.
func (r *Registry) MakeFacilitator(participantID uint) (participant *datastore.Participant, err error) {
	start := time.Now()
	defer func() { r.observeOperation("make-facilitator", start, err) }()

	ts, sessionID, err := r.lookupParticipant(participantID)
	if err != nil {
		return nil, err
	}

	ts.mu.Lock()
	p, ok := ts.participants[participantID]
	if !ok {
		ts.mu.Unlock()
		return nil, errors.New(errors.ErrParticipantNotFound).
			Component("registry").
			Category(errors.CategoryNotFound).
			Context("participant_id", participantID).
			Build()
	}

	var changed []*datastore.Participant
	for _, other := range ts.participants {
		if other.ID != participantID && other.IsFacilitator {
			other.IsFacilitator = false
			changed = append(changed, other)
		}
	}
	if !p.IsFacilitator {
		p.IsFacilitator = true
		changed = append(changed, p)
	}
	id := p.ID
	ts.table.FacilitatorID = &id

	snapshot := tableSnapshotLocked(ts, sessionID)
	r.hub.Publish(sessionID, ts.table.ID, broadcast.EventTableUpdated, snapshot)
	participant = copyParticipant(p)
	tableID := ts.table.ID
	ts.mu.Unlock()

	changedCopies := copyChanged(changed)
	r.persist(func() error {
		for _, c := range changedCopies {
			if err := r.ds.UpdateParticipant(c.ID, map[string]any{"is_facilitator": c.IsFacilitator}); err != nil {
				return err
			}
		}
		return r.ds.UpdateTable(tableID, map[string]any{"facilitator_id": &id})
	}, "make-facilitator")

	r.logger.Info("facilitator assigned",
		"session_id", sessionID, "participant_id", participantID)
	return participant, nil
}

func copyChanged(changed []*datastore.Participant) []datastore.Participant {
	copies := make([]datastore.Participant, 0, len(changed))
	for _, c := range changed {
		copies = append(copies, *c)
	}
	return copies
}

func derefID(id *uint) uint {
	if id == nil {
		return 0
	}
	return *id
}
