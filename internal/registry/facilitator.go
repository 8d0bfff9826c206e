package registry

import "github.com/theRAGEhero/world-cafe/internal/datastore"

// coordinateFacilitator re-derives the facilitator role for a table's active
// participants. It is a pure function of membership, invoked under the
// caller's table lock after every join, leave or move:
//
//   - no active participants: facilitator cleared
//   - no current facilitator: the active participant with the earliest
//     joined_at is promoted, ties broken by participant id ascending
//   - otherwise the existing facilitator is left untouched
//
// It returns the new facilitator id (nil when the table is empty) and the
// participants whose is_facilitator flag changed, for persistence.
func coordinateFacilitator(participants map[uint]*datastore.Participant) (facilitatorID *uint, changed []*datastore.Participant) {
	if len(participants) == 0 {
		return nil, nil
	}

	var current *datastore.Participant
	for _, p := range participants {
		if p.IsFacilitator {
			current = p
			break
		}
	}
	if current != nil {
		id := current.ID
		return &id, nil
	}

	var candidate *datastore.Participant
	for _, p := range participants {
		if candidate == nil {
			candidate = p
			continue
		}
		switch {
		case p.JoinedAt.Before(candidate.JoinedAt):
			candidate = p
		case p.JoinedAt.Equal(candidate.JoinedAt) && p.ID < candidate.ID:
			candidate = p
		}
	}

	candidate.IsFacilitator = true
	id := candidate.ID
	return &id, []*datastore.Participant{candidate}
}
