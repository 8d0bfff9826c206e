package registry

import (
	"sort"
	"time"

	"github.com/theRAGEhero/world-cafe/internal/datastore"
)

// ParticipantSnapshot is the published view of one active participant.
type ParticipantSnapshot struct {
	ID            uint      `json:"id"`
	Name          string    `json:"name"`
	IsFacilitator bool      `json:"isFacilitator"`
	JoinedAt      time.Time `json:"joinedAt"`
}

// TableSnapshot is the published view of one table, consistent at the time
// of the mutation that produced it.
type TableSnapshot struct {
	ID            uint                  `json:"id"`
	SessionID     string                `json:"sessionId"`
	TableNumber   int                   `json:"tableNumber"`
	Name          string                `json:"name,omitempty"`
	Status        string                `json:"status"`
	MaxSize       int                   `json:"maxSize"`
	FacilitatorID *uint                 `json:"facilitatorId,omitempty"`
	Participants  []ParticipantSnapshot `json:"participants"`
}

// SessionSnapshot is the published view of a session and all its tables.
type SessionSnapshot struct {
	ID         string          `json:"id"`
	Title      string          `json:"title"`
	Status     string          `json:"status"`
	Language   string          `json:"language"`
	TableCount int             `json:"tableCount"`
	Tables     []TableSnapshot `json:"tables"`
}

// tableSnapshotLocked builds a snapshot of a table. Caller holds ts.mu.
func tableSnapshotLocked(ts *tableState, sessionID string) TableSnapshot {
	snapshot := TableSnapshot{
		ID:            ts.table.ID,
		SessionID:     sessionID,
		TableNumber:   ts.table.TableNumber,
		Name:          ts.table.Name,
		Status:        ts.table.Status,
		MaxSize:       ts.table.MaxSize,
		FacilitatorID: ts.table.FacilitatorID,
		Participants:  make([]ParticipantSnapshot, 0, len(ts.participants)),
	}
	for _, p := range ts.participants {
		snapshot.Participants = append(snapshot.Participants, ParticipantSnapshot{
			ID:            p.ID,
			Name:          p.Name,
			IsFacilitator: p.IsFacilitator,
			JoinedAt:      p.JoinedAt,
		})
	}
	sort.Slice(snapshot.Participants, func(i, j int) bool {
		a, b := snapshot.Participants[i], snapshot.Participants[j]
		if !a.JoinedAt.Equal(b.JoinedAt) {
			return a.JoinedAt.Before(b.JoinedAt)
		}
		return a.ID < b.ID
	})
	return snapshot
}

// sessionSnapshot builds a snapshot of a session, locking each table briefly.
func (r *Registry) sessionSnapshot(state *sessionState) *SessionSnapshot {
	r.mu.RLock()
	session := state.session
	tables := make([]*tableState, 0, len(state.tables))
	for _, ts := range state.tables {
		tables = append(tables, ts)
	}
	r.mu.RUnlock()

	snapshot := &SessionSnapshot{
		ID:         session.PublicID,
		Title:      session.Title,
		Status:     session.Status,
		Language:   session.Language,
		TableCount: session.TableCount,
		Tables:     make([]TableSnapshot, 0, len(tables)),
	}
	for _, ts := range tables {
		ts.mu.Lock()
		snapshot.Tables = append(snapshot.Tables, tableSnapshotLocked(ts, session.PublicID))
		ts.mu.Unlock()
	}
	sort.Slice(snapshot.Tables, func(i, j int) bool {
		return snapshot.Tables[i].TableNumber < snapshot.Tables[j].TableNumber
	})
	return snapshot
}

// copyParticipant returns a copy of the participant record for callers
// outside the package.
func copyParticipant(p *datastore.Participant) *datastore.Participant {
	clone := *p
	return &clone
}
