// model.go defines the persisted data model: sessions own tables, tables
// hold participants and recordings, recordings own transcriptions.
package datastore

import (
	"time"

	"gorm.io/gorm"
)

// Session status values.
const (
	SessionActive   = "active"
	SessionClosed   = "closed"
	SessionArchived = "archived"
)

// Table status values.
const (
	TableWaiting   = "waiting"
	TableRecording = "recording"
	TableCompleted = "completed"
	TablePaused    = "paused"
)

// Recording status values.
const (
	RecordingActive    = "recording"
	RecordingCompleted = "completed"
	RecordingFailed    = "failed"
)

// Session represents one event with its set of discussion tables.
type Session struct {
	ID         uint   `gorm:"primaryKey"`
	PublicID   string `gorm:"uniqueIndex;size:36"` // uuid exposed to clients
	Title      string
	Status     string `gorm:"index;size:16"`
	Language   string `gorm:"size:16"`
	TableCount int
	Tables     []Table `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
	DeletedAt  gorm.DeletedAt `gorm:"index"`
}

// Table represents a single discussion table within a session. TableNumber
// is unique within the owning session. FacilitatorID is a weak reference to
// the active participant currently holding the facilitator role.
type Table struct {
	ID            uint `gorm:"primaryKey"`
	SessionID     uint `gorm:"index;uniqueIndex:idx_tables_session_number,priority:1"`
	TableNumber   int  `gorm:"uniqueIndex:idx_tables_session_number,priority:2"`
	Name          string
	Status        string `gorm:"size:16"`
	MaxSize       int
	FacilitatorID *uint
	Participants  []Participant `gorm:"foreignKey:TableID;constraint:OnDelete:CASCADE"`
	Recordings    []Recording   `gorm:"foreignKey:TableID;constraint:OnDelete:CASCADE"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Participant is a person seated at a table. Leaving is a soft transition:
// LeftAt is set and the row is kept for history.
type Participant struct {
	ID            uint `gorm:"primaryKey"`
	SessionID     uint `gorm:"index"`
	TableID       uint `gorm:"index:idx_participants_table_left,priority:1"`
	Name          string
	IsFacilitator bool
	JoinedAt      time.Time  `gorm:"index"`
	LeftAt        *time.Time `gorm:"index:idx_participants_table_left,priority:2"`
}

// Active reports whether the participant is still seated.
func (p *Participant) Active() bool {
	return p.LeftAt == nil
}

// Recording is one recording run on a table, either a live stream or an
// uploaded audio file.
type Recording struct {
	ID        uint       `gorm:"primaryKey"`
	TableID   uint       `gorm:"index"`
	Status    string     `gorm:"size:16"`
	Source    string     `gorm:"size:16"` // "live" or "upload"
	StartedAt time.Time
	EndedAt   *time.Time
}

// SpeakerSegment is one consolidated same-speaker block of a transcription.
type SpeakerSegment struct {
	Speaker int     `json:"speaker"`
	Text    string  `json:"text"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// Transcription is the persisted result of consolidating one recording.
type Transcription struct {
	ID              uint             `gorm:"primaryKey"`
	RecordingID     uint             `gorm:"uniqueIndex"`
	TableID         uint             `gorm:"index"`
	TranscriptText  string           `gorm:"type:text"`
	SpeakerSegments []SpeakerSegment `gorm:"serializer:json"`
	WordCount       int
	Confidence      float64
	Source          string `gorm:"size:16"`
	CreatedAt       time.Time
}
