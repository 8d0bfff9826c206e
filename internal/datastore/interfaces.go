// interfaces.go defines the persistence gateway consumed by the registry
// and transcription pipeline, and its shared GORM implementation.
package datastore

import (
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/theRAGEhero/world-cafe/internal/conf"
	"github.com/theRAGEhero/world-cafe/internal/logging"
)

// Interface abstracts the underlying database implementation. All writes
// happen after the in-memory state transition has committed; callers log
// failures and never roll back in-memory state on persistence errors.
type Interface interface {
	Open() error
	Close() error

	// Sessions
	CreateSession(session *Session) error
	GetSession(id uint) (*Session, error)
	GetSessionByPublicID(publicID string) (*Session, error)
	ListSessions() ([]Session, error)
	UpdateSession(id uint, fields map[string]any) error
	DeleteSession(id uint) error

	// Tables
	GetTable(id uint) (*Table, error)
	GetSessionTable(sessionID uint, tableNumber int) (*Table, error)
	GetSessionTables(sessionID uint) ([]Table, error)
	UpdateTable(id uint, fields map[string]any) error

	// Participants
	CreateParticipant(participant *Participant) error
	UpdateParticipant(id uint, fields map[string]any) error
	GetParticipant(id uint) (*Participant, error)
	GetActiveParticipants(tableID uint) ([]Participant, error)
	MaxParticipantID() (uint, error)

	// Recordings
	CreateRecording(recording *Recording) error
	UpdateRecording(id uint, fields map[string]any) error
	GetRecording(id uint) (*Recording, error)

	// Transcriptions
	CreateTranscription(transcription *Transcription) error
	GetTableTranscriptions(tableID uint) ([]Transcription, error)
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB     *gorm.DB
	logger *slog.Logger
}

// New creates a store instance based on the configured output.
func New(settings *conf.Settings) Interface {
	logger := logging.ForService("datastore")
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{
			DataStore: DataStore{logger: logger},
			Settings:  settings,
		}
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{
			DataStore: DataStore{logger: logger},
			Settings:  settings,
		}
	default:
		return nil
	}
}

// CreateSession stores a session together with its tables in one transaction.
func (ds *DataStore) CreateSession(session *Session) error {
	if err := ds.DB.Create(session).Error; err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

// GetSession retrieves a session with its tables preloaded.
func (ds *DataStore) GetSession(id uint) (*Session, error) {
	var session Session
	if err := ds.DB.Preload("Tables").First(&session, id).Error; err != nil {
		return nil, fmt.Errorf("getting session %d: %w", id, err)
	}
	return &session, nil
}

// GetSessionByPublicID retrieves a session by its client-facing uuid.
func (ds *DataStore) GetSessionByPublicID(publicID string) (*Session, error) {
	var session Session
	err := ds.DB.Preload("Tables").Where("public_id = ?", publicID).First(&session).Error
	if err != nil {
		return nil, fmt.Errorf("getting session %s: %w", publicID, err)
	}
	return &session, nil
}

// ListSessions returns all sessions, newest first.
func (ds *DataStore) ListSessions() ([]Session, error) {
	var sessions []Session
	if err := ds.DB.Order("created_at DESC").Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	return sessions, nil
}

// UpdateSession updates specific fields of a session.
func (ds *DataStore) UpdateSession(id uint, fields map[string]any) error {
	if err := ds.DB.Model(&Session{}).Where("id = ?", id).Updates(fields).Error; err != nil {
		return fmt.Errorf("updating session %d: %w", id, err)
	}
	return nil
}

// DeleteSession soft-deletes a session. Tables and participants are kept
// for history and cascade only on hard delete.
func (ds *DataStore) DeleteSession(id uint) error {
	if err := ds.DB.Delete(&Session{}, id).Error; err != nil {
		return fmt.Errorf("deleting session %d: %w", id, err)
	}
	return nil
}

// GetTable retrieves a table by its primary key.
func (ds *DataStore) GetTable(id uint) (*Table, error) {
	var table Table
	if err := ds.DB.First(&table, id).Error; err != nil {
		return nil, fmt.Errorf("getting table %d: %w", id, err)
	}
	return &table, nil
}

// GetSessionTable retrieves a table by session and table number.
func (ds *DataStore) GetSessionTable(sessionID uint, tableNumber int) (*Table, error) {
	var table Table
	err := ds.DB.Where("session_id = ? AND table_number = ?", sessionID, tableNumber).
		First(&table).Error
	if err != nil {
		return nil, fmt.Errorf("getting table %d of session %d: %w", tableNumber, sessionID, err)
	}
	return &table, nil
}

// GetSessionTables returns all tables of a session ordered by table number.
func (ds *DataStore) GetSessionTables(sessionID uint) ([]Table, error) {
	var tables []Table
	err := ds.DB.Where("session_id = ?", sessionID).Order("table_number ASC").Find(&tables).Error
	if err != nil {
		return nil, fmt.Errorf("listing tables of session %d: %w", sessionID, err)
	}
	return tables, nil
}

// UpdateTable updates specific fields of a table.
func (ds *DataStore) UpdateTable(id uint, fields map[string]any) error {
	if err := ds.DB.Model(&Table{}).Where("id = ?", id).Updates(fields).Error; err != nil {
		return fmt.Errorf("updating table %d: %w", id, err)
	}
	return nil
}

// CreateParticipant stores a new participant row.
func (ds *DataStore) CreateParticipant(participant *Participant) error {
	if err := ds.DB.Create(participant).Error; err != nil {
		return fmt.Errorf("creating participant: %w", err)
	}
	return nil
}

// UpdateParticipant updates specific fields of a participant.
func (ds *DataStore) UpdateParticipant(id uint, fields map[string]any) error {
	if err := ds.DB.Model(&Participant{}).Where("id = ?", id).Updates(fields).Error; err != nil {
		return fmt.Errorf("updating participant %d: %w", id, err)
	}
	return nil
}

// GetParticipant retrieves a participant by its primary key.
func (ds *DataStore) GetParticipant(id uint) (*Participant, error) {
	var participant Participant
	if err := ds.DB.First(&participant, id).Error; err != nil {
		return nil, fmt.Errorf("getting participant %d: %w", id, err)
	}
	return &participant, nil
}

// GetActiveParticipants returns the participants still seated at a table,
// ordered by join time then id so facilitator selection is deterministic.
func (ds *DataStore) GetActiveParticipants(tableID uint) ([]Participant, error) {
	var participants []Participant
	err := ds.DB.Where("table_id = ? AND left_at IS NULL", tableID).
		Order("joined_at ASC, id ASC").Find(&participants).Error
	if err != nil {
		return nil, fmt.Errorf("listing active participants of table %d: %w", tableID, err)
	}
	return participants, nil
}

// MaxParticipantID returns the highest participant id ever assigned, so the
// in-memory id counter survives restarts. Soft-deleted rows count too.
func (ds *DataStore) MaxParticipantID() (uint, error) {
	var maxID uint
	err := ds.DB.Model(&Participant{}).
		Select("COALESCE(MAX(id), 0)").Scan(&maxID).Error
	if err != nil {
		return 0, fmt.Errorf("reading max participant id: %w", err)
	}
	return maxID, nil
}

// CreateRecording stores a new recording row.
func (ds *DataStore) CreateRecording(recording *Recording) error {
	if err := ds.DB.Create(recording).Error; err != nil {
		return fmt.Errorf("creating recording: %w", err)
	}
	return nil
}

// UpdateRecording updates specific fields of a recording.
func (ds *DataStore) UpdateRecording(id uint, fields map[string]any) error {
	if err := ds.DB.Model(&Recording{}).Where("id = ?", id).Updates(fields).Error; err != nil {
		return fmt.Errorf("updating recording %d: %w", id, err)
	}
	return nil
}

// GetRecording retrieves a recording by its primary key.
func (ds *DataStore) GetRecording(id uint) (*Recording, error) {
	var recording Recording
	if err := ds.DB.First(&recording, id).Error; err != nil {
		return nil, fmt.Errorf("getting recording %d: %w", id, err)
	}
	return &recording, nil
}

// CreateTranscription stores a transcription and stamps the recording as
// completed in the same transaction.
func (ds *DataStore) CreateTranscription(transcription *Transcription) error {
	return ds.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(transcription).Error; err != nil {
			return fmt.Errorf("creating transcription: %w", err)
		}
		now := time.Now()
		err := tx.Model(&Recording{}).
			Where("id = ? AND status = ?", transcription.RecordingID, RecordingActive).
			Updates(map[string]any{"status": RecordingCompleted, "ended_at": &now}).Error
		if err != nil {
			return fmt.Errorf("completing recording %d: %w", transcription.RecordingID, err)
		}
		return nil
	})
}

// GetTableTranscriptions returns all transcriptions for a table, newest first.
func (ds *DataStore) GetTableTranscriptions(tableID uint) ([]Transcription, error) {
	var transcriptions []Transcription
	err := ds.DB.Where("table_id = ?", tableID).
		Order("created_at DESC").Find(&transcriptions).Error
	if err != nil {
		return nil, fmt.Errorf("listing transcriptions of table %d: %w", tableID, err)
	}
	return transcriptions, nil
}
