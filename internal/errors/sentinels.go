package errors

import stderrors "errors"

// Sentinel errors for the table-lifecycle and transcription domain. Callers
// match these with errors.Is to pick the user-visible response.
var (
	// ErrSessionNotFound indicates the referenced session does not exist.
	ErrSessionNotFound = stderrors.New("session not found")

	// ErrSessionClosed indicates the session no longer accepts joins.
	ErrSessionClosed = stderrors.New("session is closed")

	// ErrTableNotFound indicates the referenced table does not exist in the session.
	ErrTableNotFound = stderrors.New("table not found")

	// ErrTableFull indicates a join or move would exceed the table's max size.
	ErrTableFull = stderrors.New("table is full")

	// ErrParticipantNotFound indicates the referenced participant does not
	// exist or has already left.
	ErrParticipantNotFound = stderrors.New("participant not found")

	// ErrInvalidTransition indicates a table status transition that the state
	// machine does not allow.
	ErrInvalidTransition = stderrors.New("invalid table status transition")

	// ErrStreamFailed indicates the speech-service stream failed after the
	// reconnect attempt was exhausted.
	ErrStreamFailed = stderrors.New("speech stream failed")
)
