// Package speech talks to the external speech-to-text service. The live
// client streams audio over a websocket and yields word-level, speaker
// diarized events in arrival order; the batch client transcribes uploaded
// audio files in one request. Both produce the same WordEvent stream so the
// consolidation pipeline does not care where the words came from.
package speech

import "context"

// WordEvent is one word-level result from the speech service. Interim events
// carry provisional text that a later event for the same audio supersedes;
// only final events enter consolidation.
type WordEvent struct {
	Speaker    int     `json:"speaker"`
	Word       string  `json:"word"`
	IsFinal    bool    `json:"is_final"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// Handler receives word events in arrival order. It is called from the
// client's reader goroutine and must not block.
type Handler func(WordEvent)

// Stream is a live speech-to-text connection for one recording.
type Stream interface {
	// Start opens the connection and begins delivering events to the
	// handler. It returns once the connection is established.
	Start(ctx context.Context) error
	// WriteAudio stages raw audio for transmission. Safe to call from a
	// different goroutine than Start.
	WriteAudio(data []byte) error
	// Stop flushes staged audio, closes the connection and waits for the
	// reader to drain. Stopping twice is a no-op.
	Stop() error
	// Done is closed when the stream has ended, whether by Stop or on its
	// own after a terminal failure. Err is settled once Done is closed.
	Done() <-chan struct{}
	// Err reports the terminal stream error, nil after a clean stop.
	Err() error
}
