// Package transcript turns the word-event stream of a recording into
// persisted, readable transcriptions. Interim events are surfaced as
// ephemeral previews; final events are consolidated into same-speaker
// segments and stored when the recording ends.
package transcript

import (
	"strings"

	"github.com/theRAGEhero/world-cafe/internal/datastore"
	"github.com/theRAGEhero/world-cafe/internal/speech"
)

// Consolidator merges the ordered final word events of one recording into
// consecutive same-speaker segments. State is private to one recording; no
// locking needed.
type Consolidator struct {
	segments []datastore.SpeakerSegment

	currentSpeaker int
	currentWords   []string
	currentStart   float64
	currentEnd     float64
	accumulating   bool

	wordCount     int
	confidenceSum float64
}

// NewConsolidator creates an empty consolidator.
func NewConsolidator() *Consolidator {
	return &Consolidator{}
}

// Add appends one final word event. A speaker change flushes the running
// segment and starts a new one.
func (c *Consolidator) Add(event speech.WordEvent) {
	if c.accumulating && event.Speaker != c.currentSpeaker {
		c.flushSegment()
	}
	if !c.accumulating {
		c.accumulating = true
		c.currentSpeaker = event.Speaker
		c.currentStart = event.Start
		c.currentWords = c.currentWords[:0]
	}
	c.currentWords = append(c.currentWords, event.Word)
	c.currentEnd = event.End
	c.wordCount++
	c.confidenceSum += event.Confidence
}

// flushSegment closes the running accumulator into a segment.
func (c *Consolidator) flushSegment() {
	if !c.accumulating {
		return
	}
	c.segments = append(c.segments, datastore.SpeakerSegment{
		Speaker: c.currentSpeaker,
		Text:    strings.Join(c.currentWords, " "),
		Start:   c.currentStart,
		End:     c.currentEnd,
	})
	c.accumulating = false
}

// Segments flushes any running accumulator and returns the consolidated
// segment list in order.
func (c *Consolidator) Segments() []datastore.SpeakerSegment {
	c.flushSegment()
	return c.segments
}

// FullText flushes and returns the whole transcript, one line per segment.
func (c *Consolidator) FullText() string {
	segments := c.Segments()
	lines := make([]string, 0, len(segments))
	for _, segment := range segments {
		lines = append(lines, segment.Text)
	}
	return strings.Join(lines, "\n")
}

// WordCount returns the number of final words consumed.
func (c *Consolidator) WordCount() int {
	return c.wordCount
}

// Confidence returns the mean confidence over all final words, 0 when empty.
func (c *Consolidator) Confidence() float64 {
	if c.wordCount == 0 {
		return 0
	}
	return c.confidenceSum / float64(c.wordCount)
}
