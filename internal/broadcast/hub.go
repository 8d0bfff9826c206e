// Package broadcast implements the session/table scoped publish-subscribe
// fan-out. Delivery is at-most-once with a bounded queue per subscriber;
// publish never blocks, and a subscriber that cannot keep up is disconnected
// instead of stalling the publisher.
package broadcast

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/theRAGEhero/world-cafe/internal/logging"
	"github.com/theRAGEhero/world-cafe/internal/observability"
)

// EventType identifies the kind of event carried by the hub.
type EventType string

const (
	EventSessionUpdated         EventType = "session-updated"
	EventTableUpdated           EventType = "table-updated"
	EventRecordingStatus        EventType = "recording-status"
	EventTranscriptPreview      EventType = "transcript-preview"
	EventTranscriptionCompleted EventType = "transcription-completed"
)

// tableScoped reports whether the event type targets a single table. Table
// scoped events are delivered to table subscribers of that table and to all
// session-wide subscribers of the owning session.
func tableScoped(t EventType) bool {
	switch t {
	case EventTableUpdated, EventRecordingStatus, EventTranscriptPreview, EventTranscriptionCompleted:
		return true
	default:
		return false
	}
}

// Event is one published state change.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId"`
	TableID   uint      `json:"tableId,omitempty"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Subscription is one observer's handle on the hub. Events arrive on C until
// Unsubscribe is called or the hub disconnects the subscriber; C is closed in
// both cases.
type Subscription struct {
	ID        string
	SessionID string
	TableID   uint // 0 means session scope
	C         <-chan Event

	hub *Hub
	ch  chan Event
}

// Unsubscribe removes the subscription from the hub and closes C. Safe to
// call more than once.
func (s *Subscription) Unsubscribe() {
	s.hub.remove(s.ID)
}

// Stats holds hub delivery counters.
type Stats struct {
	Published       uint64
	Delivered       uint64
	Dropped         uint64
	SlowDisconnects uint64
}

// Hub is the broadcast fan-out. The zero value is not usable; create one
// with NewHub.
type Hub struct {
	mu         sync.RWMutex
	subs       map[string]*Subscription
	closed     bool
	bufferSize int

	published       atomic.Uint64
	delivered       atomic.Uint64
	dropped         atomic.Uint64
	slowDisconnects atomic.Uint64

	metrics *observability.Metrics // may be nil
	logger  *slog.Logger
}

// NewHub creates a hub with the given per-subscriber queue length. metrics
// may be nil.
func NewHub(bufferSize int, metrics *observability.Metrics) *Hub {
	if bufferSize < 1 {
		bufferSize = 64
	}
	return &Hub{
		subs:       make(map[string]*Subscription),
		bufferSize: bufferSize,
		metrics:    metrics,
		logger:     logging.ForService("broadcast"),
	}
}

// Subscribe registers an observer for a session, optionally narrowed to one
// table (tableID != 0). The returned subscription only receives events
// published after this call.
func (h *Hub) Subscribe(sessionID string, tableID uint) *Subscription {
	ch := make(chan Event, h.bufferSize)
	sub := &Subscription{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		TableID:   tableID,
		C:         ch,
		hub:       h,
		ch:        ch,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return sub
	}
	h.subs[sub.ID] = sub
	count := len(h.subs)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.Broadcast.Subscribers.Set(float64(count))
	}
	h.logger.Debug("subscriber added",
		"subscription_id", sub.ID, "session_id", sessionID, "table_id", tableID, "total", count)
	return sub
}

// Publish delivers an event to every matching subscriber. Delivery to each
// subscriber is non-blocking: when a subscriber's queue is full the event is
// dropped and the subscriber is disconnected.
func (h *Hub) Publish(sessionID string, tableID uint, eventType EventType, payload any) {
	event := Event{
		Type:      eventType,
		SessionID: sessionID,
		TableID:   tableID,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	h.published.Add(1)
	if h.metrics != nil {
		h.metrics.Broadcast.EventsPublished.WithLabelValues(string(eventType)).Inc()
	}

	var slow []string

	h.mu.RLock()
	for id, sub := range h.subs {
		if !h.matches(sub, &event) {
			continue
		}
		select {
		case sub.ch <- event:
			h.delivered.Add(1)
			if h.metrics != nil {
				h.metrics.Broadcast.EventsDelivered.Inc()
			}
		default:
			h.dropped.Add(1)
			if h.metrics != nil {
				h.metrics.Broadcast.EventsDropped.Inc()
			}
			slow = append(slow, id)
		}
	}
	h.mu.RUnlock()

	// Disconnect slow subscribers outside the read lock.
	for _, id := range slow {
		h.slowDisconnects.Add(1)
		if h.metrics != nil {
			h.metrics.Broadcast.SlowDisconnects.Inc()
		}
		h.logger.Warn("disconnecting slow subscriber", "subscription_id", id, "event_type", eventType)
		h.remove(id)
	}
}

// matches applies the session/table scoping rules.
func (h *Hub) matches(sub *Subscription, event *Event) bool {
	if sub.SessionID != event.SessionID {
		return false
	}
	if !tableScoped(event.Type) {
		return true
	}
	// Table-scoped events reach session-wide subscribers and the table's own.
	return sub.TableID == 0 || sub.TableID == event.TableID
}

// remove deletes a subscription and closes its channel. Channel closes only
// happen here, under the write lock, so they cannot race sends performed
// under the read lock.
func (h *Hub) remove(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
		close(sub.ch)
	}
	count := len(h.subs)
	h.mu.Unlock()

	if ok {
		if h.metrics != nil {
			h.metrics.Broadcast.Subscribers.Set(float64(count))
		}
		h.logger.Debug("subscriber removed", "subscription_id", id, "total", count)
	}
}

// SubscriberCount returns the number of active subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// GetStats returns current delivery counters.
func (h *Hub) GetStats() Stats {
	return Stats{
		Published:       h.published.Load(),
		Delivered:       h.delivered.Load(),
		Dropped:         h.dropped.Load(),
		SlowDisconnects: h.slowDisconnects.Load(),
	}
}

// Shutdown disconnects every subscriber and rejects new subscriptions.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.ch)
	}
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.Broadcast.Subscribers.Set(0)
	}
	h.logger.Info("broadcast hub shut down")
}
