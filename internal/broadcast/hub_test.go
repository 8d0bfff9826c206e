package broadcast

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPublishReachesSessionSubscriber(t *testing.T) {
	t.Parallel()

	hub := NewHub(8, nil)
	defer hub.Shutdown()

	sub := hub.Subscribe("session-a", 0)
	hub.Publish("session-a", 3, EventTableUpdated, "snapshot")

	event := <-sub.C
	assert.Equal(t, EventTableUpdated, event.Type)
	assert.Equal(t, "session-a", event.SessionID)
	assert.Equal(t, uint(3), event.TableID)
	assert.Equal(t, "snapshot", event.Payload)
}

func TestTableScoping(t *testing.T) {
	t.Parallel()

	hub := NewHub(8, nil)
	defer hub.Shutdown()

	sessionSub := hub.Subscribe("session-a", 0)
	tableSub := hub.Subscribe("session-a", 1)
	otherTableSub := hub.Subscribe("session-a", 2)
	otherSessionSub := hub.Subscribe("session-b", 0)

	hub.Publish("session-a", 1, EventTranscriptPreview, "hello")

	// Session-wide and matching table subscribers receive the event.
	require.Len(t, sessionSub.ch, 1)
	require.Len(t, tableSub.ch, 1)
	// A different table and a different session receive nothing.
	assert.Empty(t, otherTableSub.ch)
	assert.Empty(t, otherSessionSub.ch)
}

func TestSessionScopedEventReachesTableSubscribers(t *testing.T) {
	t.Parallel()

	hub := NewHub(8, nil)
	defer hub.Shutdown()

	tableSub := hub.Subscribe("session-a", 7)
	hub.Publish("session-a", 0, EventSessionUpdated, nil)

	require.Len(t, tableSub.ch, 1)
}

func TestNoEventsBeforeSubscribe(t *testing.T) {
	t.Parallel()

	hub := NewHub(8, nil)
	defer hub.Shutdown()

	hub.Publish("session-a", 1, EventTableUpdated, "early")
	sub := hub.Subscribe("session-a", 0)

	assert.Empty(t, sub.ch, "subscriber must only see events published after subscribing")
}

func TestOrderingPerSubscriber(t *testing.T) {
	t.Parallel()

	hub := NewHub(64, nil)
	defer hub.Shutdown()

	sub := hub.Subscribe("session-a", 0)
	for i := 0; i < 10; i++ {
		hub.Publish("session-a", 1, EventTableUpdated, i)
	}

	for i := 0; i < 10; i++ {
		event := <-sub.C
		assert.Equal(t, i, event.Payload, "events must arrive in publish order")
	}
}

func TestSlowSubscriberIsDisconnected(t *testing.T) {
	t.Parallel()

	hub := NewHub(2, nil)
	defer hub.Shutdown()

	slow := hub.Subscribe("session-a", 0)
	healthy := hub.Subscribe("session-a", 0)

	// Fill the slow subscriber's queue, then overflow it.
	for i := 0; i < 3; i++ {
		hub.Publish("session-a", 1, EventTableUpdated, i)
		// Keep the healthy subscriber drained so only the slow one overflows.
		<-healthy.C
	}

	// The slow subscriber was removed and its channel closed after the
	// buffered events.
	require.Equal(t, 1, hub.SubscriberCount())
	var received []any
	for event := range slow.C {
		received = append(received, event.Payload)
	}
	assert.Len(t, received, 2, "only buffered events are delivered before disconnect")

	stats := hub.GetStats()
	assert.Equal(t, uint64(1), stats.Dropped)
	assert.Equal(t, uint64(1), stats.SlowDisconnects)

	// The healthy subscriber keeps receiving.
	hub.Publish("session-a", 1, EventTableUpdated, "after")
	event := <-healthy.C
	assert.Equal(t, "after", event.Payload)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	t.Parallel()

	hub := NewHub(8, nil)
	defer hub.Shutdown()

	sub := hub.Subscribe("session-a", 0)
	sub.Unsubscribe()
	sub.Unsubscribe()

	assert.Equal(t, 0, hub.SubscriberCount())
	_, open := <-sub.C
	assert.False(t, open, "channel must be closed after unsubscribe")
}

func TestConcurrentPublishAndSubscribe(t *testing.T) {
	t.Parallel()

	hub := NewHub(256, nil)
	defer hub.Shutdown()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			hub.Publish("session-a", uint(i%4+1), EventTableUpdated, i)
		}
	}()

	for i := 0; i < 20; i++ {
		sub := hub.Subscribe("session-a", uint(i%4))
		sub.Unsubscribe()
	}
	<-done

	stats := hub.GetStats()
	assert.Equal(t, uint64(100), stats.Published)
}

func TestShutdownClosesAllSubscribers(t *testing.T) {
	t.Parallel()

	hub := NewHub(8, nil)
	subs := make([]*Subscription, 0, 5)
	for i := 0; i < 5; i++ {
		subs = append(subs, hub.Subscribe(fmt.Sprintf("session-%d", i), 0))
	}

	hub.Shutdown()

	assert.Equal(t, 0, hub.SubscriberCount())
	for _, sub := range subs {
		_, open := <-sub.C
		assert.False(t, open)
	}

	// Subscribing after shutdown yields a closed channel.
	late := hub.Subscribe("session-x", 0)
	_, open := <-late.C
	assert.False(t, open)
}
