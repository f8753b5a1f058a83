package broadcast

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingChannel struct {
	id string

	mu     sync.Mutex
	events []Event
	err    error
	panics bool
}

func newRecordingChannel(id string) *recordingChannel {
	return &recordingChannel{id: id}
}

func (c *recordingChannel) ID() string { return c.id }

func (c *recordingChannel) Send(e Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.panics {
		panic("sink exploded")
	}
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, e)
	return nil
}

func (c *recordingChannel) received() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

func (c *recordingChannel) count(name string) int {
	n := 0
	for _, e := range c.received() {
		if Name(e) == name {
			n++
		}
	}
	return n
}

func TestHub_BroadcastIsolation(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	defer hub.Shutdown()

	a := newRecordingChannel("a")
	b := newRecordingChannel("b")
	hub.AddConnection("s1", a)
	hub.AddConnection("s2", b)

	hub.Broadcast("s1", WatcherStatus{SessionID: "s1", Watching: true})

	assert.Len(t, a.received(), 1)
	assert.Empty(t, b.received(), "event for s1 leaked to s2")
}

func TestHub_BroadcastUnknownSessionIsNoop(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	defer hub.Shutdown()

	assert.NotPanics(t, func() {
		hub.Broadcast("nobody", Heartbeat{Timestamp: time.Now()})
	})
}

func TestHub_DeliveryFailureIsolation(t *testing.T) {
	tests := []struct {
		name  string
		setup func(c *recordingChannel)
	}{
		{name: "error", setup: func(c *recordingChannel) { c.err = errors.New("broken pipe") }},
		{name: "panic", setup: func(c *recordingChannel) { c.panics = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := NewHub(zerolog.Nop())
			defer hub.Shutdown()

			var failed []string
			hub.OnDeliveryError(func(sessionID string, ch Channel, err error) {
				failed = append(failed, sessionID+"/"+ch.ID())
			})

			bad := newRecordingChannel("bad")
			tt.setup(bad)
			good1 := newRecordingChannel("good1")
			good2 := newRecordingChannel("good2")
			for _, ch := range []Channel{good1, bad, good2} {
				hub.AddConnection("s1", ch)
			}

			hub.Broadcast("s1", CommentUpdate{SessionID: "s1", CommentID: "c1", Action: "sent"})

			assert.Len(t, good1.received(), 1)
			assert.Len(t, good2.received(), 1)
			assert.Equal(t, []string{"s1/bad"}, failed)
		})
	}
}

func TestHub_PerChannelFIFO(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	defer hub.Shutdown()

	channels := []*recordingChannel{newRecordingChannel("a"), newRecordingChannel("b"), newRecordingChannel("c")}
	for _, ch := range channels {
		hub.AddConnection("s1", ch)
	}

	const n = 50
	for i := range n {
		hub.Broadcast("s1", CommentUpdate{SessionID: "s1", CommentID: fmt.Sprint(i)})
	}

	for _, ch := range channels {
		got := ch.received()
		require.Len(t, got, n)
		for i, e := range got {
			assert.Equal(t, fmt.Sprint(i), e.(CommentUpdate).CommentID, "channel %s", ch.ID())
		}
	}
}

func TestHub_ConnectionCounts(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	defer hub.Shutdown()

	hub.AddConnection("s1", newRecordingChannel("a"))
	hub.AddConnection("s1", newRecordingChannel("b"))
	hub.AddConnection("s2", newRecordingChannel("c"))

	assert.Equal(t, 2, hub.ConnectionCount("s1"))
	assert.Equal(t, 1, hub.ConnectionCount("s2"))
	assert.Equal(t, 0, hub.ConnectionCount("s3"))
	assert.Equal(t, 3, hub.TotalConnections())

	hub.RemoveConnection("s1", "a")
	hub.RemoveConnection("s1", "unknown")
	hub.RemoveConnection("s9", "a")

	assert.Equal(t, 1, hub.ConnectionCount("s1"))
	assert.Equal(t, 2, hub.TotalConnections())
}

func TestHub_ShutdownIsIdempotent(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	hub.AddConnection("s1", newRecordingChannel("a"))
	hub.AddConnection("s2", newRecordingChannel("b"))

	hub.Shutdown()
	assert.Equal(t, 0, hub.TotalConnections())

	assert.NotPanics(t, hub.Shutdown)
	assert.Equal(t, 0, hub.TotalConnections())
}

func TestHub_Heartbeat(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		hub := NewHub(zerolog.Nop())
		defer hub.Shutdown()

		a := newRecordingChannel("a")
		b := newRecordingChannel("b")
		hub.AddConnection("s1", a)
		hub.AddConnection("s1", b)

		time.Sleep(HeartbeatInterval - time.Millisecond)
		synctest.Wait()
		assert.Equal(t, 0, a.count(NameHeartbeat), "heartbeat before interval elapsed")

		time.Sleep(time.Millisecond)
		synctest.Wait()
		// One keepalive per session, not one per channel.
		assert.Equal(t, 1, a.count(NameHeartbeat))
		assert.Equal(t, 1, b.count(NameHeartbeat))

		time.Sleep(HeartbeatInterval)
		synctest.Wait()
		assert.Equal(t, 2, a.count(NameHeartbeat))
		assert.Equal(t, 2, b.count(NameHeartbeat))
	})
}

func TestHub_HeartbeatStopsWithLastChannel(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		hub := NewHub(zerolog.Nop(), WithHeartbeatInterval(time.Second))

		a := newRecordingChannel("a")
		b := newRecordingChannel("b")
		hub.AddConnection("s1", a)
		hub.AddConnection("s1", b)

		time.Sleep(time.Second)
		synctest.Wait()
		require.Equal(t, 1, a.count(NameHeartbeat))

		hub.RemoveConnection("s1", "a")
		time.Sleep(time.Second)
		synctest.Wait()
		assert.Equal(t, 1, a.count(NameHeartbeat), "removed channel still receiving")
		assert.Equal(t, 2, b.count(NameHeartbeat))

		// Removing the last channel must stop the heartbeat goroutine;
		// synctest.Test fails if it is still running when the bubble ends.
		hub.RemoveConnection("s1", "b")
		time.Sleep(5 * time.Second)
		synctest.Wait()
		assert.Equal(t, 2, b.count(NameHeartbeat))
	})
}

func TestHub_ShutdownStopsHeartbeats(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		hub := NewHub(zerolog.Nop(), WithHeartbeatInterval(time.Second))
		a := newRecordingChannel("a")
		hub.AddConnection("s1", a)
		hub.AddConnection("s2", newRecordingChannel("b"))

		hub.Shutdown()
		time.Sleep(3 * time.Second)
		synctest.Wait()
		assert.Equal(t, 0, a.count(NameHeartbeat))
	})
}
