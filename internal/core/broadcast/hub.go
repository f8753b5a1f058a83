package broadcast

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// HeartbeatInterval is the default keepalive period per session.
const HeartbeatInterval = 30 * time.Second

// Channel is one live delivery sink. Send must not block for long: the hub
// delivers to every channel of a session in turn.
type Channel interface {
	ID() string
	Send(Event) error
}

// Hub tracks the channels subscribed to each session and delivers events
// to them. The zero value is not usable; use NewHub.
type Hub struct {
	log      zerolog.Logger
	interval time.Duration

	mu       sync.Mutex
	sessions map[string]*subscribers

	// sendMu serializes deliveries so that each channel observes
	// broadcasts in the order Broadcast was called.
	sendMu sync.Mutex

	hooksMu         sync.RWMutex
	onDeliveryError []func(sessionID string, ch Channel, err error)
}

type subscribers struct {
	channels map[string]Channel
	stop     chan struct{}
}

// Option configures a Hub.
type Option func(*Hub)

// WithHeartbeatInterval overrides HeartbeatInterval.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.interval = d
		}
	}
}

// NewHub creates a Hub with no subscribers.
func NewHub(log zerolog.Logger, opts ...Option) *Hub {
	h := &Hub{
		log:      log,
		interval: HeartbeatInterval,
		sessions: make(map[string]*subscribers),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// OnDeliveryError registers a hook that fires when a channel fails to
// accept an event, including when its Send panics.
func (h *Hub) OnDeliveryError(fn func(sessionID string, ch Channel, err error)) {
	h.hooksMu.Lock()
	h.onDeliveryError = append(h.onDeliveryError, fn)
	h.hooksMu.Unlock()
}

// AddConnection subscribes ch to sessionID. The first channel of a session
// starts its heartbeat. Adding a channel whose ID is already registered
// replaces it.
func (h *Hub) AddConnection(sessionID string, ch Channel) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.sessions[sessionID]
	if !ok {
		subs = &subscribers{
			channels: make(map[string]Channel),
			stop:     make(chan struct{}),
		}
		h.sessions[sessionID] = subs
		go h.heartbeat(sessionID, subs.stop)
	}
	subs.channels[ch.ID()] = ch

	h.log.Debug().
		Str("session_id", sessionID).
		Str("channel", ch.ID()).
		Int("connections", len(subs.channels)).
		Msg("channel connected")
}

// RemoveConnection unsubscribes a channel. Removing the last channel of a
// session stops its heartbeat. Unknown sessions and channels are ignored.
func (h *Hub) RemoveConnection(sessionID, channelID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.sessions[sessionID]
	if !ok {
		return
	}
	if _, ok := subs.channels[channelID]; !ok {
		return
	}
	delete(subs.channels, channelID)

	h.log.Debug().
		Str("session_id", sessionID).
		Str("channel", channelID).
		Int("connections", len(subs.channels)).
		Msg("channel disconnected")

	if len(subs.channels) == 0 {
		close(subs.stop)
		delete(h.sessions, sessionID)
	}
}

// Broadcast delivers e to every channel of sessionID. A failing channel
// does not prevent delivery to the others.
func (h *Hub) Broadcast(sessionID string, e Event) {
	h.sendMu.Lock()
	defer h.sendMu.Unlock()

	channels := h.channels(sessionID)
	for _, ch := range channels {
		if err := h.deliver(ch, e); err != nil {
			h.log.Warn().
				Err(err).
				Str("session_id", sessionID).
				Str("channel", ch.ID()).
				Str("event", Name(e)).
				Msg("broadcast delivery failed")
			h.runOnDeliveryError(sessionID, ch, err)
		}
	}
}

// ConnectionCount returns the number of channels subscribed to sessionID.
func (h *Hub) ConnectionCount(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.sessions[sessionID]; ok {
		return len(subs.channels)
	}
	return 0
}

// TotalConnections returns the number of channels across all sessions.
func (h *Hub) TotalConnections() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for _, subs := range h.sessions {
		n += len(subs.channels)
	}
	return n
}

// Shutdown stops every heartbeat and drops all registrations. It is safe
// to call more than once.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, subs := range h.sessions {
		close(subs.stop)
		delete(h.sessions, id)
	}
}

func (h *Hub) channels(sessionID string) []Channel {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]Channel, 0, len(subs.channels))
	for _, ch := range subs.channels {
		out = append(out, ch)
	}
	return out
}

func (h *Hub) deliver(ch Channel, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("channel panicked: %v", r)
		}
	}()
	return ch.Send(e)
}

func (h *Hub) heartbeat(sessionID string, stop <-chan struct{}) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			h.Broadcast(sessionID, Heartbeat{Timestamp: now})
		}
	}
}

func (h *Hub) runOnDeliveryError(sessionID string, ch Channel, err error) {
	h.hooksMu.RLock()
	hooks := make([]func(string, Channel, error), len(h.onDeliveryError))
	copy(hooks, h.onDeliveryError)
	h.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(sessionID, ch, err)
	}
}
