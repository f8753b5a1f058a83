// Package broadcast fans typed review events out to the live channels
// subscribed to a session.
package broadcast

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/colonyops/revwatch/internal/core/review"
)

// Event is one of Connected, SnapshotCreated, CommentUpdate, WatcherStatus
// or Heartbeat. The set is closed; switches over it should be exhaustive.
type Event interface {
	isEvent()
}

// Connected is sent to a channel right after it subscribes.
type Connected struct {
	SessionID string `json:"session_id"`
}

// SnapshotCreated announces a new snapshot. The raw diff is never included.
type SnapshotCreated struct {
	Snapshot review.SnapshotSummary
}

// CommentUpdate announces a change to a review comment.
type CommentUpdate struct {
	SessionID string               `json:"session_id"`
	CommentID string               `json:"comment_id"`
	Action    review.CommentAction `json:"action"`
}

// WatcherStatus announces that automatic capture was turned on or off.
type WatcherStatus struct {
	SessionID string `json:"session_id"`
	Watching  bool   `json:"watching"`
}

// Heartbeat keeps idle connections alive.
type Heartbeat struct {
	Timestamp time.Time `json:"timestamp"`
}

func (Connected) isEvent()       {}
func (SnapshotCreated) isEvent() {}
func (CommentUpdate) isEvent()   {}
func (WatcherStatus) isEvent()   {}
func (Heartbeat) isEvent()       {}

// Wire names.
const (
	NameConnected     = "connected"
	NameSnapshot      = "snapshot"
	NameCommentUpdate = "comment-update"
	NameWatcherStatus = "watcher-status"
	NameHeartbeat     = "heartbeat"
)

// Name returns the wire name of an event.
func Name(e Event) string {
	switch e.(type) {
	case Connected:
		return NameConnected
	case SnapshotCreated:
		return NameSnapshot
	case CommentUpdate:
		return NameCommentUpdate
	case WatcherStatus:
		return NameWatcherStatus
	case Heartbeat:
		return NameHeartbeat
	default:
		panic(fmt.Sprintf("broadcast: unknown event %T", e))
	}
}

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Encode renders e as the JSON envelope {"type": <name>, "data": <payload>}.
func Encode(e Event) ([]byte, error) {
	var data any = e
	if s, ok := e.(SnapshotCreated); ok {
		data = s.Snapshot
	}
	return json.Marshal(envelope{Type: Name(e), Data: data})
}
