// Package watch turns filesystem activity in a session's working tree into
// automatic snapshot captures.
package watch

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/colonyops/revwatch/internal/core/broadcast"
	"github.com/colonyops/revwatch/internal/core/logging"
	"github.com/colonyops/revwatch/internal/core/review"
)

const (
	// DefaultDebounce is the quiet period required after the last change
	// before a capture runs.
	DefaultDebounce = 1500 * time.Millisecond
	// DefaultMinGap is the minimum time between two automatic captures of
	// the same session.
	DefaultMinGap = 3000 * time.Millisecond
)

// Capturer records a snapshot of a session's working tree.
type Capturer interface {
	Capture(ctx context.Context, sessionID, dir string, trigger review.Trigger) (review.Snapshot, error)
}

// Broadcaster delivers events to a session's live channels.
type Broadcaster interface {
	Broadcast(sessionID string, e broadcast.Event)
}

// Options tunes a Coordinator. Zero values select the defaults.
type Options struct {
	Debounce   time.Duration
	MinGap     time.Duration
	Ignore     []string // extra doublestar patterns, relative to the watched root
	NewWatcher WatcherFactory
}

// Coordinator owns one filesystem watcher per watched session.
type Coordinator struct {
	log      zerolog.Logger
	capturer Capturer
	sessions review.SessionStore
	bus      Broadcaster
	opts     Options

	mu      sync.Mutex
	watches map[string]*activeWatch
	states  map[string]*sessionState
}

// sessionState outlives the individual watches of a session, so a watch
// restarted by Stop then Start still honors the gap and single-flight
// rules of its predecessor.
type sessionState struct {
	// lifecycle serializes Start, Stop and StopAll for the session.
	lifecycle sync.Mutex

	// capturing is held from the gap check through the end of a capture
	// so automatic captures of one session are single-flight.
	capturing sync.Mutex

	mu             sync.Mutex
	lastSnapshotAt time.Time
}

func (st *sessionState) lastCapture() time.Time {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.lastSnapshotAt
}

func (st *sessionState) markCaptured(at time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.lastSnapshotAt = at
}

type activeWatch struct {
	sessionID string
	dir       string
	watcher   Watcher
	done      chan struct{}
	state     *sessionState

	mu      sync.Mutex
	stopped bool
	timer   *time.Timer
	gen     uint64
}

// NewCoordinator creates a Coordinator that captures through capturer and
// persists the watching flag in sessions.
func NewCoordinator(log zerolog.Logger, capturer Capturer, sessions review.SessionStore, bus Broadcaster, opts Options) *Coordinator {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.MinGap <= 0 {
		opts.MinGap = DefaultMinGap
	}
	if opts.NewWatcher == nil {
		opts.NewWatcher = NewFSWatcher
	}
	return &Coordinator{
		log:      log,
		capturer: capturer,
		sessions: sessions,
		bus:      bus,
		opts:     opts,
		watches:  make(map[string]*activeWatch),
		states:   make(map[string]*sessionState),
	}
}

func (c *Coordinator) state(sessionID string) *sessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[sessionID]
	if !ok {
		st = &sessionState{}
		c.states[sessionID] = st
	}
	return st
}

// Start begins watching dir for sessionID. Starting a session that is
// already watched does nothing.
func (c *Coordinator) Start(ctx context.Context, sessionID, dir string) error {
	const op = "start watching"

	st := c.state(sessionID)
	st.lifecycle.Lock()
	defer st.lifecycle.Unlock()

	if c.IsWatching(sessionID) {
		return nil
	}

	if _, err := c.sessions.Get(ctx, sessionID); err != nil {
		return review.Wrap(review.KindDatabase, op, err)
	}

	watcher, err := c.opts.NewWatcher()
	if err != nil {
		return review.E(review.KindWatcher, op, err)
	}
	if err := addRecursive(watcher, dir, dir, c.opts.Ignore); err != nil {
		_ = watcher.Close()
		return review.E(review.KindWatcher, op, err)
	}

	// The flag is persisted before the watch becomes visible.
	if err := c.sessions.SetWatching(ctx, sessionID, true); err != nil {
		_ = watcher.Close()
		return review.Wrap(review.KindDatabase, op, err)
	}

	w := &activeWatch{
		sessionID: sessionID,
		dir:       dir,
		watcher:   watcher,
		done:      make(chan struct{}),
		state:     st,
	}

	c.mu.Lock()
	c.watches[sessionID] = w
	c.mu.Unlock()

	go c.run(w)

	c.log.Info().
		Str("session_id", sessionID).
		Str("dir", dir).
		Msg("watching started")
	c.bus.Broadcast(sessionID, broadcast.WatcherStatus{SessionID: sessionID, Watching: true})
	return nil
}

// Stop ends watching for sessionID. The persisted flag is cleared and a
// status event is broadcast even when the session was not watched or the
// watcher failed to close.
func (c *Coordinator) Stop(ctx context.Context, sessionID string) error {
	const op = "stop watching"

	st := c.state(sessionID)
	st.lifecycle.Lock()
	defer st.lifecycle.Unlock()

	var closeErr error
	if err := c.detach(sessionID); err != nil {
		c.log.Warn().Err(err).Str("session_id", sessionID).Msg("failed to close watcher")
		closeErr = review.E(review.KindWatcher, op, err)
	}

	var flagErr error
	if err := c.sessions.SetWatching(ctx, sessionID, false); err != nil {
		flagErr = review.Wrap(review.KindDatabase, op, err)
	}

	c.log.Info().Str("session_id", sessionID).Msg("watching stopped")
	c.bus.Broadcast(sessionID, broadcast.WatcherStatus{SessionID: sessionID, Watching: false})

	return errors.Join(closeErr, flagErr)
}

// IsWatching reports whether sessionID has an active watcher.
func (c *Coordinator) IsWatching(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.watches[sessionID]
	return ok
}

// StopAll closes every watcher. The persisted watching flags are left as
// they are so the watches can be resumed on the next start.
func (c *Coordinator) StopAll() {
	c.mu.Lock()
	states := make(map[string]*sessionState, len(c.states))
	for id, st := range c.states {
		states[id] = st
	}
	c.mu.Unlock()

	for id, st := range states {
		st.lifecycle.Lock()
		if err := c.detach(id); err != nil {
			c.log.Warn().Err(err).Str("session_id", id).Msg("failed to close watcher")
		}
		st.lifecycle.Unlock()
	}
}

// detach unregisters and stops the session's watch, if any. Callers hold
// the session's lifecycle lock.
func (c *Coordinator) detach(sessionID string) error {
	c.mu.Lock()
	w, ok := c.watches[sessionID]
	delete(c.watches, sessionID)
	c.mu.Unlock()

	if !ok {
		return nil
	}
	return w.stop()
}

func (c *Coordinator) run(w *activeWatch) {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events():
			if !ok {
				return
			}
			if IsIgnored(w.dir, ev.Name, c.opts.Ignore) {
				continue
			}

			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := addRecursive(w.watcher, w.dir, ev.Name, c.opts.Ignore); err != nil {
						c.log.Debug().Err(err).Str("path", ev.Name).Msg("failed to watch new directory")
					}
				}
			}

			c.schedule(w)
		case err, ok := <-w.watcher.Errors():
			if !ok {
				return
			}
			c.log.Error().Err(err).Str("session_id", w.sessionID).Msg("watcher error")
		}
	}
}

// schedule restarts the debounce timer.
func (c *Coordinator) schedule(w *activeWatch) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.gen++
	gen := w.gen
	w.timer = time.AfterFunc(c.opts.Debounce, func() { c.fire(w, gen) })
}

// fire runs when a timer armed for generation gen expires. A capture less
// than MinGap after the last successful one is pushed back by the
// remainder.
func (c *Coordinator) fire(w *activeWatch, gen uint64) {
	st := w.state
	st.capturing.Lock()
	defer st.capturing.Unlock()

	w.mu.Lock()
	if w.stopped || gen != w.gen {
		w.mu.Unlock()
		return
	}
	if last := st.lastCapture(); !last.IsZero() {
		if elapsed := time.Since(last); elapsed < c.opts.MinGap {
			w.timer = time.AfterFunc(c.opts.MinGap-elapsed, func() { c.fire(w, gen) })
			w.mu.Unlock()
			return
		}
	}
	w.timer = nil
	w.mu.Unlock()

	ctx := logging.WithSessionID(context.Background(), w.sessionID)
	snap, err := c.capturer.Capture(ctx, w.sessionID, w.dir, review.TriggerFSWatch)
	if err != nil {
		c.log.Error().Ctx(ctx).Err(err).Msg("automatic capture failed")
		return
	}
	st.markCaptured(time.Now())

	c.log.Debug().Ctx(ctx).Str("snapshot_id", snap.ID).Msg("automatic capture complete")
}

// stop cancels the pending timer and closes the watcher. In-flight
// captures are left to finish.
func (w *activeWatch) stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()

	close(w.done)
	return w.watcher.Close()
}
