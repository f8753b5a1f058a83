package watch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/colonyops/revwatch/internal/core/broadcast"
	"github.com/colonyops/revwatch/internal/core/review"
)

type fakeWatcher struct {
	events chan fsnotify.Event
	errs   chan error

	mu       sync.Mutex
	added    []string
	closed   bool
	closeErr error
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{
		events: make(chan fsnotify.Event, 64),
		errs:   make(chan error, 1),
	}
}

func (f *fakeWatcher) Add(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, path)
	return nil
}

func (f *fakeWatcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return f.closeErr
}

func (f *fakeWatcher) Events() <-chan fsnotify.Event { return f.events }
func (f *fakeWatcher) Errors() <-chan error { return f.errs }

func (f *fakeWatcher) emit(path string) {
	f.events <- fsnotify.Event{Name: path, Op: fsnotify.Write}
}

func (f *fakeWatcher) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeCapturer records the time of every capture attempt. The first
// failures attempts return an error.
type fakeCapturer struct {
	mu       sync.Mutex
	attempts []time.Time
	failures int
}

func (c *fakeCapturer) Capture(_ context.Context, sessionID, _ string, trigger review.Trigger) (review.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts = append(c.attempts, time.Now())
	if c.failures > 0 {
		c.failures--
		return review.Snapshot{}, review.E(review.KindGit, "git diff", errors.New("index.lock exists"))
	}
	return review.Snapshot{ID: "snap", SessionID: sessionID, Trigger: trigger}, nil
}

func (c *fakeCapturer) times() []time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Time, len(c.attempts))
	copy(out, c.attempts)
	return out
}

type fakeSessions struct {
	mu       sync.Mutex
	sessions map[string]review.Session
	setErr   error

	// beforeSet runs ahead of every SetWatching call, outside the lock.
	beforeSet func(watching bool)
}

func newFakeSessions(ids ...string) *fakeSessions {
	f := &fakeSessions{sessions: make(map[string]review.Session)}
	for _, id := range ids {
		f.sessions[id] = review.Session{ID: id, RepoID: "repo", Branch: id}
	}
	return f
}

func (f *fakeSessions) Get(_ context.Context, id string) (review.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return review.Session{}, review.NotFoundf("get session", "session %s", id)
	}
	return s, nil
}

func (f *fakeSessions) GetByBranch(context.Context, string, string) (review.Session, error) {
	return review.Session{}, review.NotFoundf("get session", "not supported")
}

func (f *fakeSessions) ListByRepo(context.Context, string) ([]review.Session, error) {
	return nil, nil
}

func (f *fakeSessions) Create(_ context.Context, s review.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s.ID] = s
	return nil
}

func (f *fakeSessions) SetWatching(_ context.Context, id string, watching bool) error {
	if f.beforeSet != nil {
		f.beforeSet(watching)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	s, ok := f.sessions[id]
	if !ok {
		return review.NotFoundf("set watching", "session %s", id)
	}
	s.IsWatching = watching
	f.sessions[id] = s
	return nil
}

func (f *fakeSessions) SetBaseBranch(context.Context, string, *string) error { return nil }

func (f *fakeSessions) watching(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[id].IsWatching
}

type recordingBus struct {
	mu     sync.Mutex
	events []broadcast.Event
}

func (b *recordingBus) Broadcast(_ string, e broadcast.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *recordingBus) statuses() []bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []bool
	for _, e := range b.events {
		if ws, ok := e.(broadcast.WatcherStatus); ok {
			out = append(out, ws.Watching)
		}
	}
	return out
}
