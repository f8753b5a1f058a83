package revwatch

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/revwatch/internal/core/broadcast"
	"github.com/colonyops/revwatch/internal/core/git"
	"github.com/colonyops/revwatch/internal/core/review"
	"github.com/colonyops/revwatch/internal/data/db"
	"github.com/colonyops/revwatch/internal/data/stores"
	"github.com/colonyops/revwatch/internal/watch"
)

const diffA = "diff --git a/a.ts b/a.ts\n--- a/a.ts\n+++ b/a.ts\n@@ -1 +1 @@\n-old\n+new\n"

type fakeGit struct {
	mu       sync.Mutex
	isRepo   bool
	branch   string
	base     string
	remote   string
	branches []string
	head     string
	toplevel string
	diff     git.Diff
	diffErr  error
}

func (g *fakeGit) IsRepo(context.Context, string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.isRepo
}

func (g *fakeGit) TopLevel(_ context.Context, dir string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.toplevel != "" {
		return g.toplevel, nil
	}
	return dir, nil
}

func (g *fakeGit) GetDiff(context.Context, string, string) (git.Diff, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.diff, g.diffErr
}

func (g *fakeGit) HeadCommit(context.Context, string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.head, nil
}

func (g *fakeGit) CurrentBranch(context.Context, string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.branch, nil
}

func (g *fakeGit) DefaultBranch(context.Context, string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.base, nil
}

func (g *fakeGit) RemoteURL(context.Context, string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.remote, nil
}

func (g *fakeGit) ListBranches(context.Context, string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.branches, nil
}

func (g *fakeGit) setHead(head string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.head = head
}

type recordingChannel struct {
	mu     sync.Mutex
	events []broadcast.Event
}

func (c *recordingChannel) ID() string { return "test-channel" }

func (c *recordingChannel) Send(e broadcast.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *recordingChannel) commentUpdates() []broadcast.CommentUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []broadcast.CommentUpdate
	for _, e := range c.events {
		if u, ok := e.(broadcast.CommentUpdate); ok {
			out = append(out, u)
		}
	}
	return out
}

type harness struct {
	svc      *ReviewService
	git      *fakeGit
	hub      *broadcast.Hub
	stores   Stores
	repoPath string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	database, err := db.Open(t.TempDir(), db.DefaultOpenOptions())
	require.NoError(t, err, "Open")
	t.Cleanup(func() { _ = database.Close() })

	h := &harness{
		git: &fakeGit{
			isRepo:   true,
			branch:   "feature",
			base:     "main",
			remote:   "git@github.com:acme/widgets.git",
			branches: []string{"develop", "feature", "main"},
			head:     "c1",
			diff: git.Diff{Raw: diffA, Files: []review.FileSummary{
				{Path: "a.ts", Status: review.StatusModified, Additions: 1, Deletions: 1},
			}},
		},
		hub: broadcast.NewHub(zerolog.Nop()),
		stores: Stores{
			Repos:     stores.NewRepoStore(database),
			Sessions:  stores.NewSessionStore(database),
			Snapshots: stores.NewSnapshotStore(database),
			Comments:  stores.NewCommentStore(database),
		},
		repoPath: t.TempDir(),
	}
	h.svc = NewReviewService(zerolog.Nop(), h.git, h.stores, h.hub, watch.Options{
		Debounce: time.Hour,
		MinGap:   time.Hour,
	})
	t.Cleanup(h.svc.Shutdown)
	return h
}

func (h *harness) open(t *testing.T) SessionView {
	t.Helper()
	v, err := h.svc.OpenRepo(context.Background(), h.repoPath)
	require.NoError(t, err, "OpenRepo")
	return v
}

func (h *harness) listen(sessionID string) *recordingChannel {
	ch := &recordingChannel{}
	h.hub.AddConnection(sessionID, ch)
	return ch
}

func TestOpenRepo(t *testing.T) {
	ctx := context.Background()

	t.Run("registers repo and captures initial snapshot", func(t *testing.T) {
		h := newHarness(t)
		v := h.open(t)

		assert.Equal(t, h.repoPath, v.Repo.Path)
		assert.Equal(t, "widgets", v.Repo.Name)
		assert.Equal(t, "main", v.Repo.BaseBranch)
		assert.Equal(t, "feature", v.Session.Branch)
		assert.False(t, v.Watching)

		require.NotNil(t, v.Latest)
		assert.Equal(t, review.TriggerInitial, v.Latest.Trigger)
		assert.Nil(t, v.Latest.ChangedFiles)
		require.NotNil(t, v.Latest.HeadCommit)
		assert.Equal(t, "c1", *v.Latest.HeadCommit)
	})

	t.Run("reopen reuses session", func(t *testing.T) {
		h := newHarness(t)
		first := h.open(t)
		second := h.open(t)

		assert.Equal(t, first.Session.ID, second.Session.ID)
		assert.Equal(t, first.Repo.ID, second.Repo.ID)

		snaps, err := h.svc.ListSnapshots(ctx, first.Session.ID)
		require.NoError(t, err)
		assert.Len(t, snaps, 1)
	})

	t.Run("new branch gets new session", func(t *testing.T) {
		h := newHarness(t)
		first := h.open(t)

		h.git.mu.Lock()
		h.git.branch = "other"
		h.git.mu.Unlock()
		second := h.open(t)

		assert.Equal(t, first.Repo.ID, second.Repo.ID)
		assert.NotEqual(t, first.Session.ID, second.Session.ID)
		assert.Equal(t, "other", second.Session.Branch)
	})

	t.Run("subdirectory resolves to work tree root", func(t *testing.T) {
		h := newHarness(t)
		h.git.toplevel = h.repoPath
		first := h.open(t)

		sub, err := h.svc.OpenRepo(ctx, filepath.Join(h.repoPath, "src", "pkg"))
		require.NoError(t, err)
		assert.Equal(t, first.Repo.ID, sub.Repo.ID)
		assert.Equal(t, first.Session.ID, sub.Session.ID)
		assert.Equal(t, h.repoPath, sub.Repo.Path)

		repos, err := h.svc.ListRepos(ctx)
		require.NoError(t, err)
		assert.Len(t, repos, 1)
	})

	t.Run("name falls back to directory", func(t *testing.T) {
		h := newHarness(t)
		h.git.remote = ""
		v := h.open(t)
		assert.Equal(t, filepath.Base(h.repoPath), v.Repo.Name)
	})

	t.Run("not a repository", func(t *testing.T) {
		h := newHarness(t)
		h.git.isRepo = false

		_, err := h.svc.OpenRepo(ctx, h.repoPath)
		require.ErrorIs(t, err, review.ErrNotAGitRepo)

		repos, err := h.svc.ListRepos(ctx)
		require.NoError(t, err)
		assert.Empty(t, repos)
	})

	t.Run("empty path", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.svc.OpenRepo(ctx, "  ")
		require.ErrorIs(t, err, review.ErrValidation)
	})

	t.Run("initial capture failure surfaces", func(t *testing.T) {
		h := newHarness(t)
		h.git.diffErr = errors.New("bad revision")

		_, err := h.svc.OpenRepo(ctx, h.repoPath)
		require.ErrorIs(t, err, review.ErrGit)
	})
}

func TestCapture(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	v := h.open(t)

	same, err := h.svc.Capture(ctx, v.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, v.Latest.ID, same.ID, "unchanged HEAD returns the latest snapshot")

	h.git.setHead("c2")
	snap, err := h.svc.Capture(ctx, v.Session.ID)
	require.NoError(t, err)
	assert.NotEqual(t, v.Latest.ID, snap.ID)
	assert.Equal(t, review.TriggerManual, snap.Trigger)

	snaps, err := h.svc.ListSnapshots(ctx, v.Session.ID)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, snap.ID, snaps[0].ID)

	got, err := h.svc.GetSnapshot(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, diffA, got.RawDiff)

	_, err = h.svc.Capture(ctx, "missing")
	require.ErrorIs(t, err, review.ErrNotFound)

	_, err = h.svc.ListSnapshots(ctx, "missing")
	require.ErrorIs(t, err, review.ErrNotFound)
}

func TestSetBaseBranch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	v := h.open(t)

	branch := func(s string) *string { return &s }

	tests := []struct {
		name   string
		branch *string
		want   string
		err    error
	}{
		{name: "existing branch", branch: branch("develop"), want: "develop"},
		{name: "clear override", branch: nil, want: "main"},
		{name: "unknown branch", branch: branch("release"), err: review.ErrValidation},
		{name: "invalid name", branch: branch("bad..name"), err: review.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess, err := h.svc.SetBaseBranch(ctx, v.Session.ID, tt.branch)
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, sess.EffectiveBaseBranch(v.Repo))
		})
	}

	branches, err := h.svc.ListBranches(ctx, v.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"develop", "feature", "main"}, branches)
}

func TestWatching(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	v := h.open(t)

	require.NoError(t, h.svc.StartWatching(ctx, v.Session.ID))
	assert.True(t, h.svc.IsWatching(v.Session.ID))

	got, err := h.svc.GetSession(ctx, v.Session.ID)
	require.NoError(t, err)
	assert.True(t, got.Watching)
	assert.True(t, got.Session.IsWatching)

	require.NoError(t, h.svc.StopWatching(ctx, v.Session.ID))
	assert.False(t, h.svc.IsWatching(v.Session.ID))

	sess, err := h.stores.Sessions.Get(ctx, v.Session.ID)
	require.NoError(t, err)
	assert.False(t, sess.IsWatching)

	require.ErrorIs(t, h.svc.StartWatching(ctx, "missing"), review.ErrNotFound)
}

func TestResumeWatches(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	v := h.open(t)

	gone := review.Repo{ID: "repo-gone", Path: filepath.Join(h.repoPath, "deleted"), Name: "gone", BaseBranch: "main", CreatedAt: time.Now()}
	require.NoError(t, h.stores.Repos.Create(ctx, gone))
	stale := review.Session{ID: "sess-gone", RepoID: gone.ID, Branch: "main", CreatedAt: time.Now()}
	require.NoError(t, h.stores.Sessions.Create(ctx, stale))

	require.NoError(t, h.stores.Sessions.SetWatching(ctx, v.Session.ID, true))
	require.NoError(t, h.stores.Sessions.SetWatching(ctx, stale.ID, true))

	started, err := h.svc.ResumeWatches(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, started)
	assert.True(t, h.svc.IsWatching(v.Session.ID))
	assert.False(t, h.svc.IsWatching(stale.ID))

	sess, err := h.stores.Sessions.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.False(t, sess.IsWatching, "failed resume clears the flag")
}

// clearFails is a session store whose flag clears fail.
type clearFails struct {
	review.SessionStore
}

func (s clearFails) SetWatching(ctx context.Context, id string, watching bool) error {
	if !watching {
		return review.E(review.KindDatabase, "set watching", errors.New("database is locked"))
	}
	return s.SessionStore.SetWatching(ctx, id, watching)
}

func TestResumeWatches_ClearFailureLogged(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	gone := review.Repo{ID: "repo-gone", Path: filepath.Join(h.repoPath, "deleted"), Name: "gone", BaseBranch: "main", CreatedAt: time.Now()}
	require.NoError(t, h.stores.Repos.Create(ctx, gone))
	stale := review.Session{ID: "sess-gone", RepoID: gone.ID, Branch: "main", CreatedAt: time.Now()}
	require.NoError(t, h.stores.Sessions.Create(ctx, stale))
	require.NoError(t, h.stores.Sessions.SetWatching(ctx, stale.ID, true))

	var buf bytes.Buffer
	st := h.stores
	st.Sessions = clearFails{SessionStore: h.stores.Sessions}
	svc := NewReviewService(zerolog.New(&buf), h.git, st, h.hub, watch.Options{Debounce: time.Hour, MinGap: time.Hour})
	t.Cleanup(svc.Shutdown)

	started, err := svc.ResumeWatches(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, started)

	out := buf.String()
	assert.Contains(t, out, "failed to clear watching flag")
	assert.Contains(t, out, `"session_id":"sess-gone"`)
}

func TestComments(t *testing.T) {
	ctx := context.Background()

	valid := func(snapshotID string) CommentInput {
		return CommentInput{SnapshotID: snapshotID, FilePath: "a.ts", StartLine: 1, EndLine: 2, Side: "new", Body: "rename this"}
	}

	t.Run("add and send", func(t *testing.T) {
		h := newHarness(t)
		v := h.open(t)
		ch := h.listen(v.Session.ID)

		c, err := h.svc.AddComment(ctx, v.Session.ID, valid(v.Latest.ID))
		require.NoError(t, err)
		assert.Equal(t, review.CommentStatusDraft, c.Status)

		sent, err := h.svc.SendComments(ctx, v.Session.ID, []string{c.ID})
		require.NoError(t, err)
		require.Len(t, sent, 1)
		assert.Equal(t, review.CommentStatusSent, sent[0].Status)
		assert.NotNil(t, sent[0].SentAt)

		snap, err := h.svc.GetSnapshot(ctx, v.Latest.ID)
		require.NoError(t, err)
		assert.True(t, snap.HasReviewComments)

		assert.Equal(t, []broadcast.CommentUpdate{
			{SessionID: v.Session.ID, CommentID: c.ID, Action: review.CommentCreated},
			{SessionID: v.Session.ID, CommentID: c.ID, Action: review.CommentSent},
		}, ch.commentUpdates())

		list, err := h.svc.ListComments(ctx, v.Session.ID)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, review.CommentStatusSent, list[0].Status)
	})

	t.Run("invalid input", func(t *testing.T) {
		h := newHarness(t)
		v := h.open(t)

		mutate := []func(*CommentInput){
			func(in *CommentInput) { in.Body = "" },
			func(in *CommentInput) { in.FilePath = "" },
			func(in *CommentInput) { in.StartLine = 0 },
			func(in *CommentInput) { in.EndLine = 0 },
			func(in *CommentInput) { in.Side = "left" },
		}
		for _, m := range mutate {
			in := valid(v.Latest.ID)
			m(&in)
			_, err := h.svc.AddComment(ctx, v.Session.ID, in)
			require.ErrorIs(t, err, review.ErrValidation)
		}
	})

	t.Run("snapshot of another session", func(t *testing.T) {
		h := newHarness(t)
		first := h.open(t)

		h.git.mu.Lock()
		h.git.branch = "other"
		h.git.mu.Unlock()
		second := h.open(t)

		_, err := h.svc.AddComment(ctx, second.Session.ID, valid(first.Latest.ID))
		require.ErrorIs(t, err, review.ErrValidation)

		c, err := h.svc.AddComment(ctx, first.Session.ID, valid(first.Latest.ID))
		require.NoError(t, err)
		_, err = h.svc.SendComments(ctx, second.Session.ID, []string{c.ID})
		require.ErrorIs(t, err, review.ErrValidation)
	})

	t.Run("send nothing", func(t *testing.T) {
		h := newHarness(t)
		v := h.open(t)
		_, err := h.svc.SendComments(ctx, v.Session.ID, nil)
		require.ErrorIs(t, err, review.ErrValidation)
	})

	t.Run("unknown snapshot", func(t *testing.T) {
		h := newHarness(t)
		v := h.open(t)
		_, err := h.svc.AddComment(ctx, v.Session.ID, valid("missing"))
		require.ErrorIs(t, err, review.ErrNotFound)
	})
}

func TestDeleteRepo(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	v := h.open(t)
	require.NoError(t, h.svc.StartWatching(ctx, v.Session.ID))

	require.NoError(t, h.svc.DeleteRepo(ctx, v.Repo.ID))
	assert.False(t, h.svc.IsWatching(v.Session.ID))

	_, err := h.svc.GetSession(ctx, v.Session.ID)
	require.ErrorIs(t, err, review.ErrNotFound)

	require.ErrorIs(t, h.svc.DeleteRepo(ctx, v.Repo.ID), review.ErrNotFound)
}

func TestShutdown(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	v := h.open(t)
	h.listen(v.Session.ID)
	require.NoError(t, h.svc.StartWatching(ctx, v.Session.ID))

	h.svc.Shutdown()

	assert.False(t, h.svc.IsWatching(v.Session.ID))
	assert.Equal(t, 0, h.hub.TotalConnections())

	sess, err := h.stores.Sessions.Get(ctx, v.Session.ID)
	require.NoError(t, err)
	assert.True(t, sess.IsWatching, "shutdown keeps the flag for resume")
}
