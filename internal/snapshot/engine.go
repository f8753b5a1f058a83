// Package snapshot records point-in-time diffs of a session's working tree.
package snapshot

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/colonyops/revwatch/internal/core/broadcast"
	"github.com/colonyops/revwatch/internal/core/git"
	"github.com/colonyops/revwatch/internal/core/logging"
	"github.com/colonyops/revwatch/internal/core/review"
)

// GitProvider is the subset of git.Provider the engine needs.
type GitProvider interface {
	GetDiff(ctx context.Context, dir, baseBranch string) (git.Diff, error)
	HeadCommit(ctx context.Context, dir string) (string, error)
}

// Broadcaster delivers events to a session's live channels.
type Broadcaster interface {
	Broadcast(sessionID string, e broadcast.Event)
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Git       GitProvider
	Repos     review.RepoStore
	Sessions  review.SessionStore
	Snapshots review.SnapshotStore
	Bus       Broadcaster
}

// Engine captures snapshots.
type Engine struct {
	Deps
	log zerolog.Logger
	now func() time.Time
}

// NewEngine creates an Engine from its collaborators.
func NewEngine(log zerolog.Logger, deps Deps) *Engine {
	return &Engine{
		Deps: deps,
		log:  log,
		now:  time.Now,
	}
}

// Capture diffs dir against the session's effective base branch and
// records the result.
//
// When the latest snapshot was taken at the current HEAD commit, that
// snapshot is returned as is: nothing is written and nothing is broadcast,
// even if the working tree diff has changed since. Any git or store
// failure aborts the capture before a row is written.
func (e *Engine) Capture(ctx context.Context, sessionID, dir string, trigger review.Trigger) (review.Snapshot, error) {
	const op = "capture snapshot"

	if !trigger.IsValid() {
		return review.Snapshot{}, review.Validationf(op, "unknown trigger %q", trigger)
	}

	ctx = logging.WithSessionID(ctx, sessionID)

	sess, err := e.Sessions.Get(ctx, sessionID)
	if err != nil {
		return review.Snapshot{}, review.Wrap(review.KindDatabase, op, err)
	}
	repo, err := e.Repos.Get(ctx, sess.RepoID)
	if err != nil {
		return review.Snapshot{}, review.Wrap(review.KindDatabase, op, err)
	}
	base := sess.EffectiveBaseBranch(repo)

	diff, err := e.Git.GetDiff(ctx, dir, base)
	if err != nil {
		return review.Snapshot{}, review.Wrap(review.KindGit, op, err)
	}

	prev, hasPrev, err := e.Snapshots.Latest(ctx, sessionID)
	if err != nil {
		return review.Snapshot{}, review.Wrap(review.KindDatabase, op, err)
	}

	head, err := e.Git.HeadCommit(ctx, dir)
	if err != nil {
		return review.Snapshot{}, review.Wrap(review.KindGit, op, err)
	}

	if hasPrev && prev.HeadCommit != nil && *prev.HeadCommit == head {
		e.log.Debug().Ctx(ctx).
			Str("snapshot_id", prev.ID).
			Str("head", head).
			Msg("head unchanged, reusing snapshot")
		return prev, nil
	}

	var prevPtr *review.Snapshot
	if hasPrev {
		prevPtr = &prev
	}
	changed := ChangedFiles(diff.Raw, diff.Files, prevPtr)
	if len(changed) == 0 {
		changed = nil
	}

	files := diff.Files
	if files == nil {
		files = []review.FileSummary{}
	}

	snap := review.Snapshot{
		ID:           uuid.NewString(),
		SessionID:    sessionID,
		RawDiff:      diff.Raw,
		Files:        files,
		HeadCommit:   &head,
		Trigger:      trigger,
		ChangedFiles: changed,
		CreatedAt:    e.now(),
	}
	if err := e.Snapshots.Create(ctx, snap); err != nil {
		return review.Snapshot{}, review.Wrap(review.KindDatabase, op, err)
	}

	e.log.Info().Ctx(ctx).
		Str("snapshot_id", snap.ID).
		Str("trigger", string(trigger)).
		Str("base", base).
		Int("files", len(snap.Files)).
		Int("changed", len(snap.ChangedFiles)).
		Msg("snapshot captured")

	e.Bus.Broadcast(sessionID, broadcast.SnapshotCreated{Snapshot: snap.Summary()})

	return snap, nil
}
