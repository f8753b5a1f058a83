// Package revwatch orchestrates live review: repository registration,
// sessions, captures, watches and review comments.
package revwatch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/hay-kot/criterio"
	"github.com/rs/zerolog"

	"github.com/colonyops/revwatch/internal/core/broadcast"
	"github.com/colonyops/revwatch/internal/core/git"
	"github.com/colonyops/revwatch/internal/core/logging"
	"github.com/colonyops/revwatch/internal/core/review"
	"github.com/colonyops/revwatch/internal/core/validate"
	"github.com/colonyops/revwatch/internal/snapshot"
	"github.com/colonyops/revwatch/internal/watch"
)

// Stores groups the persistence dependencies of a ReviewService.
type Stores struct {
	Repos     review.RepoStore
	Sessions  review.SessionStore
	Snapshots review.SnapshotStore
	Comments  review.CommentStore
}

// SessionView is a session together with its repository and live state.
type SessionView struct {
	Session  review.Session          `json:"session"`
	Repo     review.Repo             `json:"repo"`
	Watching bool                    `json:"watching"`
	Latest   *review.SnapshotSummary `json:"latest_snapshot,omitempty"`
}

// CommentInput is the caller-supplied part of a new review comment.
type CommentInput struct {
	SnapshotID string `json:"snapshot_id"`
	FilePath   string `json:"file_path"`
	StartLine  int    `json:"start_line"`
	EndLine    int    `json:"end_line"`
	Side       string `json:"side"`
	Body       string `json:"body"`
}

// Validate checks the comment input for errors using criterio.
func (in CommentInput) Validate() error {
	var errs criterio.FieldErrorsBuilder

	if err := validate.Required(in.SnapshotID); err != nil {
		errs = errs.Append("snapshot_id", err)
	}
	if err := validate.Required(in.FilePath); err != nil {
		errs = errs.Append("file_path", err)
	}
	if err := validate.Required(in.Body); err != nil {
		errs = errs.Append("body", err)
	}
	if err := validate.LineRange(in.StartLine, in.EndLine); err != nil {
		errs = errs.Append("lines", err)
	}
	if in.Side != "" && in.Side != "old" && in.Side != "new" {
		errs = errs.Append("side", fmt.Errorf("must be \"old\" or \"new\", got %q", in.Side))
	}

	return errs.ToError()
}

// ReviewService orchestrates review operations.
type ReviewService struct {
	git    git.Provider
	stores Stores
	engine *snapshot.Engine
	watch  *watch.Coordinator
	hub    *broadcast.Hub
	log    zerolog.Logger
	now    func() time.Time
}

// NewReviewService creates a new ReviewService.
func NewReviewService(
	log zerolog.Logger,
	gitProvider git.Provider,
	stores Stores,
	hub *broadcast.Hub,
	watchOpts watch.Options,
) *ReviewService {
	engine := snapshot.NewEngine(logging.Sub(log, "capture"), snapshot.Deps{
		Git:       gitProvider,
		Repos:     stores.Repos,
		Sessions:  stores.Sessions,
		Snapshots: stores.Snapshots,
		Bus:       hub,
	})

	return &ReviewService{
		git:    gitProvider,
		stores: stores,
		engine: engine,
		watch:  watch.NewCoordinator(logging.Sub(log, "watch"), engine, stores.Sessions, hub, watchOpts),
		hub:    hub,
		log:    log,
		now:    time.Now,
	}
}

// OpenRepo registers the repository at path (if needed) and returns the
// session for its checked out branch. A new session gets an initial
// snapshot.
func (s *ReviewService) OpenRepo(ctx context.Context, path string) (SessionView, error) {
	const op = "open repo"

	if err := validate.Required(path); err != nil {
		return SessionView{}, review.Validationf(op, "path %v", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return SessionView{}, review.Validationf(op, "resolve path: %v", err)
	}
	if !s.git.IsRepo(ctx, abs) {
		return SessionView{}, review.E(review.KindNotAGitRepo, op, fmt.Errorf("%s is not a git repository", abs))
	}

	// Repos are keyed by work tree root so opening a subdirectory finds
	// the same registration.
	root, err := s.git.TopLevel(ctx, abs)
	if err != nil {
		return SessionView{}, review.Wrap(review.KindGit, op, err)
	}

	repo, err := s.ensureRepo(ctx, root)
	if err != nil {
		return SessionView{}, err
	}

	branch, err := s.git.CurrentBranch(ctx, root)
	if err != nil {
		return SessionView{}, review.Wrap(review.KindGit, op, err)
	}

	sess, err := s.stores.Sessions.GetByBranch(ctx, repo.ID, branch)
	switch {
	case err == nil:
		return s.view(ctx, sess, repo)
	case !errors.Is(err, review.ErrNotFound):
		return SessionView{}, err
	}

	sess = review.Session{
		ID:        uuid.NewString(),
		RepoID:    repo.ID,
		Branch:    branch,
		CreatedAt: s.now(),
	}
	if err := s.stores.Sessions.Create(ctx, sess); err != nil {
		return SessionView{}, err
	}

	ctx = logging.WithSessionID(ctx, sess.ID)
	s.log.Info().Ctx(ctx).
		Str("repo", repo.Name).
		Str("branch", branch).
		Msg("session created")

	if _, err := s.engine.Capture(ctx, sess.ID, repo.Path, review.TriggerInitial); err != nil {
		return SessionView{}, err
	}

	return s.view(ctx, sess, repo)
}

func (s *ReviewService) ensureRepo(ctx context.Context, path string) (review.Repo, error) {
	repo, err := s.stores.Repos.GetByPath(ctx, path)
	if err == nil || !errors.Is(err, review.ErrNotFound) {
		return repo, err
	}

	base, err := s.git.DefaultBranch(ctx, path)
	if err != nil {
		return review.Repo{}, review.Wrap(review.KindGit, "open repo", err)
	}
	remote, err := s.git.RemoteURL(ctx, path)
	if err != nil {
		return review.Repo{}, review.Wrap(review.KindGit, "open repo", err)
	}

	name := git.ExtractRepoName(remote)
	if name == "" {
		name = filepath.Base(path)
	}

	repo = review.Repo{
		ID:         uuid.NewString(),
		Path:       path,
		Name:       name,
		BaseBranch: base,
		RemoteURL:  remote,
		CreatedAt:  s.now(),
	}
	if err := s.stores.Repos.Create(ctx, repo); err != nil {
		return review.Repo{}, err
	}

	s.log.Info().Ctx(logging.WithRepoID(ctx, repo.ID)).
		Str("repo", name).
		Str("path", path).
		Str("base", base).
		Msg("repository registered")
	return repo, nil
}

// ListRepos returns every registered repository.
func (s *ReviewService) ListRepos(ctx context.Context) ([]review.Repo, error) {
	return s.stores.Repos.List(ctx)
}

// ListSessions returns the sessions of a repository.
func (s *ReviewService) ListSessions(ctx context.Context, repoID string) ([]review.Session, error) {
	if _, err := s.stores.Repos.Get(ctx, repoID); err != nil {
		return nil, err
	}
	return s.stores.Sessions.ListByRepo(ctx, repoID)
}

// GetSession returns a session with its repository and live state.
func (s *ReviewService) GetSession(ctx context.Context, id string) (SessionView, error) {
	sess, repo, err := s.resolve(ctx, id)
	if err != nil {
		return SessionView{}, err
	}
	return s.view(ctx, sess, repo)
}

// Capture takes a manual snapshot of a session's working tree.
func (s *ReviewService) Capture(ctx context.Context, sessionID string) (review.Snapshot, error) {
	_, repo, err := s.resolve(ctx, sessionID)
	if err != nil {
		return review.Snapshot{}, err
	}
	return s.engine.Capture(ctx, sessionID, repo.Path, review.TriggerManual)
}

// ListSnapshots returns snapshot summaries of a session, newest first.
func (s *ReviewService) ListSnapshots(ctx context.Context, sessionID string) ([]review.SnapshotSummary, error) {
	if _, err := s.stores.Sessions.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.stores.Snapshots.ListBySession(ctx, sessionID)
}

// GetSnapshot returns a snapshot including its raw diff.
func (s *ReviewService) GetSnapshot(ctx context.Context, id string) (review.Snapshot, error) {
	return s.stores.Snapshots.Get(ctx, id)
}

// ListBranches returns the local branches of a session's repository.
func (s *ReviewService) ListBranches(ctx context.Context, sessionID string) ([]string, error) {
	_, repo, err := s.resolve(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.git.ListBranches(ctx, repo.Path)
}

// SetBaseBranch overrides the base branch a session diffs against. A nil
// branch restores the repository default.
func (s *ReviewService) SetBaseBranch(ctx context.Context, sessionID string, branch *string) (review.Session, error) {
	const op = "set base branch"

	_, repo, err := s.resolve(ctx, sessionID)
	if err != nil {
		return review.Session{}, err
	}

	if branch != nil {
		if err := validate.BranchName(*branch); err != nil {
			return review.Session{}, review.E(review.KindValidation, op, err)
		}
		branches, err := s.git.ListBranches(ctx, repo.Path)
		if err != nil {
			return review.Session{}, review.Wrap(review.KindGit, op, err)
		}
		if !slices.Contains(branches, *branch) {
			return review.Session{}, review.Validationf(op, "branch %q does not exist", *branch)
		}
	}

	if err := s.stores.Sessions.SetBaseBranch(ctx, sessionID, branch); err != nil {
		return review.Session{}, err
	}
	return s.stores.Sessions.Get(ctx, sessionID)
}

// StartWatching turns on automatic captures for a session.
func (s *ReviewService) StartWatching(ctx context.Context, sessionID string) error {
	_, repo, err := s.resolve(ctx, sessionID)
	if err != nil {
		return err
	}
	return s.watch.Start(ctx, sessionID, repo.Path)
}

// StopWatching turns off automatic captures for a session.
func (s *ReviewService) StopWatching(ctx context.Context, sessionID string) error {
	return s.watch.Stop(ctx, sessionID)
}

// IsWatching reports whether a session has an active watcher.
func (s *ReviewService) IsWatching(sessionID string) bool {
	return s.watch.IsWatching(sessionID)
}

// ResumeWatches restarts the watches of every session whose persisted
// watching flag is set. Sessions that cannot be resumed get the flag
// cleared. It returns the number of watches started.
func (s *ReviewService) ResumeWatches(ctx context.Context) (int, error) {
	repos, err := s.stores.Repos.List(ctx)
	if err != nil {
		return 0, err
	}

	started := 0
	for _, repo := range repos {
		sessions, err := s.stores.Sessions.ListByRepo(ctx, repo.ID)
		if err != nil {
			return started, err
		}
		for _, sess := range sessions {
			if !sess.IsWatching {
				continue
			}
			if err := s.watch.Start(ctx, sess.ID, repo.Path); err != nil {
				s.log.Warn().Err(err).
					Str("session_id", sess.ID).
					Str("path", repo.Path).
					Msg("failed to resume watch")
				if err := s.stores.Sessions.SetWatching(ctx, sess.ID, false); err != nil {
					s.log.Warn().Err(err).
						Str("session_id", sess.ID).
						Msg("failed to clear watching flag")
				}
				continue
			}
			started++
		}
	}
	return started, nil
}

// AddComment records a draft comment on a snapshot of the session.
func (s *ReviewService) AddComment(ctx context.Context, sessionID string, in CommentInput) (review.Comment, error) {
	const op = "add comment"

	if err := in.Validate(); err != nil {
		return review.Comment{}, review.E(review.KindValidation, op, err)
	}

	snap, err := s.stores.Snapshots.Get(ctx, in.SnapshotID)
	if err != nil {
		return review.Comment{}, err
	}
	if snap.SessionID != sessionID {
		return review.Comment{}, review.Validationf(op, "snapshot %s does not belong to session %s", snap.ID, sessionID)
	}

	c := review.Comment{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		SnapshotID: snap.ID,
		FilePath:   in.FilePath,
		StartLine:  in.StartLine,
		EndLine:    in.EndLine,
		Side:       in.Side,
		Body:       in.Body,
		Status:     review.CommentStatusDraft,
		CreatedAt:  s.now(),
	}
	if err := s.stores.Comments.Create(ctx, c); err != nil {
		return review.Comment{}, err
	}

	s.hub.Broadcast(sessionID, broadcast.CommentUpdate{SessionID: sessionID, CommentID: c.ID, Action: review.CommentCreated})
	return c, nil
}

// ListComments returns the comments of a session in creation order.
func (s *ReviewService) ListComments(ctx context.Context, sessionID string) ([]review.Comment, error) {
	if _, err := s.stores.Sessions.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.stores.Comments.ListBySession(ctx, sessionID)
}

// SendComments marks comments as sent to the agent. Their snapshots are
// flagged as having review comments.
func (s *ReviewService) SendComments(ctx context.Context, sessionID string, ids []string) ([]review.Comment, error) {
	const op = "send comments"

	if len(ids) == 0 {
		return nil, review.Validationf(op, "no comments given")
	}
	for _, id := range ids {
		c, err := s.stores.Comments.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if c.SessionID != sessionID {
			return nil, review.Validationf(op, "comment %s does not belong to session %s", id, sessionID)
		}
	}

	sent, err := s.stores.Comments.MarkSent(ctx, ids)
	if err != nil {
		return nil, err
	}

	for _, c := range sent {
		s.hub.Broadcast(sessionID, broadcast.CommentUpdate{SessionID: sessionID, CommentID: c.ID, Action: review.CommentSent})
	}
	return sent, nil
}

// DeleteRepo stops every watch of the repository and deletes it together
// with its sessions, snapshots and comments.
func (s *ReviewService) DeleteRepo(ctx context.Context, id string) error {
	sessions, err := s.ListSessions(ctx, id)
	if err != nil {
		return err
	}

	for _, sess := range sessions {
		if !s.watch.IsWatching(sess.ID) {
			continue
		}
		if err := s.watch.Stop(ctx, sess.ID); err != nil {
			s.log.Warn().Err(err).Str("session_id", sess.ID).Msg("failed to stop watch before delete")
		}
	}

	if err := s.stores.Repos.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info().Ctx(logging.WithRepoID(ctx, id)).Int("sessions", len(sessions)).Msg("repository deleted")
	return nil
}

// Shutdown stops every watch and disconnects every live channel.
func (s *ReviewService) Shutdown() {
	s.watch.StopAll()
	s.hub.Shutdown()
}

func (s *ReviewService) resolve(ctx context.Context, sessionID string) (review.Session, review.Repo, error) {
	sess, err := s.stores.Sessions.Get(ctx, sessionID)
	if err != nil {
		return review.Session{}, review.Repo{}, err
	}
	repo, err := s.stores.Repos.Get(ctx, sess.RepoID)
	if err != nil {
		return review.Session{}, review.Repo{}, err
	}
	return sess, repo, nil
}

func (s *ReviewService) view(ctx context.Context, sess review.Session, repo review.Repo) (SessionView, error) {
	v := SessionView{
		Session:  sess,
		Repo:     repo,
		Watching: s.watch.IsWatching(sess.ID),
	}
	latest, ok, err := s.stores.Snapshots.Latest(ctx, sess.ID)
	if err != nil {
		return SessionView{}, err
	}
	if ok {
		summary := latest.Summary()
		v.Latest = &summary
	}
	return v, nil
}
