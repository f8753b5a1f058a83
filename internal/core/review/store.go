package review

import "context"

// RepoStore persists registered repositories.
type RepoStore interface {
	// Create inserts a repository.
	Create(ctx context.Context, repo Repo) error
	// Get returns a repository by ID. Returns ErrNotFound if missing.
	Get(ctx context.Context, id string) (Repo, error)
	// GetByPath returns the repository registered at path. Returns ErrNotFound if missing.
	GetByPath(ctx context.Context, path string) (Repo, error)
	// List returns all repositories ordered by creation time.
	List(ctx context.Context) ([]Repo, error)
	// Delete removes a repository and cascades to its sessions and snapshots.
	Delete(ctx context.Context, id string) error
}

// SessionStore persists review sessions.
type SessionStore interface {
	// Get returns a session by ID. Returns ErrNotFound if missing.
	Get(ctx context.Context, id string) (Session, error)
	// GetByBranch returns the session for (repoID, branch). Returns ErrNotFound if missing.
	GetByBranch(ctx context.Context, repoID, branch string) (Session, error)
	// ListByRepo returns all sessions of a repository.
	ListByRepo(ctx context.Context, repoID string) ([]Session, error)
	// Create inserts a session. A duplicate (repo, branch) pair is a Validation error.
	Create(ctx context.Context, sess Session) error
	// SetWatching flips the persisted watching flag.
	SetWatching(ctx context.Context, id string, watching bool) error
	// SetBaseBranch sets or clears (nil) the base branch override.
	SetBaseBranch(ctx context.Context, id string, branch *string) error
}

// SnapshotStore persists snapshots. Snapshots are immutable apart from
// the has-review-comments flag.
type SnapshotStore interface {
	// Latest returns the most recent snapshot of a session, ok=false if none.
	Latest(ctx context.Context, sessionID string) (Snapshot, bool, error)
	// Get returns a snapshot by ID, including its raw diff.
	Get(ctx context.Context, id string) (Snapshot, error)
	// ListBySession returns snapshot summaries for a session, newest first.
	ListBySession(ctx context.Context, sessionID string) ([]SnapshotSummary, error)
	// Create inserts a snapshot.
	Create(ctx context.Context, snap Snapshot) error
	// MarkReviewed sets the has-review-comments flag.
	MarkReviewed(ctx context.Context, id string) error
}

// CommentStore persists review comments. Only the slice of comment
// behavior needed to drive the has-review-comments flag lives here.
type CommentStore interface {
	Create(ctx context.Context, c Comment) error
	Get(ctx context.Context, id string) (Comment, error)
	ListBySession(ctx context.Context, sessionID string) ([]Comment, error)
	// MarkSent transitions the comments to sent and flags their snapshots,
	// atomically.
	MarkSent(ctx context.Context, ids []string) ([]Comment, error)
}
