// Package review defines the live review domain: repositories, sessions
// and point-in-time snapshots of a working tree.
package review

import "time"

// Trigger records why a snapshot was captured.
type Trigger string

const (
	TriggerInitial Trigger = "initial"  // session creation
	TriggerManual  Trigger = "manual"   // explicit user or API request
	TriggerFSWatch Trigger = "fs_watch" // automatic, from the watch coordinator
)

// IsValid reports whether t is a known trigger.
func (t Trigger) IsValid() bool {
	switch t {
	case TriggerInitial, TriggerManual, TriggerFSWatch:
		return true
	}
	return false
}

// FileStatus is the change kind of a single file in a diff.
type FileStatus string

const (
	StatusAdded    FileStatus = "added"
	StatusModified FileStatus = "modified"
	StatusDeleted  FileStatus = "deleted"
	StatusRenamed  FileStatus = "renamed"
)

// FileSummary is the per-file change summary of a diff.
type FileSummary struct {
	Path      string     `json:"path"`
	OldPath   string     `json:"old_path,omitempty"` // set for renames
	Status    FileStatus `json:"status"`
	Additions int        `json:"additions"`
	Deletions int        `json:"deletions"`
}

// Repo is a registered local repository.
type Repo struct {
	ID         string    `json:"id"`
	Path       string    `json:"path"`
	Name       string    `json:"name"`
	BaseBranch string    `json:"base_branch"`
	RemoteURL  string    `json:"remote_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Session identifies one (repository, branch) pair under review.
//
// At most one session exists per (RepoID, Branch); the store enforces this
// with a unique index.
type Session struct {
	ID         string    `json:"id"`
	RepoID     string    `json:"repo_id"`
	Branch     string    `json:"branch"`
	BaseBranch *string   `json:"base_branch,omitempty"` // overrides Repo.BaseBranch when set
	IsWatching bool      `json:"is_watching"`
	CreatedAt  time.Time `json:"created_at"`
}

// EffectiveBaseBranch returns the session override if set, otherwise the
// repository's configured base branch.
func (s Session) EffectiveBaseBranch(repo Repo) string {
	if s.BaseBranch != nil && *s.BaseBranch != "" {
		return *s.BaseBranch
	}
	return repo.BaseBranch
}

// Snapshot is an immutable record of the working tree diff at one instant.
type Snapshot struct {
	ID                string        `json:"id"`
	SessionID         string        `json:"session_id"`
	RawDiff           string        `json:"raw_diff"`
	Files             []FileSummary `json:"files"`
	HeadCommit        *string       `json:"head_commit"`
	Trigger           Trigger       `json:"trigger"`
	ChangedFiles      []string      `json:"changed_files"` // nil for the first snapshot of a session
	HasReviewComments bool          `json:"has_review_comments"`
	CreatedAt         time.Time     `json:"created_at"`
}

// SnapshotSummary is a Snapshot without its raw diff. It is what gets
// broadcast to live listeners; the raw diff is fetched on demand.
type SnapshotSummary struct {
	ID                string        `json:"id"`
	SessionID         string        `json:"session_id"`
	Files             []FileSummary `json:"files"`
	HeadCommit        *string       `json:"head_commit"`
	Trigger           Trigger       `json:"trigger"`
	ChangedFiles      []string      `json:"changed_files"`
	HasReviewComments bool          `json:"has_review_comments"`
	CreatedAt         time.Time     `json:"created_at"`
}

// Summary strips the raw diff.
func (s Snapshot) Summary() SnapshotSummary {
	return SnapshotSummary{
		ID:                s.ID,
		SessionID:         s.SessionID,
		Files:             s.Files,
		HeadCommit:        s.HeadCommit,
		Trigger:           s.Trigger,
		ChangedFiles:      s.ChangedFiles,
		HasReviewComments: s.HasReviewComments,
		CreatedAt:         s.CreatedAt,
	}
}

// CommentAction is the kind of change announced for a review comment.
type CommentAction string

const (
	CommentCreated  CommentAction = "created"
	CommentUpdated  CommentAction = "updated"
	CommentDeleted  CommentAction = "deleted"
	CommentSent     CommentAction = "sent"
	CommentResolved CommentAction = "resolved"
)

// CommentStatus tracks delivery of a comment to the agent.
type CommentStatus string

const (
	CommentStatusDraft CommentStatus = "draft"
	CommentStatusSent  CommentStatus = "sent"
)

// Comment is inline feedback anchored to a line range of a snapshot file.
type Comment struct {
	ID         string        `json:"id"`
	SessionID  string        `json:"session_id"`
	SnapshotID string        `json:"snapshot_id"`
	FilePath   string        `json:"file_path"`
	StartLine  int           `json:"start_line"`
	EndLine    int           `json:"end_line"`
	Side       string        `json:"side,omitempty"` // "old" or "new"
	Body       string        `json:"body"`
	Status     CommentStatus `json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
	SentAt     *time.Time    `json:"sent_at,omitempty"`
}
