package stores

import (
	"context"
	"database/sql"
	"time"

	"github.com/colonyops/revwatch/internal/core/review"
	"github.com/colonyops/revwatch/internal/data/db"
)

// SessionStore implements review.SessionStore using SQLite.
type SessionStore struct {
	db *db.DB
}

var _ review.SessionStore = (*SessionStore)(nil)

// NewSessionStore creates a new SQLite-backed session store.
func NewSessionStore(db *db.DB) *SessionStore {
	return &SessionStore{db: db}
}

const sessionColumns = "id, repo_id, branch, base_branch, is_watching, created_at"

// Get returns a session by ID. Returns a NotFound error if missing.
func (s *SessionStore) Get(ctx context.Context, id string) (review.Session, error) {
	sess, ok, err := db.QueryOne(ctx, s.db.Querier(), scanSession,
		"SELECT "+sessionColumns+" FROM sessions WHERE id = ?", id)
	if err != nil {
		return review.Session{}, err
	}
	if !ok {
		return review.Session{}, review.NotFoundf("get session", "session %s", id)
	}
	return sess, nil
}

func (s *SessionStore) GetByBranch(ctx context.Context, repoID, branch string) (review.Session, error) {
	sess, ok, err := db.QueryOne(ctx, s.db.Querier(), scanSession,
		"SELECT "+sessionColumns+" FROM sessions WHERE repo_id = ? AND branch = ?", repoID, branch)
	if err != nil {
		return review.Session{}, err
	}
	if !ok {
		return review.Session{}, review.NotFoundf("get session", "no session for branch %s", branch)
	}
	return sess, nil
}

func (s *SessionStore) ListByRepo(ctx context.Context, repoID string) ([]review.Session, error) {
	return db.Query(ctx, s.db.Querier(), scanSession,
		"SELECT "+sessionColumns+" FROM sessions WHERE repo_id = ? ORDER BY created_at ASC, rowid ASC", repoID)
}

// Create inserts a session. The (repo, branch) unique index turns a
// duplicate into a Validation error.
func (s *SessionStore) Create(ctx context.Context, sess review.Session) error {
	_, err := db.Execute(ctx, s.db.Querier(),
		"INSERT INTO sessions ("+sessionColumns+") VALUES (?, ?, ?, ?, ?, ?)",
		sess.ID, sess.RepoID, sess.Branch, nullString(sess.BaseBranch), sess.IsWatching, sess.CreatedAt.UnixNano())
	if IsConstraintError(err) {
		return review.Validationf("create session", "session for branch %s already exists", sess.Branch)
	}
	return err
}

func (s *SessionStore) SetWatching(ctx context.Context, id string, watching bool) error {
	res, err := db.Execute(ctx, s.db.Querier(), "UPDATE sessions SET is_watching = ? WHERE id = ?", watching, id)
	if err != nil {
		return err
	}
	if res.Changes == 0 {
		return review.NotFoundf("set watching", "session %s", id)
	}
	return nil
}

func (s *SessionStore) SetBaseBranch(ctx context.Context, id string, branch *string) error {
	res, err := db.Execute(ctx, s.db.Querier(), "UPDATE sessions SET base_branch = ? WHERE id = ?", nullString(branch), id)
	if err != nil {
		return err
	}
	if res.Changes == 0 {
		return review.NotFoundf("set base branch", "session %s", id)
	}
	return nil
}

func scanSession(sc db.Scanner) (review.Session, error) {
	var (
		sess       review.Session
		baseBranch sql.NullString
		createdAt  int64
	)
	if err := sc.Scan(&sess.ID, &sess.RepoID, &sess.Branch, &baseBranch, &sess.IsWatching, &createdAt); err != nil {
		return review.Session{}, err
	}
	if baseBranch.Valid {
		sess.BaseBranch = &baseBranch.String
	}
	sess.CreatedAt = time.Unix(0, createdAt)
	return sess, nil
}

func nullString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
