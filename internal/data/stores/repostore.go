package stores

import (
	"context"
	"time"

	"github.com/colonyops/revwatch/internal/core/review"
	"github.com/colonyops/revwatch/internal/data/db"
)

// RepoStore implements review.RepoStore using SQLite.
type RepoStore struct {
	db *db.DB
}

var _ review.RepoStore = (*RepoStore)(nil)

// NewRepoStore creates a new SQLite-backed repository store.
func NewRepoStore(db *db.DB) *RepoStore {
	return &RepoStore{db: db}
}

const repoColumns = "id, path, name, base_branch, remote_url, created_at"

func (s *RepoStore) Create(ctx context.Context, repo review.Repo) error {
	_, err := db.Execute(ctx, s.db.Querier(),
		"INSERT INTO repos ("+repoColumns+") VALUES (?, ?, ?, ?, ?, ?)",
		repo.ID, repo.Path, repo.Name, repo.BaseBranch, repo.RemoteURL, repo.CreatedAt.UnixNano())
	if IsConstraintError(err) {
		return review.Validationf("create repo", "repository already registered at %s", repo.Path)
	}
	return err
}

func (s *RepoStore) Get(ctx context.Context, id string) (review.Repo, error) {
	repo, ok, err := db.QueryOne(ctx, s.db.Querier(), scanRepo,
		"SELECT "+repoColumns+" FROM repos WHERE id = ?", id)
	if err != nil {
		return review.Repo{}, err
	}
	if !ok {
		return review.Repo{}, review.NotFoundf("get repo", "repo %s", id)
	}
	return repo, nil
}

func (s *RepoStore) GetByPath(ctx context.Context, path string) (review.Repo, error) {
	repo, ok, err := db.QueryOne(ctx, s.db.Querier(), scanRepo,
		"SELECT "+repoColumns+" FROM repos WHERE path = ?", path)
	if err != nil {
		return review.Repo{}, err
	}
	if !ok {
		return review.Repo{}, review.NotFoundf("get repo", "no repo at %s", path)
	}
	return repo, nil
}

func (s *RepoStore) List(ctx context.Context) ([]review.Repo, error) {
	return db.Query(ctx, s.db.Querier(), scanRepo,
		"SELECT "+repoColumns+" FROM repos ORDER BY created_at ASC, rowid ASC")
}

// Delete removes a repository. Sessions, snapshots and comments go with it
// via ON DELETE CASCADE.
func (s *RepoStore) Delete(ctx context.Context, id string) error {
	res, err := db.Execute(ctx, s.db.Querier(), "DELETE FROM repos WHERE id = ?", id)
	if err != nil {
		return err
	}
	if res.Changes == 0 {
		return review.NotFoundf("delete repo", "repo %s", id)
	}
	return nil
}

func scanRepo(sc db.Scanner) (review.Repo, error) {
	var (
		repo      review.Repo
		createdAt int64
	)
	if err := sc.Scan(&repo.ID, &repo.Path, &repo.Name, &repo.BaseBranch, &repo.RemoteURL, &createdAt); err != nil {
		return review.Repo{}, err
	}
	repo.CreatedAt = time.Unix(0, createdAt)
	return repo, nil
}
