package stores

import (
	"context"
	"database/sql"
	"time"

	"github.com/colonyops/revwatch/internal/core/review"
	"github.com/colonyops/revwatch/internal/data/db"
)

// CommentStore implements review.CommentStore using SQLite.
type CommentStore struct {
	db *db.DB
}

var _ review.CommentStore = (*CommentStore)(nil)

// NewCommentStore creates a new SQLite-backed comment store.
func NewCommentStore(db *db.DB) *CommentStore {
	return &CommentStore{db: db}
}

const commentColumns = "id, session_id, snapshot_id, file_path, start_line, end_line, side, body, status, created_at, sent_at"

func (s *CommentStore) Create(ctx context.Context, c review.Comment) error {
	if c.Status == "" {
		c.Status = review.CommentStatusDraft
	}
	_, err := db.Execute(ctx, s.db.Querier(),
		"INSERT INTO comments ("+commentColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		c.ID, c.SessionID, c.SnapshotID, c.FilePath, c.StartLine, c.EndLine, c.Side, c.Body,
		string(c.Status), c.CreatedAt.UnixNano(), nullTime(c.SentAt))
	if IsConstraintError(err) {
		return review.Validationf("create comment", "comment references unknown session or snapshot")
	}
	return err
}

func (s *CommentStore) Get(ctx context.Context, id string) (review.Comment, error) {
	return getComment(ctx, s.db.Querier(), id)
}

func (s *CommentStore) ListBySession(ctx context.Context, sessionID string) ([]review.Comment, error) {
	return db.Query(ctx, s.db.Querier(), scanComment,
		"SELECT "+commentColumns+" FROM comments WHERE session_id = ? ORDER BY created_at ASC, rowid ASC", sessionID)
}

// MarkSent transitions each comment to sent and flags the snapshot it is
// anchored to. Either every comment is updated or none is.
func (s *CommentStore) MarkSent(ctx context.Context, ids []string) ([]review.Comment, error) {
	now := time.Now()
	sent := make([]review.Comment, 0, len(ids))

	err := s.db.WithTx(ctx, func(q db.Querier) error {
		for _, id := range ids {
			c, err := getComment(ctx, q, id)
			if err != nil {
				return err
			}

			if _, err := db.Execute(ctx, q,
				"UPDATE comments SET status = ?, sent_at = ? WHERE id = ?",
				string(review.CommentStatusSent), now.UnixNano(), id); err != nil {
				return err
			}
			if err := markReviewed(ctx, q, c.SnapshotID); err != nil {
				return err
			}

			c.Status = review.CommentStatusSent
			c.SentAt = &now
			sent = append(sent, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sent, nil
}

func getComment(ctx context.Context, q db.Querier, id string) (review.Comment, error) {
	c, ok, err := db.QueryOne(ctx, q, scanComment,
		"SELECT "+commentColumns+" FROM comments WHERE id = ?", id)
	if err != nil {
		return review.Comment{}, err
	}
	if !ok {
		return review.Comment{}, review.NotFoundf("get comment", "comment %s", id)
	}
	return c, nil
}

func scanComment(sc db.Scanner) (review.Comment, error) {
	var (
		c         review.Comment
		status    string
		createdAt int64
		sentAt    sql.NullInt64
	)
	if err := sc.Scan(&c.ID, &c.SessionID, &c.SnapshotID, &c.FilePath, &c.StartLine, &c.EndLine,
		&c.Side, &c.Body, &status, &createdAt, &sentAt); err != nil {
		return review.Comment{}, err
	}
	c.Status = review.CommentStatus(status)
	c.CreatedAt = time.Unix(0, createdAt)
	if sentAt.Valid {
		t := time.Unix(0, sentAt.Int64)
		c.SentAt = &t
	}
	return c, nil
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}
