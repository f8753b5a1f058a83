package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/colonyops/revwatch/internal/core/review"
	"github.com/colonyops/revwatch/internal/data/db"
)

// SnapshotStore implements review.SnapshotStore using SQLite.
type SnapshotStore struct {
	db *db.DB
}

var _ review.SnapshotStore = (*SnapshotStore)(nil)

// NewSnapshotStore creates a new SQLite-backed snapshot store.
func NewSnapshotStore(db *db.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

const (
	snapshotSummaryColumns = "id, session_id, files_json, head_commit, capture_trigger, changed_files_json, has_review_comments, created_at"
	snapshotColumns        = snapshotSummaryColumns + ", raw_diff"

	// Snapshots are totally ordered by creation time within a session;
	// rowid breaks ties between rows created in the same nanosecond.
	newestFirst = " ORDER BY created_at DESC, rowid DESC"
)

// Latest returns the most recent snapshot for a session.
func (s *SnapshotStore) Latest(ctx context.Context, sessionID string) (review.Snapshot, bool, error) {
	return db.QueryOne(ctx, s.db.Querier(), scanSnapshot,
		"SELECT "+snapshotColumns+" FROM snapshots WHERE session_id = ?"+newestFirst+" LIMIT 1", sessionID)
}

func (s *SnapshotStore) Get(ctx context.Context, id string) (review.Snapshot, error) {
	snap, ok, err := db.QueryOne(ctx, s.db.Querier(), scanSnapshot,
		"SELECT "+snapshotColumns+" FROM snapshots WHERE id = ?", id)
	if err != nil {
		return review.Snapshot{}, err
	}
	if !ok {
		return review.Snapshot{}, review.NotFoundf("get snapshot", "snapshot %s", id)
	}
	return snap, nil
}

// ListBySession returns summaries only; raw diffs can be large and are
// fetched one at a time with Get.
func (s *SnapshotStore) ListBySession(ctx context.Context, sessionID string) ([]review.SnapshotSummary, error) {
	return db.Query(ctx, s.db.Querier(), scanSnapshotSummary,
		"SELECT "+snapshotSummaryColumns+" FROM snapshots WHERE session_id = ?"+newestFirst, sessionID)
}

func (s *SnapshotStore) Create(ctx context.Context, snap review.Snapshot) error {
	files := snap.Files
	if files == nil {
		files = []review.FileSummary{}
	}
	filesJSON, err := json.Marshal(files)
	if err != nil {
		return review.E(review.KindDatabase, "create snapshot", fmt.Errorf("marshal files: %w", err))
	}

	var changedJSON sql.NullString
	if len(snap.ChangedFiles) > 0 {
		data, err := json.Marshal(snap.ChangedFiles)
		if err != nil {
			return review.E(review.KindDatabase, "create snapshot", fmt.Errorf("marshal changed files: %w", err))
		}
		changedJSON = sql.NullString{String: string(data), Valid: true}
	}

	_, err = db.Execute(ctx, s.db.Querier(),
		"INSERT INTO snapshots ("+snapshotColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		snap.ID,
		snap.SessionID,
		string(filesJSON),
		nullString(snap.HeadCommit),
		string(snap.Trigger),
		changedJSON,
		snap.HasReviewComments,
		snap.CreatedAt.UnixNano(),
		snap.RawDiff,
	)
	return err
}

func (s *SnapshotStore) MarkReviewed(ctx context.Context, id string) error {
	return markReviewed(ctx, s.db.Querier(), id)
}

func markReviewed(ctx context.Context, q db.Querier, id string) error {
	res, err := db.Execute(ctx, q, "UPDATE snapshots SET has_review_comments = 1 WHERE id = ?", id)
	if err != nil {
		return err
	}
	if res.Changes == 0 {
		return review.NotFoundf("mark reviewed", "snapshot %s", id)
	}
	return nil
}

func scanSnapshot(sc db.Scanner) (review.Snapshot, error) {
	var (
		summary review.SnapshotSummary
		rawDiff string
	)
	if err := scanSnapshotInto(sc, &summary, &rawDiff); err != nil {
		return review.Snapshot{}, err
	}
	return review.Snapshot{
		ID:                summary.ID,
		SessionID:         summary.SessionID,
		RawDiff:           rawDiff,
		Files:             summary.Files,
		HeadCommit:        summary.HeadCommit,
		Trigger:           summary.Trigger,
		ChangedFiles:      summary.ChangedFiles,
		HasReviewComments: summary.HasReviewComments,
		CreatedAt:         summary.CreatedAt,
	}, nil
}

func scanSnapshotSummary(sc db.Scanner) (review.SnapshotSummary, error) {
	var summary review.SnapshotSummary
	err := scanSnapshotInto(sc, &summary)
	return summary, err
}

// scanSnapshotInto scans the summary columns and, when rawDiff is given,
// the trailing raw_diff column.
func scanSnapshotInto(sc db.Scanner, out *review.SnapshotSummary, rawDiff ...*string) error {
	var (
		filesJSON   string
		headCommit  sql.NullString
		trigger     string
		changedJSON sql.NullString
		createdAt   int64
	)

	dest := []any{&out.ID, &out.SessionID, &filesJSON, &headCommit, &trigger, &changedJSON, &out.HasReviewComments, &createdAt}
	for _, r := range rawDiff {
		dest = append(dest, r)
	}
	if err := sc.Scan(dest...); err != nil {
		return err
	}

	if err := json.Unmarshal([]byte(filesJSON), &out.Files); err != nil {
		return fmt.Errorf("unmarshal files: %w", err)
	}
	if changedJSON.Valid {
		if err := json.Unmarshal([]byte(changedJSON.String), &out.ChangedFiles); err != nil {
			return fmt.Errorf("unmarshal changed files: %w", err)
		}
	}
	if headCommit.Valid {
		out.HeadCommit = &headCommit.String
	}
	out.Trigger = review.Trigger(trigger)
	out.CreatedAt = time.Unix(0, createdAt)
	return nil
}
