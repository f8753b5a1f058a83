// Package db is the relational row store: a SQLite connection with
// versioned migrations and small query/execute/transaction primitives.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/colonyops/revwatch/internal/core/review"
)

const (
	maxRetries  = 5
	initialWait = 100 * time.Millisecond
)

// OpenOptions configures the connection pool.
type OpenOptions struct {
	MaxOpenConns int
	MaxIdleConns int
	BusyTimeout  int // milliseconds
}

// DefaultOpenOptions returns the pool settings used when none are configured.
func DefaultOpenOptions() OpenOptions {
	return OpenOptions{
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		BusyTimeout:  5000,
	}
}

// DB wraps a SQL database connection with retry logic.
type DB struct {
	conn *sql.DB
}

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Scanner is the row-scanning half of *sql.Rows.
type Scanner interface {
	Scan(dest ...any) error
}

// Result reports the effect of Execute.
type Result struct {
	Changes int64
}

// Open creates a new database connection with connection pooling and retry logic.
// The database file is created in the specified data directory, which is
// created if missing.
func Open(dataDir string, opts OpenOptions) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	dbPath := filepath.Join(dataDir, "revwatch.db")
	return OpenPath(dbPath, opts)
}

// OpenPath opens the database file at dbPath.
func OpenPath(dbPath string, opts OpenOptions) (*DB, error) {
	defaults := DefaultOpenOptions()
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = defaults.MaxOpenConns
	}
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = defaults.MaxIdleConns
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = defaults.BusyTimeout
	}

	// Open with pragmas for WAL mode, busy timeout and cascading deletes
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=foreign_keys(ON)",
		dbPath, opts.BusyTimeout)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(opts.MaxOpenConns)
	conn.SetMaxIdleConns(opts.MaxIdleConns)
	conn.SetConnMaxLifetime(0) // Connections live forever

	db := &DB{conn: conn}

	// Verify connectivity with retry
	if err := db.pingWithRetry(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := migrateUp(context.Background(), conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying connection pool.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Querier returns the non-transactional querier.
func (db *DB) Querier() Querier {
	return db.conn
}

// WithTx executes fn within a transaction. The transaction commits when fn
// returns nil and rolls back otherwise. Errors from fn are returned as is;
// begin/commit failures are database errors.
func (db *DB) WithTx(ctx context.Context, fn func(Querier) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return review.E(review.KindDatabase, "begin transaction", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return review.E(review.KindDatabase, "commit transaction", err)
	}

	return nil
}

// Query runs query and scans every row with scan.
func Query[T any](ctx context.Context, q Querier, scan func(Scanner) (T, error), query string, args ...any) ([]T, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, review.E(review.KindDatabase, "query", err)
	}
	defer func() { _ = rows.Close() }()

	out := []T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, review.Wrap(review.KindDatabase, "scan", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, review.E(review.KindDatabase, "query", err)
	}
	return out, nil
}

// QueryOne runs query and scans the first row. ok is false when the query
// returned no rows.
func QueryOne[T any](ctx context.Context, q Querier, scan func(Scanner) (T, error), query string, args ...any) (v T, ok bool, err error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return v, false, review.E(review.KindDatabase, "query", err)
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return v, false, review.E(review.KindDatabase, "query", err)
		}
		return v, false, nil
	}

	v, err = scan(rows)
	if err != nil {
		return v, false, review.Wrap(review.KindDatabase, "scan", err)
	}
	return v, true, nil
}

// Execute runs a statement and reports the number of affected rows.
func Execute(ctx context.Context, q Querier, query string, args ...any) (Result, error) {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return Result{}, review.E(review.KindDatabase, "execute", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Result{}, review.E(review.KindDatabase, "execute", err)
	}
	return Result{Changes: n}, nil
}

// pingWithRetry attempts to ping the database with exponential backoff.
func (db *DB) pingWithRetry(ctx context.Context) error {
	wait := initialWait
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		if lastErr = db.conn.PingContext(ctx); lastErr == nil {
			return nil
		}

		if i < maxRetries-1 {
			time.Sleep(wait)
			wait *= 2
		}
	}

	return fmt.Errorf("failed to ping database after %d retries: %w", maxRetries, lastErr)
}
