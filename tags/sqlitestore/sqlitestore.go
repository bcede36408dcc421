// Package sqlitestore implements the tag store on a SQLite database
// shared with the process revalidating the tags.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zalando/edgerender/tags"
)

const schema = `
CREATE TABLE IF NOT EXISTS tag_revalidations (
	tag TEXT NOT NULL PRIMARY KEY,
	revalidated_at INTEGER NOT NULL
);
`

// Options of the store.
type Options struct {
	// Path of the database file.
	Path string

	// BusyTimeout is how long to wait for the lock of a concurrent
	// writer. Default: 5 seconds.
	BusyTimeout time.Duration
}

type Store struct {
	db     *sql.DB
	upsert *sql.Stmt
}

// Open opens the database, creating the schema when missing.
func Open(o Options) (*Store, error) {
	if o.Path == "" {
		return nil, errors.New("sqlite tag store: path required")
	}

	if o.BusyTimeout <= 0 {
		o.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", o.Path, o.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite tag store: %w", err)
	}

	// single writer
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite tag store schema: %w", err)
	}

	upsert, err := db.Prepare(`
		INSERT INTO tag_revalidations (tag, revalidated_at) VALUES (?, ?)
		ON CONFLICT (tag) DO UPDATE SET
			revalidated_at = max(revalidated_at, excluded.revalidated_at)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite tag store: %w", err)
	}

	return &Store{db: db, upsert: upsert}, nil
}

func (s *Store) IsAnyTagRevalidatedAfter(ctx context.Context, t []string, ts int64) (bool, error) {
	if len(t) == 0 {
		return false, nil
	}

	args := make([]any, 0, len(t)+1)
	args = append(args, ts)
	for _, tag := range t {
		args = append(args, tag)
	}

	q := `SELECT EXISTS (SELECT 1 FROM tag_revalidations WHERE revalidated_at > ? AND tag IN (?` +
		strings.Repeat(", ?", len(t)-1) + `))`

	var found bool
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&found); err != nil {
		return false, fmt.Errorf("%w: %w", tags.ErrStoreFailure, err)
	}

	return found, nil
}

func (s *Store) Revalidate(ctx context.Context, t []string, ts int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", tags.ErrStoreFailure, err)
	}

	defer tx.Rollback()

	stmt := tx.StmtContext(ctx, s.upsert)
	for _, tag := range t {
		if _, err := stmt.ExecContext(ctx, tag, ts); err != nil {
			return fmt.Errorf("%w: %w", tags.ErrStoreFailure, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %w", tags.ErrStoreFailure, err)
	}

	return nil
}

func (s *Store) Close() error {
	s.upsert.Close()
	return s.db.Close()
}
