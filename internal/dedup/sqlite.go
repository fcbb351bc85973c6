package dedup

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteIndex is a persistent backend (cmd/send itself always uses the
// in-memory index): "a hash -> (session_idx,
// address) associative map backed by a persistent key-value engine for
// very large indexes" (spec.md §4.5). modernc.org/sqlite is pure Go,
// so this ships with no cgo toolchain requirement on the destination
// host, matching the rest of this project's deployability stance.
type SQLiteIndex struct {
	db *sql.DB
}

// OpenSQLiteIndex opens (creating if necessary) a dedup index database
// at path.
func OpenSQLiteIndex(ctx context.Context, path string) (*SQLiteIndex, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening dedup index %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS dedup_entries (
			hash TEXT PRIMARY KEY,
			session_index INTEGER NOT NULL,
			addr INTEGER NOT NULL
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating dedup index schema: %w", err)
	}
	return &SQLiteIndex{db: db}, nil
}

// Close releases the underlying database handle.
func (idx *SQLiteIndex) Close() error { return idx.db.Close() }

func (idx *SQLiteIndex) Lookup(ctx context.Context, hash string) (Entry, bool, error) {
	var e Entry
	err := idx.db.QueryRowContext(ctx,
		`SELECT session_index, addr FROM dedup_entries WHERE hash = ?`, hash,
	).Scan(&e.SessionIndex, &e.Addr)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("looking up dedup entry %s: %w", hash, err)
	}
	return e, true, nil
}

func (idx *SQLiteIndex) Insert(ctx context.Context, hash string, entry Entry) error {
	_, err := idx.db.ExecContext(ctx,
		`INSERT INTO dedup_entries (hash, session_index, addr) VALUES (?, ?, ?)
		 ON CONFLICT(hash) DO NOTHING`,
		hash, entry.SessionIndex, entry.Addr)
	if err != nil {
		return fmt.Errorf("inserting dedup entry %s: %w", hash, err)
	}
	return nil
}

func (idx *SQLiteIndex) Len(ctx context.Context) (int, error) {
	var n int
	if err := idx.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dedup_entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting dedup entries: %w", err)
	}
	return n, nil
}

var _ Index = (*SQLiteIndex)(nil)
