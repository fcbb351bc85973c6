// Package postgres mirrors committed session metadata to a fleet-wide
// Postgres catalog, an optional component for sites running coldsnap
// across many hosts that want cross-host session visibility without
// scraping every archive's archive.ini (spec.md's supplemented
// "fleet catalog" feature).
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prn-tf/coldsnap/internal/archive"
)

// Catalog wraps a pgx connection pool and mirrors session commits.
type Catalog struct {
	pool *pgxpool.Pool
}

// Open connects to dsn and returns a Catalog. Callers must call Close.
func Open(ctx context.Context, dsn string) (*Catalog, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening catalog pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging catalog: %w", err)
	}
	return &Catalog{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (c *Catalog) Close() { c.pool.Close() }

// EnsureSchema creates the sessions table if it does not already
// exist. cmd/send calls it once per run when --catalog-dsn is set,
// before sending any volume.
func (c *Catalog) EnsureSchema(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS coldsnap_sessions (
			volume       TEXT NOT NULL,
			name         TEXT NOT NULL,
			previous     TEXT NOT NULL,
			sequence     BIGINT NOT NULL,
			volsize      BIGINT NOT NULL,
			format       TEXT NOT NULL,
			localtime    TIMESTAMPTZ NOT NULL,
			committed_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (volume, name)
		)
	`
	if _, err := c.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("creating coldsnap_sessions table: %w", err)
	}
	return nil
}

// RecordSession mirrors a just-committed session into the catalog.
func (c *Catalog) RecordSession(ctx context.Context, volume string, s *archive.Session) error {
	const query = `
		INSERT INTO coldsnap_sessions
			(volume, name, previous, sequence, volsize, format, localtime, committed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (volume, name) DO UPDATE SET
			previous = EXCLUDED.previous,
			sequence = EXCLUDED.sequence,
			volsize  = EXCLUDED.volsize,
			format   = EXCLUDED.format
	`
	_, err := c.pool.Exec(ctx, query,
		volume, s.Name, s.Previous, s.Sequence, s.Volsize, string(s.Format),
		s.Localtime, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording session %s/%s: %w", volume, s.Name, err)
	}
	return nil
}

// SessionRecord is one row of the fleet session catalog.
type SessionRecord struct {
	Volume      string
	Name        string
	Previous    string
	Sequence    int64
	Volsize     int64
	Format      string
	Localtime   time.Time
	CommittedAt time.Time
}

// ListSessions returns every mirrored session for volume, oldest first.
func (c *Catalog) ListSessions(ctx context.Context, volume string) ([]SessionRecord, error) {
	const query = `
		SELECT volume, name, previous, sequence, volsize, format, localtime, committed_at
		FROM coldsnap_sessions
		WHERE volume = $1
		ORDER BY sequence ASC
	`
	rows, err := c.pool.Query(ctx, query, volume)
	if err != nil {
		return nil, fmt.Errorf("listing sessions for volume %s: %w", volume, err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var r SessionRecord
		if err := rows.Scan(&r.Volume, &r.Name, &r.Previous, &r.Sequence, &r.Volsize, &r.Format, &r.Localtime, &r.CommittedAt); err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rows: %w", err)
	}
	return out, nil
}

// LatestSession returns the most recently committed session for
// volume, or ErrNoSessions if none have been mirrored yet.
func (c *Catalog) LatestSession(ctx context.Context, volume string) (SessionRecord, error) {
	const query = `
		SELECT volume, name, previous, sequence, volsize, format, localtime, committed_at
		FROM coldsnap_sessions
		WHERE volume = $1
		ORDER BY sequence DESC
		LIMIT 1
	`
	var r SessionRecord
	err := c.pool.QueryRow(ctx, query, volume).Scan(
		&r.Volume, &r.Name, &r.Previous, &r.Sequence, &r.Volsize, &r.Format, &r.Localtime, &r.CommittedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SessionRecord{}, ErrNoSessions
		}
		return SessionRecord{}, fmt.Errorf("fetching latest session for volume %s: %w", volume, err)
	}
	return r, nil
}

// DeleteSessions removes the named sessions from the catalog, mirroring
// a prune run's locally-removed session records.
func (c *Catalog) DeleteSessions(ctx context.Context, volume string, names []string) error {
	const query = `DELETE FROM coldsnap_sessions WHERE volume = $1 AND name = ANY($2)`
	if _, err := c.pool.Exec(ctx, query, volume, names); err != nil {
		return fmt.Errorf("deleting pruned sessions for volume %s: %w", volume, err)
	}
	return nil
}

// ErrNoSessions is returned by LatestSession when a volume has no
// mirrored sessions yet.
var ErrNoSessions = errors.New("coldsnap/catalog/postgres: no sessions recorded for volume")
