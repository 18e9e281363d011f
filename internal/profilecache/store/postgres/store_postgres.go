// Package postgres is the durable profile cache store.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"prism/internal/profilecache"
	"prism/pkg/platform/sentinel"
	"prism/pkg/requestcontext"
)

type Store struct {
	db *sql.DB
}

var _ profilecache.Store = (*Store)(nil)

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const selectColumns = `profile_key, vendor, payload, enriched_at, expires_at`

func (s *Store) Lookup(ctx context.Context, key string) (*profilecache.Entry, error) {
	const query = `
		SELECT ` + selectColumns + `
		FROM cached_profiles
		WHERE profile_key = $1 AND expires_at >= $2`

	row := s.db.QueryRowContext(ctx, query, key, requestcontext.Now(ctx))
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("lookup cached profile: %w", err)
	}
	return e, nil
}

func (s *Store) LookupMany(ctx context.Context, keys []string) (map[string]*profilecache.Entry, error) {
	if len(keys) == 0 {
		return map[string]*profilecache.Entry{}, nil
	}

	const query = `
		SELECT ` + selectColumns + `
		FROM cached_profiles
		WHERE profile_key = ANY($1) AND expires_at >= $2`

	rows, err := s.db.QueryContext(ctx, query, pq.Array(keys), requestcontext.Now(ctx))
	if err != nil {
		return nil, fmt.Errorf("lookup cached profiles: %w", err)
	}
	defer rows.Close()

	found := make(map[string]*profilecache.Entry, len(keys))
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cached profile: %w", err)
		}
		found[e.Key] = e
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cached profiles: %w", err)
	}
	return found, nil
}

func (s *Store) Store(ctx context.Context, e *profilecache.Entry) error {
	// Payload travels as text: lib/pq would encode []byte as bytea,
	// which the jsonb column rejects.
	const upsert = `
		INSERT INTO cached_profiles (profile_key, vendor, payload, enriched_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (profile_key) DO UPDATE SET
			vendor      = EXCLUDED.vendor,
			payload     = EXCLUDED.payload,
			enriched_at = EXCLUDED.enriched_at,
			expires_at  = EXCLUDED.expires_at`

	_, err := s.db.ExecContext(ctx, upsert,
		e.Key, e.Vendor, string(e.Payload), e.EnrichedAt, e.ExpiresAt)
	if err != nil {
		return fmt.Errorf("store cached profile: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM cached_profiles WHERE profile_key = $1`, key)
	if err != nil {
		return fmt.Errorf("delete cached profile: %w", err)
	}
	return nil
}

func (s *Store) PurgeExpired(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cached_profiles WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge expired profiles: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purged profiles rows affected: %w", err)
	}
	return int(n), nil
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cached_profiles`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count cached profiles: %w", err)
	}
	return n, nil
}

// Evictions is always zero: the durable store is unbounded and relies
// on the purge worker instead of capacity eviction.
func (s *Store) Evictions(context.Context) (int64, error) {
	return 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*profilecache.Entry, error) {
	var (
		e       profilecache.Entry
		payload []byte
	)
	if err := row.Scan(&e.Key, &e.Vendor, &payload, &e.EnrichedAt, &e.ExpiresAt); err != nil {
		return nil, err
	}
	e.Payload = payload
	return &e, nil
}
