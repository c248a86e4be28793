package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"exchangeCore/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv_entries (
	cf         TEXT NOT NULL,
	key        TEXT COLLATE "C" NOT NULL,
	value      BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (cf, key)
)`

const upsert = `
	INSERT INTO kv_entries (cf, key, value, updated_at)
	VALUES ($1, $2, $3, now())
	ON CONFLICT (cf, key)
	DO UPDATE SET value = EXCLUDED.value, updated_at = now()
`

// Store is a storage.KV over a single Postgres table.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.KV = (*Store)(nil)

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the kv_entries table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create kv_entries: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, cf, key string) ([]byte, error) {
	var value []byte
	row := s.pool.QueryRow(ctx, `SELECT value FROM kv_entries WHERE cf=$1 AND key=$2`, cf, key)
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return value, nil
}

func (s *Store) Put(ctx context.Context, cf, key string, value []byte) error {
	_, err := s.pool.Exec(ctx, upsert, cf, key, value)
	return err
}

// BatchPut upserts every value in one round trip.
func (s *Store) BatchPut(ctx context.Context, cf string, values map[string][]byte) error {
	if len(values) == 0 {
		return nil
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	batch := &pgx.Batch{}
	for _, key := range keys {
		batch.Queue(upsert, cf, key, values[key])
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range keys {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ScanByPrefix(ctx context.Context, cf, prefix string, limit int, cursor string) ([]storage.Entry, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx, `
		SELECT key, value FROM kv_entries
		WHERE cf=$1 AND starts_with(key, $2) AND key > $3
		ORDER BY key
		LIMIT $4
	`, cf, prefix, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.Entry
	for rows.Next() {
		var entry storage.Entry
		if err := rows.Scan(&entry.Key, &entry.Value); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}
