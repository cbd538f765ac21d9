package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// postgresStore persists streams in a single append-only table keyed by
// (stream, cursor). Cursor assignment relies on the serial column, so
// appends from multiple processes stay monotonic per stream.
type postgresStore struct {
	db      *sqlx.DB
	timeout time.Duration
}

const schema = `
CREATE TABLE IF NOT EXISTS stream_records (
	id      BIGSERIAL PRIMARY KEY,
	stream  TEXT NOT NULL,
	cursor  BIGINT NOT NULL,
	payload BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (stream, cursor)
);
CREATE INDEX IF NOT EXISTS stream_records_stream_cursor ON stream_records (stream, cursor);`

// NewPostgres connects to the DSN and ensures the stream table exists
func NewPostgres(dsn string, timeout time.Duration) (Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to ensure stream schema: %w", err)
	}
	return &postgresStore{db: db, timeout: timeout}, nil
}

func (s *postgresStore) Append(ctx context.Context, stream string, payload []byte) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		INSERT INTO stream_records (stream, cursor, payload)
		VALUES ($1, COALESCE((SELECT MAX(cursor) FROM stream_records WHERE stream = $1), 0) + 1, $2)
		RETURNING cursor`

	var cursor int64
	if err := s.db.QueryRowxContext(ctx, query, stream, payload).Scan(&cursor); err != nil {
		return 0, fmt.Errorf("failed to append to stream %s: %w", stream, err)
	}
	return cursor, nil
}

func (s *postgresStore) Read(ctx context.Context, stream string, fromCursor int64) ([]Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		SELECT cursor, payload FROM stream_records
		WHERE stream = $1 AND cursor >= $2
		ORDER BY cursor ASC`

	var out []Record
	if err := s.db.SelectContext(ctx, &out, query, stream, fromCursor); err != nil {
		return nil, fmt.Errorf("failed to read stream %s: %w", stream, err)
	}
	return out, nil
}
