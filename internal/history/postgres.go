package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reverie-ai/reverie/internal/reliability"
)

const appendRetries = 4

// PostgresStore keeps conversation windows in PostgreSQL. The score primary
// key plus unique-violation retry gives strictly increasing scores per key
// across concurrent writers, and the seed marker row makes seeding a true
// set-if-not-exists, also across process instances.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS history_entries (
			key TEXT NOT NULL,
			score BIGINT NOT NULL,
			entry TEXT NOT NULL,
			PRIMARY KEY (key, score)
		);`,
		`CREATE TABLE IF NOT EXISTS history_seeds (
			key TEXT PRIMARY KEY,
			seeded_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Read(ctx context.Context, key MemoryKey, limit int) ([]Entry, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 30
	}

	rows, err := s.pool.Query(ctx,
		`SELECT entry, score FROM history_entries WHERE key=$1 ORDER BY score DESC LIMIT $2`,
		key.Encode(),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	items := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Text, &e.Score); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}

	// Reverse into ascending score order for prompt coherence.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}

	return items, nil
}

func (s *PostgresStore) Append(ctx context.Context, key MemoryKey, text string) error {
	if err := key.Validate(); err != nil {
		return err
	}

	// Two writers can compute the same next score; the primary key catches
	// that and the loser retries with a capped backoff.
	var lastErr error
	for attempt := 0; attempt <= appendRetries; attempt++ {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO history_entries (key, score, entry)
			 SELECT $1, GREATEST($2::bigint, COALESCE(MAX(score), -1) + 1), $3
			 FROM history_entries WHERE key = $1`,
			key.Encode(),
			time.Now().UnixMilli(),
			text,
		)
		if err == nil {
			return nil
		}
		if !isUniqueViolation(err) {
			return fmt.Errorf("append history: %w", err)
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reliability.ExponentialBackoff(attempt, 5*time.Millisecond, 100*time.Millisecond)):
		}
	}
	return fmt.Errorf("append history: score contention not resolved: %w", lastErr)
}

func (s *PostgresStore) SeedIfEmpty(ctx context.Context, key MemoryKey, seed, delimiter string) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}
	lines := SplitSeed(seed, delimiter)
	if len(lines) == 0 {
		return false, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin seed tx: %w", err)
	}
	defer tx.Rollback(ctx)

	k := key.Encode()

	// The marker row is the atomic set-if-not-exists gate: the second of two
	// concurrent seeders blocks here until the first commits and then sees
	// zero rows inserted.
	tag, err := tx.Exec(ctx,
		`INSERT INTO history_seeds (key) VALUES ($1) ON CONFLICT (key) DO NOTHING`, k)
	if err != nil {
		return false, fmt.Errorf("claim seed marker: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	// A key appended to before ever being seeded is not empty either.
	var populated bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM history_entries WHERE key=$1)`, k).Scan(&populated); err != nil {
		return false, fmt.Errorf("check existing entries: %w", err)
	}
	if populated {
		if err := tx.Commit(ctx); err != nil {
			return false, fmt.Errorf("commit seed marker: %w", err)
		}
		return false, nil
	}

	for i, line := range lines {
		if _, err := tx.Exec(ctx,
			`INSERT INTO history_entries (key, score, entry) VALUES ($1, $2, $3)`,
			k, int64(i), line); err != nil {
			return false, fmt.Errorf("insert seed line %d: %w", i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit seed: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) Exists(ctx context.Context, key MemoryKey) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM history_entries WHERE key=$1)`, key.Encode()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check history exists: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
