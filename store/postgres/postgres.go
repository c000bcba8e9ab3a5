// Package postgres implements hive.KnowledgeStore using PostgreSQL.
//
// The Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nevindra/hive"
)

// Store implements hive.KnowledgeStore backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ hive.KnowledgeStore = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates the knowledge table.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS knowledge_entries (
		position BIGINT PRIMARY KEY,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		contributor TEXT,
		timestamp_ms BIGINT NOT NULL,
		version BIGINT NOT NULL,
		tags TEXT[]
	)`)
	if err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

// SaveEntries replaces the stored snapshot inside one transaction.
func (s *Store) SaveEntries(ctx context.Context, entries []hive.KnowledgeEntry) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM knowledge_entries`); err != nil {
		return fmt.Errorf("clear entries: %w", err)
	}
	for i, e := range entries {
		_, err := tx.Exec(ctx,
			`INSERT INTO knowledge_entries (position, key, value, contributor, timestamp_ms, version, tags)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			i, e.Key, e.Value, e.Contributor, e.Timestamp, e.Version, e.Tags)
		if err != nil {
			return fmt.Errorf("insert %s v%d: %w", e.Key, e.Version, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// LoadEntries returns the stored snapshot in saved order.
func (s *Store) LoadEntries(ctx context.Context) ([]hive.KnowledgeEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, value, contributor, timestamp_ms, version, tags
		 FROM knowledge_entries ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var out []hive.KnowledgeEntry
	for rows.Next() {
		var e hive.KnowledgeEntry
		var contributor *string
		if err := rows.Scan(&e.Key, &e.Value, &contributor, &e.Timestamp, &e.Version, &e.Tags); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		if contributor != nil {
			e.Contributor = *contributor
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return out, nil
}

// Close is a no-op; the caller owns the pool.
func (s *Store) Close() error {
	return nil
}
