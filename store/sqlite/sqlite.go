// Package sqlite implements hive.KnowledgeStore using pure-Go SQLite.
// Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nevindra/hive"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
// When set, the store emits debug logs for every operation including
// timing and row counts. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements hive.KnowledgeStore backed by a local SQLite file.
// Entries are stored one row per version, ordered by a position column
// so a load reproduces the snapshot exactly.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ hive.KnowledgeStore = (*Store)(nil)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates the knowledge table.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS knowledge_entries (
		position INTEGER PRIMARY KEY,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		contributor TEXT,
		timestamp_ms INTEGER NOT NULL,
		version INTEGER NOT NULL,
		tags TEXT
	)`)
	if err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

// SaveEntries replaces the stored snapshot inside one transaction.
func (s *Store) SaveEntries(ctx context.Context, entries []hive.KnowledgeEntry) error {
	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM knowledge_entries`); err != nil {
		return fmt.Errorf("clear entries: %w", err)
	}
	for i, e := range entries {
		tags, err := json.Marshal(e.Tags)
		if err != nil {
			return fmt.Errorf("encode tags for %s: %w", e.Key, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO knowledge_entries (position, key, value, contributor, timestamp_ms, version, tags)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			i, e.Key, e.Value, e.Contributor, e.Timestamp, e.Version, string(tags))
		if err != nil {
			return fmt.Errorf("insert %s v%d: %w", e.Key, e.Version, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Debug("sqlite: snapshot saved",
		"entries", len(entries), "elapsed", time.Since(start))
	return nil
}

// LoadEntries returns the stored snapshot in saved order.
func (s *Store) LoadEntries(ctx context.Context) ([]hive.KnowledgeEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value, contributor, timestamp_ms, version, tags
		 FROM knowledge_entries ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var out []hive.KnowledgeEntry
	for rows.Next() {
		var e hive.KnowledgeEntry
		var contributor, tags sql.NullString
		if err := rows.Scan(&e.Key, &e.Value, &contributor, &e.Timestamp, &e.Version, &tags); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Contributor = contributor.String
		if tags.Valid && tags.String != "" && tags.String != "null" {
			if err := json.Unmarshal([]byte(tags.String), &e.Tags); err != nil {
				return nil, fmt.Errorf("decode tags for %s: %w", e.Key, err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	s.logger.Debug("sqlite: snapshot loaded", "entries", len(out))
	return out, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
