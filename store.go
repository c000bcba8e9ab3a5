package hive

import "context"

// KnowledgeStore persists the knowledge base as the ordered entry list
// produced by KnowledgeBase.Snapshot. Implementations live in
// store/sqlite and store/postgres. The format is lossless: loading what
// was saved reproduces every key's history.
type KnowledgeStore interface {
	// SaveEntries replaces the stored state with the given list.
	SaveEntries(ctx context.Context, entries []KnowledgeEntry) error
	// LoadEntries returns the stored list in saved order.
	LoadEntries(ctx context.Context) ([]KnowledgeEntry, error)

	// --- Lifecycle ---
	Init(ctx context.Context) error
	Close() error
}
