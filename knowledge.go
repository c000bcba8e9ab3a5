package hive

import (
	"fmt"
	"sync"
)

// DefaultMaxEntries caps the number of distinct knowledge keys.
const DefaultMaxEntries = 10000

// KnowledgeEntry is one version of a shared fact. Versions per key start
// at 1 and grow contiguously; entries are append-only.
type KnowledgeEntry struct {
	Key         string   `json:"key"`
	Value       string   `json:"value"`
	Contributor string   `json:"contributor,omitempty"`
	Timestamp   int64    `json:"timestamp_ms"`
	Version     int64    `json:"version"`
	Tags        []string `json:"tags,omitempty"`
}

// UpdateFunc is invoked once per subscriber after each put, outside the
// store's lock. The orchestrator wires it to EVENT messages so
// subscribers learn of updates through their mailboxes.
type UpdateFunc func(subscriberID string, entry KnowledgeEntry)

// KnowledgeBase is a versioned key→value store with tag queries and
// per-key subscriber sets. Reads take a shared lock; writes and
// subscription changes take the exclusive lock.
type KnowledgeBase struct {
	mu          sync.RWMutex
	entries     map[string][]KnowledgeEntry // key → versions, oldest first
	subscribers map[string]map[string]bool  // key → subscriber ids
	keys        []string                    // insertion order, for stable snapshots
	maxEntries  int
	onUpdate    UpdateFunc
}

// KnowledgeOption configures a KnowledgeBase.
type KnowledgeOption func(*KnowledgeBase)

// WithMaxEntries caps the number of distinct keys (default 10 000;
// 0 disables the cap).
func WithMaxEntries(n int) KnowledgeOption {
	return func(kb *KnowledgeBase) { kb.maxEntries = n }
}

// WithUpdateFunc sets the subscriber notification callback.
func WithUpdateFunc(fn UpdateFunc) KnowledgeOption {
	return func(kb *KnowledgeBase) { kb.onUpdate = fn }
}

// NewKnowledgeBase returns an empty store.
func NewKnowledgeBase(opts ...KnowledgeOption) *KnowledgeBase {
	kb := &KnowledgeBase{
		entries:     make(map[string][]KnowledgeEntry),
		subscribers: make(map[string]map[string]bool),
		maxEntries:  DefaultMaxEntries,
	}
	for _, opt := range opts {
		opt(kb)
	}
	return kb
}

// Put appends a new version for key and notifies subscribers. A put that
// would introduce a new key beyond the entry cap returns ErrCapacity.
func (kb *KnowledgeBase) Put(key, value, contributor string, tags []string) (KnowledgeEntry, error) {
	if key == "" {
		return KnowledgeEntry{}, fmt.Errorf("%w: empty key", ErrInvalid)
	}

	kb.mu.Lock()
	chain, exists := kb.entries[key]
	if !exists && kb.maxEntries > 0 && len(kb.entries) >= kb.maxEntries {
		kb.mu.Unlock()
		return KnowledgeEntry{}, fmt.Errorf("%w: knowledge base at %d keys", ErrCapacity, kb.maxEntries)
	}
	entry := KnowledgeEntry{
		Key:         key,
		Value:       value,
		Contributor: contributor,
		Timestamp:   NowMillis(),
		Version:     int64(len(chain)) + 1,
		Tags:        append([]string(nil), tags...),
	}
	kb.entries[key] = append(chain, entry)
	if !exists {
		kb.keys = append(kb.keys, key)
	}
	var subs []string
	for id := range kb.subscribers[key] {
		subs = append(subs, id)
	}
	fn := kb.onUpdate
	kb.mu.Unlock()

	if fn != nil {
		for _, id := range subs {
			fn(id, entry)
		}
	}
	return entry, nil
}

// Get returns the latest version for key.
func (kb *KnowledgeBase) Get(key string) (KnowledgeEntry, bool) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	chain := kb.entries[key]
	if len(chain) == 0 {
		return KnowledgeEntry{}, false
	}
	return chain[len(chain)-1], true
}

// History returns every version for key, oldest first.
func (kb *KnowledgeBase) History(key string) []KnowledgeEntry {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	chain := kb.entries[key]
	if len(chain) == 0 {
		return nil
	}
	out := make([]KnowledgeEntry, len(chain))
	copy(out, chain)
	return out
}

// Query returns the latest version of every key whose entry carries all
// of the given tags, in key insertion order.
func (kb *KnowledgeBase) Query(tags []string) []KnowledgeEntry {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	var out []KnowledgeEntry
	for _, key := range kb.keys {
		chain := kb.entries[key]
		if len(chain) == 0 {
			continue
		}
		latest := chain[len(chain)-1]
		if hasAllTags(latest.Tags, tags) {
			out = append(out, latest)
		}
	}
	return out
}

func hasAllTags(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Subscribe registers agentID for update notifications on key.
// Idempotent.
func (kb *KnowledgeBase) Subscribe(key, agentID string) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	set := kb.subscribers[key]
	if set == nil {
		set = make(map[string]bool)
		kb.subscribers[key] = set
	}
	set[agentID] = true
}

// Unsubscribe removes agentID from key's subscriber set. Idempotent.
func (kb *KnowledgeBase) Unsubscribe(key, agentID string) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	if set := kb.subscribers[key]; set != nil {
		delete(set, agentID)
		if len(set) == 0 {
			delete(kb.subscribers, key)
		}
	}
}

// KeyCount returns the number of distinct keys.
func (kb *KnowledgeBase) KeyCount() int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return len(kb.entries)
}

// Snapshot exports every version of every key as one ordered list: keys
// in insertion order, versions ascending within a key. The list is the
// persistence wire format.
func (kb *KnowledgeBase) Snapshot() []KnowledgeEntry {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	var out []KnowledgeEntry
	for _, key := range kb.keys {
		out = append(out, kb.entries[key]...)
	}
	return out
}

// Restore replaces all current state with the given entry list, as
// produced by Snapshot. Subscriptions survive; version chains are rebuilt
// in list order.
func (kb *KnowledgeBase) Restore(entries []KnowledgeEntry) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.entries = make(map[string][]KnowledgeEntry)
	kb.keys = nil
	for _, e := range entries {
		chain, exists := kb.entries[e.Key]
		e.Version = int64(len(chain)) + 1
		kb.entries[e.Key] = append(chain, e)
		if !exists {
			kb.keys = append(kb.keys, e.Key)
		}
	}
}
