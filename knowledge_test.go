package hive

import (
	"errors"
	"fmt"
	"testing"
)

func TestKnowledge_PutGetVersions(t *testing.T) {
	kb := NewKnowledgeBase()

	e1, err := kb.Put("api_design", "v1 draft", "writer-1", []string{"design"})
	if err != nil {
		t.Fatal(err)
	}
	if e1.Version != 1 {
		t.Errorf("first put version = %d, want 1", e1.Version)
	}
	e2, err := kb.Put("api_design", "v2 final", "writer-2", []string{"design", "final"})
	if err != nil {
		t.Fatal(err)
	}
	if e2.Version != 2 {
		t.Errorf("second put version = %d, want 2", e2.Version)
	}

	got, ok := kb.Get("api_design")
	if !ok {
		t.Fatal("Get missed existing key")
	}
	if got.Value != "v2 final" || got.Version != 2 || got.Contributor != "writer-2" {
		t.Errorf("Get = %+v, want the v2 entry", got)
	}

	hist := kb.History("api_design")
	if len(hist) != 2 || hist[0].Value != "v1 draft" || hist[1].Value != "v2 final" {
		t.Errorf("History = %+v, want [v1 draft, v2 final]", hist)
	}
}

func TestKnowledge_GetUnknownKey(t *testing.T) {
	kb := NewKnowledgeBase()
	if _, ok := kb.Get("missing"); ok {
		t.Error("Get on unknown key = ok")
	}
	if hist := kb.History("missing"); hist != nil {
		t.Errorf("History on unknown key = %v, want nil", hist)
	}
}

func TestKnowledge_EmptyKeyRejected(t *testing.T) {
	kb := NewKnowledgeBase()
	if _, err := kb.Put("", "x", "a", nil); !errors.Is(err, ErrInvalid) {
		t.Errorf("Put with empty key error = %v, want ErrInvalid", err)
	}
}

// A subscriber is notified once per put on its key; versions arrive in
// order and the notification carries the full entry.
func TestKnowledge_SubscriberNotified(t *testing.T) {
	var notified []KnowledgeEntry
	kb := NewKnowledgeBase(WithUpdateFunc(func(subscriberID string, entry KnowledgeEntry) {
		if subscriberID != "watcher" {
			return
		}
		notified = append(notified, entry)
	}))
	kb.Subscribe("api_design", "watcher")

	if _, err := kb.Put("api_design", "v1", "w1", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := kb.Put("api_design", "v2", "w1", nil); err != nil {
		t.Fatal(err)
	}
	// Puts on other keys do not notify.
	if _, err := kb.Put("unrelated", "x", "w1", nil); err != nil {
		t.Fatal(err)
	}

	if len(notified) != 2 {
		t.Fatalf("subscriber notified %d times, want 2", len(notified))
	}
	if notified[0].Version != 1 || notified[1].Version != 2 {
		t.Errorf("notification versions = %d, %d, want 1, 2", notified[0].Version, notified[1].Version)
	}
}

func TestKnowledge_Unsubscribe(t *testing.T) {
	count := 0
	kb := NewKnowledgeBase(WithUpdateFunc(func(string, KnowledgeEntry) { count++ }))
	kb.Subscribe("k", "watcher")
	kb.Subscribe("k", "watcher") // idempotent
	kb.Unsubscribe("k", "watcher")
	kb.Unsubscribe("k", "watcher") // idempotent

	if _, err := kb.Put("k", "v", "a", nil); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("unsubscribed watcher notified %d times, want 0", count)
	}
}

func TestKnowledge_QueryAllTags(t *testing.T) {
	kb := NewKnowledgeBase()
	mustPut := func(key, value string, tags ...string) {
		t.Helper()
		if _, err := kb.Put(key, value, "a", tags); err != nil {
			t.Fatal(err)
		}
	}
	mustPut("a", "1", "design", "draft")
	mustPut("b", "2", "design", "final")
	mustPut("c", "3", "review")
	// Only the latest version counts for tag matching.
	mustPut("a", "1b", "design", "final")

	got := kb.Query([]string{"design", "final"})
	if len(got) != 2 {
		t.Fatalf("Query returned %d entries, want 2", len(got))
	}
	// Key insertion order: a before b.
	if got[0].Key != "a" || got[0].Value != "1b" {
		t.Errorf("Query[0] = %+v, want latest of a", got[0])
	}
	if got[1].Key != "b" {
		t.Errorf("Query[1].Key = %q, want b", got[1].Key)
	}

	// Empty tag list matches everything.
	if got := kb.Query(nil); len(got) != 3 {
		t.Errorf("Query(nil) returned %d entries, want 3", len(got))
	}
}

func TestKnowledge_MaxEntries(t *testing.T) {
	kb := NewKnowledgeBase(WithMaxEntries(2))
	for i := 0; i < 2; i++ {
		if _, err := kb.Put(fmt.Sprintf("k%d", i), "v", "a", nil); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := kb.Put("k2", "v", "a", nil); !errors.Is(err, ErrCapacity) {
		t.Errorf("put past cap error = %v, want ErrCapacity", err)
	}
	// New versions of existing keys are still accepted.
	if _, err := kb.Put("k0", "v2", "a", nil); err != nil {
		t.Errorf("new version of existing key rejected: %v", err)
	}
}

func TestKnowledge_SnapshotRestore(t *testing.T) {
	kb := NewKnowledgeBase()
	mustPut := func(key, value string) {
		t.Helper()
		if _, err := kb.Put(key, value, "a", nil); err != nil {
			t.Fatal(err)
		}
	}
	mustPut("x", "x1")
	mustPut("x", "x2")
	mustPut("y", "y1")

	snap := kb.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("Snapshot has %d entries, want 3", len(snap))
	}

	other := NewKnowledgeBase()
	other.Subscribe("x", "watcher")
	other.Restore(snap)

	if got := other.KeyCount(); got != 2 {
		t.Errorf("KeyCount after restore = %d, want 2", got)
	}
	latest, _ := other.Get("x")
	if latest.Value != "x2" || latest.Version != 2 {
		t.Errorf("restored latest of x = %+v, want x2 v2", latest)
	}
	hist := other.History("x")
	if len(hist) != 2 || hist[0].Version != 1 || hist[1].Version != 2 {
		t.Errorf("restored history versions = %+v, want 1, 2", hist)
	}

	// Subscriptions survive a restore.
	notified := false
	other.onUpdate = func(string, KnowledgeEntry) { notified = true }
	if _, err := other.Put("x", "x3", "a", nil); err != nil {
		t.Fatal(err)
	}
	if !notified {
		t.Error("subscriber lost across Restore")
	}
}
