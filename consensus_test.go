package hive

import (
	"errors"
	"testing"
)

func createVote(t *testing.T, c *Consensus, options []string, vt VoteType) string {
	t.Helper()
	id, err := c.CreateVote("ship it?", options, vt, 0)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func castAll(t *testing.T, c *Consensus, voteID string, ballots map[string]string) {
	t.Helper()
	for agent, option := range ballots {
		if err := c.Cast(voteID, agent, option, 0); err != nil {
			t.Fatal(err)
		}
	}
}

// Three of four agents approve: 0.75 clears the supermajority threshold.
func TestConsensus_SupermajorityPasses(t *testing.T) {
	c := NewConsensus()
	id := createVote(t, c, []string{"approve", "reject"}, Supermajority)
	castAll(t, c, id, map[string]string{
		"a1": "approve", "a2": "approve", "a3": "approve", "a4": "reject",
	})

	result, ok := c.Finalize(id, nil)
	if !ok {
		t.Fatal("Finalize reported not finalized")
	}
	if result != "approve" {
		t.Errorf("result = %q, want approve", result)
	}
}

func TestConsensus_SupermajorityFallsShort(t *testing.T) {
	c := NewConsensus()
	id := createVote(t, c, []string{"approve", "reject"}, Supermajority)
	castAll(t, c, id, map[string]string{
		"a1": "approve", "a2": "approve", "a3": "reject", "a4": "reject",
	})

	result, ok := c.Finalize(id, nil)
	if !ok {
		t.Fatal("Finalize reported not finalized")
	}
	if result != "" {
		t.Errorf("result = %q, want no consensus", result)
	}
	if !c.IsFinalized(id) {
		t.Error("vote not sealed after Finalize")
	}
}

func TestConsensus_SimpleMajority(t *testing.T) {
	c := NewConsensus()
	id := createVote(t, c, []string{"a", "b", "c"}, SimpleMajority)
	castAll(t, c, id, map[string]string{
		"a1": "a", "a2": "a", "a3": "b",
	})
	if result, _ := c.Finalize(id, nil); result != "a" {
		t.Errorf("result = %q, want a (2/3 > 0.5)", result)
	}

	// An exact half is not a majority.
	id2 := createVote(t, c, []string{"a", "b"}, SimpleMajority)
	castAll(t, c, id2, map[string]string{"a1": "a", "a2": "b"})
	if result, _ := c.Finalize(id2, nil); result != "" {
		t.Errorf("result = %q for a 50/50 split, want no consensus", result)
	}
}

func TestConsensus_Unanimous(t *testing.T) {
	c := NewConsensus()
	id := createVote(t, c, []string{"yes", "no"}, Unanimous)
	castAll(t, c, id, map[string]string{"a1": "yes", "a2": "yes"})
	if result, _ := c.Finalize(id, nil); result != "yes" {
		t.Errorf("result = %q, want yes", result)
	}

	id2 := createVote(t, c, []string{"yes", "no"}, Unanimous)
	castAll(t, c, id2, map[string]string{"a1": "yes", "a2": "yes", "a3": "no"})
	if result, _ := c.Finalize(id2, nil); result != "" {
		t.Errorf("result = %q with one dissent, want no consensus", result)
	}
}

func TestConsensus_WeightedWinsUnconditionally(t *testing.T) {
	c := NewConsensus()
	id := createVote(t, c, []string{"a", "b", "c"}, Weighted)
	if err := c.Cast(id, "a1", "a", 1.0); err != nil {
		t.Fatal(err)
	}
	if err := c.Cast(id, "a2", "b", 1.5); err != nil {
		t.Fatal(err)
	}
	if err := c.Cast(id, "a3", "c", 1.2); err != nil {
		t.Fatal(err)
	}
	// b holds a plurality only, but weighted votes need no threshold.
	if result, _ := c.Finalize(id, nil); result != "b" {
		t.Errorf("result = %q, want b", result)
	}
}

func TestConsensus_WeightsIgnoredOutsideWeighted(t *testing.T) {
	c := NewConsensus()
	id := createVote(t, c, []string{"a", "b"}, SimpleMajority)
	if err := c.Cast(id, "a1", "a", 100.0); err != nil {
		t.Fatal(err)
	}
	if err := c.Cast(id, "a2", "b", 1.0); err != nil {
		t.Fatal(err)
	}
	if err := c.Cast(id, "a3", "b", 1.0); err != nil {
		t.Fatal(err)
	}
	// Head count rules: b wins 2 to 1 despite a1's declared weight.
	if result, _ := c.Finalize(id, nil); result != "b" {
		t.Errorf("result = %q, want b", result)
	}
}

func TestConsensus_TieBrokenByDeclarationOrder(t *testing.T) {
	c := NewConsensus()
	id := createVote(t, c, []string{"zebra", "apple"}, Weighted)
	castAll(t, c, id, map[string]string{"a1": "zebra", "a2": "apple"})
	// Equal weight: the option declared first wins.
	if result, _ := c.Finalize(id, nil); result != "zebra" {
		t.Errorf("result = %q, want zebra (declared first)", result)
	}
}

func TestConsensus_FinalizeIdempotent(t *testing.T) {
	c := NewConsensus()
	id := createVote(t, c, []string{"a", "b"}, SimpleMajority)
	castAll(t, c, id, map[string]string{"a1": "a"})

	first, ok := c.Finalize(id, nil)
	if !ok || first != "a" {
		t.Fatalf("first Finalize = %q %v, want a true", first, ok)
	}
	if _, ok := c.Finalize(id, nil); ok {
		t.Error("second Finalize reported true")
	}
	if err := c.Cast(id, "a2", "b", 0); !errors.Is(err, ErrFinalized) {
		t.Errorf("cast after finalize error = %v, want ErrFinalized", err)
	}
	v, _ := c.Get(id)
	if v.Result != "a" || !v.Finalized {
		t.Errorf("vote = %+v, want sealed with result a", v)
	}
}

func TestConsensus_RecastOverwrites(t *testing.T) {
	c := NewConsensus()
	id := createVote(t, c, []string{"a", "b"}, SimpleMajority)
	if err := c.Cast(id, "a1", "a", 0); err != nil {
		t.Fatal(err)
	}
	if err := c.Cast(id, "a1", "b", 0); err != nil {
		t.Fatal(err)
	}
	v, _ := c.Get(id)
	if len(v.Ballots) != 1 || v.Ballots["a1"] != "b" {
		t.Errorf("ballots = %v, want a1→b only", v.Ballots)
	}
}

func TestConsensus_CastErrors(t *testing.T) {
	c := NewConsensus()
	id := createVote(t, c, []string{"a", "b"}, SimpleMajority)
	if err := c.Cast("ghost", "a1", "a", 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("cast on unknown vote error = %v, want ErrNotFound", err)
	}
	if err := c.Cast(id, "a1", "c", 0); !errors.Is(err, ErrInvalid) {
		t.Errorf("undeclared option error = %v, want ErrInvalid", err)
	}
}

func TestConsensus_CreateVoteValidation(t *testing.T) {
	c := NewConsensus()
	if _, err := c.CreateVote("q", nil, SimpleMajority, 0); !errors.Is(err, ErrInvalid) {
		t.Errorf("no options error = %v, want ErrInvalid", err)
	}
	if _, err := c.CreateVote("q", []string{"a", "a"}, SimpleMajority, 0); !errors.Is(err, ErrInvalid) {
		t.Errorf("duplicate option error = %v, want ErrInvalid", err)
	}
	if _, err := c.CreateVote("q", []string{"a", ""}, SimpleMajority, 0); !errors.Is(err, ErrInvalid) {
		t.Errorf("empty option error = %v, want ErrInvalid", err)
	}
}

func TestConsensus_EmptyVoteHasNoResult(t *testing.T) {
	c := NewConsensus()
	id := createVote(t, c, []string{"a", "b"}, Weighted)
	if result, ok := c.Finalize(id, nil); !ok || result != "" {
		t.Errorf("Finalize of ballotless vote = %q %v, want empty true", result, ok)
	}
}

func TestConsensus_Expired(t *testing.T) {
	c := NewConsensus()
	past, err := c.CreateVote("q", []string{"a"}, SimpleMajority, 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.CreateVote("q", []string{"a"}, SimpleMajority, 60_000); err != nil {
		t.Fatal(err)
	}
	createVote(t, c, []string{"a"}, SimpleMajority) // no deadline

	// Only the vote past its deadline shows up.
	got := c.Expired(NowMillis() + 10)
	if len(got) != 1 || got[0] != past {
		t.Fatalf("Expired = %v, want [%s]", got, past)
	}
	c.Finalize(past, nil)
	if got := c.Expired(NowMillis() + 10); len(got) != 0 {
		t.Errorf("Expired after finalize = %v, want none", got)
	}

	if all := c.All(); len(all) != 3 || all[0].ID != past {
		t.Errorf("All() = %d votes, want 3 in creation order", len(all))
	}
}
