package hive

import (
	"fmt"
	"sync"
)

// VoteType selects the threshold a vote must clear.
type VoteType int

const (
	SimpleMajority VoteType = iota
	Supermajority
	Unanimous
	Weighted
)

var voteTypeNames = map[VoteType]string{
	SimpleMajority: "simple_majority",
	Supermajority:  "supermajority",
	Unanimous:      "unanimous",
	Weighted:       "weighted",
}

// String returns the lower_snake_case wire name of the type.
func (t VoteType) String() string {
	if name, ok := voteTypeNames[t]; ok {
		return name
	}
	return "simple_majority"
}

// ParseVoteType maps a wire name back to its VoteType.
func ParseVoteType(s string) (VoteType, error) {
	for t, name := range voteTypeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: vote type %q", ErrInvalid, s)
}

// Vote is one question put to the agents. Ballots are re-castable until
// finalisation; afterwards the vote is immutable.
type Vote struct {
	ID        string             `json:"id"`
	Question  string             `json:"question"`
	Options   []string           `json:"options"`
	Type      VoteType           `json:"-"`
	TypeName  string             `json:"type"`
	Ballots   map[string]string  `json:"ballots,omitempty"`
	Weights   map[string]float64 `json:"weights,omitempty"`
	Deadline  int64              `json:"deadline_ms,omitempty"` // absolute, 0 = none
	Result    string             `json:"result"`
	Finalized bool               `json:"finalized"`
	CreatedAt int64              `json:"created_at"`
}

// Consensus collects ballots and evaluates them against the vote's
// threshold. All state sits behind one mutex; operations are short.
type Consensus struct {
	mu    sync.Mutex
	votes map[string]*Vote
	order []string
}

// NewConsensus returns an empty vote collection.
func NewConsensus() *Consensus {
	return &Consensus{votes: make(map[string]*Vote)}
}

// CreateVote opens a vote over the given options. A positive deadlineMs
// is converted to an absolute deadline; the housekeeping loop finalizes
// votes past it. Duplicate options or an empty option list are rejected.
func (c *Consensus) CreateVote(question string, options []string, vt VoteType, deadlineMs int64) (string, error) {
	if len(options) == 0 {
		return "", fmt.Errorf("%w: vote without options", ErrInvalid)
	}
	seen := make(map[string]bool, len(options))
	for _, o := range options {
		if o == "" || seen[o] {
			return "", fmt.Errorf("%w: duplicate or empty option %q", ErrInvalid, o)
		}
		seen[o] = true
	}
	v := &Vote{
		ID:        NewID(),
		Question:  question,
		Options:   append([]string(nil), options...),
		Type:      vt,
		TypeName:  vt.String(),
		Ballots:   make(map[string]string),
		Weights:   make(map[string]float64),
		CreatedAt: NowMillis(),
	}
	if deadlineMs > 0 {
		v.Deadline = v.CreatedAt + deadlineMs
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.votes[v.ID] = v
	c.order = append(c.order, v.ID)
	return v.ID, nil
}

// Cast records a ballot. It fails on an unknown vote, a finalized vote,
// or an undeclared option. Recasting overwrites the agent's previous
// ballot and weight. Weight is only consulted for WEIGHTED votes.
func (c *Consensus) Cast(voteID, agentID, option string, weight float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.votes[voteID]
	if !ok {
		return fmt.Errorf("%w: vote %s", ErrNotFound, voteID)
	}
	if v.Finalized {
		return fmt.Errorf("%w: vote %s", ErrFinalized, voteID)
	}
	declared := false
	for _, o := range v.Options {
		if o == option {
			declared = true
			break
		}
	}
	if !declared {
		return fmt.Errorf("%w: option %q not declared on vote %s", ErrInvalid, option, voteID)
	}
	if weight <= 0 {
		weight = 1.0
	}
	v.Ballots[agentID] = option
	v.Weights[agentID] = weight
	return nil
}

// Finalize evaluates the ballots and seals the vote, returning its
// result. Idempotent: a second call reports false and changes nothing.
// The eligible list is accepted for future quorum enforcement and does
// not affect the calculation.
func (c *Consensus) Finalize(voteID string, eligible []string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.votes[voteID]
	if !ok || v.Finalized {
		return "", false
	}
	v.Result = calculateResult(v)
	v.Finalized = true
	return v.Result, true
}

// calculateResult tallies ballots deterministically: weights apply only
// to WEIGHTED votes, the winner is the heaviest option with ties broken
// by declaration order, and the winner's share decides against the
// threshold.
func calculateResult(v *Vote) string {
	totals := make(map[string]float64, len(v.Options))
	var totalWeight float64
	for agent, option := range v.Ballots {
		w := 1.0
		if v.Type == Weighted {
			if bw, ok := v.Weights[agent]; ok && bw > 0 {
				w = bw
			}
		}
		totals[option] += w
		totalWeight += w
	}
	if totalWeight == 0 {
		return ""
	}

	winner := ""
	var winnerWeight float64
	for _, option := range v.Options {
		if w := totals[option]; w > winnerWeight {
			winner = option
			winnerWeight = w
		}
	}
	share := winnerWeight / totalWeight

	switch v.Type {
	case SimpleMajority:
		if share > 0.5 {
			return winner
		}
		return ""
	case Supermajority:
		if share >= 0.66 {
			return winner
		}
		return ""
	case Unanimous:
		if share >= 1.0 {
			return winner
		}
		return ""
	default: // Weighted
		return winner
	}
}

// Get returns a copy of the vote with its ballot and weight maps cloned.
func (c *Consensus) Get(voteID string) (Vote, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.votes[voteID]
	if !ok {
		return Vote{}, false
	}
	return cloneVote(v), true
}

// IsFinalized reports whether the vote exists and has been sealed.
func (c *Consensus) IsFinalized(voteID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.votes[voteID]
	return ok && v.Finalized
}

// All returns every vote in creation order.
func (c *Consensus) All() []Vote {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Vote, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, cloneVote(c.votes[id]))
	}
	return out
}

// Expired returns the ids of unfinalized votes whose deadline has
// passed, oldest first. The housekeeping loop finalizes them.
func (c *Consensus) Expired(nowMillis int64) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, id := range c.order {
		v := c.votes[id]
		if !v.Finalized && v.Deadline > 0 && v.Deadline <= nowMillis {
			out = append(out, id)
		}
	}
	return out
}

func cloneVote(v *Vote) Vote {
	out := *v
	out.Options = append([]string(nil), v.Options...)
	out.Ballots = make(map[string]string, len(v.Ballots))
	for k, val := range v.Ballots {
		out.Ballots[k] = val
	}
	out.Weights = make(map[string]float64, len(v.Weights))
	for k, val := range v.Weights {
		out.Weights[k] = val
	}
	return out
}
