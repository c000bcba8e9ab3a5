package hive

import (
	"fmt"
	"sort"
	"sync"
)

// AgentState is an agent's lifecycle position.
type AgentState int32

const (
	StateCreated AgentState = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
	StateFailed
)

var stateNames = map[AgentState]string{
	StateCreated:  "created",
	StateStarting: "starting",
	StateRunning:  "running",
	StateStopping: "stopping",
	StateStopped:  "stopped",
	StateFailed:   "failed",
}

// String returns the lower_snake_case wire name of the state.
func (s AgentState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "created"
}

// ParseAgentState maps a wire name back to its AgentState.
func ParseAgentState(s string) (AgentState, error) {
	for st, name := range stateNames {
		if name == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("%w: agent state %q", ErrInvalid, s)
}

// AgentInfo is the registry's record of one agent. Slot is a reservation
// tying the agent to an external worker; a negative slot means no
// reservation (internal agents such as coordinators hold none).
type AgentInfo struct {
	ID           string            `json:"id"`
	Role         string            `json:"role"`
	Slot         int               `json:"slot"`
	Capabilities []string          `json:"capabilities,omitempty"`
	State        AgentState        `json:"-"`
	StateName    string            `json:"state"`
	CurrentTask  string            `json:"current_task,omitempty"`
	CreatedAt    int64             `json:"created_at"`
	LastActivity int64             `json:"last_activity"`
	Config       map[string]string `json:"config,omitempty"`
}

type agentEntry struct {
	info    AgentInfo
	mailbox *Mailbox
	health  *Health
	breaker *Breaker
}

// Registry is the process-wide agent directory: id and slot lookup,
// message routing, broadcast. Every registered agent owns a mailbox, a
// health record, and a circuit breaker.
type Registry struct {
	mu    sync.RWMutex
	items map[string]*agentEntry
	slots map[int]string // slot → agent id

	mailboxCap  int
	maxMsgSize  int
	hbTimeoutMs int64
	breakerOpts []BreakerOption
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithMailboxCapacity sets the per-agent mailbox bound (default 10 000).
func WithMailboxCapacity(n int) RegistryOption {
	return func(r *Registry) { r.mailboxCap = n }
}

// WithMaxMessageSize caps the encoded payload size accepted by Route and
// Broadcast, in bytes (default 1 048 576; 0 disables the check).
func WithMaxMessageSize(n int) RegistryOption {
	return func(r *Registry) { r.maxMsgSize = n }
}

// WithHeartbeatTimeout sets the liveness window for registered agents, in
// milliseconds (default 5 000).
func WithHeartbeatTimeout(ms int64) RegistryOption {
	return func(r *Registry) { r.hbTimeoutMs = ms }
}

// WithBreakerOptions sets the circuit-breaker configuration applied to
// each agent registered afterward.
func WithBreakerOptions(opts ...BreakerOption) RegistryOption {
	return func(r *Registry) { r.breakerOpts = opts }
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		items:      make(map[string]*agentEntry),
		slots:      make(map[int]string),
		mailboxCap: DefaultMailboxCapacity,
		maxMsgSize: 1 << 20,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds an agent. It fails with ErrConflict on a duplicate id and
// ErrSlotTaken when the slot is already reserved. Zero CreatedAt and
// LastActivity are stamped with the current time.
func (r *Registry) Register(info AgentInfo) error {
	if info.ID == "" {
		return fmt.Errorf("%w: empty agent id", ErrInvalid)
	}
	now := NowMillis()
	if info.CreatedAt == 0 {
		info.CreatedAt = now
	}
	if info.LastActivity == 0 {
		info.LastActivity = now
	}
	info.StateName = info.State.String()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[info.ID]; ok {
		return fmt.Errorf("%w: agent %s", ErrConflict, info.ID)
	}
	if info.Slot >= 0 {
		if holder, ok := r.slots[info.Slot]; ok {
			return fmt.Errorf("%w: slot %d held by %s", ErrSlotTaken, info.Slot, holder)
		}
		r.slots[info.Slot] = info.ID
	}
	r.items[info.ID] = &agentEntry{
		info:    info,
		mailbox: NewMailbox(r.mailboxCap),
		health:  NewHealth(r.hbTimeoutMs),
		breaker: NewBreaker(r.breakerOpts...),
	}
	return nil
}

// Unregister removes an agent, releasing its slot and closing its
// mailbox.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.items[id]
	if !ok {
		return fmt.Errorf("%w: agent %s", ErrNotFound, id)
	}
	if e.info.Slot >= 0 {
		delete(r.slots, e.info.Slot)
	}
	delete(r.items, id)
	e.mailbox.Close()
	return nil
}

// Get returns a copy of the agent's record.
func (r *Registry) Get(id string) (AgentInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.items[id]
	if !ok {
		return AgentInfo{}, false
	}
	return e.info, true
}

// Mailbox returns the agent's mailbox, or nil if unknown.
func (r *Registry) Mailbox(id string) *Mailbox {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.items[id]; ok {
		return e.mailbox
	}
	return nil
}

// Health returns the agent's health record, or nil if unknown.
func (r *Registry) Health(id string) *Health {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.items[id]; ok {
		return e.health
	}
	return nil
}

// Breaker returns the agent's circuit breaker, or nil if unknown.
func (r *Registry) Breaker(id string) *Breaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.items[id]; ok {
		return e.breaker
	}
	return nil
}

// UpdateState records a lifecycle transition and refreshes last activity.
func (r *Registry) UpdateState(id string, state AgentState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.items[id]
	if !ok {
		return false
	}
	e.info.State = state
	e.info.StateName = state.String()
	e.info.LastActivity = NowMillis()
	return true
}

// UpdateCurrentTask records the task an agent is working on (empty clears
// it) and refreshes last activity.
func (r *Registry) UpdateCurrentTask(id, taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.items[id]
	if !ok {
		return false
	}
	e.info.CurrentTask = taskID
	e.info.LastActivity = NowMillis()
	return true
}

// ByRole returns agents with the given role, ordered by id.
func (r *Registry) ByRole(role string) []AgentInfo {
	return r.filter(func(a AgentInfo) bool { return a.Role == role })
}

// ByState returns agents in the given state, ordered by id.
func (r *Registry) ByState(state AgentState) []AgentInfo {
	return r.filter(func(a AgentInfo) bool { return a.State == state })
}

// All returns every registered agent, ordered by id.
func (r *Registry) All() []AgentInfo {
	return r.filter(func(AgentInfo) bool { return true })
}

func (r *Registry) filter(keep func(AgentInfo) bool) []AgentInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AgentInfo, 0, len(r.items))
	for _, e := range r.items {
		if keep(e.info) {
			out = append(out, e.info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// BySlot returns the agent holding a slot reservation.
func (r *Registry) BySlot(slot int) (AgentInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.slots[slot]
	if !ok {
		return AgentInfo{}, false
	}
	return r.items[id].info, true
}

// IsSlotAgent reports whether the agent holds the given slot.
func (r *Registry) IsSlotAgent(id string, slot int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.slots[slot] == id
}

// Count returns the number of registered agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// DiscardOlderThan drops messages older than cutoff (Unix milliseconds)
// from every registered mailbox, returning the total dropped. The
// housekeeping loop calls this to enforce retention.
func (r *Registry) DiscardOlderThan(cutoff int64) int {
	r.mu.RLock()
	boxes := make([]*Mailbox, 0, len(r.items))
	for _, e := range r.items {
		boxes = append(boxes, e.mailbox)
	}
	r.mu.RUnlock()

	dropped := 0
	for _, mb := range boxes {
		dropped += mb.DiscardBefore(cutoff)
	}
	return dropped
}

// Route delivers m to the recipient's mailbox. Only a RUNNING recipient
// accepts new messages; a message to a registered agent in any other
// state is silently dropped, so nothing queued against a stopped agent
// replays when it restarts. The mailbox is resolved under the read lock
// but the deposit happens outside it, so delivery never holds the
// registry lock.
func (r *Registry) Route(m Message) error {
	if m.To == "" {
		return fmt.Errorf("%w: message without recipient", ErrInvalid)
	}
	if r.maxMsgSize > 0 && len(m.Payload) > r.maxMsgSize {
		return fmt.Errorf("%w: payload %d bytes exceeds %d", ErrCapacity, len(m.Payload), r.maxMsgSize)
	}
	r.mu.RLock()
	e, ok := r.items[m.To]
	var mb *Mailbox
	var state AgentState
	if ok {
		mb = e.mailbox
		state = e.info.State
	}
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: agent %s", ErrNotFound, m.To)
	}
	if state != StateRunning {
		return nil
	}
	mb.Put(m)
	return nil
}

// Broadcast delivers an independent copy of m to every RUNNING agent
// except the sender and any ids in except. Returns the number of
// recipients.
func (r *Registry) Broadcast(m Message, except ...string) int {
	if r.maxMsgSize > 0 && len(m.Payload) > r.maxMsgSize {
		return 0
	}
	skip := map[string]bool{m.From: true}
	for _, id := range except {
		skip[id] = true
	}

	r.mu.RLock()
	boxes := make(map[string]*Mailbox, len(r.items))
	for id, e := range r.items {
		if !skip[id] && e.info.State == StateRunning {
			boxes[id] = e.mailbox
		}
	}
	r.mu.RUnlock()

	for id, mb := range boxes {
		copy := m
		copy.To = id
		mb.Put(copy)
	}
	return len(boxes)
}
