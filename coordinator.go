package hive

import (
	"context"
	"log/slog"
	"sync"
)

// DefaultSectionSize is the width of one document section in bytes.
const DefaultSectionSize = 1000

// Section is one contiguous byte range of the coordinated document.
type Section struct {
	Start    int    `json:"start"`
	End      int    `json:"end"`
	LockedBy string `json:"locked_by,omitempty"`
}

// Coordinator mediates concurrent editing of a partitioned shared
// document. It is an agent: locks are requested, released, and exercised
// through LOCK_* and DOC_EDIT messages, and all mutation happens inside
// its single-threaded message loop. Successful edits broadcast DOC_UPDATE
// to every agent except the editor.
type Coordinator struct {
	rt       *Runtime
	registry *Registry
	logger   *slog.Logger
	rtOpts   []RuntimeOption

	// mu guards the snapshot accessors; the message loop is the only
	// writer.
	mu          sync.RWMutex
	document    []byte
	sections    []Section
	agentLocks  map[string]map[int]bool
	sectionSize int
	version     int64
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithSectionSize sets the section width in bytes (default 1 000). Edits
// longer than the width are truncated.
func WithSectionSize(n int) CoordinatorOption {
	return func(c *Coordinator) { c.sectionSize = n }
}

// WithCoordinatorLogger sets the structured logger. If not set, a no-op
// logger is used (no output).
func WithCoordinatorLogger(l *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = l }
}

// WithCoordinatorRuntimeOptions forwards options to the coordinator's
// underlying runtime, such as WithMiddleware.
func WithCoordinatorRuntimeOptions(opts ...RuntimeOption) CoordinatorOption {
	return func(c *Coordinator) { c.rtOpts = opts }
}

// NewCoordinator builds a coordinator agent over a document of n equal
// sections.
func NewCoordinator(id string, registry *Registry, numSections int, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		registry:    registry,
		agentLocks:  make(map[string]map[int]bool),
		sectionSize: DefaultSectionSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = nopLogger
	}
	if numSections < 1 {
		numSections = 1
	}
	c.document = make([]byte, numSections*c.sectionSize)
	c.sections = make([]Section, numSections)
	for i := range c.sections {
		c.sections[i] = Section{Start: i * c.sectionSize, End: (i + 1) * c.sectionSize}
	}
	rtOpts := append([]RuntimeOption{
		WithRole("coordinator"),
		WithHandler(KindLockRequest, c.handleLockRequest),
		WithHandler(KindLockRelease, c.handleLockRelease),
		WithHandler(KindDocEdit, c.handleDocEdit),
		WithRuntimeLogger(c.logger),
	}, c.rtOpts...)
	c.rt = NewRuntime(id, registry, rtOpts...)
	return c
}

// ID returns the coordinator's agent id.
func (c *Coordinator) ID() string { return c.rt.ID() }

// Runtime exposes the coordinator's agent runtime.
func (c *Coordinator) Runtime() *Runtime { return c.rt }

// Start launches the coordinator's message loop.
func (c *Coordinator) Start() error { return c.rt.Start() }

// Stop halts the message loop.
func (c *Coordinator) Stop() { c.rt.Stop() }

func (c *Coordinator) handleLockRequest(ctx context.Context, m Message) error {
	var p LockPayload
	if err := m.DecodePayload(&p); err != nil {
		return err
	}

	c.mu.Lock()
	granted := false
	if p.Section >= 0 && p.Section < len(c.sections) {
		s := &c.sections[p.Section]
		if s.LockedBy == "" {
			s.LockedBy = m.From
			held := c.agentLocks[m.From]
			if held == nil {
				held = make(map[int]bool)
				c.agentLocks[m.From] = held
			}
			held[p.Section] = true
			granted = true
		}
	}
	c.mu.Unlock()

	kind := KindLockDenied
	if granted {
		kind = KindLockAcquired
	}
	c.logger.Debug("lock request", "coordinator", c.ID(), "agent", m.From,
		"section", p.Section, "granted", granted)
	// A requester that vanished before the reply is its problem, not a
	// coordinator failure: drop the reply rather than feed the breaker.
	if err := c.rt.Send(m.From, kind, LockPayload{Section: p.Section}); err != nil {
		c.logger.Debug("lock reply dropped, requester unreachable",
			"agent", m.From, "section", p.Section)
	}
	return nil
}

func (c *Coordinator) handleLockRelease(ctx context.Context, m Message) error {
	var p LockPayload
	if err := m.DecodePayload(&p); err != nil {
		return err
	}
	c.mu.Lock()
	c.releaseLocked(m.From, p.Section)
	c.mu.Unlock()
	return nil
}

// releaseLocked clears a lock iff the agent holds it. Callers hold c.mu.
func (c *Coordinator) releaseLocked(agentID string, section int) {
	if section < 0 || section >= len(c.sections) {
		return
	}
	s := &c.sections[section]
	if s.LockedBy != agentID {
		return
	}
	s.LockedBy = ""
	if held := c.agentLocks[agentID]; held != nil {
		delete(held, section)
		if len(held) == 0 {
			delete(c.agentLocks, agentID)
		}
	}
}

func (c *Coordinator) handleDocEdit(ctx context.Context, m Message) error {
	var p EditPayload
	if err := m.DecodePayload(&p); err != nil {
		return err
	}

	// Policy violations are the editor's problem, not a coordinator
	// failure: log and drop rather than feeding the breaker.
	c.mu.Lock()
	if p.Section < 0 || p.Section >= len(c.sections) {
		c.mu.Unlock()
		c.logger.Debug("edit rejected, unknown section", "agent", m.From, "section", p.Section)
		return nil
	}
	s := c.sections[p.Section]
	if s.LockedBy != m.From {
		c.mu.Unlock()
		c.logger.Debug("edit rejected, lock not held", "agent", m.From, "section", p.Section)
		return nil
	}
	content := []byte(p.Content)
	if len(content) > s.End-s.Start {
		content = content[:s.End-s.Start]
	}
	copy(c.document[s.Start:s.End], content)
	// The rest of the section keeps its previous bytes; edits overwrite
	// only the payload's length.
	c.version++
	version := c.version
	c.mu.Unlock()

	update, err := NewMessage(c.ID(), "", KindDocUpdate, UpdatePayload{Section: p.Section, Version: version})
	if err != nil {
		return err
	}
	c.registry.Broadcast(update, m.From)
	c.logger.Debug("section edited", "coordinator", c.ID(), "agent", m.From,
		"section", p.Section, "version", version)
	return nil
}

// ReleaseAgentLocks drops every lock held by the agent. The orchestrator
// calls this when terminating an agent so its sections do not stay locked
// forever.
func (c *Coordinator) ReleaseAgentLocks(agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for section := range c.agentLocks[agentID] {
		s := &c.sections[section]
		if s.LockedBy == agentID {
			s.LockedBy = ""
		}
	}
	delete(c.agentLocks, agentID)
}

// SectionCount returns the number of sections.
func (c *Coordinator) SectionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sections)
}

// SectionInfo returns a snapshot of one section's bounds and holder.
func (c *Coordinator) SectionInfo(i int) (Section, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i < 0 || i >= len(c.sections) {
		return Section{}, false
	}
	return c.sections[i], true
}

// SectionContent returns a copy of one section's bytes.
func (c *Coordinator) SectionContent(i int) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i < 0 || i >= len(c.sections) {
		return nil, false
	}
	s := c.sections[i]
	out := make([]byte, s.End-s.Start)
	copy(out, c.document[s.Start:s.End])
	return out, true
}

// Document returns a copy of the whole document.
func (c *Coordinator) Document() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]byte, len(c.document))
	copy(out, c.document)
	return out
}

// Version returns the number of applied edits.
func (c *Coordinator) Version() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}
