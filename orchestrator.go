package hive

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Orchestrator defaults.
const (
	DefaultMaxAgents            = 10
	DefaultAgentTimeout         = 5 * time.Minute
	DefaultRetention            = 24 * time.Hour
	DefaultHousekeepingInterval = 10 * time.Second
	DefaultVotingTimeout        = time.Minute
	DefaultSections             = 10
)

// Orchestrator composes the registry, knowledge base, task scheduler,
// consensus manager, coordinator, and a root supervisor into one façade,
// and runs the housekeeping loop that enforces message retention, task
// deadlines, and vote deadlines.
//
// Agents spawned through the orchestrator are passive: they hold a
// registry record and a mailbox but no message loop, and are driven by
// ReceiveMessages. Long-running actors built on Runtime share the same
// registry and interoperate freely.
type Orchestrator struct {
	registry    *Registry
	knowledge   *KnowledgeBase
	scheduler   *TaskScheduler
	consensus   *Consensus
	coordinator *Coordinator
	supervisor  *Supervisor
	store       KnowledgeStore
	logger      *slog.Logger

	maxAgents       int
	agentTimeout    time.Duration
	retention       time.Duration
	interval        time.Duration
	defaultVoteType VoteType
	votingTimeout   time.Duration
	sections        int

	registryOpts    []RegistryOption
	knowledgeOpts   []KnowledgeOption
	schedulerOpts   []SchedulerOption
	supervisorOpts  []SupervisorOption
	coordinatorOpts []CoordinatorOption
	onTaskResult    func(TaskResult)
	onVoteFinalized func(voteID, result string)

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	done    chan struct{}
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithMaxAgents caps the number of registered agents (default 10).
func WithMaxAgents(n int) OrchestratorOption {
	return func(o *Orchestrator) { o.maxAgents = n }
}

// WithAgentTimeout sets how long a RUNNING agent may sit unhealthy and
// inactive before housekeeping marks it FAILED (default 5m).
func WithAgentTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.agentTimeout = d }
}

// WithRetention sets how long undelivered messages survive in mailboxes
// (default 24h).
func WithRetention(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.retention = d }
}

// WithHousekeepingInterval sets the housekeeping cadence (default 10s).
func WithHousekeepingInterval(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.interval = d }
}

// WithDefaultVoteType sets the type used when CreateVote is given an
// empty type name (default SimpleMajority).
func WithDefaultVoteType(vt VoteType) OrchestratorOption {
	return func(o *Orchestrator) { o.defaultVoteType = vt }
}

// WithVotingTimeout sets the deadline applied to votes created without
// one (default 1m; 0 leaves such votes open forever).
func WithVotingTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.votingTimeout = d }
}

// WithSections sets the coordinator's section count (default 10).
func WithSections(n int) OrchestratorOption {
	return func(o *Orchestrator) { o.sections = n }
}

// WithKnowledgeStore attaches persistence: entries load on Start and
// save on every put and on Stop.
func WithKnowledgeStore(st KnowledgeStore) OrchestratorOption {
	return func(o *Orchestrator) { o.store = st }
}

// WithRegistryOptions forwards options to the composed registry.
func WithRegistryOptions(opts ...RegistryOption) OrchestratorOption {
	return func(o *Orchestrator) { o.registryOpts = opts }
}

// WithKnowledgeOptions forwards options to the composed knowledge base.
func WithKnowledgeOptions(opts ...KnowledgeOption) OrchestratorOption {
	return func(o *Orchestrator) { o.knowledgeOpts = opts }
}

// WithSchedulerOptions forwards options to the composed scheduler.
func WithSchedulerOptions(opts ...SchedulerOption) OrchestratorOption {
	return func(o *Orchestrator) { o.schedulerOpts = opts }
}

// WithSupervisorOptions forwards options to the root supervisor.
func WithSupervisorOptions(opts ...SupervisorOption) OrchestratorOption {
	return func(o *Orchestrator) { o.supervisorOpts = opts }
}

// WithCoordinatorOptions forwards options to the composed coordinator.
func WithCoordinatorOptions(opts ...CoordinatorOption) OrchestratorOption {
	return func(o *Orchestrator) { o.coordinatorOpts = opts }
}

// WithTaskResultFunc registers fn to observe every recorded task result,
// including deadline expiries from housekeeping.
func WithTaskResultFunc(fn func(TaskResult)) OrchestratorOption {
	return func(o *Orchestrator) { o.onTaskResult = fn }
}

// WithVoteFinalizedFunc registers fn to observe every vote finalization,
// including deadline finalizations from housekeeping.
func WithVoteFinalizedFunc(fn func(voteID, result string)) OrchestratorOption {
	return func(o *Orchestrator) { o.onVoteFinalized = fn }
}

// WithOrchestratorLogger sets the structured logger. If not set, a no-op
// logger is used (no output).
func WithOrchestratorLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = l }
}

// coordinatorID and supervisorID are the well-known ids of the agents
// the orchestrator owns.
const (
	coordinatorID  = "coordinator"
	supervisorID   = "root-supervisor"
	orchestratorID = "orchestrator"
)

// NewOrchestrator builds the composed runtime. Call Start before use.
func NewOrchestrator(opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		maxAgents:       DefaultMaxAgents,
		agentTimeout:    DefaultAgentTimeout,
		retention:       DefaultRetention,
		interval:        DefaultHousekeepingInterval,
		defaultVoteType: SimpleMajority,
		votingTimeout:   DefaultVotingTimeout,
		sections:        DefaultSections,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = nopLogger
	}
	o.registry = NewRegistry(o.registryOpts...)
	kbOpts := append([]KnowledgeOption{WithUpdateFunc(o.notifySubscriber)}, o.knowledgeOpts...)
	o.knowledge = NewKnowledgeBase(kbOpts...)
	o.scheduler = NewTaskScheduler(o.schedulerOpts...)
	o.consensus = NewConsensus()
	coordOpts := append([]CoordinatorOption{WithCoordinatorLogger(o.logger)}, o.coordinatorOpts...)
	o.coordinator = NewCoordinator(coordinatorID, o.registry, o.sections, coordOpts...)
	supOpts := append([]SupervisorOption{WithSupervisorLogger(o.logger)}, o.supervisorOpts...)
	o.supervisor = NewSupervisor(supervisorID, o.registry, supOpts...)
	return o
}

// Registry exposes the composed registry so Runtime agents can join.
func (o *Orchestrator) Registry() *Registry { return o.registry }

// Coordinator exposes the composed document coordinator.
func (o *Orchestrator) Coordinator() *Coordinator { return o.coordinator }

// Supervisor exposes the root supervisor; callers hang Runtime children
// off it.
func (o *Orchestrator) Supervisor() *Supervisor { return o.supervisor }

// Start loads persisted knowledge, starts the coordinator and root
// supervisor, and launches housekeeping. Idempotent.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return nil
	}

	if o.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := o.store.Init(ctx); err != nil {
			return fmt.Errorf("init knowledge store: %w", err)
		}
		entries, err := o.store.LoadEntries(ctx)
		if err != nil {
			return fmt.Errorf("load knowledge: %w", err)
		}
		if len(entries) > 0 {
			o.knowledge.Restore(entries)
			o.logger.Info("knowledge loaded", "entries", len(entries))
		}
	}

	if err := o.coordinator.Start(); err != nil {
		return err
	}
	if err := o.supervisor.Start(); err != nil {
		o.coordinator.Stop()
		return err
	}

	o.stop = make(chan struct{})
	o.done = make(chan struct{})
	go o.housekeeping()
	o.started = true
	o.logger.Info("orchestrator started",
		"max_agents", o.maxAgents, "sections", o.sections)
	return nil
}

// Stop halts housekeeping, persists knowledge, and stops the supervisor
// and coordinator. Idempotent.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.started {
		return
	}
	close(o.stop)
	<-o.done

	if o.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := o.store.SaveEntries(ctx, o.knowledge.Snapshot()); err != nil {
			o.logger.Error("save knowledge on stop", "error", err)
		}
		cancel()
	}
	o.supervisor.Stop()
	o.coordinator.Stop()
	o.started = false
	o.logger.Info("orchestrator stopped")
}

// notifySubscriber turns a knowledge update into an EVENT message in the
// subscriber's mailbox, keeping the single-threaded-per-agent invariant.
func (o *Orchestrator) notifySubscriber(subscriberID string, entry KnowledgeEntry) {
	m, err := NewMessage(orchestratorID, subscriberID, KindEvent, KnowledgeEventPayload{
		Key:         entry.Key,
		Value:       entry.Value,
		Contributor: entry.Contributor,
		Version:     entry.Version,
		Tags:        entry.Tags,
	})
	if err != nil {
		return
	}
	m.Subject = "knowledge_update"
	if err := o.registry.Route(m); err != nil {
		o.logger.Debug("subscriber unreachable", "subscriber", subscriberID, "key", entry.Key)
	}
}

// --- Agents ---

// SpawnAgent registers a passive agent. An empty id is assigned one.
// Fails with ErrCapacity at the agent cap, ErrConflict on id reuse, and
// ErrSlotTaken on an occupied slot.
func (o *Orchestrator) SpawnAgent(id, role string, slot int, capabilities []string, config map[string]string) (string, error) {
	if o.maxAgents > 0 && o.registry.Count() >= o.maxAgents {
		return "", fmt.Errorf("%w: %d agents", ErrCapacity, o.maxAgents)
	}
	if id == "" {
		id = NewID()
	}
	err := o.registry.Register(AgentInfo{
		ID:           id,
		Role:         role,
		Slot:         slot,
		Capabilities: capabilities,
		State:        StateRunning,
		Config:       config,
	})
	if err != nil {
		return "", err
	}
	o.logger.Info("agent spawned", "agent", id, "role", role, "slot", slot)
	return id, nil
}

// TerminateAgent releases the agent's section locks and removes it from
// the registry.
func (o *Orchestrator) TerminateAgent(id string) error {
	if id == coordinatorID || id == supervisorID {
		return fmt.Errorf("%w: agent %s is system-owned", ErrInvalid, id)
	}
	o.coordinator.ReleaseAgentLocks(id)
	if err := o.registry.Unregister(id); err != nil {
		return err
	}
	o.logger.Info("agent terminated", "agent", id)
	return nil
}

// GetAgent returns the registry record for one agent.
func (o *Orchestrator) GetAgent(id string) (AgentInfo, bool) {
	return o.registry.Get(id)
}

// ListAgents returns every registered agent ordered by id.
func (o *Orchestrator) ListAgents() []AgentInfo {
	return o.registry.All()
}

// --- Tasks ---

// SubmitTask forwards to the scheduler.
func (o *Orchestrator) SubmitTask(t Task) (string, error) {
	id, err := o.scheduler.Submit(t)
	if err != nil {
		return "", err
	}
	o.logger.Debug("task submitted", "task", id, "type", t.Type.String(), "priority", t.Priority)
	return id, nil
}

// SubmitWorkflow submits a batch of tasks sharing a generated workflow
// id as their parent. Tasks may carry their own ids so later tasks can
// depend on earlier ones. Submission is not transactional: on error the
// already-submitted ids are returned with it.
func (o *Orchestrator) SubmitWorkflow(tasks []Task) (string, []string, error) {
	workflowID := NewID()
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		t.Parent = workflowID
		id, err := o.scheduler.Submit(t)
		if err != nil {
			return workflowID, ids, fmt.Errorf("workflow %s: %w", workflowID, err)
		}
		ids = append(ids, id)
	}
	o.logger.Info("workflow scheduled", "workflow", workflowID, "tasks", len(ids))
	return workflowID, ids, nil
}

// NextTask returns the highest-priority ready task matching roles.
func (o *Orchestrator) NextTask(roles []string) (Task, bool) {
	return o.scheduler.NextTask(roles)
}

// AssignTask marks a task ASSIGNED to an agent and records it as the
// agent's current task.
func (o *Orchestrator) AssignTask(taskID, agentID string) error {
	if err := o.scheduler.UpdateStatus(taskID, TaskAssigned, agentID); err != nil {
		return err
	}
	o.registry.UpdateCurrentTask(agentID, taskID)
	return nil
}

// UpdateTaskStatus forwards to the scheduler.
func (o *Orchestrator) UpdateTaskStatus(taskID string, status TaskStatus, agentID string) error {
	return o.scheduler.UpdateStatus(taskID, status, agentID)
}

// CompleteTask records a successful result and clears the executing
// agent's current task.
func (o *Orchestrator) CompleteTask(taskID string, result TaskResult) error {
	if err := o.scheduler.Complete(taskID, result); err != nil {
		return err
	}
	if result.AgentID != "" {
		o.registry.UpdateCurrentTask(result.AgentID, "")
	}
	o.reportTaskResult(taskID)
	return nil
}

// FailTask records a failure. Dependents stay blocked.
func (o *Orchestrator) FailTask(taskID, errMsg string) error {
	if t, ok := o.scheduler.Get(taskID); ok && t.AssignedAgent != "" {
		o.registry.UpdateCurrentTask(t.AssignedAgent, "")
	}
	if err := o.scheduler.Fail(taskID, errMsg); err != nil {
		return err
	}
	o.reportTaskResult(taskID)
	return nil
}

// reportTaskResult feeds the stored result of a finished task to the
// observer hook.
func (o *Orchestrator) reportTaskResult(taskID string) {
	if o.onTaskResult == nil {
		return
	}
	if res, ok := o.scheduler.Result(taskID); ok {
		o.onTaskResult(res)
	}
}

// CancelTask forwards to the scheduler.
func (o *Orchestrator) CancelTask(taskID string) error {
	return o.scheduler.Cancel(taskID)
}

// GetTask returns the task with its result attached when available.
func (o *Orchestrator) GetTask(taskID string) (Task, bool) {
	return o.scheduler.Get(taskID)
}

// GetTaskResult returns the stored result for a finished task.
func (o *Orchestrator) GetTaskResult(taskID string) (TaskResult, bool) {
	return o.scheduler.Result(taskID)
}

// ListTasks returns every known task ordered by submission.
func (o *Orchestrator) ListTasks() []Task {
	return o.scheduler.All()
}

// --- Knowledge ---

// PutKnowledge appends a new version and, when a store is attached,
// persists the full snapshot.
func (o *Orchestrator) PutKnowledge(key, value, contributor string, tags []string) (KnowledgeEntry, error) {
	entry, err := o.knowledge.Put(key, value, contributor, tags)
	if err != nil {
		return KnowledgeEntry{}, err
	}
	if o.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if serr := o.store.SaveEntries(ctx, o.knowledge.Snapshot()); serr != nil {
			o.logger.Error("persist knowledge", "key", key, "error", serr)
		}
		cancel()
	}
	return entry, nil
}

// GetKnowledge returns the latest version for key.
func (o *Orchestrator) GetKnowledge(key string) (KnowledgeEntry, bool) {
	return o.knowledge.Get(key)
}

// KnowledgeHistory returns every version for key, oldest first.
func (o *Orchestrator) KnowledgeHistory(key string) []KnowledgeEntry {
	return o.knowledge.History(key)
}

// QueryKnowledge returns the latest entries carrying all given tags.
func (o *Orchestrator) QueryKnowledge(tags []string) []KnowledgeEntry {
	return o.knowledge.Query(tags)
}

// SubscribeKnowledge registers an agent for EVENT messages on key
// updates.
func (o *Orchestrator) SubscribeKnowledge(key, agentID string) {
	o.knowledge.Subscribe(key, agentID)
}

// UnsubscribeKnowledge removes the subscription.
func (o *Orchestrator) UnsubscribeKnowledge(key, agentID string) {
	o.knowledge.Unsubscribe(key, agentID)
}

// --- Consensus ---

// CreateVote opens a vote. A zero deadline falls back to the configured
// voting timeout.
func (o *Orchestrator) CreateVote(question string, options []string, vt VoteType, deadlineMs int64) (string, error) {
	if deadlineMs <= 0 && o.votingTimeout > 0 {
		deadlineMs = o.votingTimeout.Milliseconds()
	}
	return o.consensus.CreateVote(question, options, vt, deadlineMs)
}

// DefaultVoteType returns the type used when callers name none.
func (o *Orchestrator) DefaultVoteType() VoteType { return o.defaultVoteType }

// CastVote forwards to the consensus manager.
func (o *Orchestrator) CastVote(voteID, agentID, option string, weight float64) error {
	return o.consensus.Cast(voteID, agentID, option, weight)
}

// FinalizeVote seals the vote against the current agent population.
func (o *Orchestrator) FinalizeVote(voteID string) (string, bool) {
	result, ok := o.consensus.Finalize(voteID, o.agentIDs())
	if ok && o.onVoteFinalized != nil {
		o.onVoteFinalized(voteID, result)
	}
	return result, ok
}

// GetVote returns a copy of the vote.
func (o *Orchestrator) GetVote(voteID string) (Vote, bool) {
	return o.consensus.Get(voteID)
}

// ListVotes returns every vote in creation order.
func (o *Orchestrator) ListVotes() []Vote {
	return o.consensus.All()
}

func (o *Orchestrator) agentIDs() []string {
	agents := o.registry.All()
	ids := make([]string, len(agents))
	for i, a := range agents {
		ids[i] = a.ID
	}
	return ids
}

// --- Messaging ---

// SendMessage routes a message to its recipient's mailbox.
func (o *Orchestrator) SendMessage(m Message) error {
	if m.ID == "" {
		m.ID = NewID()
	}
	if m.Timestamp == 0 {
		m.Timestamp = NowMillis()
	}
	return o.registry.Route(m)
}

// BroadcastMessage delivers a copy to every agent except the sender,
// returning the recipient count.
func (o *Orchestrator) BroadcastMessage(m Message) int {
	if m.ID == "" {
		m.ID = NewID()
	}
	if m.Timestamp == 0 {
		m.Timestamp = NowMillis()
	}
	return o.registry.Broadcast(m)
}

// ReceiveMessages drains up to max messages from a passive agent's
// mailbox.
func (o *Orchestrator) ReceiveMessages(agentID string, max int) ([]Message, error) {
	mb := o.registry.Mailbox(agentID)
	if mb == nil {
		return nil, fmt.Errorf("%w: agent %s", ErrNotFound, agentID)
	}
	return mb.Take(max), nil
}

// --- Stats ---

// AgentStats aggregates the agent population by observed condition.
type AgentStats struct {
	Total   int `json:"total"`
	Idle    int `json:"idle"`
	Busy    int `json:"busy"`
	Error   int `json:"error"`
	Offline int `json:"offline"`
}

// TaskStats aggregates the task population.
type TaskStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// KnowledgeStats counts knowledge keys.
type KnowledgeStats struct {
	Entries int `json:"entries"`
}

// Stats is the orchestrator-level aggregate view.
type Stats struct {
	Agents    AgentStats     `json:"agents"`
	Tasks     TaskStats      `json:"tasks"`
	Knowledge KnowledgeStats `json:"knowledge_base"`
}

// GetStats computes the aggregate view. Busy means RUNNING with a
// current task, idle RUNNING without one, error FAILED, offline
// everything else.
func (o *Orchestrator) GetStats() Stats {
	var s Stats
	for _, a := range o.registry.All() {
		s.Agents.Total++
		switch {
		case a.State == StateRunning && a.CurrentTask != "":
			s.Agents.Busy++
		case a.State == StateRunning:
			s.Agents.Idle++
		case a.State == StateFailed:
			s.Agents.Error++
		default:
			s.Agents.Offline++
		}
	}
	tasks := o.scheduler.All()
	s.Tasks.Total = len(tasks)
	for _, t := range tasks {
		switch t.Status {
		case TaskPending:
			s.Tasks.Pending++
		case TaskCompleted:
			s.Tasks.Completed++
		case TaskFailed:
			s.Tasks.Failed++
		}
	}
	s.Knowledge.Entries = o.knowledge.KeyCount()
	return s
}

// housekeeping sweeps expired messages, overdue tasks, deadline-passed
// votes, and dead agents at a steady cadence.
func (o *Orchestrator) housekeeping() {
	defer close(o.done)
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	for {
		select {
		case <-o.stop:
			return
		case <-ticker.C:
			o.sweep()
		}
	}
}

func (o *Orchestrator) sweep() {
	now := NowMillis()

	if dropped := o.registry.DiscardOlderThan(now - o.retention.Milliseconds()); dropped > 0 {
		o.logger.Debug("expired messages dropped", "count", dropped)
	}

	for _, id := range o.scheduler.ExpireOverdue(now) {
		o.logger.Warn("task deadline exceeded", "task", id)
		o.reportTaskResult(id)
	}

	for _, id := range o.consensus.Expired(now) {
		if result, ok := o.FinalizeVote(id); ok {
			o.logger.Info("vote finalized on deadline", "vote", id, "result", result)
		}
	}

	// Passive agents that stopped polling eventually count as failed.
	cutoff := now - o.agentTimeout.Milliseconds()
	for _, a := range o.registry.ByState(StateRunning) {
		h := o.registry.Health(a.ID)
		if h != nil && !h.Healthy() && a.LastActivity < cutoff && h.LastBeat() < cutoff {
			o.registry.UpdateState(a.ID, StateFailed)
			o.logger.Warn("agent timed out", "agent", a.ID)
		}
	}
}
