package hive

import (
	"container/heap"
	"fmt"
	"sort"
	"sync"
)

// DefaultMaxQueueSize caps the number of non-terminal tasks the scheduler
// will hold.
const DefaultMaxQueueSize = 1000

// readyItem is one heap entry: higher priority first, FIFO by submission
// among equals.
type readyItem struct {
	id       string
	priority int
	seq      int64
}

type readyHeap []readyItem

func (h readyHeap) Len() int { return len(h) }
func (h readyHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h readyHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *readyHeap) Push(x any)        { *h = append(*h, x.(readyItem)) }
func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

type taskRec struct {
	task       Task
	seq        int64
	queued     bool // currently sitting in the ready heap
	dispatched bool // handed out by NextTask; never re-queued
}

// TaskScheduler orders work by priority with dependency resolution and
// role matching. A task enters the ready queue only when every
// dependency is COMPLETED; failed or cancelled dependencies leave
// dependents blocked.
type TaskScheduler struct {
	mu         sync.Mutex
	tasks      map[string]*taskRec
	dependents map[string][]string // dep id → tasks waiting on it
	ready      readyHeap
	nextSeq    int64
	maxQueue   int
}

// SchedulerOption configures a TaskScheduler.
type SchedulerOption func(*TaskScheduler)

// WithMaxQueueSize caps the number of non-terminal tasks (default 1 000;
// 0 disables the cap).
func WithMaxQueueSize(n int) SchedulerOption {
	return func(s *TaskScheduler) { s.maxQueue = n }
}

// NewTaskScheduler returns an empty scheduler.
func NewTaskScheduler(opts ...SchedulerOption) *TaskScheduler {
	s := &TaskScheduler{
		tasks:      make(map[string]*taskRec),
		dependents: make(map[string][]string),
		maxQueue:   DefaultMaxQueueSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit records a task, wiring its dependency edges, and readies it
// immediately when it has none outstanding. An empty id is assigned one;
// a duplicate id is rejected with ErrConflict.
func (s *TaskScheduler) Submit(t Task) (string, error) {
	if t.ID == "" {
		t.ID = NewID()
	}
	if t.Priority < 0 || t.Priority > 10 {
		return "", fmt.Errorf("%w: priority %d outside 0..10", ErrInvalid, t.Priority)
	}
	if t.CreatedAt == 0 {
		t.CreatedAt = NowMillis()
	}
	t.Status = TaskPending
	t.StatusName = t.Status.String()
	t.TypeName = t.Type.String()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; ok {
		return "", fmt.Errorf("%w: task %s", ErrConflict, t.ID)
	}
	if s.maxQueue > 0 {
		open := 0
		for _, rec := range s.tasks {
			if !rec.task.Status.Terminal() {
				open++
			}
		}
		if open >= s.maxQueue {
			return "", fmt.Errorf("%w: scheduler at %d open tasks", ErrCapacity, s.maxQueue)
		}
	}

	rec := &taskRec{task: t, seq: s.nextSeq}
	s.nextSeq++
	s.tasks[t.ID] = rec
	for _, dep := range t.Dependencies {
		s.dependents[dep] = append(s.dependents[dep], t.ID)
	}
	if s.depsSatisfied(rec) {
		s.enqueue(rec)
	}
	return t.ID, nil
}

// depsSatisfied reports whether every dependency is COMPLETED. Unknown
// dependency ids count as never-completed. Callers hold s.mu.
func (s *TaskScheduler) depsSatisfied(rec *taskRec) bool {
	for _, dep := range rec.task.Dependencies {
		d, ok := s.tasks[dep]
		if !ok || d.task.Status != TaskCompleted {
			return false
		}
	}
	return true
}

func (s *TaskScheduler) enqueue(rec *taskRec) {
	if rec.queued || rec.dispatched || rec.task.Status != TaskPending {
		return
	}
	rec.queued = true
	heap.Push(&s.ready, readyItem{id: rec.task.ID, priority: rec.task.Priority, seq: rec.seq})
}

// NextTask returns the highest-priority ready task whose required roles
// are empty or intersect roles, removing it from the queue. The returned
// task keeps status PENDING; callers assign it explicitly. Returns false
// when nothing matches.
func (s *TaskScheduler) NextTask(roles []string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var skipped []readyItem
	defer func() {
		for _, item := range skipped {
			heap.Push(&s.ready, item)
		}
	}()

	for s.ready.Len() > 0 {
		item := heap.Pop(&s.ready).(readyItem)
		rec, ok := s.tasks[item.id]
		if !ok || !rec.queued || rec.task.Status != TaskPending {
			// Stale entry left behind by a cancel.
			continue
		}
		if !roleMatch(rec.task.RequiredRoles, roles) {
			skipped = append(skipped, item)
			continue
		}
		rec.queued = false
		rec.dispatched = true
		return rec.task, true
	}
	return Task{}, false
}

// roleMatch reports whether required is empty or intersects roles.
func roleMatch(required, roles []string) bool {
	if len(required) == 0 {
		return true
	}
	for _, need := range required {
		for _, have := range roles {
			if need == have {
				return true
			}
		}
	}
	return false
}

// UpdateStatus sets a task's status, recording the assigned agent when
// given.
func (s *TaskScheduler) UpdateStatus(id string, status TaskStatus, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("%w: task %s", ErrNotFound, id)
	}
	rec.task.Status = status
	rec.task.StatusName = status.String()
	if agentID != "" {
		rec.task.AssignedAgent = agentID
	}
	return nil
}

// Complete marks a task COMPLETED, stores its result, and readies every
// dependent whose dependencies are now all COMPLETED. Each dependent
// becomes ready at most once.
func (s *TaskScheduler) Complete(id string, result TaskResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("%w: task %s", ErrNotFound, id)
	}
	if rec.task.Status.Terminal() {
		return fmt.Errorf("%w: task %s already %s", ErrConflict, id, rec.task.Status)
	}
	result.TaskID = id
	result.Success = true
	rec.task.Status = TaskCompleted
	rec.task.StatusName = rec.task.Status.String()
	rec.task.Result = &result
	if result.AgentID != "" {
		rec.task.AssignedAgent = result.AgentID
	}
	for _, depID := range s.dependents[id] {
		if dep, ok := s.tasks[depID]; ok && s.depsSatisfied(dep) {
			s.enqueue(dep)
		}
	}
	return nil
}

// Fail marks a task FAILED with an error result. Dependents stay blocked.
func (s *TaskScheduler) Fail(id, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("%w: task %s", ErrNotFound, id)
	}
	rec.task.Status = TaskFailed
	rec.task.StatusName = rec.task.Status.String()
	rec.task.Result = &TaskResult{TaskID: id, AgentID: rec.task.AssignedAgent, Error: errMsg}
	rec.queued = false
	return nil
}

// Cancel marks a task CANCELLED and removes it from the ready queue. A
// cancelled task is never dispatched and never readies its dependents.
func (s *TaskScheduler) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("%w: task %s", ErrNotFound, id)
	}
	if rec.task.Status.Terminal() {
		return fmt.Errorf("%w: task %s already %s", ErrConflict, id, rec.task.Status)
	}
	rec.task.Status = TaskCancelled
	rec.task.StatusName = rec.task.Status.String()
	rec.queued = false // heap entry, if any, is skipped lazily
	return nil
}

// Get returns a copy of the task.
func (s *TaskScheduler) Get(id string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tasks[id]
	if !ok {
		return Task{}, false
	}
	return rec.task, true
}

// Result returns the stored result for a finished task.
func (s *TaskScheduler) Result(id string) (TaskResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tasks[id]
	if !ok || rec.task.Result == nil {
		return TaskResult{}, false
	}
	return *rec.task.Result, true
}

// All returns every known task ordered by submission.
func (s *TaskScheduler) All() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := make([]*taskRec, 0, len(s.tasks))
	for _, rec := range s.tasks {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].seq < recs[j].seq })
	out := make([]Task, len(recs))
	for i, rec := range recs {
		out[i] = rec.task
	}
	return out
}

// PendingCount returns the number of tasks with status PENDING.
func (s *TaskScheduler) PendingCount() int {
	return s.countByStatus(TaskPending)
}

// CountByStatus returns the number of tasks with the given status.
func (s *TaskScheduler) CountByStatus(status TaskStatus) int {
	return s.countByStatus(status)
}

func (s *TaskScheduler) countByStatus(status TaskStatus) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.tasks {
		if rec.task.Status == status {
			n++
		}
	}
	return n
}

// ExpireOverdue fails every PENDING or ASSIGNED task whose non-zero
// deadline has passed, returning the ids it expired. The housekeeping
// loop calls this.
func (s *TaskScheduler) ExpireOverdue(nowMillis int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []string
	for id, rec := range s.tasks {
		if rec.task.Deadline == 0 || rec.task.Deadline > nowMillis {
			continue
		}
		if rec.task.Status != TaskPending && rec.task.Status != TaskAssigned {
			continue
		}
		rec.task.Status = TaskFailed
		rec.task.StatusName = rec.task.Status.String()
		rec.task.Result = &TaskResult{TaskID: id, Error: "deadline exceeded"}
		rec.queued = false
		expired = append(expired, id)
	}
	return expired
}
