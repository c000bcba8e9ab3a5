package hive

import "fmt"

// TaskType classifies the work a task asks for.
type TaskType int

const (
	TaskAnalyze TaskType = iota
	TaskGenerate
	TaskTest
	TaskReview
	TaskRefactor
	TaskDocument
	TaskConsensus
	TaskCustom
)

var taskTypeNames = map[TaskType]string{
	TaskAnalyze:   "analyze",
	TaskGenerate:  "generate",
	TaskTest:      "test",
	TaskReview:    "review",
	TaskRefactor:  "refactor",
	TaskDocument:  "document",
	TaskConsensus: "consensus",
	TaskCustom:    "custom",
}

// String returns the lower_snake_case wire name of the type.
func (t TaskType) String() string {
	if name, ok := taskTypeNames[t]; ok {
		return name
	}
	return "custom"
}

// ParseTaskType maps a wire name back to its TaskType.
func ParseTaskType(s string) (TaskType, error) {
	for t, name := range taskTypeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: task type %q", ErrInvalid, s)
}

// TaskStatus is a task's scheduling position.
type TaskStatus int

const (
	TaskPending TaskStatus = iota
	TaskAssigned
	TaskExecuting
	TaskCompleted
	TaskFailed
	TaskCancelled
)

var taskStatusNames = map[TaskStatus]string{
	TaskPending:   "pending",
	TaskAssigned:  "assigned",
	TaskExecuting: "executing",
	TaskCompleted: "completed",
	TaskFailed:    "failed",
	TaskCancelled: "cancelled",
}

// String returns the lower_snake_case wire name of the status.
func (s TaskStatus) String() string {
	if name, ok := taskStatusNames[s]; ok {
		return name
	}
	return "pending"
}

// ParseTaskStatus maps a wire name back to its TaskStatus.
func ParseTaskStatus(s string) (TaskStatus, error) {
	for st, name := range taskStatusNames {
		if name == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("%w: task status %q", ErrInvalid, s)
}

// Terminal reports whether the status is final.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// Task is a unit of schedulable work. Tasks are created by Submit,
// mutated only by the scheduler, and kept for result lookup until process
// exit.
type Task struct {
	ID            string            `json:"id"`
	Type          TaskType          `json:"-"`
	TypeName      string            `json:"type"`
	Description   string            `json:"description"`
	Parameters    map[string]string `json:"parameters,omitempty"`
	Dependencies  []string          `json:"dependencies,omitempty"`
	RequiredRoles []string          `json:"required_roles,omitempty"`
	Priority      int               `json:"priority"`
	Parent        string            `json:"parent,omitempty"`
	CreatedAt     int64             `json:"created_at"`
	Deadline      int64             `json:"deadline_ms,omitempty"` // 0 = none
	Status        TaskStatus        `json:"-"`
	StatusName    string            `json:"status"`
	AssignedAgent string            `json:"assigned_agent,omitempty"`
	Result        *TaskResult       `json:"result,omitempty"`
}

// TaskResult records the outcome of one task execution. Error is empty
// iff Success.
type TaskResult struct {
	TaskID     string `json:"task_id"`
	AgentID    string `json:"agent_id,omitempty"`
	Success    bool   `json:"success"`
	Output     string `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}
