package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not been assigned.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusInProgress indicates an agent is implementing the task.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusTesting indicates the implementation was handed to testing.
	TaskStatusTesting TaskStatus = "testing"
	// TaskStatusReview indicates tests passed and review is underway.
	TaskStatusReview TaskStatus = "review"
	// TaskStatusCompleted indicates the task was approved. Terminal.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates an unrecoverable error or exhausted
	// retries. Terminal, except for an explicit administrative reopen.
	TaskStatusFailed TaskStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusTesting,
		TaskStatusReview, TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true if no workflow transition leaves this status.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// taskTransitions enumerates the legal workflow transitions. failed →
// in_progress is intentionally absent: reopening a failed task is an
// administrative action, not something the workflow performs itself.
var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending:    {TaskStatusInProgress},
	TaskStatusInProgress: {TaskStatusTesting, TaskStatusFailed},
	TaskStatusTesting:    {TaskStatusReview, TaskStatusFailed},
	TaskStatusReview:     {TaskStatusCompleted, TaskStatusFailed},
}

// CanTransition reports whether the workflow may move from s to next.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	for _, t := range taskTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// TaskPriority orders tasks for scheduling.
type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
	PriorityUrgent TaskPriority = "urgent"
)

// Valid returns true if the priority is a known value.
func (p TaskPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	default:
		return false
	}
}

// Task represents an issue-derived unit of work moving through the agent
// workflow. The token and cost counters are a denormalized rollup of the
// task's usage records; the ledger updates them in the same transaction
// that appends a record, so they always equal the sum of the records.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// Title is the short description of the task.
	Title string `json:"title"`
	// Description provides detailed information about the task.
	Description string `json:"description,omitempty"`
	// DefinitionOfDone is the architect-supplied acceptance criteria.
	DefinitionOfDone string `json:"definition_of_done,omitempty"`
	// Status is the current workflow state.
	Status TaskStatus `json:"status"`
	// Priority orders the task for scheduling.
	Priority TaskPriority `json:"priority"`
	// ProjectID is the project this task belongs to.
	ProjectID string `json:"project_id"`
	// AssignedTo is the single agent currently holding the task, if any.
	AssignedTo string `json:"assigned_to,omitempty"`
	// IssueNumber is the originating GitHub issue, if any.
	IssueNumber int `json:"issue_number,omitempty"`
	// PRNumber is the associated pull request, if any.
	PRNumber int `json:"pr_number,omitempty"`
	// TotalTokens is the rollup of tokens across the task's usage records.
	TotalTokens int64 `json:"total_tokens"`
	// TotalCost is the rollup of cost across the task's usage records.
	TotalCost MicroUSD `json:"total_cost"`
	// RetryCount is the number of dispatch retries consumed.
	RetryCount int `json:"retry_count,omitempty"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the task last changed.
	UpdatedAt time.Time `json:"updated_at"`
	// CompletedAt is when the task reached a terminal state, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
