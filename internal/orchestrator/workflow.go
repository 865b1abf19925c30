package orchestrator

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zaggy/mcc/pkg/models"
)

// ErrInvalidTransition indicates a requested task status change is not in
// the workflow's transition table.
var ErrInvalidTransition = errors.New("invalid task transition")

// ErrTaskNotFound indicates the referenced task does not exist.
var ErrTaskNotFound = errors.New("task not found")

// Workflow applies the task state machine. Each task is serialized by a
// keyed mutex so two concurrent transitions see each other, and the
// storage layer's status guard backs that up across processes.
type Workflow struct {
	store   TaskStore
	emitter *EventEmitter

	mu    sync.Mutex
	tasks map[string]*sync.Mutex // task id -> transition lock
}

// TaskStore is the persistence the workflow needs.
type TaskStore interface {
	CreateTask(t *models.Task) error
	GetTask(id string) (*models.Task, error)
	UpdateTaskStatus(id string, from, to models.TaskStatus, assignedTo string, now time.Time) (bool, error)
	IncrementTaskRetry(id string, now time.Time) error
	ListTasks(projectID string, status *models.TaskStatus) ([]models.Task, error)
}

// NewWorkflow creates a workflow over the given store.
func NewWorkflow(store TaskStore, emitter *EventEmitter) *Workflow {
	return &Workflow{
		store:   store,
		emitter: emitter,
		tasks:   make(map[string]*sync.Mutex),
	}
}

// CreateTask registers a new task in the pending state.
func (w *Workflow) CreateTask(t *models.Task) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Status == "" {
		t.Status = models.TaskStatusPending
	}
	if t.Status != models.TaskStatusPending {
		return fmt.Errorf("create task: new tasks start pending, not %s", t.Status)
	}
	if t.Priority == "" {
		t.Priority = models.PriorityMedium
	}
	if !t.Priority.Valid() {
		return fmt.Errorf("create task: unknown priority %q", t.Priority)
	}
	if t.Title == "" {
		return fmt.Errorf("create task: title required")
	}
	if t.ProjectID == "" {
		return fmt.Errorf("create task: project required")
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	return w.store.CreateTask(t)
}

// Transition moves a task to a new status. assignedTo names the agent
// holding the task afterwards; for pending → in_progress it is the
// assignment itself. Illegal moves return ErrInvalidTransition naming the
// task's current state.
func (w *Workflow) Transition(taskID string, to models.TaskStatus, assignedTo string) (*models.Task, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("transition task %s: unknown status %q", taskID, to)
	}

	unlock := w.lockTask(taskID)
	defer unlock()

	task, err := w.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("transition task %s: %w", taskID, ErrTaskNotFound)
	}

	if !task.Status.CanTransition(to) {
		return nil, fmt.Errorf("transition task %s from %s to %s: %w",
			taskID, task.Status, to, ErrInvalidTransition)
	}
	if task.Status == models.TaskStatusPending && to == models.TaskStatusInProgress && assignedTo == "" {
		return nil, fmt.Errorf("transition task %s: assignment required to start work", taskID)
	}
	if assignedTo == "" {
		assignedTo = task.AssignedTo
	}

	now := time.Now().UTC()
	changed, err := w.store.UpdateTaskStatus(taskID, task.Status, to, assignedTo, now)
	if err != nil {
		return nil, err
	}
	if !changed {
		// Another process won the race; report against the fresh state
		fresh, err := w.store.GetTask(taskID)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("transition task %s from %s to %s: %w",
			taskID, fresh.Status, to, ErrInvalidTransition)
	}

	w.emitTransition(task, to, assignedTo)

	task.Status = to
	task.AssignedTo = assignedTo
	task.UpdatedAt = now
	if to.Terminal() {
		task.CompletedAt = &now
	}
	return task, nil
}

// Reopen is the administrative escape hatch for failed tasks: back to
// pending with the assignment and retry count context preserved in the
// audit trail. The workflow itself never reopens tasks.
func (w *Workflow) Reopen(taskID, actor string) (*models.Task, error) {
	unlock := w.lockTask(taskID)
	defer unlock()

	task, err := w.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("reopen task %s: %w", taskID, ErrTaskNotFound)
	}
	if task.Status != models.TaskStatusFailed {
		return nil, fmt.Errorf("reopen task %s: only failed tasks can be reopened, task is %s",
			taskID, task.Status)
	}

	now := time.Now().UTC()
	changed, err := w.store.UpdateTaskStatus(taskID, models.TaskStatusFailed, models.TaskStatusPending, "", now)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, fmt.Errorf("reopen task %s: state changed underneath", taskID)
	}

	if w.emitter != nil {
		ev := newEvent(EventTaskTransition)
		ev.TaskID = taskID
		ev.From = models.TaskStatusFailed
		ev.To = models.TaskStatusPending
		ev.Message = "reopened by " + actor
		w.emitter.Emit(ev)
	}

	task.Status = models.TaskStatusPending
	task.AssignedTo = ""
	task.UpdatedAt = now
	return task, nil
}

// Fail records a dispatch failure against a task from any non-terminal
// working state.
func (w *Workflow) Fail(taskID string, cause error) (*models.Task, error) {
	unlock := w.lockTask(taskID)
	defer unlock()

	task, err := w.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("fail task %s: %w", taskID, ErrTaskNotFound)
	}
	if !task.Status.CanTransition(models.TaskStatusFailed) {
		return nil, fmt.Errorf("fail task %s from %s: %w", taskID, task.Status, ErrInvalidTransition)
	}

	now := time.Now().UTC()
	changed, err := w.store.UpdateTaskStatus(taskID, task.Status, models.TaskStatusFailed, task.AssignedTo, now)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, fmt.Errorf("fail task %s: state changed underneath", taskID)
	}

	if w.emitter != nil {
		ev := newEvent(EventTaskFailed)
		ev.TaskID = taskID
		ev.From = task.Status
		ev.To = models.TaskStatusFailed
		ev.Error = cause
		if cause != nil {
			ev.Message = cause.Error()
		}
		w.emitter.Emit(ev)
	}

	task.Status = models.TaskStatusFailed
	task.UpdatedAt = now
	task.CompletedAt = &now
	return task, nil
}

func (w *Workflow) emitTransition(task *models.Task, to models.TaskStatus, assignedTo string) {
	if w.emitter == nil {
		return
	}
	var ev Event
	switch to {
	case models.TaskStatusCompleted:
		ev = newEvent(EventTaskCompleted)
		ev.Cost = task.TotalCost
	case models.TaskStatusFailed:
		ev = newEvent(EventTaskFailed)
	case models.TaskStatusInProgress:
		ev = newEvent(EventTaskAssigned)
		ev.AgentID = assignedTo
	default:
		ev = newEvent(EventTaskTransition)
	}
	ev.TaskID = task.ID
	ev.From = task.Status
	ev.To = to
	w.emitter.Emit(ev)
}

// lockTask returns the unlock function for the task's transition lock.
func (w *Workflow) lockTask(taskID string) func() {
	w.mu.Lock()
	m, ok := w.tasks[taskID]
	if !ok {
		m = &sync.Mutex{}
		w.tasks[taskID] = m
	}
	w.mu.Unlock()

	m.Lock()
	return m.Unlock
}
