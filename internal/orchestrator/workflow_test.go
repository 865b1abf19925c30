package orchestrator

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zaggy/mcc/internal/state"
	"github.com/zaggy/mcc/pkg/models"
)

func setupStore(t *testing.T) *state.DB {
	t.Helper()
	db, err := state.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func newTestWorkflow(t *testing.T) (*Workflow, *state.DB) {
	t.Helper()
	db := setupStore(t)
	return NewWorkflow(db, nil), db
}

func createTask(t *testing.T, w *Workflow) *models.Task {
	t.Helper()
	task := &models.Task{Title: "build feature", ProjectID: "proj-1"}
	if err := w.CreateTask(task); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	return task
}

func TestWorkflowCreateTask_Defaults(t *testing.T) {
	w, _ := newTestWorkflow(t)

	task := createTask(t, w)
	if task.ID == "" {
		t.Error("expected generated ID")
	}
	if task.Status != models.TaskStatusPending {
		t.Errorf("Status = %q, want pending", task.Status)
	}
	if task.Priority != models.PriorityMedium {
		t.Errorf("Priority = %q, want medium", task.Priority)
	}
}

func TestWorkflowCreateTask_Rejections(t *testing.T) {
	w, _ := newTestWorkflow(t)

	tests := []struct {
		name string
		task models.Task
	}{
		{"missing title", models.Task{ProjectID: "proj-1"}},
		{"missing project", models.Task{Title: "x"}},
		{"non-pending start", models.Task{Title: "x", ProjectID: "proj-1", Status: models.TaskStatusReview}},
		{"unknown priority", models.Task{Title: "x", ProjectID: "proj-1", Priority: "asap"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := tt.task
			if err := w.CreateTask(&task); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestWorkflowTransition_FullLifecycle(t *testing.T) {
	w, _ := newTestWorkflow(t)
	task := createTask(t, w)

	steps := []struct {
		to       models.TaskStatus
		assignee string
	}{
		{models.TaskStatusInProgress, "coder-1"},
		{models.TaskStatusTesting, "tester-1"},
		{models.TaskStatusReview, "reviewer-1"},
		{models.TaskStatusCompleted, ""},
	}
	for _, s := range steps {
		got, err := w.Transition(task.ID, s.to, s.assignee)
		if err != nil {
			t.Fatalf("Transition to %s failed: %v", s.to, err)
		}
		if got.Status != s.to {
			t.Errorf("Status = %q, want %q", got.Status, s.to)
		}
	}

	final, err := w.Transition(task.ID, models.TaskStatusInProgress, "coder-1")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("transition out of completed = (%v, %v), want ErrInvalidTransition", final, err)
	}
}

func TestWorkflowTransition_IllegalMoveNamesCurrentState(t *testing.T) {
	w, _ := newTestWorkflow(t)
	task := createTask(t, w)

	// pending → review skips the workflow
	_, err := w.Transition(task.ID, models.TaskStatusReview, "reviewer-1")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	if want := "from pending"; !strings.Contains(err.Error(), want) {
		t.Errorf("error %q does not name the current state (%s)", err, want)
	}
}

func TestWorkflowTransition_AssignmentRequiredToStart(t *testing.T) {
	w, _ := newTestWorkflow(t)
	task := createTask(t, w)

	if _, err := w.Transition(task.ID, models.TaskStatusInProgress, ""); err == nil {
		t.Error("expected error starting work without an assignee")
	}
}

func TestWorkflowTransition_UnknownTask(t *testing.T) {
	w, _ := newTestWorkflow(t)

	_, err := w.Transition("missing", models.TaskStatusInProgress, "coder-1")
	if !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("err = %v, want ErrTaskNotFound", err)
	}
}

func TestWorkflowFail_FromWorkingStates(t *testing.T) {
	w, _ := newTestWorkflow(t)
	task := createTask(t, w)

	if _, err := w.Transition(task.ID, models.TaskStatusInProgress, "coder-1"); err != nil {
		t.Fatal(err)
	}

	failed, err := w.Fail(task.ID, fmt.Errorf("provider exploded"))
	if err != nil {
		t.Fatalf("Fail failed: %v", err)
	}
	if failed.Status != models.TaskStatusFailed {
		t.Errorf("Status = %q, want failed", failed.Status)
	}
	if failed.CompletedAt == nil {
		t.Error("CompletedAt not set on failure")
	}
}

func TestWorkflowFail_PendingCannotFail(t *testing.T) {
	w, _ := newTestWorkflow(t)
	task := createTask(t, w)

	// pending has no edge to failed; nothing has happened yet
	if _, err := w.Fail(task.ID, fmt.Errorf("boom")); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestWorkflowReopen(t *testing.T) {
	w, _ := newTestWorkflow(t)
	task := createTask(t, w)

	if _, err := w.Transition(task.ID, models.TaskStatusInProgress, "coder-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Fail(task.ID, fmt.Errorf("boom")); err != nil {
		t.Fatal(err)
	}

	reopened, err := w.Reopen(task.ID, "admin")
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	if reopened.Status != models.TaskStatusPending {
		t.Errorf("Status = %q, want pending", reopened.Status)
	}
	if reopened.AssignedTo != "" {
		t.Errorf("AssignedTo = %q, want cleared", reopened.AssignedTo)
	}
}

func TestWorkflowReopen_OnlyFailedTasks(t *testing.T) {
	w, _ := newTestWorkflow(t)
	task := createTask(t, w)

	if _, err := w.Reopen(task.ID, "admin"); err == nil {
		t.Error("expected error reopening a pending task")
	}
}

func TestWorkflowTransition_EmitsEvents(t *testing.T) {
	db := setupStore(t)
	emitter := NewEventEmitter(16)
	w := NewWorkflow(db, emitter)
	task := createTask(t, w)

	if _, err := w.Transition(task.ID, models.TaskStatusInProgress, "coder-1"); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-emitter.Events():
		if ev.Type != EventTaskAssigned {
			t.Errorf("event type = %q, want task_assigned", ev.Type)
		}
		if ev.AgentID != "coder-1" {
			t.Errorf("event agent = %q, want coder-1", ev.AgentID)
		}
		if ev.ID == "" {
			t.Error("event missing ID")
		}
	default:
		t.Fatal("no event emitted")
	}
}
