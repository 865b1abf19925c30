package models

import "testing"

func TestTaskStatusValid(t *testing.T) {
	valid := []TaskStatus{
		TaskStatusPending, TaskStatusInProgress, TaskStatusTesting,
		TaskStatusReview, TaskStatusCompleted, TaskStatusFailed,
	}
	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("expected %q to be valid", s)
		}
	}
	for _, s := range []TaskStatus{"", "done", "blocked", "PENDING"} {
		if s.Valid() {
			t.Errorf("expected %q to be invalid", s)
		}
	}
}

func TestTaskStatusCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from TaskStatus
		to   TaskStatus
		want bool
	}{
		{"pending to in_progress", TaskStatusPending, TaskStatusInProgress, true},
		{"in_progress to testing", TaskStatusInProgress, TaskStatusTesting, true},
		{"testing to review", TaskStatusTesting, TaskStatusReview, true},
		{"review to completed", TaskStatusReview, TaskStatusCompleted, true},
		{"in_progress to failed", TaskStatusInProgress, TaskStatusFailed, true},
		{"testing to failed", TaskStatusTesting, TaskStatusFailed, true},
		{"review to failed", TaskStatusReview, TaskStatusFailed, true},
		{"pending to testing skips implementation", TaskStatusPending, TaskStatusTesting, false},
		{"pending to failed", TaskStatusPending, TaskStatusFailed, false},
		{"completed is terminal", TaskStatusCompleted, TaskStatusInProgress, false},
		{"failed is terminal for the workflow", TaskStatusFailed, TaskStatusInProgress, false},
		{"no backwards move", TaskStatusReview, TaskStatusTesting, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.from.CanTransition(tc.to); got != tc.want {
				t.Errorf("CanTransition(%q -> %q) = %v, want %v", tc.from, tc.to, got, tc.want)
			}
		})
	}
}

func TestTaskStatusTerminal(t *testing.T) {
	if !TaskStatusCompleted.Terminal() || !TaskStatusFailed.Terminal() {
		t.Error("completed and failed must be terminal")
	}
	if TaskStatusPending.Terminal() || TaskStatusReview.Terminal() {
		t.Error("pending and review must not be terminal")
	}
}
