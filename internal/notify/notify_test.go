package notify

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/zaggy/mcc/internal/budget"
	"github.com/zaggy/mcc/internal/orchestrator"
	"github.com/zaggy/mcc/pkg/models"
)

func testAlert(severity budget.Severity) budget.Alert {
	return budget.Alert{
		Limit: models.BudgetLimit{
			ScopeType: models.ScopeProject,
			ScopeID:   "proj-1",
			Period:    models.PeriodDaily,
			Amount:    50_000_000,
		},
		Window: budget.Window{
			Start: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
		},
		Severity: severity,
		Pct:      0.85,
		Spend:    42_500_000,
	}
}

func TestBudgetAlert_Warning(t *testing.T) {
	var buf bytes.Buffer
	n := NewWithWriter(&buf).NoColor()

	n.BudgetAlert(testAlert(budget.SeverityWarning))

	out := buf.String()
	if !strings.Contains(out, "BUDGET WARNING") {
		t.Errorf("output %q missing warning label", out)
	}
	if !strings.Contains(out, "project:proj-1") {
		t.Errorf("output %q missing scope", out)
	}
	if !strings.Contains(out, "85%") {
		t.Errorf("output %q missing percentage", out)
	}
}

func TestBudgetAlert_Critical(t *testing.T) {
	var buf bytes.Buffer
	n := NewWithWriter(&buf).NoColor()

	n.BudgetAlert(testAlert(budget.SeverityCritical))

	if !strings.Contains(buf.String(), "BUDGET CRITICAL") {
		t.Errorf("output %q missing critical label", buf.String())
	}
}

func TestEvent_Rendering(t *testing.T) {
	tests := []struct {
		name string
		ev   orchestrator.Event
		want string
	}{
		{
			name: "blocked call",
			ev:   orchestrator.Event{Type: orchestrator.EventCallBlocked, AgentID: "coder-1", Message: "limit reached"},
			want: "BLOCKED agent coder-1",
		},
		{
			name: "escalation",
			ev:   orchestrator.Event{Type: orchestrator.EventEscalation, TaskID: "t-1", AgentID: "coder-1", Message: "retries exhausted"},
			want: "ESCALATION task t-1",
		},
		{
			name: "emergency pause",
			ev:   orchestrator.Event{Type: orchestrator.EventEmergencyPause, Message: "paused by admin"},
			want: "EMERGENCY PAUSE",
		},
		{
			name: "completed",
			ev:   orchestrator.Event{Type: orchestrator.EventTaskCompleted, TaskID: "t-2"},
			want: "COMPLETED task t-2",
		},
		{
			name: "failed with error",
			ev:   orchestrator.Event{Type: orchestrator.EventTaskFailed, TaskID: "t-3", Error: errors.New("provider down")},
			want: "FAILED task t-3: provider down",
		},
		{
			name: "failed without error falls back to message",
			ev:   orchestrator.Event{Type: orchestrator.EventTaskFailed, TaskID: "t-4", Message: "marked failed"},
			want: "FAILED task t-4: marked failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			n := NewWithWriter(&buf).NoColor()
			n.Event(tt.ev)
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("output %q missing %q", buf.String(), tt.want)
			}
		})
	}
}
