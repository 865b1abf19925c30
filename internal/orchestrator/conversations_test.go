package orchestrator

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/zaggy/mcc/internal/state"
	"github.com/zaggy/mcc/pkg/models"
)

func newTestConversations(t *testing.T) (*Conversations, *state.DB) {
	t.Helper()
	db := setupStore(t)
	return NewConversations(db, nil), db
}

func activeConversation(id string) *models.Conversation {
	return &models.Conversation{
		ID:             id,
		Kind:           models.ConversationTask,
		ProjectID:      "proj-1",
		CreatedByAgent: "orchestrator-1",
	}
}

func TestCreate_Defaults(t *testing.T) {
	c, db := newTestConversations(t)

	conv := activeConversation("")
	err := c.Create(conv, []models.Participant{
		{AgentID: "orchestrator-1", AgentName: "orchestrator", AgentType: models.AgentOrchestrator},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if conv.ID == "" {
		t.Error("ID not generated")
	}
	if conv.Status != models.ConversationActive {
		t.Errorf("Status = %s, want active", conv.Status)
	}

	parts, err := db.ListParticipants(conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(parts) != 1 || parts[0].ConversationID != conv.ID {
		t.Errorf("participants = %+v, want one stamped with the conversation id", parts)
	}
	if parts[0].JoinedAt.IsZero() {
		t.Error("JoinedAt not stamped")
	}
}

func TestCreate_Rejections(t *testing.T) {
	c, _ := newTestConversations(t)

	tests := []struct {
		name         string
		mutate       func(*models.Conversation)
		participants []models.Participant
		wantErr      string
	}{
		{
			name:    "non-active start",
			mutate:  func(conv *models.Conversation) { conv.Status = models.ConversationPaused },
			wantErr: "start active",
		},
		{
			name:    "both creators set",
			mutate:  func(conv *models.Conversation) { conv.CreatedByUser = "user-1" },
			wantErr: "creator",
		},
		{
			name:    "no creator",
			mutate:  func(conv *models.Conversation) { conv.CreatedByAgent = "" },
			wantErr: "creator",
		},
		{
			name:   "unknown participant type",
			mutate: func(conv *models.Conversation) {},
			participants: []models.Participant{
				{AgentID: "x-1", AgentName: "x", AgentType: "wizard"},
			},
			wantErr: "unknown type",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conv := activeConversation("")
			tt.mutate(conv)
			err := c.Create(conv, tt.participants)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestTransition_Lifecycle(t *testing.T) {
	c, _ := newTestConversations(t)

	conv := activeConversation("c-1")
	if err := c.Create(conv, nil); err != nil {
		t.Fatal(err)
	}

	// active → paused → active → completed → archived
	for _, to := range []models.ConversationStatus{
		models.ConversationPaused,
		models.ConversationActive,
		models.ConversationCompleted,
		models.ConversationArchived,
	} {
		if err := c.Transition("c-1", to); err != nil {
			t.Fatalf("Transition to %s failed: %v", to, err)
		}
	}

	// Archived is terminal.
	err := c.Transition("c-1", models.ConversationActive)
	if err == nil {
		t.Fatal("expected error leaving archived")
	}
	if !strings.Contains(err.Error(), "from archived") {
		t.Errorf("error = %q, want it to name the current status", err)
	}
}

func TestTransition_UnknownConversation(t *testing.T) {
	c, _ := newTestConversations(t)

	err := c.Transition("missing", models.ConversationPaused)
	if !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("Transition = %v, want ErrConversationNotFound", err)
	}
}

func TestParkAll(t *testing.T) {
	c, db := newTestConversations(t)

	for _, id := range []string{"c-1", "c-2"} {
		if err := c.Create(activeConversation(id), nil); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.Create(activeConversation("c-3"), nil); err != nil {
		t.Fatal(err)
	}
	if err := c.Transition("c-3", models.ConversationCompleted); err != nil {
		t.Fatal(err)
	}

	ids, err := c.ParkAll("emergency pause")
	if err != nil {
		t.Fatalf("ParkAll failed: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("parked %d conversations, want 2", len(ids))
	}

	for _, id := range ids {
		conv, err := db.GetConversation(id)
		if err != nil {
			t.Fatal(err)
		}
		if conv.Status != models.ConversationPaused {
			t.Errorf("conversation %s = %s, want paused", id, conv.Status)
		}
	}

	// Completed conversations are untouched.
	conv, err := db.GetConversation("c-3")
	if err != nil {
		t.Fatal(err)
	}
	if conv.Status != models.ConversationCompleted {
		t.Errorf("c-3 status = %s, want completed", conv.Status)
	}

	// Nothing left to park.
	ids, err = c.ParkAll("again")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Errorf("second ParkAll parked %d, want 0", len(ids))
	}
}

func TestEscalations(t *testing.T) {
	h := NewEscalationHandler(nil)

	first := h.Raise(Escalation{TaskID: "task-1", AgentID: "coder-1", Reason: "retries exhausted", Attempts: 3})
	time.Sleep(2 * time.Millisecond)
	second := h.Raise(Escalation{TaskID: "task-2", AgentID: "coder-2", Reason: "budget blocked", BudgetBlocked: true})

	pending := h.Pending()
	if len(pending) != 2 {
		t.Fatalf("Pending = %d, want 2", len(pending))
	}
	if pending[0].ID != first.ID || pending[1].ID != second.ID {
		t.Error("Pending not ordered oldest first")
	}

	resolved, err := h.Resolve(first.ID, EscalationRetry)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if resolved.Action != EscalationRetry || resolved.ResolvedAt == nil {
		t.Errorf("resolved = %+v, want retry with timestamp", resolved)
	}

	if _, err := h.Resolve(first.ID, EscalationSkip); err == nil {
		t.Error("expected error resolving twice")
	}
	if _, err := h.Resolve("missing", EscalationSkip); err == nil {
		t.Error("expected error resolving unknown escalation")
	}

	pending = h.Pending()
	if len(pending) != 1 || pending[0].ID != second.ID {
		t.Errorf("Pending after resolve = %+v, want only the second", pending)
	}
}
