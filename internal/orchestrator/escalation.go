package orchestrator

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EscalationAction represents the operator's choice for an escalated task.
type EscalationAction string

const (
	// EscalationRetry reopens the task for another workflow pass.
	EscalationRetry EscalationAction = "retry"
	// EscalationSkip leaves the task failed and moves on.
	EscalationSkip EscalationAction = "skip"
	// EscalationAbort stops the run entirely.
	EscalationAbort EscalationAction = "abort"
)

// Escalation is a task that exhausted its retries or hit a budget block
// and needs an operator decision.
type Escalation struct {
	// ID is the unique identifier for this escalation.
	ID string
	// TaskID is the task needing attention.
	TaskID string
	// AgentID is the agent that was working the task.
	AgentID string
	// Reason is a human-readable summary of why the task escalated.
	Reason string
	// Attempts is the number of attempts already made.
	Attempts int
	// BudgetBlocked indicates the escalation was a budget refusal rather
	// than a provider failure.
	BudgetBlocked bool
	// CreatedAt is when the escalation was raised.
	CreatedAt time.Time
	// ResolvedAt is when an operator responded, if they have.
	ResolvedAt *time.Time
	// Action is the operator's response, if resolved.
	Action EscalationAction
}

// EscalationHandler collects escalations for the operator. Raising is
// non-blocking: the workflow parks the task as failed and continues with
// other work while the escalation waits.
type EscalationHandler struct {
	emitter *EventEmitter

	mu      sync.RWMutex
	pending map[string]*Escalation
}

// NewEscalationHandler creates an escalation handler.
func NewEscalationHandler(emitter *EventEmitter) *EscalationHandler {
	return &EscalationHandler{
		emitter: emitter,
		pending: make(map[string]*Escalation),
	}
}

// Raise records an escalation and emits an event for observers.
func (h *EscalationHandler) Raise(e Escalation) *Escalation {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.CreatedAt = time.Now().UTC()

	h.mu.Lock()
	h.pending[e.ID] = &e
	h.mu.Unlock()

	if h.emitter != nil {
		ev := newEvent(EventEscalation)
		ev.TaskID = e.TaskID
		ev.AgentID = e.AgentID
		ev.Message = e.Reason
		h.emitter.Emit(ev)
	}
	return &e
}

// Pending returns unresolved escalations, oldest first.
func (h *EscalationHandler) Pending() []Escalation {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []Escalation
	for _, e := range h.pending {
		if e.ResolvedAt == nil {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Resolve records the operator's decision.
func (h *EscalationHandler) Resolve(id string, action EscalationAction) (*Escalation, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	e, ok := h.pending[id]
	if !ok {
		return nil, fmt.Errorf("resolve escalation %s: not found", id)
	}
	if e.ResolvedAt != nil {
		return nil, fmt.Errorf("resolve escalation %s: already resolved as %s", id, e.Action)
	}

	now := time.Now().UTC()
	e.ResolvedAt = &now
	e.Action = action
	return e, nil
}
