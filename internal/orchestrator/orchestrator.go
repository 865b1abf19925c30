package orchestrator

import (
	"context"
	"fmt"
	"log"

	"github.com/zaggy/mcc/internal/budget"
	"github.com/zaggy/mcc/internal/llm"
	"github.com/zaggy/mcc/internal/state"
	"github.com/zaggy/mcc/pkg/models"
)

// Orchestrator owns the coordination surface: the task workflow, the
// message router, conversation lifecycle, budget-gated dispatch, and the
// emergency pause. It is the only component that touches all of them, so
// cross-cutting operations like the emergency pause live here.
type Orchestrator struct {
	Workflow      *Workflow
	Router        *Router
	Conversations *Conversations
	Dispatcher    *Dispatcher
	Escalations   *EscalationHandler

	emitter *EventEmitter
	pause   *budget.PauseController
	logger  *DebugLogger
}

// Config carries the dependencies for a new Orchestrator.
type Config struct {
	// Store is the workflow state store.
	Store *state.DB
	// Gate is the budget admission gate.
	Gate *budget.Gate
	// Pause is the system-wide pause controller, shared with the gate.
	Pause *budget.PauseController
	// Provider serves LLM calls.
	Provider llm.Provider
	// Retry is the dispatch retry policy. Zero value means defaults.
	Retry models.RetryPolicy
	// EventBuffer sizes the event channel. Zero means 256.
	EventBuffer int
	// Logger receives debug detail. Nil means no debug log.
	Logger *DebugLogger
}

// New wires an Orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = models.DefaultRetryPolicy
	}

	emitter := NewEventEmitter(cfg.EventBuffer)
	return &Orchestrator{
		Workflow:      NewWorkflow(cfg.Store, emitter),
		Router:        NewRouter(cfg.Store, emitter),
		Conversations: NewConversations(cfg.Store, emitter),
		Dispatcher:    NewDispatcher(cfg.Gate, cfg.Provider, emitter, cfg.Retry),
		Escalations:   NewEscalationHandler(emitter),
		emitter:       emitter,
		pause:         cfg.Pause,
		logger:        cfg.Logger,
	}
}

// Events exposes the orchestrator event stream.
func (o *Orchestrator) Events() <-chan Event {
	return o.emitter.Events()
}

// Close shuts down the event stream.
func (o *Orchestrator) Close() {
	o.emitter.Close()
}

// Work runs one budget-gated LLM call for an agent and, on a terminal
// failure, parks the task as failed and raises an escalation. A budget
// block escalates immediately without consuming retry attempts.
func (o *Orchestrator) Work(ctx context.Context, attr models.Attribution, req llm.Request) (*Result, error) {
	res, err := o.Dispatcher.Dispatch(ctx, attr, req)
	if err == nil {
		o.logger.Log("dispatch ok: agent=%s task=%s cost=%s attempts=%d",
			attr.AgentID, attr.TaskID, res.Record.Cost, res.Attempts)
		return res, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}

	blocked := Blocked(err)
	if attr.TaskID != "" {
		if _, failErr := o.Workflow.Fail(attr.TaskID, err); failErr != nil {
			log.Printf("[orchestrator] could not fail task %s: %v", attr.TaskID, failErr)
		}
	}
	o.Escalations.Raise(Escalation{
		TaskID:        attr.TaskID,
		AgentID:       attr.AgentID,
		Reason:        err.Error(),
		BudgetBlocked: blocked,
	})
	return nil, err
}

// EmergencyPause suspends all spending and parks every active
// conversation. In-flight calls complete and settle; nothing new is
// admitted until Resume.
func (o *Orchestrator) EmergencyPause(actor, reason string) error {
	if err := o.pause.Pause(actor, reason); err != nil {
		return fmt.Errorf("emergency pause: %w", err)
	}

	parked, err := o.Conversations.ParkAll(reason)
	if err != nil {
		return fmt.Errorf("emergency pause: %w", err)
	}

	ev := newEvent(EventEmergencyPause)
	ev.Message = fmt.Sprintf("paused by %s (%s), %d conversations parked", actor, reason, len(parked))
	o.emitter.Emit(ev)
	o.logger.Log("emergency pause: actor=%s reason=%q parked=%d", actor, reason, len(parked))
	return nil
}

// Resume lifts the spending pause. Parked conversations stay paused and
// must be resumed individually.
func (o *Orchestrator) Resume(actor string) error {
	if err := o.pause.Resume(actor); err != nil {
		return fmt.Errorf("resume: %w", err)
	}

	ev := newEvent(EventResume)
	ev.Message = "spending resumed by " + actor
	o.emitter.Emit(ev)
	return nil
}
