// Package orchestrator coordinates the agent workflow: task state
// transitions, conversation routing, and budget-gated dispatch of LLM work.
package orchestrator

import (
	"time"

	"github.com/google/uuid"

	"github.com/zaggy/mcc/pkg/models"
)

// EventType represents the type of orchestrator event.
type EventType string

const (
	// EventTaskTransition indicates a task moved to a new status.
	EventTaskTransition EventType = "task_transition"
	// EventTaskAssigned indicates a task was handed to an agent.
	EventTaskAssigned EventType = "task_assigned"
	// EventTaskFailed indicates a task reached the failed state.
	EventTaskFailed EventType = "task_failed"
	// EventTaskCompleted indicates a task was approved and completed.
	EventTaskCompleted EventType = "task_completed"
	// EventMessageRouted indicates a message was delivered between agents.
	EventMessageRouted EventType = "message_routed"
	// EventCallBlocked indicates budget admission refused an LLM call.
	EventCallBlocked EventType = "call_blocked"
	// EventEscalation indicates a task needs operator attention.
	EventEscalation EventType = "escalation"
	// EventEmergencyPause indicates all spending was suspended.
	EventEmergencyPause EventType = "emergency_pause"
	// EventResume indicates spending was resumed.
	EventResume EventType = "resume"
)

// Event is emitted by the orchestrator for observers: the CLI status
// view, notifiers, and tests. Each event carries a unique ID so
// downstream consumers can de-duplicate redelivered events.
type Event struct {
	// ID uniquely identifies this event.
	ID string
	// Type is the kind of event.
	Type EventType
	// TaskID is the ID of the related task, if applicable.
	TaskID string
	// ConversationID is the ID of the related conversation, if applicable.
	ConversationID string
	// AgentID is the ID of the related agent, if applicable.
	AgentID string
	// From is the previous task status for transition events.
	From models.TaskStatus
	// To is the new task status for transition events.
	To models.TaskStatus
	// Message provides additional context about the event.
	Message string
	// Error contains error details for failure events.
	Error error
	// Cost is the spend associated with the event, if applicable.
	Cost models.MicroUSD
	// Timestamp is when the event occurred.
	Timestamp time.Time
}

// newEvent stamps identity and time onto an event.
func newEvent(t EventType) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      t,
		Timestamp: time.Now().UTC(),
	}
}
