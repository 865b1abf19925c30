package models

// AgentType identifies the role an agent plays in the workflow.
type AgentType string

const (
	// AgentOrchestrator coordinates all other agent types.
	AgentOrchestrator AgentType = "orchestrator"
	// AgentArchitect produces specs and the definition of done.
	AgentArchitect AgentType = "architect"
	// AgentCoder implements code against a spec.
	AgentCoder AgentType = "coder"
	// AgentTester validates implementations against requirements.
	AgentTester AgentType = "tester"
	// AgentReviewer reviews code quality and conventions.
	AgentReviewer AgentType = "reviewer"
)

// Valid returns true if the agent type is a known value.
func (t AgentType) Valid() bool {
	switch t {
	case AgentOrchestrator, AgentArchitect, AgentCoder, AgentTester, AgentReviewer:
		return true
	default:
		return false
	}
}

// allowedRecipients is the fixed communication graph. A message from a sender
// type to a recipient type outside the sender's set is rejected at the
// routing layer, not merely discouraged.
var allowedRecipients = map[AgentType][]AgentType{
	AgentOrchestrator: {AgentArchitect, AgentCoder, AgentTester, AgentReviewer},
	AgentArchitect:    {AgentCoder, AgentTester, AgentReviewer},
	AgentCoder:        {AgentArchitect, AgentTester, AgentReviewer},
	AgentTester:       {AgentCoder, AgentReviewer, AgentArchitect},
	AgentReviewer:     {AgentCoder, AgentArchitect},
}

// CanMessage returns true if this agent type is permitted to address the
// given recipient type.
func (t AgentType) CanMessage(recipient AgentType) bool {
	for _, r := range allowedRecipients[t] {
		if r == recipient {
			return true
		}
	}
	return false
}

// AllowedRecipients returns a copy of the recipient types this agent type
// may address.
func (t AgentType) AllowedRecipients() []AgentType {
	return append([]AgentType(nil), allowedRecipients[t]...)
}

// RetainsContext reports whether agents of this type keep long-lived
// conversational memory. Orchestrator and architect agents are persistent;
// coders, testers, and reviewers are ephemeral and only see the current
// task thread.
func (t AgentType) RetainsContext() bool {
	return t == AgentOrchestrator || t == AgentArchitect
}

// Agent is a registered agent instance within a project.
type Agent struct {
	// ID is the unique identifier for this agent.
	ID string `json:"id"`
	// Name is the display name, used for @mentions.
	Name string `json:"name"`
	// Type is the workflow role of this agent.
	Type AgentType `json:"type"`
	// Model is the LLM model this agent calls, if pinned.
	Model string `json:"model,omitempty"`
	// ProjectID is the project this agent belongs to, if scoped.
	ProjectID string `json:"project_id,omitempty"`
	// Active indicates whether the agent may be dispatched to.
	Active bool `json:"active"`
}

// Attribution identifies who an LLM call is charged to. AgentID and
// AgentType are required; the rest are optional.
type Attribution struct {
	// UserID is the initiating user, if the call traces back to one.
	UserID string `json:"user_id,omitempty"`
	// AgentID is the agent making the call.
	AgentID string `json:"agent_id"`
	// AgentType is the workflow role of the calling agent.
	AgentType AgentType `json:"agent_type"`
	// ProjectID is the project the call is billed against.
	ProjectID string `json:"project_id,omitempty"`
	// ConversationID is the conversation carrying the call, if any.
	ConversationID string `json:"conversation_id,omitempty"`
	// TaskID is the task the call advances, if any.
	TaskID string `json:"task_id,omitempty"`
}

// Validate checks that the attribution carries the required fields.
func (a Attribution) Validate() error {
	if a.AgentID == "" {
		return &ValidationError{Field: "agent_id", Reason: "required"}
	}
	if !a.AgentType.Valid() {
		return &ValidationError{Field: "agent_type", Reason: "unknown agent type " + string(a.AgentType)}
	}
	return nil
}

// ValidationError reports a malformed field on an inbound request.
type ValidationError struct {
	// Field is the offending field name.
	Field string
	// Reason describes why the value was rejected.
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Field + ": " + e.Reason
}
