package models

import "time"

// ScopeType is the level at which a budget limit applies.
type ScopeType string

const (
	// ScopeGlobal applies to every call in the system.
	ScopeGlobal ScopeType = "global"
	// ScopeProject applies to calls attributed to one project.
	ScopeProject ScopeType = "project"
	// ScopeAgentType applies to calls from one agent role.
	ScopeAgentType ScopeType = "agent_type"
	// ScopeAgent applies to calls from one agent instance.
	ScopeAgent ScopeType = "agent"
)

// Valid returns true if the scope type is a known value.
func (s ScopeType) Valid() bool {
	switch s {
	case ScopeGlobal, ScopeProject, ScopeAgentType, ScopeAgent:
		return true
	default:
		return false
	}
}

// Specificity orders scope types from most to least specific:
// agent > agent_type > project > global. Higher is more specific.
func (s ScopeType) Specificity() int {
	switch s {
	case ScopeAgent:
		return 3
	case ScopeAgentType:
		return 2
	case ScopeProject:
		return 1
	default:
		return 0
	}
}

// Period is the aggregation window for a budget limit.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

// Valid returns true if the period is a known value.
func (p Period) Valid() bool {
	switch p {
	case PeriodDaily, PeriodWeekly, PeriodMonthly:
		return true
	default:
		return false
	}
}

// ExceedAction is what happens when a limit's window spend reaches 100%.
type ExceedAction string

const (
	// ActionWarn emits an alert but lets the call proceed.
	ActionWarn ExceedAction = "warn"
	// ActionBlock refuses the call before it reaches the provider.
	ActionBlock ExceedAction = "block"
)

// Valid returns true if the action is a known value.
func (a ExceedAction) Valid() bool {
	return a == ActionWarn || a == ActionBlock
}

// DefaultAlertThreshold is the spend fraction at which warnings begin.
const DefaultAlertThreshold = 0.80

// BudgetLimit is an administrator-defined spend ceiling for one scope and
// period. At most one active limit may exist per (scope type, scope id,
// period); the registry rejects duplicates so enforcement stays unambiguous.
// Limits are soft-deleted via Active, never hard-deleted, because usage
// history references them.
type BudgetLimit struct {
	// ID is the unique identifier for this limit.
	ID string `json:"id"`
	// Name is a human-readable label used in alerts.
	Name string `json:"name"`
	// ScopeType is the level this limit applies at.
	ScopeType ScopeType `json:"scope_type"`
	// ScopeID narrows the scope: project id, agent id, or agent-type tag.
	// Empty for global limits.
	ScopeID string `json:"scope_id,omitempty"`
	// Amount is the spend ceiling for one period window.
	Amount MicroUSD `json:"amount"`
	// Period is the aggregation window.
	Period Period `json:"period"`
	// AlertThreshold is the spend fraction (0,1] at which a warning fires.
	AlertThreshold float64 `json:"alert_threshold"`
	// Action is what happens when spend reaches the amount.
	Action ExceedAction `json:"action_on_exceed"`
	// Active indicates the limit is currently enforced.
	Active bool `json:"active"`
	// CreatedAt is when the limit was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the limit was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the limit definition before it is committed.
func (l BudgetLimit) Validate() error {
	if l.Name == "" {
		return &ValidationError{Field: "name", Reason: "required"}
	}
	if !l.ScopeType.Valid() {
		return &ValidationError{Field: "scope_type", Reason: "unknown scope " + string(l.ScopeType)}
	}
	if l.ScopeType == ScopeGlobal && l.ScopeID != "" {
		return &ValidationError{Field: "scope_id", Reason: "must be empty for global scope"}
	}
	if l.ScopeType != ScopeGlobal && l.ScopeID == "" {
		return &ValidationError{Field: "scope_id", Reason: "required for " + string(l.ScopeType) + " scope"}
	}
	if l.ScopeType == ScopeAgentType && !AgentType(l.ScopeID).Valid() {
		return &ValidationError{Field: "scope_id", Reason: "unknown agent type " + l.ScopeID}
	}
	if l.Amount <= 0 {
		return &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if !l.Period.Valid() {
		return &ValidationError{Field: "period", Reason: "unknown period " + string(l.Period)}
	}
	if l.AlertThreshold <= 0 || l.AlertThreshold > 1 {
		return &ValidationError{Field: "alert_threshold", Reason: "must be in (0,1]"}
	}
	if !l.Action.Valid() {
		return &ValidationError{Field: "action_on_exceed", Reason: "unknown action " + string(l.Action)}
	}
	return nil
}

// Matches reports whether a call with the given attribution falls under
// this limit's scope. Resolution is an explicit match over a flat table,
// not an object hierarchy.
func (l BudgetLimit) Matches(a Attribution) bool {
	switch l.ScopeType {
	case ScopeGlobal:
		return true
	case ScopeProject:
		return a.ProjectID != "" && a.ProjectID == l.ScopeID
	case ScopeAgentType:
		return string(a.AgentType) == l.ScopeID
	case ScopeAgent:
		return a.AgentID == l.ScopeID
	default:
		return false
	}
}
