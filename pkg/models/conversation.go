package models

import "time"

// ConversationStatus represents the lifecycle state of a conversation.
type ConversationStatus string

const (
	// ConversationActive indicates messages may be appended.
	ConversationActive ConversationStatus = "active"
	// ConversationPaused indicates appends are suspended until an
	// explicit resume. A system-wide emergency pause parks every active
	// conversation here; none auto-resume.
	ConversationPaused ConversationStatus = "paused"
	// ConversationCompleted indicates the underlying task finished.
	ConversationCompleted ConversationStatus = "completed"
	// ConversationArchived is the administrative end state.
	ConversationArchived ConversationStatus = "archived"
)

// Valid returns true if the status is a known value.
func (s ConversationStatus) Valid() bool {
	switch s {
	case ConversationActive, ConversationPaused, ConversationCompleted, ConversationArchived:
		return true
	default:
		return false
	}
}

// conversationTransitions enumerates the legal status moves.
var conversationTransitions = map[ConversationStatus][]ConversationStatus{
	ConversationActive:    {ConversationPaused, ConversationCompleted},
	ConversationPaused:    {ConversationActive, ConversationCompleted},
	ConversationCompleted: {ConversationArchived},
}

// CanTransition reports whether the conversation may move from s to next.
func (s ConversationStatus) CanTransition(next ConversationStatus) bool {
	for _, t := range conversationTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// ConversationKind classifies what a conversation is about.
type ConversationKind string

const (
	ConversationIssue   ConversationKind = "issue"
	ConversationGeneral ConversationKind = "general"
	ConversationTask    ConversationKind = "task"
	ConversationReview  ConversationKind = "review"
)

// Valid returns true if the kind is a known value.
func (k ConversationKind) Valid() bool {
	switch k {
	case ConversationIssue, ConversationGeneral, ConversationTask, ConversationReview:
		return true
	default:
		return false
	}
}

// Conversation is an ordered, append-only thread of messages between
// agents (and optionally a user). Exactly one of CreatedByUser or
// CreatedByAgent is set.
type Conversation struct {
	// ID is the unique identifier for this conversation.
	ID string `json:"id"`
	// Title is a short label, if any.
	Title string `json:"title,omitempty"`
	// Kind classifies the conversation.
	Kind ConversationKind `json:"kind"`
	// Status is the current lifecycle state.
	Status ConversationStatus `json:"status"`
	// ProjectID is the project this conversation belongs to, if any.
	ProjectID string `json:"project_id,omitempty"`
	// TaskID is the task this conversation drives, if any.
	TaskID string `json:"task_id,omitempty"`
	// CreatedByUser is the creating user id, if a user started it.
	CreatedByUser string `json:"created_by_user,omitempty"`
	// CreatedByAgent is the creating agent id, if an agent started it.
	CreatedByAgent string `json:"created_by_agent,omitempty"`
	// CreatedAt is when the conversation was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the conversation last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the creator invariant and enumerations.
func (c Conversation) Validate() error {
	if (c.CreatedByUser == "") == (c.CreatedByAgent == "") {
		return &ValidationError{Field: "created_by", Reason: "exactly one of user or agent creator must be set"}
	}
	if !c.Kind.Valid() {
		return &ValidationError{Field: "kind", Reason: "unknown kind " + string(c.Kind)}
	}
	if !c.Status.Valid() {
		return &ValidationError{Field: "status", Reason: "unknown status " + string(c.Status)}
	}
	return nil
}

// Participant records an agent's membership in a conversation. Only
// participants may author or receive routed messages there.
type Participant struct {
	ConversationID string    `json:"conversation_id"`
	AgentID        string    `json:"agent_id"`
	AgentName      string    `json:"agent_name"`
	AgentType      AgentType `json:"agent_type"`
	JoinedAt       time.Time `json:"joined_at"`
}

// AuthorType distinguishes who wrote a message.
type AuthorType string

const (
	AuthorUser  AuthorType = "user"
	AuthorAgent AuthorType = "agent"
)

// Message is one entry in a conversation. Seq is assigned by the store at
// append time and is strictly increasing within a conversation, which is
// the ordering guarantee observers rely on.
type Message struct {
	// ID is the unique identifier for this message.
	ID string `json:"id"`
	// ConversationID is the owning conversation.
	ConversationID string `json:"conversation_id"`
	// Seq is the append-order sequence number within the conversation.
	Seq int64 `json:"seq"`
	// AuthorType says whether a user or an agent wrote the message.
	AuthorType AuthorType `json:"author_type"`
	// AuthorID is the user or agent id of the author.
	AuthorID string `json:"author_id"`
	// RecipientID is the agent the message is addressed to, if routed.
	RecipientID string `json:"recipient_id,omitempty"`
	// Content is the message body.
	Content string `json:"content"`
	// ReplyTo is the id of the message this one answers, if any.
	ReplyTo string `json:"reply_to,omitempty"`
	// TokensIn is the prompt token count for the producing call, if any.
	TokensIn int64 `json:"tokens_in,omitempty"`
	// TokensOut is the completion token count, if any.
	TokensOut int64 `json:"tokens_out,omitempty"`
	// Cost is the charge for the producing call, if any.
	Cost MicroUSD `json:"cost,omitempty"`
	// Model is the model that produced the message, if an agent wrote it.
	Model string `json:"model,omitempty"`
	// CreatedAt is when the message was appended.
	CreatedAt time.Time `json:"created_at"`
}
