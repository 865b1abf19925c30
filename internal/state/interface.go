package state

import (
	"io"
	"time"

	"github.com/zaggy/mcc/pkg/models"
)

// TaskStore handles task-related persistence operations.
type TaskStore interface {
	CreateTask(t *models.Task) error
	GetTask(id string) (*models.Task, error)
	UpdateTaskStatus(id string, from, to models.TaskStatus, assignedTo string, now time.Time) (bool, error)
	SetTaskPR(id string, pr int, now time.Time) error
	IncrementTaskRetry(id string, now time.Time) error
	ListTasks(projectID string, status *models.TaskStatus) ([]models.Task, error)
}

// ConversationStore handles conversation, participant and message persistence.
type ConversationStore interface {
	CreateConversation(c *models.Conversation, participants []models.Participant) error
	GetConversation(id string) (*models.Conversation, error)
	UpdateConversationStatus(id string, from, to models.ConversationStatus, now time.Time) (bool, error)
	PauseActiveConversations(now time.Time) ([]string, error)
	ListConversations(projectID string, status *models.ConversationStatus) ([]models.Conversation, error)
	AddParticipant(p models.Participant) error
	ListParticipants(conversationID string) ([]models.Participant, error)
	IsParticipant(conversationID, agentID string) (bool, error)
	AppendMessage(m *models.Message) error
	ListMessages(conversationID string, afterSeq int64, limit int) ([]models.Message, error)
}

// Migrator handles database schema migrations.
// Separating this allows clients to depend only on migration functionality.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// StateStore defines the interface for workflow state persistence.
// This interface allows the orchestrator to work with any state backend
// without depending on the concrete SQLite implementation.
// It composes focused sub-interfaces for better modularity.
type StateStore interface {
	io.Closer
	Migrator
	TaskStore
	ConversationStore
}

// Compile-time verification that DB implements all interfaces.
var (
	_ StateStore        = (*DB)(nil)
	_ Migrator          = (*DB)(nil)
	_ TaskStore         = (*DB)(nil)
	_ ConversationStore = (*DB)(nil)
)
