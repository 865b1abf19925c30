package orchestrator

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zaggy/mcc/pkg/models"
)

// ErrConversationNotFound indicates the referenced conversation does not
// exist.
var ErrConversationNotFound = errors.New("conversation not found")

// LifecycleStore is the persistence conversation lifecycle needs.
type LifecycleStore interface {
	CreateConversation(c *models.Conversation, participants []models.Participant) error
	GetConversation(id string) (*models.Conversation, error)
	UpdateConversationStatus(id string, from, to models.ConversationStatus, now time.Time) (bool, error)
	PauseActiveConversations(now time.Time) ([]string, error)
}

// Conversations manages conversation lifecycle state.
type Conversations struct {
	store   LifecycleStore
	emitter *EventEmitter
}

// NewConversations creates a conversation lifecycle manager.
func NewConversations(store LifecycleStore, emitter *EventEmitter) *Conversations {
	return &Conversations{store: store, emitter: emitter}
}

// Create opens a conversation with its initial participants. The
// conversation starts active.
func (c *Conversations) Create(conv *models.Conversation, participants []models.Participant) error {
	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}
	if conv.Status == "" {
		conv.Status = models.ConversationActive
	}
	if conv.Status != models.ConversationActive {
		return fmt.Errorf("create conversation: new conversations start active, not %s", conv.Status)
	}
	if err := conv.Validate(); err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	now := time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UpdatedAt = now

	for i := range participants {
		participants[i].ConversationID = conv.ID
		if participants[i].JoinedAt.IsZero() {
			participants[i].JoinedAt = now
		}
		if !participants[i].AgentType.Valid() {
			return fmt.Errorf("create conversation: participant %s has unknown type %q",
				participants[i].AgentID, participants[i].AgentType)
		}
	}
	return c.store.CreateConversation(conv, participants)
}

// Transition moves a conversation through its lifecycle. Illegal moves
// name the current status.
func (c *Conversations) Transition(id string, to models.ConversationStatus) error {
	if !to.Valid() {
		return fmt.Errorf("transition conversation %s: unknown status %q", id, to)
	}

	conv, err := c.store.GetConversation(id)
	if err != nil {
		return err
	}
	if conv == nil {
		return fmt.Errorf("transition conversation %s: %w", id, ErrConversationNotFound)
	}
	if !conv.Status.CanTransition(to) {
		return fmt.Errorf("transition conversation %s: cannot move from %s to %s",
			id, conv.Status, to)
	}

	changed, err := c.store.UpdateConversationStatus(id, conv.Status, to, time.Now().UTC())
	if err != nil {
		return err
	}
	if !changed {
		fresh, err := c.store.GetConversation(id)
		if err != nil {
			return err
		}
		return fmt.Errorf("transition conversation %s: cannot move from %s to %s",
			id, fresh.Status, to)
	}
	return nil
}

// ParkAll pauses every active conversation. Used by the emergency pause;
// parked conversations stay paused until each is explicitly resumed.
func (c *Conversations) ParkAll(reason string) ([]string, error) {
	ids, err := c.store.PauseActiveConversations(time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("park conversations: %w", err)
	}

	if c.emitter != nil {
		for _, id := range ids {
			ev := newEvent(EventTaskTransition)
			ev.ConversationID = id
			ev.Message = "conversation parked: " + reason
			c.emitter.Emit(ev)
		}
	}
	return ids, nil
}
