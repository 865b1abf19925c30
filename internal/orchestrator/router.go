package orchestrator

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zaggy/mcc/pkg/models"
)

// ErrRouteNotAllowed indicates the communication graph forbids the
// author agent type from messaging the recipient agent type.
var ErrRouteNotAllowed = errors.New("communication graph forbids route")

// ErrNotParticipant indicates the author or recipient is not a member of
// the conversation.
var ErrNotParticipant = errors.New("agent is not a conversation participant")

// ConversationStore is the persistence the router needs.
type ConversationStore interface {
	GetConversation(id string) (*models.Conversation, error)
	ListParticipants(conversationID string) ([]models.Participant, error)
	AddParticipant(p models.Participant) error
	AppendMessage(m *models.Message) error
	ListMessages(conversationID string, afterSeq int64, limit int) ([]models.Message, error)
}

// Router appends messages to conversations, enforcing membership and the
// fixed agent communication graph. The graph is policy, not topology:
// a disallowed pair is refused even when both agents share the
// conversation.
type Router struct {
	store   ConversationStore
	emitter *EventEmitter
}

// NewRouter creates a router over the given store.
func NewRouter(store ConversationStore, emitter *EventEmitter) *Router {
	return &Router{store: store, emitter: emitter}
}

// Route validates and appends a message. Agent authors must be
// participants; a targeted message additionally requires the recipient to
// be a participant and the author's agent type to be allowed to message
// the recipient's type. User messages bypass the graph but not
// membership of the target. The assigned sequence number is written back
// into m.
func (r *Router) Route(m *models.Message) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.ConversationID == "" {
		return fmt.Errorf("route message: conversation required")
	}
	if m.AuthorID == "" {
		return fmt.Errorf("route message: author required")
	}
	if m.Content == "" {
		return fmt.Errorf("route message: empty content")
	}

	participants, err := r.store.ListParticipants(m.ConversationID)
	if err != nil {
		return err
	}
	byID := make(map[string]models.Participant, len(participants))
	for _, p := range participants {
		byID[p.AgentID] = p
	}

	var authorType models.AgentType
	if m.AuthorType == models.AuthorAgent {
		author, ok := byID[m.AuthorID]
		if !ok {
			return fmt.Errorf("route message from %s in %s: %w",
				m.AuthorID, m.ConversationID, ErrNotParticipant)
		}
		authorType = author.AgentType
	}

	if m.RecipientID != "" {
		recipient, ok := byID[m.RecipientID]
		if !ok {
			return fmt.Errorf("route message to %s in %s: %w",
				m.RecipientID, m.ConversationID, ErrNotParticipant)
		}
		if m.AuthorType == models.AuthorAgent && !authorType.CanMessage(recipient.AgentType) {
			return fmt.Errorf("route message %s → %s: %w",
				authorType, recipient.AgentType, ErrRouteNotAllowed)
		}
	}

	if err := r.store.AppendMessage(m); err != nil {
		return err
	}

	if r.emitter != nil {
		ev := newEvent(EventMessageRouted)
		ev.ConversationID = m.ConversationID
		ev.AgentID = m.AuthorID
		ev.Message = fmt.Sprintf("seq %d to %s", m.Seq, m.RecipientID)
		r.emitter.Emit(ev)
	}
	return nil
}

// History returns the messages an agent should see when picking up a
// conversation. Agent types that retain context receive the full thread;
// the rest receive only messages appended after their join, which keeps
// per-call prompts bounded.
func (r *Router) History(conversationID, agentID string) ([]models.Message, error) {
	participants, err := r.store.ListParticipants(conversationID)
	if err != nil {
		return nil, err
	}

	var member *models.Participant
	for i := range participants {
		if participants[i].AgentID == agentID {
			member = &participants[i]
			break
		}
	}
	if member == nil {
		return nil, fmt.Errorf("history for %s in %s: %w", agentID, conversationID, ErrNotParticipant)
	}

	msgs, err := r.store.ListMessages(conversationID, 0, 0)
	if err != nil {
		return nil, err
	}
	if member.AgentType.RetainsContext() {
		return msgs, nil
	}

	var visible []models.Message
	for _, m := range msgs {
		if !m.CreatedAt.Before(member.JoinedAt) {
			visible = append(visible, m)
		}
	}
	return visible, nil
}
