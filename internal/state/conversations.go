package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/zaggy/mcc/pkg/models"
)

// CreateConversation inserts a conversation and its initial participants
// in a single transaction.
func (db *DB) CreateConversation(c *models.Conversation, participants []models.Participant) error {
	return db.Transaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO conversations (id, title, kind, status, project_id, task_id,
				created_by_user, created_by_agent, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, c.ID, nullableString(c.Title), string(c.Kind), string(c.Status),
			nullableString(c.ProjectID), nullableString(c.TaskID),
			nullableString(c.CreatedByUser), nullableString(c.CreatedByAgent),
			FormatTime(c.CreatedAt), FormatTime(c.UpdatedAt))
		if err != nil {
			return fmt.Errorf("create conversation: %w", err)
		}

		for _, p := range participants {
			_, err := tx.Exec(`
				INSERT INTO conversation_participants (conversation_id, agent_id, agent_name, agent_type, joined_at)
				VALUES (?, ?, ?, ?, ?)
			`, c.ID, p.AgentID, p.AgentName, string(p.AgentType), FormatTime(p.JoinedAt))
			if err != nil {
				return fmt.Errorf("add participant %s: %w", p.AgentID, err)
			}
		}
		return nil
	})
}

// GetConversation retrieves a conversation by ID. Returns nil if not found.
func (db *DB) GetConversation(id string) (*models.Conversation, error) {
	row := db.QueryRow(`
		SELECT id, title, kind, status, project_id, task_id,
			created_by_user, created_by_agent, created_at, updated_at
		FROM conversations WHERE id = ?
	`, id)
	return scanConversation(row)
}

func scanConversation(row scanner) (*models.Conversation, error) {
	var c models.Conversation
	var title, projectID, taskID, byUser, byAgent sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&c.ID, &title, &c.Kind, &c.Status, &projectID, &taskID,
		&byUser, &byAgent, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}

	c.Title = title.String
	c.ProjectID = projectID.String
	c.TaskID = taskID.String
	c.CreatedByUser = byUser.String
	c.CreatedByAgent = byAgent.String
	c.CreatedAt, _ = ParseTime(createdAt)
	c.UpdatedAt, _ = ParseTime(updatedAt)
	return &c, nil
}

// UpdateConversationStatus moves a conversation to a new status, guarded by
// the expected current status. Returns false when the guard fails.
func (db *DB) UpdateConversationStatus(id string, from, to models.ConversationStatus, now time.Time) (bool, error) {
	res, err := db.Exec(`
		UPDATE conversations SET status = ?, updated_at = ? WHERE id = ? AND status = ?
	`, string(to), FormatTime(now), id, string(from))
	if err != nil {
		return false, fmt.Errorf("update conversation status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// PauseActiveConversations parks every active conversation as paused and
// returns the IDs it touched. Used by the emergency pause path.
func (db *DB) PauseActiveConversations(now time.Time) ([]string, error) {
	var ids []string
	err := db.Transaction(func(tx *sql.Tx) error {
		rows, err := tx.Query(`SELECT id FROM conversations WHERE status = 'active'`)
		if err != nil {
			return fmt.Errorf("list active conversations: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return fmt.Errorf("scan conversation id: %w", err)
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		_, err = tx.Exec(`
			UPDATE conversations SET status = 'paused', updated_at = ? WHERE status = 'active'
		`, FormatTime(now))
		if err != nil {
			return fmt.Errorf("pause conversations: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ListConversations lists conversations for a project, optionally filtered
// by status, most recently updated first.
func (db *DB) ListConversations(projectID string, status *models.ConversationStatus) ([]models.Conversation, error) {
	query := `
		SELECT id, title, kind, status, project_id, task_id,
			created_by_user, created_by_agent, created_at, updated_at
		FROM conversations WHERE project_id = ?`
	args := []any{projectID}
	if status != nil {
		query += ` AND status = ?`
		args = append(args, string(*status))
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var convs []models.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *c)
	}
	return convs, rows.Err()
}

// AddParticipant joins an agent to a conversation. Adding an existing
// participant again is a no-op.
func (db *DB) AddParticipant(p models.Participant) error {
	_, err := db.Exec(`
		INSERT OR IGNORE INTO conversation_participants (conversation_id, agent_id, agent_name, agent_type, joined_at)
		VALUES (?, ?, ?, ?, ?)
	`, p.ConversationID, p.AgentID, p.AgentName, string(p.AgentType), FormatTime(p.JoinedAt))
	if err != nil {
		return fmt.Errorf("add participant: %w", err)
	}
	return nil
}

// ListParticipants returns the participants of a conversation.
func (db *DB) ListParticipants(conversationID string) ([]models.Participant, error) {
	rows, err := db.Query(`
		SELECT conversation_id, agent_id, agent_name, agent_type, joined_at
		FROM conversation_participants WHERE conversation_id = ? ORDER BY joined_at ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var parts []models.Participant
	for rows.Next() {
		var p models.Participant
		var joinedAt string
		if err := rows.Scan(&p.ConversationID, &p.AgentID, &p.AgentName, &p.AgentType, &joinedAt); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		p.JoinedAt, _ = ParseTime(joinedAt)
		parts = append(parts, p)
	}
	return parts, rows.Err()
}

// IsParticipant reports whether the agent is a member of the conversation.
func (db *DB) IsParticipant(conversationID, agentID string) (bool, error) {
	var n int
	row := db.QueryRow(`
		SELECT COUNT(*) FROM conversation_participants WHERE conversation_id = ? AND agent_id = ?
	`, conversationID, agentID)
	if err := row.Scan(&n); err != nil {
		return false, fmt.Errorf("check participant: %w", err)
	}
	return n > 0, nil
}

// AppendMessage appends a message to a conversation, assigning the next
// sequence number inside the transaction. The conversation must be active.
// The assigned seq is written back into m.
func (db *DB) AppendMessage(m *models.Message) error {
	return db.Transaction(func(tx *sql.Tx) error {
		var status string
		row := tx.QueryRow(`SELECT status FROM conversations WHERE id = ?`, m.ConversationID)
		if err := row.Scan(&status); err != nil {
			if err == sql.ErrNoRows {
				return fmt.Errorf("append message: conversation %s not found", m.ConversationID)
			}
			return fmt.Errorf("append message: %w", err)
		}
		if status != string(models.ConversationActive) {
			return fmt.Errorf("append message: conversation %s is %s", m.ConversationID, status)
		}

		row = tx.QueryRow(`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = ?`, m.ConversationID)
		if err := row.Scan(&m.Seq); err != nil {
			return fmt.Errorf("assign message seq: %w", err)
		}

		_, err := tx.Exec(`
			INSERT INTO messages (id, conversation_id, seq, author_type, author_id, recipient_id,
				content, reply_to, tokens_in, tokens_out, cost_micros, model, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, m.ID, m.ConversationID, m.Seq, string(m.AuthorType), m.AuthorID, nullableString(m.RecipientID),
			m.Content, nullableString(m.ReplyTo), m.TokensIn, m.TokensOut, int64(m.Cost),
			nullableString(m.Model), FormatTime(m.CreatedAt))
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}

		_, err = tx.Exec(`UPDATE conversations SET updated_at = ? WHERE id = ?`,
			FormatTime(m.CreatedAt), m.ConversationID)
		if err != nil {
			return fmt.Errorf("touch conversation: %w", err)
		}
		return nil
	})
}

// ListMessages returns messages for a conversation with seq greater than
// afterSeq, in append order. limit <= 0 means no limit.
func (db *DB) ListMessages(conversationID string, afterSeq int64, limit int) ([]models.Message, error) {
	query := `
		SELECT id, conversation_id, seq, author_type, author_id, recipient_id,
			content, reply_to, tokens_in, tokens_out, cost_micros, model, created_at
		FROM messages WHERE conversation_id = ? AND seq > ? ORDER BY seq ASC`
	args := []any{conversationID, afterSeq}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		var recipient, replyTo, model sql.NullString
		var costMicros int64
		var createdAt string
		err := rows.Scan(&m.ID, &m.ConversationID, &m.Seq, &m.AuthorType, &m.AuthorID, &recipient,
			&m.Content, &replyTo, &m.TokensIn, &m.TokensOut, &costMicros, &model, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.RecipientID = recipient.String
		m.ReplyTo = replyTo.String
		m.Model = model.String
		m.Cost = models.MicroUSD(costMicros)
		m.CreatedAt, _ = ParseTime(createdAt)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
