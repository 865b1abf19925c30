// Package ledger is the append-only record of LLM spend. Every completed
// provider call lands here exactly once, keyed by its call ID, and the
// windowed sums it serves are what budget admission decides against.
package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/zaggy/mcc/internal/state"
	"github.com/zaggy/mcc/pkg/models"
)

// ErrDuplicateCall indicates a usage record with the same call ID was
// already appended. The first append wins; retries after a settle are
// safe to ignore.
var ErrDuplicateCall = errors.New("usage record already exists for call")

// Ledger appends usage records and serves spend queries.
type Ledger struct {
	db *state.DB
}

// New creates a Ledger backed by the given database.
func New(db *state.DB) *Ledger {
	return &Ledger{db: db}
}

// Append records a completed LLM call. The task spend rollup and the
// message cost fields are updated in the same transaction, so they can
// never drift from the sum of the records. Returns ErrDuplicateCall when
// the call ID was already settled.
func (l *Ledger) Append(r *models.UsageRecord) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("append usage: %w", err)
	}

	return l.db.Transaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			INSERT OR IGNORE INTO usage_records (id, call_id, timestamp, user_id, agent_id,
				agent_type, project_id, conversation_id, task_id, message_id, model,
				tokens_in, tokens_out, cost_micros, duration_ms, cached)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, r.ID, r.CallID, state.FormatTime(r.Timestamp),
			nullable(r.Attribution.UserID), r.Attribution.AgentID, string(r.Attribution.AgentType),
			nullable(r.Attribution.ProjectID), nullable(r.Attribution.ConversationID), nullable(r.Attribution.TaskID),
			nullable(r.MessageID), r.Model, r.TokensIn, r.TokensOut, int64(r.Cost),
			r.Duration.Milliseconds(), boolInt(r.Cached))
		if err != nil {
			return fmt.Errorf("insert usage record: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			return ErrDuplicateCall
		}

		if r.Attribution.TaskID != "" {
			_, err = tx.Exec(`
				UPDATE tasks SET total_tokens = total_tokens + ?,
					total_cost_micros = total_cost_micros + ?
				WHERE id = ?
			`, r.TokensIn+r.TokensOut, int64(r.Cost), r.Attribution.TaskID)
			if err != nil {
				return fmt.Errorf("update task rollup: %w", err)
			}
		}

		if r.MessageID != "" {
			_, err = tx.Exec(`
				UPDATE messages SET tokens_in = ?, tokens_out = ?, cost_micros = ?, model = ?
				WHERE id = ?
			`, r.TokensIn, r.TokensOut, int64(r.Cost), r.Model, r.MessageID)
			if err != nil {
				return fmt.Errorf("update message cost: %w", err)
			}
		}
		return nil
	})
}

// Sum returns the total recorded spend for a scope inside [from, to).
// An unknown scope simply sums to zero.
func (l *Ledger) Sum(scope models.ScopeType, scopeID string, from, to time.Time) (models.MicroUSD, error) {
	query := `SELECT COALESCE(SUM(cost_micros), 0) FROM usage_records WHERE timestamp >= ? AND timestamp < ?`
	args := []any{state.FormatTime(from), state.FormatTime(to)}

	switch scope {
	case models.ScopeGlobal:
		// no additional filter
	case models.ScopeProject:
		query += ` AND project_id = ?`
		args = append(args, scopeID)
	case models.ScopeAgentType:
		query += ` AND agent_type = ?`
		args = append(args, scopeID)
	case models.ScopeAgent:
		query += ` AND agent_id = ?`
		args = append(args, scopeID)
	default:
		return 0, fmt.Errorf("sum usage: unknown scope type %q", scope)
	}

	var micros int64
	row := l.db.QueryRow(query, args...)
	if err := row.Scan(&micros); err != nil {
		return 0, fmt.Errorf("sum usage: %w", err)
	}
	return models.MicroUSD(micros), nil
}

// ScopeUsage is one row of a usage breakdown.
type ScopeUsage struct {
	ScopeID   string
	Calls     int64
	TokensIn  int64
	TokensOut int64
	Cost      models.MicroUSD
}

// BreakdownBy groups spend inside [from, to) by the given scope type.
// Grouping by the global scope returns a single row with an empty ScopeID.
func (l *Ledger) BreakdownBy(scope models.ScopeType, from, to time.Time) ([]ScopeUsage, error) {
	var column string
	switch scope {
	case models.ScopeGlobal:
		column = "''"
	case models.ScopeProject:
		column = "COALESCE(project_id, '')"
	case models.ScopeAgentType:
		column = "agent_type"
	case models.ScopeAgent:
		column = "agent_id"
	default:
		return nil, fmt.Errorf("usage breakdown: unknown scope type %q", scope)
	}

	rows, err := l.db.Query(fmt.Sprintf(`
		SELECT %s AS scope_id, COUNT(*), COALESCE(SUM(tokens_in), 0),
			COALESCE(SUM(tokens_out), 0), COALESCE(SUM(cost_micros), 0)
		FROM usage_records
		WHERE timestamp >= ? AND timestamp < ?
		GROUP BY scope_id
		ORDER BY SUM(cost_micros) DESC
	`, column), state.FormatTime(from), state.FormatTime(to))
	if err != nil {
		return nil, fmt.Errorf("usage breakdown: %w", err)
	}
	defer rows.Close()

	var out []ScopeUsage
	for rows.Next() {
		var u ScopeUsage
		var micros int64
		if err := rows.Scan(&u.ScopeID, &u.Calls, &u.TokensIn, &u.TokensOut, &micros); err != nil {
			return nil, fmt.Errorf("scan usage breakdown: %w", err)
		}
		u.Cost = models.MicroUSD(micros)
		out = append(out, u)
	}
	return out, rows.Err()
}

// Recent returns the most recent usage records, newest first.
func (l *Ledger) Recent(limit int) ([]models.UsageRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.Query(`
		SELECT id, call_id, timestamp, user_id, agent_id, agent_type, project_id,
			conversation_id, task_id, message_id, model, tokens_in, tokens_out,
			cost_micros, duration_ms, cached
		FROM usage_records ORDER BY timestamp DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent usage: %w", err)
	}
	defer rows.Close()

	var records []models.UsageRecord
	for rows.Next() {
		var r models.UsageRecord
		var userID, projectID, convID, taskID, msgID sql.NullString
		var ts string
		var micros, durationMS int64
		var cached int
		err := rows.Scan(&r.ID, &r.CallID, &ts, &userID, &r.Attribution.AgentID, &r.Attribution.AgentType, &projectID,
			&convID, &taskID, &msgID, &r.Model, &r.TokensIn, &r.TokensOut,
			&micros, &durationMS, &cached)
		if err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}
		r.Attribution.UserID = userID.String
		r.Attribution.ProjectID = projectID.String
		r.Attribution.ConversationID = convID.String
		r.Attribution.TaskID = taskID.String
		r.MessageID = msgID.String
		r.Cost = models.MicroUSD(micros)
		r.Duration = time.Duration(durationMS) * time.Millisecond
		r.Cached = cached != 0
		r.Timestamp, _ = state.ParseTime(ts)
		records = append(records, r)
	}
	return records, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
