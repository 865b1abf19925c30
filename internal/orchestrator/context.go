package orchestrator

import (
	"github.com/zaggy/mcc/internal/llm"
	"github.com/zaggy/mcc/pkg/models"
)

// approxTokensPerChar matches the estimator in internal/llm: four
// characters per token, rounded up.
func approxTokens(s string) int64 {
	return int64(len(s))/4 + 1
}

// BuildContext turns a conversation's visible history into provider
// turns for the given agent. The agent's own messages map to the
// assistant role, everything else to the user role; consecutive
// same-role messages are merged since the API rejects adjacent turns
// with equal roles. When the history exceeds tokenBudget the oldest
// messages are dropped first.
func BuildContext(msgs []models.Message, selfID string, tokenBudget int64) []llm.Turn {
	if len(msgs) == 0 {
		return nil
	}

	// Walk backwards so truncation keeps the newest messages.
	var kept []models.Message
	var used int64
	for i := len(msgs) - 1; i >= 0; i-- {
		cost := approxTokens(msgs[i].Content)
		if tokenBudget > 0 && used+cost > tokenBudget && len(kept) > 0 {
			break
		}
		kept = append(kept, msgs[i])
		used += cost
	}
	// Reverse into chronological order.
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}

	var turns []llm.Turn
	for _, m := range kept {
		role := llm.RoleUser
		if m.AuthorType == models.AuthorAgent && m.AuthorID == selfID {
			role = llm.RoleAssistant
		}
		if n := len(turns); n > 0 && turns[n-1].Role == role {
			turns[n-1].Content += "\n\n" + m.Content
			continue
		}
		turns = append(turns, llm.Turn{Role: role, Content: m.Content})
	}

	// The API requires the thread to open with a user turn.
	if len(turns) > 0 && turns[0].Role == llm.RoleAssistant {
		turns = turns[1:]
	}
	return turns
}

// ContextFor assembles the provider turns an agent should carry into its
// next call: its visible history per the retention rules, truncated to
// the token budget.
func (r *Router) ContextFor(conversationID, agentID string, tokenBudget int64) ([]llm.Turn, error) {
	msgs, err := r.History(conversationID, agentID)
	if err != nil {
		return nil, err
	}
	return BuildContext(msgs, agentID, tokenBudget), nil
}
