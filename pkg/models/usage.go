package models

import "time"

// UsageRecord is the immutable ledger entry for one completed LLM call.
// Records are created exactly once per call and never mutated; retention
// policy (external) is the only thing that removes them.
type UsageRecord struct {
	// ID is the unique identifier for this record.
	ID string `json:"id"`
	// CallID is the caller-supplied unique id for the LLM call. Reporting
	// the same CallID twice changes the ledger exactly once.
	CallID string `json:"call_id"`
	// Timestamp is when the call completed, in UTC.
	Timestamp time.Time `json:"timestamp"`
	// Attribution identifies who the call is charged to.
	Attribution Attribution `json:"attribution"`
	// MessageID is the conversation message produced by the call, if any.
	MessageID string `json:"message_id,omitempty"`
	// Model is the model identifier the call was served by.
	Model string `json:"model"`
	// TokensIn is the prompt token count.
	TokensIn int64 `json:"tokens_in"`
	// TokensOut is the completion token count.
	TokensOut int64 `json:"tokens_out"`
	// Cost is the exact charge for the call.
	Cost MicroUSD `json:"cost"`
	// Duration is how long the provider call took.
	Duration time.Duration `json:"duration"`
	// Cached indicates the call was served from a provider cache.
	Cached bool `json:"cached"`
}

// Validate checks the record is well formed enough to append.
func (r UsageRecord) Validate() error {
	if r.CallID == "" {
		return &ValidationError{Field: "call_id", Reason: "required"}
	}
	if r.Model == "" {
		return &ValidationError{Field: "model", Reason: "required"}
	}
	if r.TokensIn < 0 || r.TokensOut < 0 {
		return &ValidationError{Field: "tokens", Reason: "negative token count"}
	}
	if r.Cost < 0 {
		return &ValidationError{Field: "cost", Reason: "negative cost"}
	}
	return r.Attribution.Validate()
}
