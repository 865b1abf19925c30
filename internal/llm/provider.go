// Package llm provides the provider abstraction the orchestrator dispatches
// LLM calls through, backed by the Anthropic API directly or via AWS Bedrock.
package llm

import (
	"context"
	"time"
)

// Request is one completion request from an agent.
type Request struct {
	// Model is the model identifier to call.
	Model string
	// System is the system prompt, if any.
	System string
	// Messages is the conversation turns, oldest first.
	Messages []Turn
	// MaxTokens caps the completion length.
	MaxTokens int64
}

// Role distinguishes request turns.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a request.
type Turn struct {
	Role    Role
	Content string
}

// Response is the provider's answer plus the usage that was billed.
type Response struct {
	// Text is the completion text.
	Text string
	// Model is the model that actually served the call.
	Model string
	// TokensIn is the billed prompt token count.
	TokensIn int64
	// TokensOut is the billed completion token count.
	TokensOut int64
	// Duration is how long the provider call took.
	Duration time.Duration
	// Cached indicates the response was served from a provider cache.
	Cached bool
}

// Provider serves completion requests. Implementations must be safe for
// concurrent use.
type Provider interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
