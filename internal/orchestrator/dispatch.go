package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/zaggy/mcc/internal/budget"
	"github.com/zaggy/mcc/internal/llm"
	"github.com/zaggy/mcc/pkg/models"
)

// Dispatcher sends agent work to the LLM provider with budget admission
// in front and the usage ledger behind. Provider failures are retried
// with exponential backoff; budget blocks are never retried, they
// escalate.
type Dispatcher struct {
	gate     *budget.Gate
	provider llm.Provider
	emitter  *EventEmitter
	policy   models.RetryPolicy

	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewDispatcher creates a dispatcher with the given retry policy.
func NewDispatcher(gate *budget.Gate, provider llm.Provider, emitter *EventEmitter, policy models.RetryPolicy) *Dispatcher {
	return &Dispatcher{
		gate:     gate,
		provider: provider,
		emitter:  emitter,
		policy:   policy,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Result is the outcome of a successful dispatch.
type Result struct {
	// Response is the provider's answer.
	Response *llm.Response
	// Record is the settled usage record.
	Record *models.UsageRecord
	// Warned indicates admission admitted the call with a budget warning.
	Warned bool
	// Attempts is how many provider attempts were made.
	Attempts int
}

// Dispatch runs one agent LLM call end to end: admission check, provider
// call, ledger settle. Each retry attempt is admitted and identified
// separately, so an attempt that fails after admission releases its
// reservation before the next one reserves.
//
// A budget block returns budget.ErrBlocked wrapped with the gate's
// reason; callers must treat it as terminal for the current window.
func (d *Dispatcher) Dispatch(ctx context.Context, attr models.Attribution, req llm.Request) (*Result, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	estimate := llm.Estimate(req.Model, llm.EstimatePromptTokens(req), maxTokens)

	var lastErr error
	for attempt := 1; attempt <= d.policy.MaxAttempts; attempt++ {
		callID := uuid.New().String()

		decision, err := d.gate.Check(ctx, callID, attr, estimate)
		if err != nil {
			return nil, fmt.Errorf("dispatch for %s: %w", attr.AgentID, err)
		}
		if decision.Outcome == budget.OutcomeBlock {
			ev := newEvent(EventCallBlocked)
			ev.AgentID = attr.AgentID
			ev.TaskID = attr.TaskID
			ev.ConversationID = attr.ConversationID
			ev.Message = decision.Reason
			d.emit(ev)
			return nil, fmt.Errorf("dispatch for %s: %s: %w", attr.AgentID, decision.Reason, budget.ErrBlocked)
		}

		start := time.Now()
		resp, err := d.provider.Complete(ctx, req)
		if err != nil {
			d.gate.Release(callID)
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			delay := d.policy.Delay(attempt)
			log.Printf("[dispatch] attempt %d/%d for agent %s failed: %v (retry in %s)",
				attempt, d.policy.MaxAttempts, attr.AgentID, err, delay)
			if attempt < d.policy.MaxAttempts {
				if err := d.sleep(ctx, delay); err != nil {
					return nil, err
				}
			}
			continue
		}

		record := &models.UsageRecord{
			ID:          uuid.New().String(),
			CallID:      callID,
			Timestamp:   time.Now().UTC(),
			Attribution: attr,
			Model:       resp.Model,
			TokensIn:    resp.TokensIn,
			TokensOut:   resp.TokensOut,
			Cost:        llm.PricingFor(resp.Model).Cost(resp.TokensIn, resp.TokensOut, resp.Cached),
			Duration:    resp.Duration,
			Cached:      resp.Cached,
		}
		if record.Duration == 0 {
			record.Duration = time.Since(start)
		}

		if err := d.gate.Settle(record); err != nil {
			// The provider call happened and is unrecorded; the
			// reservation stays held so spend remains conservative.
			return nil, fmt.Errorf("dispatch for %s: %w", attr.AgentID, err)
		}

		return &Result{
			Response: resp,
			Record:   record,
			Warned:   decision.Outcome == budget.OutcomeWarn,
			Attempts: attempt,
		}, nil
	}

	return nil, fmt.Errorf("dispatch for %s: %d attempts exhausted: %w",
		attr.AgentID, d.policy.MaxAttempts, lastErr)
}

// Blocked reports whether an error from Dispatch was a budget refusal.
func Blocked(err error) bool {
	return errors.Is(err, budget.ErrBlocked)
}

func (d *Dispatcher) emit(ev Event) {
	if d.emitter != nil {
		d.emitter.Emit(ev)
	}
}
