package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zaggy/mcc/internal/budget"
	"github.com/zaggy/mcc/internal/ledger"
	"github.com/zaggy/mcc/internal/llm"
	"github.com/zaggy/mcc/internal/state"
	"github.com/zaggy/mcc/pkg/models"
)

// fakeProvider scripts a sequence of provider outcomes: each element is
// either an error or a response.
type fakeProvider struct {
	calls     int
	failUntil int
	err       error
}

func (p *fakeProvider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	p.calls++
	if p.calls <= p.failUntil {
		return nil, p.err
	}
	return &llm.Response{
		Text:      "done",
		Model:     req.Model,
		TokensIn:  1000,
		TokensOut: 500,
		Duration:  10 * time.Millisecond,
	}, nil
}

type dispatchFixture struct {
	dispatcher *Dispatcher
	gate       *budget.Gate
	ledger     *ledger.Ledger
	registry   *budget.Registry
	provider   *fakeProvider
	db         *state.DB
}

func newDispatchFixture(t *testing.T, provider *fakeProvider) *dispatchFixture {
	t.Helper()
	db := setupStore(t)

	registry, err := budget.NewRegistry(db)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	pause, err := budget.NewPauseController(db)
	if err != nil {
		t.Fatalf("NewPauseController failed: %v", err)
	}
	t.Cleanup(pause.Stop)

	l := ledger.New(db)
	gate := budget.NewGate(registry, l, pause, db, nil)
	policy := models.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 1, Cap: time.Millisecond}

	d := NewDispatcher(gate, provider, nil, policy)
	d.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }

	return &dispatchFixture{dispatcher: d, gate: gate, ledger: l, registry: registry, provider: provider, db: db}
}

func testRequest() llm.Request {
	return llm.Request{
		Model:     "claude-sonnet-4-20250514",
		Messages:  []llm.Turn{{Role: llm.RoleUser, Content: "implement the parser"}},
		MaxTokens: 2048,
	}
}

func testAttribution() models.Attribution {
	return models.Attribution{
		AgentID:   "coder-1",
		AgentType: models.AgentCoder,
		ProjectID: "proj-1",
		TaskID:    "task-1",
	}
}

func TestDispatch_SuccessSettlesLedger(t *testing.T) {
	f := newDispatchFixture(t, &fakeProvider{})

	res, err := f.dispatcher.Dispatch(context.Background(), testAttribution(), testRequest())
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if res.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", res.Attempts)
	}
	if res.Warned {
		t.Error("Warned = true without any limits configured")
	}
	if res.Record == nil || res.Record.Cost <= 0 {
		t.Fatalf("Record = %+v, want positive settled cost", res.Record)
	}

	// The settled record must be durable and the reservation released.
	spend, err := f.ledger.Sum(models.ScopeGlobal, "", time.Time{}, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if spend != res.Record.Cost {
		t.Errorf("ledger sum = %d, want %d", spend, res.Record.Cost)
	}
	if f.gate.InFlight() != 0 {
		t.Errorf("InFlight = %d after settle, want 0", f.gate.InFlight())
	}
}

func TestDispatch_RetriesTransientProviderFailure(t *testing.T) {
	provider := &fakeProvider{failUntil: 2, err: errors.New("api: 529 overloaded")}
	f := newDispatchFixture(t, provider)

	res, err := f.dispatcher.Dispatch(context.Background(), testAttribution(), testRequest())
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if res.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", res.Attempts)
	}
	if provider.calls != 3 {
		t.Errorf("provider calls = %d, want 3", provider.calls)
	}
}

func TestDispatch_ExhaustedAttemptsReturnsLastError(t *testing.T) {
	cause := errors.New("api: connection reset")
	provider := &fakeProvider{failUntil: 99, err: cause}
	f := newDispatchFixture(t, provider)

	_, err := f.dispatcher.Dispatch(context.Background(), testAttribution(), testRequest())
	if !errors.Is(err, cause) {
		t.Fatalf("Dispatch = %v, want wrapped %v", err, cause)
	}
	if provider.calls != 3 {
		t.Errorf("provider calls = %d, want 3", provider.calls)
	}
	// Failed attempts must not leak reservations.
	if f.gate.InFlight() != 0 {
		t.Errorf("InFlight = %d after exhaustion, want 0", f.gate.InFlight())
	}
}

func TestDispatch_BudgetBlockIsTerminal(t *testing.T) {
	provider := &fakeProvider{}
	f := newDispatchFixture(t, provider)

	if _, err := f.registry.Set(models.BudgetLimit{
		Name:      "global cap",
		ScopeType: models.ScopeGlobal,
		Period:    models.PeriodDaily,
		Amount:    1_000, // $0.001: below any call estimate
		Action:    models.ActionBlock,
	}); err != nil {
		t.Fatal(err)
	}

	_, err := f.dispatcher.Dispatch(context.Background(), testAttribution(), testRequest())
	if !Blocked(err) {
		t.Fatalf("Dispatch = %v, want budget.ErrBlocked", err)
	}
	if provider.calls != 0 {
		t.Errorf("provider calls = %d, want 0: blocks must not reach the provider", provider.calls)
	}
}

func TestDispatch_WarnAdmitsAndFlagsResult(t *testing.T) {
	f := newDispatchFixture(t, &fakeProvider{})

	// Tight warn-action limit: projection exceeds the threshold but the
	// call still goes through.
	if _, err := f.registry.Set(models.BudgetLimit{
		Name:           "project soft cap",
		ScopeType:      models.ScopeProject,
		ScopeID:        "proj-1",
		Period:         models.PeriodDaily,
		Amount:         1_000,
		Action:         models.ActionWarn,
		AlertThreshold: 0.8,
	}); err != nil {
		t.Fatal(err)
	}

	res, err := f.dispatcher.Dispatch(context.Background(), testAttribution(), testRequest())
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if !res.Warned {
		t.Error("Warned = false, want true for an over-threshold warn limit")
	}
}

func TestDispatch_ContextCancelStopsRetries(t *testing.T) {
	provider := &fakeProvider{failUntil: 99, err: errors.New("api: timeout")}
	f := newDispatchFixture(t, provider)

	ctx, cancel := context.WithCancel(context.Background())
	f.dispatcher.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := f.dispatcher.Dispatch(ctx, testAttribution(), testRequest())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Dispatch = %v, want context.Canceled", err)
	}
	if provider.calls != 1 {
		t.Errorf("provider calls = %d, want 1", provider.calls)
	}
}
