package budget

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/zaggy/mcc/internal/ledger"
	"github.com/zaggy/mcc/internal/state"
	"github.com/zaggy/mcc/pkg/models"
)

// recordingAlerter captures alerts for assertions.
type recordingAlerter struct {
	mu     sync.Mutex
	alerts []Alert
}

func (a *recordingAlerter) BudgetAlert(alert Alert) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, alert)
}

func (a *recordingAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.alerts)
}

type gateFixture struct {
	gate     *Gate
	registry *Registry
	ledger   *ledger.Ledger
	pause    *PauseController
	alerter  *recordingAlerter
	db       *state.DB
	now      time.Time
}

func setupGate(t *testing.T) *gateFixture {
	t.Helper()
	db, err := state.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})

	registry, err := NewRegistry(db)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	pause, err := NewPauseController(db)
	if err != nil {
		t.Fatalf("NewPauseController failed: %v", err)
	}
	l := ledger.New(db)
	alerter := &recordingAlerter{}

	f := &gateFixture{
		gate:     NewGate(registry, l, pause, db, alerter),
		registry: registry,
		ledger:   l,
		pause:    pause,
		alerter:  alerter,
		db:       db,
		now:      time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC),
	}
	f.gate.now = func() time.Time { return f.now }
	return f
}

func coderAttr() models.Attribution {
	return models.Attribution{AgentID: "coder-1", AgentType: models.AgentCoder, ProjectID: "proj-1"}
}

// spend appends a settled record so the window carries prior spend.
func (f *gateFixture) spend(t *testing.T, callID string, cost models.MicroUSD) {
	t.Helper()
	err := f.ledger.Append(&models.UsageRecord{
		ID: "rec-" + callID, CallID: callID, Timestamp: f.now,
		Attribution: coderAttr(), Model: "claude-sonnet-4",
		TokensIn: 100, TokensOut: 100, Cost: cost,
	})
	if err != nil {
		t.Fatalf("seed spend failed: %v", err)
	}
}

func (f *gateFixture) setLimit(t *testing.T, l models.BudgetLimit) models.BudgetLimit {
	t.Helper()
	set, err := f.registry.Set(l)
	if err != nil {
		t.Fatalf("Set limit failed: %v", err)
	}
	return set
}

func usd(t *testing.T, s string) models.MicroUSD {
	t.Helper()
	v, err := models.ParseUSD(s)
	if err != nil {
		t.Fatalf("ParseUSD(%s): %v", s, err)
	}
	return v
}

func TestCheck_AllowWithNoLimits(t *testing.T) {
	f := setupGate(t)

	d, err := f.gate.Check(context.Background(), "call-1", coderAttr(), 1000)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if d.Outcome != OutcomeAllow {
		t.Errorf("Outcome = %q, want allow", d.Outcome)
	}
	if f.gate.InFlight() != 1 {
		t.Errorf("InFlight = %d, want 1", f.gate.InFlight())
	}
}

func TestCheck_BlocksAtExactBoundary(t *testing.T) {
	f := setupGate(t)

	// $50 daily block limit, $49 already spent, $2 estimated: projected
	// $51 exceeds the cap, so the call must not go out.
	f.setLimit(t, models.BudgetLimit{
		Name: "project cap", ScopeType: models.ScopeProject, ScopeID: "proj-1",
		Amount: usd(t, "50.00"), Period: models.PeriodDaily, Action: models.ActionBlock,
	})
	f.spend(t, "prior", usd(t, "49.00"))

	d, err := f.gate.Check(context.Background(), "call-1", coderAttr(), usd(t, "2.00"))
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if d.Outcome != OutcomeBlock {
		t.Fatalf("Outcome = %q, want block", d.Outcome)
	}
	if d.Projected != 1.02 {
		t.Errorf("Projected = %v, want 1.02", d.Projected)
	}
	if f.gate.InFlight() != 0 {
		t.Error("blocked call must not hold a reservation")
	}

	// An estimate that lands exactly on the cap is also refused:
	// reaching 100% is exceeding for a block limit.
	d, err = f.gate.Check(context.Background(), "call-2", coderAttr(), usd(t, "1.00"))
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if d.Outcome != OutcomeBlock {
		t.Errorf("Outcome at exact cap = %q, want block", d.Outcome)
	}

	// Just under the cap is admitted
	d, err = f.gate.Check(context.Background(), "call-3", coderAttr(), usd(t, "0.99"))
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if d.Outcome == OutcomeBlock {
		t.Errorf("Outcome under cap = %q, want admit", d.Outcome)
	}
}

func TestCheck_WarnLimitAdmitsOverCap(t *testing.T) {
	f := setupGate(t)

	f.setLimit(t, models.BudgetLimit{
		Name: "soft cap", ScopeType: models.ScopeProject, ScopeID: "proj-1",
		Amount: usd(t, "50.00"), Period: models.PeriodDaily, Action: models.ActionWarn,
	})
	f.spend(t, "prior", usd(t, "49.00"))

	d, err := f.gate.Check(context.Background(), "call-1", coderAttr(), usd(t, "2.00"))
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if d.Outcome != OutcomeWarn {
		t.Errorf("Outcome = %q, want warn", d.Outcome)
	}
	if f.gate.InFlight() != 1 {
		t.Error("warned call should hold a reservation")
	}
	if f.alerter.count() != 1 {
		t.Errorf("alerts = %d, want 1", f.alerter.count())
	}
	if f.alerter.alerts[0].Severity != SeverityCritical {
		t.Errorf("severity = %q, want critical at 100%%", f.alerter.alerts[0].Severity)
	}
}

func TestCheck_WarnAtThreshold_OncePerWindow(t *testing.T) {
	f := setupGate(t)

	f.setLimit(t, models.BudgetLimit{
		Name: "cap", ScopeType: models.ScopeProject, ScopeID: "proj-1",
		Amount: usd(t, "100.00"), Period: models.PeriodDaily,
		AlertThreshold: 0.80, Action: models.ActionBlock,
	})
	f.spend(t, "prior", usd(t, "80.00"))

	// 85% projected: warn and alert
	d, err := f.gate.Check(context.Background(), "call-1", coderAttr(), usd(t, "5.00"))
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if d.Outcome != OutcomeWarn {
		t.Fatalf("Outcome = %q, want warn", d.Outcome)
	}
	if f.alerter.count() != 1 {
		t.Fatalf("alerts = %d, want 1", f.alerter.count())
	}
	f.gate.Release("call-1")

	// Second crossing in the same window: warn again, but no second alert
	d, err = f.gate.Check(context.Background(), "call-2", coderAttr(), usd(t, "6.00"))
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if d.Outcome != OutcomeWarn {
		t.Errorf("Outcome = %q, want warn", d.Outcome)
	}
	if f.alerter.count() != 1 {
		t.Errorf("alerts = %d, want 1 (suppressed repeat)", f.alerter.count())
	}

	// Next day's window alerts afresh
	f.now = f.now.AddDate(0, 0, 1)
	f.spend(t, "next-day", usd(t, "85.00"))
	d, err = f.gate.Check(context.Background(), "call-3", coderAttr(), usd(t, "1.00"))
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if d.Outcome != OutcomeWarn {
		t.Errorf("Outcome = %q, want warn", d.Outcome)
	}
	if f.alerter.count() != 2 {
		t.Errorf("alerts = %d, want 2 (new window)", f.alerter.count())
	}
}

func TestCheck_AlertUpgradesToCritical(t *testing.T) {
	f := setupGate(t)

	f.setLimit(t, models.BudgetLimit{
		Name: "cap", ScopeType: models.ScopeProject, ScopeID: "proj-1",
		Amount: usd(t, "100.00"), Period: models.PeriodDaily, Action: models.ActionBlock,
	})
	f.spend(t, "prior", usd(t, "84.00"))

	// Warning first
	if _, err := f.gate.Check(context.Background(), "call-1", coderAttr(), usd(t, "1.00")); err != nil {
		t.Fatal(err)
	}
	f.gate.Release("call-1")
	// Then a block in the same window: upgraded alert is delivered
	f.spend(t, "more", usd(t, "15.00"))
	d, err := f.gate.Check(context.Background(), "call-2", coderAttr(), usd(t, "5.00"))
	if err != nil {
		t.Fatal(err)
	}
	if d.Outcome != OutcomeBlock {
		t.Fatalf("Outcome = %q, want block", d.Outcome)
	}
	if f.alerter.count() != 2 {
		t.Fatalf("alerts = %d, want 2 (warning then critical)", f.alerter.count())
	}
	if f.alerter.alerts[1].Severity != SeverityCritical {
		t.Errorf("second alert severity = %q, want critical", f.alerter.alerts[1].Severity)
	}
}

func TestCheck_MostSpecificBlockDecides(t *testing.T) {
	f := setupGate(t)

	f.setLimit(t, models.BudgetLimit{
		Name: "global cap", ScopeType: models.ScopeGlobal,
		Amount: usd(t, "10.00"), Period: models.PeriodDaily, Action: models.ActionBlock,
	})
	f.setLimit(t, models.BudgetLimit{
		Name: "agent cap", ScopeType: models.ScopeAgent, ScopeID: "coder-1",
		Amount: usd(t, "5.00"), Period: models.PeriodDaily, Action: models.ActionBlock,
	})
	f.spend(t, "prior", usd(t, "9.50"))

	// Both limits are exhausted; the agent-scoped one is reported
	d, err := f.gate.Check(context.Background(), "call-1", coderAttr(), usd(t, "1.00"))
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if d.Outcome != OutcomeBlock {
		t.Fatalf("Outcome = %q, want block", d.Outcome)
	}
	if d.Limit.Name != "agent cap" {
		t.Errorf("deciding limit = %q, want agent cap", d.Limit.Name)
	}
}

func TestCheck_BlockBeatsWarn(t *testing.T) {
	f := setupGate(t)

	// Specific limit only warns, broader limit blocks: block wins
	f.setLimit(t, models.BudgetLimit{
		Name: "agent soft", ScopeType: models.ScopeAgent, ScopeID: "coder-1",
		Amount: usd(t, "5.00"), Period: models.PeriodDaily, Action: models.ActionWarn,
	})
	f.setLimit(t, models.BudgetLimit{
		Name: "project hard", ScopeType: models.ScopeProject, ScopeID: "proj-1",
		Amount: usd(t, "6.00"), Period: models.PeriodDaily, Action: models.ActionBlock,
	})
	f.spend(t, "prior", usd(t, "5.50"))

	d, err := f.gate.Check(context.Background(), "call-1", coderAttr(), usd(t, "1.00"))
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if d.Outcome != OutcomeBlock {
		t.Errorf("Outcome = %q, want block", d.Outcome)
	}
	if d.Limit.Name != "project hard" {
		t.Errorf("deciding limit = %q, want project hard", d.Limit.Name)
	}
}

func TestCheck_ReservationsCountAgainstHeadroom(t *testing.T) {
	f := setupGate(t)

	f.setLimit(t, models.BudgetLimit{
		Name: "cap", ScopeType: models.ScopeProject, ScopeID: "proj-1",
		Amount: usd(t, "10.00"), Period: models.PeriodDaily, Action: models.ActionBlock,
	})

	// First call reserves $6
	d, err := f.gate.Check(context.Background(), "call-1", coderAttr(), usd(t, "6.00"))
	if err != nil || d.Outcome == OutcomeBlock {
		t.Fatalf("first Check = %v, %v; want admit", d.Outcome, err)
	}

	// Second call's $6 would overshoot with the reservation in flight
	d, err = f.gate.Check(context.Background(), "call-2", coderAttr(), usd(t, "6.00"))
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if d.Outcome != OutcomeBlock {
		t.Errorf("Outcome = %q, want block while reservation held", d.Outcome)
	}

	// Releasing the first frees the headroom
	f.gate.Release("call-1")
	d, err = f.gate.Check(context.Background(), "call-3", coderAttr(), usd(t, "6.00"))
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if d.Outcome == OutcomeBlock {
		t.Errorf("Outcome = %q, want admit after release", d.Outcome)
	}
}

func TestSettle_ReplacesReservationWithRecord(t *testing.T) {
	f := setupGate(t)

	f.setLimit(t, models.BudgetLimit{
		Name: "cap", ScopeType: models.ScopeProject, ScopeID: "proj-1",
		Amount: usd(t, "10.00"), Period: models.PeriodDaily, Action: models.ActionBlock,
	})

	if _, err := f.gate.Check(context.Background(), "call-1", coderAttr(), usd(t, "6.00")); err != nil {
		t.Fatal(err)
	}

	// Actual cost came in lower than the estimate
	err := f.gate.Settle(&models.UsageRecord{
		ID: "rec-1", CallID: "call-1", Timestamp: f.now,
		Attribution: coderAttr(), Model: "claude-sonnet-4",
		TokensIn: 100, TokensOut: 100, Cost: usd(t, "4.00"),
	})
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	if f.gate.InFlight() != 0 {
		t.Error("reservation should be released after settle")
	}

	// Settling the same call again is harmless
	err = f.gate.Settle(&models.UsageRecord{
		ID: "rec-dup", CallID: "call-1", Timestamp: f.now,
		Attribution: coderAttr(), Model: "claude-sonnet-4",
		TokensIn: 100, TokensOut: 100, Cost: usd(t, "4.00"),
	})
	if err != nil {
		t.Fatalf("repeat Settle failed: %v", err)
	}

	// Headroom now reflects the $4 recorded, not the $6 estimate
	d, err := f.gate.Check(context.Background(), "call-2", coderAttr(), usd(t, "5.00"))
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if d.Outcome == OutcomeBlock {
		t.Errorf("Outcome = %q, want admit with $6 headroom", d.Outcome)
	}
}

func TestCheck_PausedBlocksEverything(t *testing.T) {
	f := setupGate(t)

	if err := f.pause.Pause("ops", "runaway agent"); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}

	d, err := f.gate.Check(context.Background(), "call-1", coderAttr(), 1)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if d.Outcome != OutcomeBlock {
		t.Fatalf("Outcome = %q, want block while paused", d.Outcome)
	}
	if f.gate.InFlight() != 0 {
		t.Error("paused block must not reserve")
	}

	if err := f.pause.Resume("ops"); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	d, err = f.gate.Check(context.Background(), "call-2", coderAttr(), 1)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if d.Outcome != OutcomeAllow {
		t.Errorf("Outcome = %q, want allow after resume", d.Outcome)
	}
}

func TestPause_SurvivesRestart(t *testing.T) {
	f := setupGate(t)

	if err := f.pause.Pause("ops", "incident"); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}

	// A fresh controller over the same database restores the pause
	restored, err := NewPauseController(f.db)
	if err != nil {
		t.Fatalf("NewPauseController failed: %v", err)
	}
	paused, reason := restored.IsPaused()
	if !paused {
		t.Fatal("restored controller should be paused")
	}
	if reason != "incident" {
		t.Errorf("reason = %q, want incident", reason)
	}
}

func TestCheck_ConcurrentCallsCannotOvershoot(t *testing.T) {
	f := setupGate(t)
	f.gate.now = time.Now // real clock for concurrency

	f.setLimit(t, models.BudgetLimit{
		Name: "cap", ScopeType: models.ScopeProject, ScopeID: "proj-1",
		Amount: 10_000, Period: models.PeriodDaily, Action: models.ActionBlock,
	})

	// 20 concurrent calls at 1000 each against a 10000 cap: at most 9 can
	// be admitted (admitting the 10th would reach 100%).
	const callers = 20
	var wg sync.WaitGroup
	outcomes := make(chan Outcome, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, err := f.gate.Check(context.Background(), fmt.Sprintf("call-%d", i), coderAttr(), 1000)
			if err != nil {
				t.Errorf("Check failed: %v", err)
				return
			}
			outcomes <- d.Outcome
		}(i)
	}
	wg.Wait()
	close(outcomes)

	admitted := 0
	for o := range outcomes {
		if o != OutcomeBlock {
			admitted++
		}
	}
	if admitted > 9 {
		t.Errorf("admitted %d calls, reservations allow at most 9", admitted)
	}
	if admitted == 0 {
		t.Error("expected some calls admitted")
	}
}

func TestSettle_SerializesWithCheck(t *testing.T) {
	f := setupGate(t)

	limit := f.setLimit(t, models.BudgetLimit{
		Name: "cap", ScopeType: models.ScopeProject, ScopeID: "proj-1",
		Amount: 2000, Period: models.PeriodDaily, Action: models.ActionBlock,
	})

	d, err := f.gate.Check(context.Background(), "call-1", coderAttr(), 1000)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if d.Outcome != OutcomeAllow {
		t.Fatalf("Outcome = %q, want allow", d.Outcome)
	}

	// Hold the limit's admission lock, as a check mid-evaluation would
	unlock := f.gate.lockScopes([]models.BudgetLimit{limit})

	settled := make(chan error, 1)
	go func() {
		settled <- f.gate.Settle(&models.UsageRecord{
			ID: "rec-1", CallID: "call-1", Timestamp: f.now,
			Attribution: coderAttr(), Model: "claude-sonnet-4",
			TokensIn: 100, TokensOut: 100, Cost: 1000,
		})
	}()

	select {
	case <-settled:
		t.Fatal("Settle completed while the scope lock was held")
	case <-time.After(50 * time.Millisecond):
	}
	if got := f.gate.InFlight(); got != 1 {
		t.Errorf("InFlight = %d while Settle is parked, want 1", got)
	}

	unlock()
	select {
	case err := <-settled:
		if err != nil {
			t.Fatalf("Settle failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Settle did not complete after the scope lock was released")
	}

	// The settled cost stays counted: window spend 1000 + estimate 1000
	// reaches the 2000 cap.
	d, err = f.gate.Check(context.Background(), "call-2", coderAttr(), 1000)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if d.Outcome != OutcomeBlock {
		t.Errorf("Outcome = %q after settling to the cap, want block", d.Outcome)
	}
}

func TestConcurrentCheckAndSettle_CannotOvershoot(t *testing.T) {
	f := setupGate(t)
	f.gate.now = time.Now // real clock for concurrency

	f.setLimit(t, models.BudgetLimit{
		Name: "cap", ScopeType: models.ScopeProject, ScopeID: "proj-1",
		Amount: 10_000, Period: models.PeriodDaily, Action: models.ActionBlock,
	})

	// Each worker settles immediately after admission, so a check racing
	// a settlement must see the cost in the ledger sum or the reservation
	// set, never in neither. At 1000 per call against a 10000 cap at most
	// 9 calls can ever be admitted.
	const callers = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			callID := fmt.Sprintf("call-%d", i)
			d, err := f.gate.Check(context.Background(), callID, coderAttr(), 1000)
			if err != nil {
				t.Errorf("Check failed: %v", err)
				return
			}
			if d.Outcome == OutcomeBlock {
				return
			}
			err = f.gate.Settle(&models.UsageRecord{
				ID: "rec-" + callID, CallID: callID, Timestamp: time.Now().UTC(),
				Attribution: coderAttr(), Model: "claude-sonnet-4",
				TokensIn: 100, TokensOut: 100, Cost: 1000,
			})
			if err != nil {
				t.Errorf("Settle failed: %v", err)
				return
			}
			mu.Lock()
			admitted++
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	if admitted > 9 {
		t.Errorf("admitted %d calls, cap allows at most 9", admitted)
	}
	if admitted == 0 {
		t.Error("expected some calls admitted")
	}
	total, err := f.ledger.Sum(models.ScopeProject, "proj-1", time.Now().UTC().Add(-time.Hour), time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("Sum failed: %v", err)
	}
	if total >= 10_000 {
		t.Errorf("settled spend = %d, must stay under the 10000 cap", total)
	}
}

func TestWaitIfPaused(t *testing.T) {
	f := setupGate(t)

	if err := f.pause.Pause("ops", "hold"); err != nil {
		t.Fatal(err)
	}

	released := make(chan error, 1)
	go func() {
		released <- f.pause.WaitIfPaused(context.Background())
	}()

	select {
	case <-released:
		t.Fatal("WaitIfPaused returned while still paused")
	case <-time.After(50 * time.Millisecond):
	}

	if err := f.pause.Resume("ops"); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-released:
		if err != nil {
			t.Errorf("WaitIfPaused = %v, want nil after resume", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitIfPaused did not return after resume")
	}
}

func TestWaitIfPaused_ContextCancel(t *testing.T) {
	f := setupGate(t)

	if err := f.pause.Pause("ops", "hold"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	released := make(chan error, 1)
	go func() {
		released <- f.pause.WaitIfPaused(ctx)
	}()

	cancel()
	select {
	case err := <-released:
		if err == nil {
			t.Error("expected context error")
		}
	case <-time.After(time.Second):
		t.Fatal("WaitIfPaused did not return after cancel")
	}
}
