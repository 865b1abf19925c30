// Package budget enforces hierarchical spend limits over the usage ledger.
// Every LLM call passes through the admission gate before it reaches a
// provider; the gate resolves the limits covering the call, projects the
// call's estimated cost onto each window, and blocks, warns, or admits.
package budget

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/zaggy/mcc/internal/ledger"
	"github.com/zaggy/mcc/internal/state"
	"github.com/zaggy/mcc/pkg/models"
)

// ErrBlocked indicates admission refused the call. Blocked calls are not
// provider failures and must not be retried until the window rolls over
// or an operator intervenes.
var ErrBlocked = errors.New("call blocked by budget limit")

// Outcome is the admission verdict for one call.
type Outcome string

const (
	// OutcomeAllow admits the call with no caveats.
	OutcomeAllow Outcome = "allow"
	// OutcomeWarn admits the call but a limit crossed its alert threshold.
	OutcomeWarn Outcome = "warn"
	// OutcomeBlock refuses the call.
	OutcomeBlock Outcome = "block"
)

// Decision is the result of an admission check. For warn and block it
// carries the deciding limit and the projected spend fraction.
type Decision struct {
	Outcome Outcome
	// Reason is a human-readable explanation for warn and block outcomes.
	Reason string
	// Limit is the deciding limit, nil for unconstrained allows.
	Limit *models.BudgetLimit
	// Spend is the window spend including in-flight reservations,
	// before this call.
	Spend models.MicroUSD
	// Projected is the spend fraction (spend + estimate) / amount.
	Projected float64
	// Window is the deciding limit's current accounting window.
	Window Window
}

// Severity classifies a budget alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is a threshold or block notification for one limit and window.
// At most one alert is delivered per limit per window, upgraded once if
// the window later escalates from warning to critical.
type Alert struct {
	Limit    models.BudgetLimit
	Window   Window
	Severity Severity
	Pct      float64
	Spend    models.MicroUSD
}

// Alerter receives budget alerts.
type Alerter interface {
	BudgetAlert(a Alert)
}

// reservation is an in-flight call's estimated cost, held between Check
// and Settle so concurrent calls cannot collectively overshoot a limit.
type reservation struct {
	attr     models.Attribution
	estimate models.MicroUSD
	created  time.Time
}

// Gate is the admission control point for LLM spend.
type Gate struct {
	registry *Registry
	ledger   *ledger.Ledger
	pause    *PauseController
	alerter  Alerter
	db       *state.DB

	// now is swappable for tests.
	now func() time.Time

	mu           sync.Mutex
	reservations map[string]reservation // call id -> reservation

	scopeMu sync.Mutex
	scopes  map[string]*sync.Mutex // scope key -> admission lock
}

// NewGate wires an admission gate. alerter may be nil to drop alerts.
func NewGate(registry *Registry, l *ledger.Ledger, pause *PauseController, db *state.DB, alerter Alerter) *Gate {
	return &Gate{
		registry:     registry,
		ledger:       l,
		pause:        pause,
		alerter:      alerter,
		db:           db,
		now:          time.Now,
		reservations: make(map[string]reservation),
		scopes:       make(map[string]*sync.Mutex),
	}
}

// Check decides whether the call identified by callID may proceed. On
// allow and warn the estimate is reserved against every covering limit
// until Settle or Release. Estimates err high: a reserved estimate
// larger than the final cost can only under-admit, never overspend.
//
// Precedence when several limits object: block beats warn, and among
// blocks the most specific scope decides. Among warns the highest
// projected fraction is reported.
func (g *Gate) Check(ctx context.Context, callID string, attr models.Attribution, estimate models.MicroUSD) (Decision, error) {
	if err := attr.Validate(); err != nil {
		return Decision{}, fmt.Errorf("admission check: %w", err)
	}
	if estimate < 0 {
		return Decision{}, fmt.Errorf("admission check: negative estimate")
	}
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	if paused, reason := g.pause.IsPaused(); paused {
		d := Decision{Outcome: OutcomeBlock, Reason: "spending paused: " + reason}
		log.Printf("[budget] blocked call %s: %s", callID, d.Reason)
		return d, nil
	}

	limits := g.registry.Resolve(attr)
	now := g.now()

	unlock := g.lockScopes(limits)
	defer unlock()

	var blockDecision *Decision
	var warnDecision *Decision

	for i := range limits {
		l := limits[i]
		window := WindowFor(l.Period, now)
		recorded, err := g.ledger.Sum(l.ScopeType, l.ScopeID, window.Start, window.End)
		if err != nil {
			// Fail closed: an unreadable ledger must not admit spend.
			return Decision{}, fmt.Errorf("admission check %s/%s: %w", l.ScopeType, l.ScopeID, err)
		}
		spend := recorded + g.reservedFor(l, window)
		projected := float64(spend+estimate) / float64(l.Amount)

		// Exact integer comparison at the 100% boundary
		if spend+estimate >= l.Amount {
			if l.Action == models.ActionBlock {
				if blockDecision == nil {
					d := g.decision(OutcomeBlock, l, spend, projected, window)
					blockDecision = &d
				}
				continue
			}
			// Limit is set to warn on exceed: admit, but alert critically
			if warnDecision == nil || projected > warnDecision.Projected {
				d := g.decision(OutcomeWarn, l, spend, projected, window)
				warnDecision = &d
			}
			continue
		}

		if projected >= l.AlertThreshold {
			if warnDecision == nil || projected > warnDecision.Projected {
				d := g.decision(OutcomeWarn, l, spend, projected, window)
				warnDecision = &d
			}
		}
	}

	if blockDecision != nil {
		g.emitAlert(*blockDecision.Limit, blockDecision.Window, SeverityCritical, blockDecision.Projected, blockDecision.Spend)
		log.Printf("[budget] blocked call %s: %s", callID, blockDecision.Reason)
		return *blockDecision, nil
	}

	g.mu.Lock()
	g.reservations[callID] = reservation{attr: attr, estimate: estimate, created: now}
	g.mu.Unlock()

	if warnDecision != nil {
		severity := SeverityWarning
		if warnDecision.Projected >= 1 {
			severity = SeverityCritical
		}
		g.emitAlert(*warnDecision.Limit, warnDecision.Window, severity, warnDecision.Projected, warnDecision.Spend)
		return *warnDecision, nil
	}

	return Decision{Outcome: OutcomeAllow}, nil
}

func (g *Gate) decision(o Outcome, l models.BudgetLimit, spend models.MicroUSD, projected float64, w Window) Decision {
	verb := "would reach"
	if o == OutcomeBlock {
		verb = "would exceed"
	}
	limit := l
	return Decision{
		Outcome: o,
		Reason: fmt.Sprintf("limit %q (%s %s, %s per %s) %s %.0f%%",
			l.Name, l.ScopeType, l.ScopeID, l.Amount, l.Period, verb, projected*100),
		Limit:     &limit,
		Spend:     spend,
		Projected: projected,
		Window:    w,
	}
}

// Settle converts a reservation into a ledger record. The append and the
// reservation release happen under the same per-scope locks Check uses,
// so a concurrent check never observes the cost missing from both the
// ledger sum and the reservation set. A ledger failure keeps the
// estimate reserved so spend stays fail-closed. Settling an
// already-settled call releases the reservation and reports no error.
func (g *Gate) Settle(r *models.UsageRecord) error {
	unlock := g.lockScopes(g.registry.Resolve(r.Attribution))
	defer unlock()

	err := g.ledger.Append(r)
	if err != nil && !errors.Is(err, ledger.ErrDuplicateCall) {
		return fmt.Errorf("settle call %s: %w", r.CallID, err)
	}

	g.mu.Lock()
	delete(g.reservations, r.CallID)
	g.mu.Unlock()
	return nil
}

// Release drops a reservation without recording spend. Used when the
// provider call failed or was abandoned.
func (g *Gate) Release(callID string) {
	g.mu.Lock()
	delete(g.reservations, callID)
	g.mu.Unlock()
}

// InFlight returns the number of outstanding reservations.
func (g *Gate) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.reservations)
}

// reservedFor sums in-flight estimates that count against the limit's
// current window.
func (g *Gate) reservedFor(l models.BudgetLimit, w Window) models.MicroUSD {
	g.mu.Lock()
	defer g.mu.Unlock()

	var total models.MicroUSD
	for _, res := range g.reservations {
		if l.Matches(res.attr) && w.Contains(res.created) {
			total += res.estimate
		}
	}
	return total
}

// lockScopes serializes admission per scope so concurrent checks against
// the same limit cannot both reserve the last of its headroom. Keys are
// locked in sorted order.
func (g *Gate) lockScopes(limits []models.BudgetLimit) func() {
	if len(limits) == 0 {
		return func() {}
	}

	keys := make([]string, 0, len(limits))
	for _, l := range limits {
		keys = append(keys, string(l.ScopeType)+"/"+l.ScopeID)
	}
	sort.Strings(keys)

	var locked []*sync.Mutex
	g.scopeMu.Lock()
	for i, k := range keys {
		if i > 0 && keys[i-1] == k {
			continue
		}
		m, ok := g.scopes[k]
		if !ok {
			m = &sync.Mutex{}
			g.scopes[k] = m
		}
		locked = append(locked, m)
	}
	g.scopeMu.Unlock()

	for _, m := range locked {
		m.Lock()
	}
	return func() {
		for i := len(locked) - 1; i >= 0; i-- {
			locked[i].Unlock()
		}
	}
}

// emitAlert delivers at most one alert per limit and window, upgrading a
// delivered warning to critical once if the same window later escalates.
// Markers are persisted so a restart does not replay alerts.
func (g *Gate) emitAlert(l models.BudgetLimit, w Window, severity Severity, pct float64, spend models.MicroUSD) {
	deliver := false
	err := g.db.Transaction(func(tx *sql.Tx) error {
		var existing string
		row := tx.QueryRow(`SELECT severity FROM budget_alerts WHERE limit_id = ? AND window_start = ?`,
			l.ID, state.FormatTime(w.Start))
		err := row.Scan(&existing)
		switch {
		case err == sql.ErrNoRows:
			_, err = tx.Exec(`INSERT INTO budget_alerts (limit_id, window_start, severity, pct, created_at)
				VALUES (?, ?, ?, ?, ?)`,
				l.ID, state.FormatTime(w.Start), string(severity), pct, state.FormatTime(g.now()))
			if err != nil {
				return fmt.Errorf("record budget alert: %w", err)
			}
			deliver = true
		case err != nil:
			return fmt.Errorf("check budget alert: %w", err)
		case existing == string(SeverityWarning) && severity == SeverityCritical:
			_, err = tx.Exec(`UPDATE budget_alerts SET severity = ?, pct = ? WHERE limit_id = ? AND window_start = ?`,
				string(severity), pct, l.ID, state.FormatTime(w.Start))
			if err != nil {
				return fmt.Errorf("upgrade budget alert: %w", err)
			}
			deliver = true
		}
		return nil
	})
	if err != nil {
		// Alert bookkeeping must never break admission
		log.Printf("[budget] alert bookkeeping failed for limit %s: %v", l.ID, err)
		return
	}

	if deliver && g.alerter != nil {
		g.alerter.BudgetAlert(Alert{Limit: l, Window: w, Severity: severity, Pct: pct, Spend: spend})
	}
}
