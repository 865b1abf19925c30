package budget

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zaggy/mcc/internal/state"
	"github.com/zaggy/mcc/pkg/models"
)

// ErrLimitConflict indicates an active limit already exists for the same
// scope and period. Deactivate the existing limit before defining a
// replacement.
var ErrLimitConflict = errors.New("active budget limit already exists for scope and period")

// ErrLimitNotFound indicates the referenced limit does not exist.
var ErrLimitNotFound = errors.New("budget limit not found")

// Registry holds budget limit definitions. It persists to SQLite and keeps
// an in-memory mirror of the active set so admission checks never touch
// the database to resolve scopes.
type Registry struct {
	db *state.DB

	mu     sync.RWMutex
	limits map[string]models.BudgetLimit // id -> limit, active only
}

// NewRegistry creates a registry and loads the active limits from the
// database.
func NewRegistry(db *state.DB) (*Registry, error) {
	r := &Registry{
		db:     db,
		limits: make(map[string]models.BudgetLimit),
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) load() error {
	rows, err := r.db.Query(`
		SELECT id, name, scope_type, scope_id, amount_micros, period,
			alert_threshold, action_on_exceed, active, created_at, updated_at
		FROM budget_limits WHERE active = 1
	`)
	if err != nil {
		return fmt.Errorf("load budget limits: %w", err)
	}
	defer rows.Close()

	r.mu.Lock()
	defer r.mu.Unlock()
	for rows.Next() {
		l, err := scanLimit(rows)
		if err != nil {
			return err
		}
		r.limits[l.ID] = *l
	}
	return rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLimit(row scanner) (*models.BudgetLimit, error) {
	var l models.BudgetLimit
	var micros int64
	var active int
	var createdAt, updatedAt string

	err := row.Scan(&l.ID, &l.Name, &l.ScopeType, &l.ScopeID, &micros, &l.Period,
		&l.AlertThreshold, &l.Action, &active, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan budget limit: %w", err)
	}
	l.Amount = models.MicroUSD(micros)
	l.Active = active != 0
	l.CreatedAt, _ = state.ParseTime(createdAt)
	l.UpdatedAt, _ = state.ParseTime(updatedAt)
	return &l, nil
}

// Set defines a new budget limit. The limit is validated, persisted and
// mirrored into memory. Returns ErrLimitConflict when an active limit
// already covers the same scope and period.
func (r *Registry) Set(l models.BudgetLimit) (models.BudgetLimit, error) {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if l.AlertThreshold == 0 {
		l.AlertThreshold = models.DefaultAlertThreshold
	}
	if l.Action == "" {
		l.Action = models.ActionWarn
	}
	now := time.Now().UTC()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	l.UpdatedAt = now
	l.Active = true

	if err := l.Validate(); err != nil {
		return models.BudgetLimit{}, fmt.Errorf("set budget limit: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.limits {
		if existing.ScopeType == l.ScopeType && existing.ScopeID == l.ScopeID && existing.Period == l.Period {
			return models.BudgetLimit{}, fmt.Errorf("set budget limit %s/%s/%s: %w",
				l.ScopeType, l.ScopeID, l.Period, ErrLimitConflict)
		}
	}

	_, err := r.db.Exec(`
		INSERT INTO budget_limits (id, name, scope_type, scope_id, amount_micros, period,
			alert_threshold, action_on_exceed, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
	`, l.ID, l.Name, string(l.ScopeType), l.ScopeID, int64(l.Amount), string(l.Period),
		l.AlertThreshold, string(l.Action), state.FormatTime(l.CreatedAt), state.FormatTime(l.UpdatedAt))
	if err != nil {
		return models.BudgetLimit{}, fmt.Errorf("persist budget limit: %w", err)
	}

	r.limits[l.ID] = l
	return l, nil
}

// LimitUpdate carries the mutable fields of a budget limit. Nil fields
// are left unchanged.
type LimitUpdate struct {
	Name           *string
	Amount         *models.MicroUSD
	AlertThreshold *float64
	Action         *models.ExceedAction
}

// Update changes an active limit in place. Scope and period are fixed at
// creation; define a new limit to move scopes. The row and the in-memory
// mirror change together under the registry lock, so raising a cap takes
// effect for admission without a deactivate/set gap.
func (r *Registry) Update(id string, u LimitUpdate) (models.BudgetLimit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.limits[id]
	if !ok {
		return models.BudgetLimit{}, fmt.Errorf("update budget limit %s: %w", id, ErrLimitNotFound)
	}
	if u.Name != nil {
		l.Name = *u.Name
	}
	if u.Amount != nil {
		l.Amount = *u.Amount
	}
	if u.AlertThreshold != nil {
		l.AlertThreshold = *u.AlertThreshold
	}
	if u.Action != nil {
		l.Action = *u.Action
	}
	l.UpdatedAt = time.Now().UTC()

	if err := l.Validate(); err != nil {
		return models.BudgetLimit{}, fmt.Errorf("update budget limit: %w", err)
	}

	_, err := r.db.Exec(`
		UPDATE budget_limits SET name = ?, amount_micros = ?, alert_threshold = ?,
			action_on_exceed = ?, updated_at = ?
		WHERE id = ? AND active = 1
	`, l.Name, int64(l.Amount), l.AlertThreshold, string(l.Action),
		state.FormatTime(l.UpdatedAt), id)
	if err != nil {
		return models.BudgetLimit{}, fmt.Errorf("persist budget limit update: %w", err)
	}

	r.limits[id] = l
	return l, nil
}

// Deactivate soft-deletes a limit. The definition stays in the database
// for history; it just stops being enforced.
func (r *Registry) Deactivate(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.limits[id]; !ok {
		return fmt.Errorf("deactivate budget limit %s: %w", id, ErrLimitNotFound)
	}

	_, err := r.db.Exec(`UPDATE budget_limits SET active = 0, updated_at = ? WHERE id = ?`,
		state.FormatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("deactivate budget limit: %w", err)
	}

	delete(r.limits, id)
	return nil
}

// Get returns a limit by ID, active or not. Returns nil if not found.
func (r *Registry) Get(id string) (*models.BudgetLimit, error) {
	r.mu.RLock()
	if l, ok := r.limits[id]; ok {
		r.mu.RUnlock()
		return &l, nil
	}
	r.mu.RUnlock()

	row := r.db.QueryRow(`
		SELECT id, name, scope_type, scope_id, amount_micros, period,
			alert_threshold, action_on_exceed, active, created_at, updated_at
		FROM budget_limits WHERE id = ?
	`, id)
	return scanLimit(row)
}

// List returns all limits, active first, then by scope specificity.
func (r *Registry) List(includeInactive bool) ([]models.BudgetLimit, error) {
	query := `
		SELECT id, name, scope_type, scope_id, amount_micros, period,
			alert_threshold, action_on_exceed, active, created_at, updated_at
		FROM budget_limits`
	if !includeInactive {
		query += ` WHERE active = 1`
	}

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("list budget limits: %w", err)
	}
	defer rows.Close()

	var limits []models.BudgetLimit
	for rows.Next() {
		l, err := scanLimit(rows)
		if err != nil {
			return nil, err
		}
		limits = append(limits, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(limits, func(i, j int) bool {
		if limits[i].Active != limits[j].Active {
			return limits[i].Active
		}
		return limits[i].ScopeType.Specificity() > limits[j].ScopeType.Specificity()
	})
	return limits, nil
}

// Resolve returns the active limits whose scope matches the attribution,
// ordered most specific first. Served entirely from the in-memory mirror.
func (r *Registry) Resolve(a models.Attribution) []models.BudgetLimit {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []models.BudgetLimit
	for _, l := range r.limits {
		if l.Matches(a) {
			matched = append(matched, l)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		si, sj := matched[i].ScopeType.Specificity(), matched[j].ScopeType.Specificity()
		if si != sj {
			return si > sj
		}
		return matched[i].ID < matched[j].ID
	})
	return matched
}
