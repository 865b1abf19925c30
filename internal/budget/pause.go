package budget

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/zaggy/mcc/internal/state"
)

// PauseController manages the system-wide emergency pause. While paused,
// admission refuses every call regardless of budget headroom. State is
// thread-safe and every flip is written to the pause audit trail.
type PauseController struct {
	db *state.DB

	// paused indicates whether spending is currently suspended.
	paused bool
	// reason is the operator-supplied reason for the current pause.
	reason string
	// stopped indicates the controller has been shut down.
	stopped bool
	// mu protects all fields.
	mu sync.RWMutex
	// cond signals waiters when the system is resumed or stopped.
	cond *sync.Cond
}

// NewPauseController creates a controller, restoring the persisted pause
// state from the audit trail so a restart does not silently resume spend.
func NewPauseController(db *state.DB) (*PauseController, error) {
	p := &PauseController{db: db}
	p.cond = sync.NewCond(&p.mu)

	row := db.QueryRow(`SELECT paused, COALESCE(reason, '') FROM pause_audit ORDER BY version DESC LIMIT 1`)
	var paused int
	var reason string
	err := row.Scan(&paused, &reason)
	if err == nil {
		p.paused = paused != 0
		p.reason = reason
	} else if err != sql.ErrNoRows {
		return nil, fmt.Errorf("restore pause state: %w", err)
	}
	return p, nil
}

// Pause suspends all spending. Idempotent; each effective flip is audited.
func (p *PauseController) Pause(actor, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused {
		return nil
	}
	if err := p.audit(true, actor, reason); err != nil {
		return err
	}
	p.paused = true
	p.reason = reason
	log.Printf("[budget] emergency pause by %s: %s", actor, reason)
	return nil
}

// Resume lifts the pause. Idempotent.
func (p *PauseController) Resume(actor string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.paused {
		return nil
	}
	if err := p.audit(false, actor, ""); err != nil {
		return err
	}
	p.paused = false
	p.reason = ""
	log.Printf("[budget] spending resumed by %s", actor)
	p.cond.Broadcast()
	return nil
}

func (p *PauseController) audit(paused bool, actor, reason string) error {
	flag := 0
	if paused {
		flag = 1
	}
	_, err := p.db.Exec(`INSERT INTO pause_audit (paused, actor, reason, created_at) VALUES (?, ?, ?, ?)`,
		flag, actor, reason, state.FormatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("record pause audit: %w", err)
	}
	return nil
}

// Stop shuts the controller down, unblocking any WaitIfPaused callers.
func (p *PauseController) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.stopped {
		p.stopped = true
		p.cond.Broadcast()
	}
}

// IsPaused returns whether spending is currently suspended, along with
// the pause reason when it is.
func (p *PauseController) IsPaused() (bool, string) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused, p.reason
}

// WaitIfPaused blocks until spending is resumed or the controller stops.
// Returns an error when the context is cancelled or the controller is
// stopped first.
func (p *PauseController) WaitIfPaused(ctx context.Context) error {
	p.mu.Lock()
	if p.paused && !p.stopped {
		// One goroutine to break the wait on context cancellation
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				p.mu.Lock()
				p.cond.Broadcast()
				p.mu.Unlock()
			case <-done:
			}
		}()

		for p.paused && !p.stopped {
			p.cond.Wait()
			if ctx.Err() != nil {
				close(done)
				p.mu.Unlock()
				return ctx.Err()
			}
		}
		close(done)
	}
	if p.stopped {
		p.mu.Unlock()
		return fmt.Errorf("pause controller stopped")
	}
	p.mu.Unlock()
	return nil
}
