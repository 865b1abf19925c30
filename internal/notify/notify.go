// Package notify renders budget alerts and orchestrator events for the
// operator's terminal.
package notify

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/fatih/color"

	"github.com/zaggy/mcc/internal/budget"
	"github.com/zaggy/mcc/internal/orchestrator"
)

// Notifier writes human-readable notifications. It satisfies
// budget.Alerter so the admission gate can deliver threshold alerts
// directly.
type Notifier struct {
	mu  sync.Mutex
	out io.Writer

	warn     *color.Color
	critical *color.Color
	info     *color.Color
}

// New creates a notifier writing to stderr.
func New() *Notifier {
	return NewWithWriter(os.Stderr)
}

// NewWithWriter creates a notifier writing to the given writer.
func NewWithWriter(out io.Writer) *Notifier {
	return &Notifier{
		out:      out,
		warn:     color.New(color.FgYellow, color.Bold),
		critical: color.New(color.FgRed, color.Bold),
		info:     color.New(color.FgCyan),
	}
}

var _ budget.Alerter = (*Notifier)(nil)

// BudgetAlert renders a budget threshold alert. Warnings are yellow,
// critical alerts red.
func (n *Notifier) BudgetAlert(a budget.Alert) {
	n.mu.Lock()
	defer n.mu.Unlock()

	c := n.warn
	label := "BUDGET WARNING"
	if a.Severity == budget.SeverityCritical {
		c = n.critical
		label = "BUDGET CRITICAL"
	}

	scope := string(a.Limit.ScopeType)
	if a.Limit.ScopeID != "" {
		scope += ":" + a.Limit.ScopeID
	}

	c.Fprintf(n.out, "%s %s at %.0f%% of %s %s limit (%s spent, window ends %s)\n",
		label, scope, a.Pct*100, a.Limit.Period, a.Limit.Amount,
		a.Spend, a.Window.End.Format("2006-01-02 15:04 MST"))
}

// Event renders the orchestrator events an operator cares about. Routine
// transitions go to the debug log only.
func (n *Notifier) Event(ev orchestrator.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch ev.Type {
	case orchestrator.EventCallBlocked:
		n.critical.Fprintf(n.out, "BLOCKED agent %s: %s\n", ev.AgentID, ev.Message)
	case orchestrator.EventEscalation:
		n.warn.Fprintf(n.out, "ESCALATION task %s (agent %s): %s\n", ev.TaskID, ev.AgentID, ev.Message)
	case orchestrator.EventEmergencyPause:
		n.critical.Fprintf(n.out, "EMERGENCY PAUSE: %s\n", ev.Message)
	case orchestrator.EventResume:
		n.info.Fprintf(n.out, "RESUMED: %s\n", ev.Message)
	case orchestrator.EventTaskFailed:
		cause := ev.Message
		if ev.Error != nil {
			cause = ev.Error.Error()
		}
		n.warn.Fprintf(n.out, "FAILED task %s: %s\n", ev.TaskID, cause)
	case orchestrator.EventTaskCompleted:
		n.info.Fprintf(n.out, "COMPLETED task %s\n", ev.TaskID)
	default:
		log.Printf("[notify] %s %s", ev.Type, ev.Message)
	}
}

// Watch consumes an event stream until it closes. Run it in a goroutine
// next to the orchestrator.
func (n *Notifier) Watch(events <-chan orchestrator.Event) {
	for ev := range events {
		n.Event(ev)
	}
}

// NoColor disables colored output, for non-TTY destinations.
func (n *Notifier) NoColor() *Notifier {
	n.warn.DisableColor()
	n.critical.DisableColor()
	n.info.DisableColor()
	return n
}

// Printf writes an uncolored informational line.
func (n *Notifier) Printf(format string, args ...any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	fmt.Fprintf(n.out, format+"\n", args...)
}
