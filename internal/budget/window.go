package budget

import (
	"time"

	"github.com/zaggy/mcc/pkg/models"
)

// Window is a half-open accounting interval [Start, End). Spend recorded
// at exactly End belongs to the next window.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether ts falls inside the window.
func (w Window) Contains(ts time.Time) bool {
	return !ts.Before(w.Start) && ts.Before(w.End)
}

// WindowFor returns the accounting window containing now for the given
// period. All windows are computed in UTC: daily windows start at
// midnight, weekly windows on Monday midnight, monthly windows on the
// first of the month.
func WindowFor(period models.Period, now time.Time) Window {
	now = now.UTC()
	switch period {
	case models.PeriodDaily:
		start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		return Window{Start: start, End: start.AddDate(0, 0, 1)}
	case models.PeriodWeekly:
		// time.Weekday puts Sunday at 0; shift so Monday starts the week.
		offset := (int(now.Weekday()) + 6) % 7
		start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -offset)
		return Window{Start: start, End: start.AddDate(0, 0, 7)}
	case models.PeriodMonthly:
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return Window{Start: start, End: start.AddDate(0, 1, 0)}
	default:
		// Unknown periods are rejected at validation; an empty window
		// sums to zero spend if one slips through.
		return Window{Start: now, End: now}
	}
}
