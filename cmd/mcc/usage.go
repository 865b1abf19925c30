package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/zaggy/mcc/internal/budget"
	"github.com/zaggy/mcc/internal/ledger"
	"github.com/zaggy/mcc/pkg/models"
)

var (
	usagePeriod string
	usageBy     string
	usageRecent int
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show LLM spend from the usage ledger",
	Long: `Summarize spend for the current period window.

Examples:
  mcc usage                        # global spend today
  mcc usage --period monthly       # global spend this month
  mcc usage --by agent-type        # spend grouped by agent type
  mcc usage --by project           # spend grouped by project
  mcc usage --recent 20            # last 20 usage records`,
	RunE: runUsage,
}

func runUsage(cmd *cobra.Command, args []string) error {
	db, err := openState()
	if err != nil {
		return err
	}
	defer db.Close()

	l := ledger.New(db)

	period := models.Period(usagePeriod)
	if !period.Valid() {
		return fmt.Errorf("unknown period %q", usagePeriod)
	}
	window := budget.WindowFor(period, time.Now())

	if usageRecent > 0 {
		return printRecent(l, usageRecent)
	}

	fmt.Printf("Window: %s to %s (%s)\n",
		window.Start.Format("2006-01-02 15:04 MST"),
		window.End.Format("2006-01-02 15:04 MST"),
		period)

	if usageBy == "" {
		total, err := l.Sum(models.ScopeGlobal, "", window.Start, window.End)
		if err != nil {
			return err
		}
		fmt.Printf("Total spend: %s\n", total)
		return nil
	}

	rows, err := l.BreakdownBy(parseScope(usageBy), window.Start, window.End)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Println("No usage recorded in this window.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SCOPE\tCALLS\tTOKENS IN\tTOKENS OUT\tCOST")
	var total models.MicroUSD
	for _, row := range rows {
		name := row.ScopeID
		if name == "" {
			name = "(none)"
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n",
			name, row.Calls, row.TokensIn, row.TokensOut, row.Cost)
		total += row.Cost
	}
	fmt.Fprintf(w, "TOTAL\t\t\t\t%s\n", total)
	return w.Flush()
}

func printRecent(l *ledger.Ledger, n int) error {
	records, err := l.Recent(n)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No usage recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tAGENT\tMODEL\tTOKENS\tCOST")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\n",
			r.Timestamp.Format("01-02 15:04:05"),
			r.Attribution.AgentID, r.Model, r.TokensIn, r.TokensOut, r.Cost)
	}
	return w.Flush()
}

func init() {
	usageCmd.Flags().StringVar(&usagePeriod, "period", "daily", "Window: daily, weekly, monthly")
	usageCmd.Flags().StringVar(&usageBy, "by", "", "Group by: project, agent-type, agent")
	usageCmd.Flags().IntVar(&usageRecent, "recent", 0, "Show the N most recent records instead")
}
