package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/zaggy/mcc/internal/budget"
	"github.com/zaggy/mcc/internal/ledger"
	"github.com/zaggy/mcc/internal/state"
	"github.com/zaggy/mcc/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show orchestrator state",
	Long: `Display a summary of the orchestrator's state:

  - Pause state
  - Task counts by status
  - Active conversations
  - Today's spend against each active limit`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	dbPath := resolveDBPath()
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No state database. Run 'mcc run' or 'mcc budget set' to start.")
		return nil
	}

	db, err := openState()
	if err != nil {
		return err
	}
	defer db.Close()

	pc, err := budget.NewPauseController(db)
	if err != nil {
		return err
	}
	defer pc.Stop()

	if paused, reason := pc.IsPaused(); paused {
		fmt.Printf("PAUSED: %s\n\n", reason)
	} else {
		fmt.Printf("Running\n\n")
	}

	if err := printTaskCounts(db); err != nil {
		return err
	}
	if err := printConversations(db); err != nil {
		return err
	}
	return printLimits(db)
}

func printTaskCounts(db *state.DB) error {
	statuses := []models.TaskStatus{
		models.TaskStatusPending,
		models.TaskStatusInProgress,
		models.TaskStatusTesting,
		models.TaskStatusReview,
		models.TaskStatusCompleted,
		models.TaskStatusFailed,
	}

	fmt.Println("Tasks:")
	var total int
	for _, s := range statuses {
		st := s
		tasks, err := db.ListTasks("", &st)
		if err != nil {
			return err
		}
		if len(tasks) > 0 {
			fmt.Printf("  %-12s %d\n", s, len(tasks))
		}
		total += len(tasks)
	}
	if total == 0 {
		fmt.Println("  (none)")
	}
	fmt.Println()
	return nil
}

func printConversations(db *state.DB) error {
	active := models.ConversationActive
	convs, err := db.ListConversations("", &active)
	if err != nil {
		return err
	}
	paused := models.ConversationPaused
	parked, err := db.ListConversations("", &paused)
	if err != nil {
		return err
	}

	fmt.Printf("Conversations: %d active", len(convs))
	if len(parked) > 0 {
		fmt.Printf(", %d paused", len(parked))
	}
	fmt.Println()
	fmt.Println()
	return nil
}

func printLimits(db *state.DB) error {
	registry, err := budget.NewRegistry(db)
	if err != nil {
		return err
	}
	limits, err := registry.List(false)
	if err != nil {
		return err
	}
	if len(limits) == 0 {
		fmt.Println("No budget limits configured.")
		return nil
	}

	l := ledger.New(db)
	now := time.Now()

	fmt.Println("Budget limits:")
	for _, limit := range limits {
		window := budget.WindowFor(limit.Period, now)
		spend, err := l.Sum(limit.ScopeType, limit.ScopeID, window.Start, window.End)
		if err != nil {
			return err
		}

		scope := string(limit.ScopeType)
		if limit.ScopeID != "" {
			scope += ":" + limit.ScopeID
		}
		pct := 0.0
		if limit.Amount > 0 {
			pct = float64(spend) / float64(limit.Amount) * 100
		}
		fmt.Printf("  %-30s %s/%s  %s of %s (%.0f%%, %s left)\n",
			scope, limit.Period, limit.Action, spend, limit.Amount, pct,
			limit.Amount-spend)
	}
	return nil
}
