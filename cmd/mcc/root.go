package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zaggy/mcc/internal/state"
)

var dbPathFlag string

var rootCmd = &cobra.Command{
	Use:   "mcc",
	Short: "Budget-constrained multi-agent task orchestrator",
	Long: `mcc coordinates a team of LLM agents working software development
tasks, with hierarchical spending limits enforced before every call.

Core capabilities:
- Tasks move through a fixed workflow (pending, in progress, testing, review)
- Agents converse in ordered threads with a fixed communication graph
- Every LLM call is metered and attributed to user, agent, project, and task
- Budget limits at global, project, agent-type, and agent scope block or
  warn before the spend happens
- An emergency pause stops all spending immediately`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPathFlag, "db", "", "Path to the state database (default: project, then global)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(budgetCmd)
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// resolveDBPath picks the database: the --db flag, the project database
// if one exists, otherwise the global one.
func resolveDBPath() string {
	if dbPathFlag != "" {
		return dbPathFlag
	}
	cwd, err := os.Getwd()
	if err == nil {
		projectPath := state.ProjectDBPath(cwd)
		if _, err := os.Stat(projectPath); err == nil {
			return projectPath
		}
	}
	return state.GlobalDBPath()
}

// openState opens and migrates the state database.
func openState() (*state.DB, error) {
	db, err := state.Open(resolveDBPath())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}
