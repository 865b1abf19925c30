package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zaggy/mcc/internal/orchestrator"
	"github.com/zaggy/mcc/pkg/models"
)

var (
	tasksProject string
	tasksStatus  string
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect and manage tasks",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openState()
		if err != nil {
			return err
		}
		defer db.Close()

		var status *models.TaskStatus
		if tasksStatus != "" {
			s := models.TaskStatus(tasksStatus)
			if !s.Valid() {
				return fmt.Errorf("unknown status %q", tasksStatus)
			}
			status = &s
		}

		tasks, err := db.ListTasks(tasksProject, status)
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			fmt.Println("No tasks.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tPRIORITY\tASSIGNED\tCOST\tTITLE")
		for _, t := range tasks {
			assigned := t.AssignedTo
			if assigned == "" {
				assigned = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				t.ID, t.Status, t.Priority, assigned, t.TotalCost, t.Title)
		}
		return w.Flush()
	},
}

var tasksReopenCmd = &cobra.Command{
	Use:   "reopen <task-id>",
	Short: "Reopen a failed task",
	Long: `Move a failed task back to pending so it can be assigned again.
Only failed tasks can be reopened.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openState()
		if err != nil {
			return err
		}
		defer db.Close()

		wf := orchestrator.NewWorkflow(db, nil)
		task, err := wf.Reopen(args[0], "cli")
		if err != nil {
			return err
		}
		fmt.Printf("Task %s reopened (%s)\n", task.ID, task.Title)
		return nil
	},
}

var tasksAssignCmd = &cobra.Command{
	Use:   "assign <task-id> <agent-id>",
	Short: "Assign a task to an agent",
	Long: `Assign a pending task to an agent and start work on it.
Use 'mcc tasks reopen' first for a failed task.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openState()
		if err != nil {
			return err
		}
		defer db.Close()

		wf := orchestrator.NewWorkflow(db, nil)
		task, err := wf.Transition(args[0], models.TaskStatusInProgress, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Task %s assigned to %s (%s)\n", task.ID, task.AssignedTo, task.Title)
		return nil
	},
}

func init() {
	tasksListCmd.Flags().StringVar(&tasksProject, "project", "", "Filter by project")
	tasksListCmd.Flags().StringVar(&tasksStatus, "status", "", "Filter by status")

	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksAssignCmd)
	tasksCmd.AddCommand(tasksReopenCmd)
}
