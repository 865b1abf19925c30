package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zaggy/mcc/internal/budget"
	"github.com/zaggy/mcc/internal/signals"
)

var (
	pauseReason string
	pauseActor  string
)

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Emergency pause: stop all spending immediately",
	Long: `Engage the system-wide spending pause. Every subsequent LLM call is
refused until 'mcc resume'. The pause is recorded durably, so a
restarted orchestrator comes back paused.

A signal file is also written so a running orchestrator in this project
picks the pause up without restarting.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openState()
		if err != nil {
			return err
		}
		defer db.Close()

		pc, err := budget.NewPauseController(db)
		if err != nil {
			return fmt.Errorf("load pause state: %w", err)
		}
		defer pc.Stop()

		if err := pc.Pause(pauseActor, pauseReason); err != nil {
			return err
		}

		if cwd, err := os.Getwd(); err == nil {
			if err := signals.SendPause(cwd, pauseReason); err != nil {
				fmt.Fprintf(os.Stderr, "warning: could not write pause signal: %v\n", err)
			}
		}

		fmt.Printf("Spending paused: %s\n", pauseReason)
		return nil
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Lift the spending pause",
	Long: `Lift the system-wide spending pause. Conversations parked by the
pause stay paused and must be resumed individually.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openState()
		if err != nil {
			return err
		}
		defer db.Close()

		pc, err := budget.NewPauseController(db)
		if err != nil {
			return fmt.Errorf("load pause state: %w", err)
		}
		defer pc.Stop()

		if err := pc.Resume(pauseActor); err != nil {
			return err
		}

		if cwd, err := os.Getwd(); err == nil {
			if err := signals.SendResume(cwd); err != nil {
				fmt.Fprintf(os.Stderr, "warning: could not write resume signal: %v\n", err)
			}
		}

		fmt.Println("Spending resumed")
		return nil
	},
}

func init() {
	pauseCmd.Flags().StringVarP(&pauseReason, "message", "m", "manual pause", "Reason recorded with the pause")
	pauseCmd.Flags().StringVar(&pauseActor, "actor", "cli", "Who is pausing")
	resumeCmd.Flags().StringVar(&pauseActor, "actor", "cli", "Who is resuming")
}
