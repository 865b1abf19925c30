package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/zaggy/mcc/internal/budget"
	"github.com/zaggy/mcc/pkg/models"
)

var (
	budgetSetName      string
	budgetSetScope     string
	budgetSetScopeID   string
	budgetSetPeriod    string
	budgetSetAmount    string
	budgetSetAction    string
	budgetSetThreshold float64
	budgetListAll      bool
)

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Manage budget limits",
	Long: `View and modify the spending limits the admission gate enforces.

One active limit is allowed per (scope, scope id, period) combination.
Limits with action 'block' refuse calls that would cross the cap; limits
with action 'warn' admit them and alert.`,
}

var budgetListCmd = &cobra.Command{
	Use:   "list",
	Short: "List budget limits",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openState()
		if err != nil {
			return err
		}
		defer db.Close()

		registry, err := budget.NewRegistry(db)
		if err != nil {
			return fmt.Errorf("load limits: %w", err)
		}

		limits, err := registry.List(budgetListAll)
		if err != nil {
			return err
		}
		if len(limits) == 0 {
			fmt.Println("No budget limits configured. Use 'mcc budget set' to add one.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSCOPE\tPERIOD\tAMOUNT\tACTION\tWARN AT\tACTIVE")
		for _, l := range limits {
			scope := string(l.ScopeType)
			if l.ScopeID != "" {
				scope += ":" + l.ScopeID
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%.0f%%\t%t\n",
				l.ID, l.Name, scope, l.Period, l.Amount, l.Action,
				l.AlertThreshold*100, l.Active)
		}
		return w.Flush()
	},
}

var budgetSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Create a budget limit",
	Long: `Create an active budget limit.

Examples:
  mcc budget set --scope global --period daily --amount 100.00
  mcc budget set --scope project --scope-id api-server --period monthly --amount 500.00 --action warn
  mcc budget set --scope agent-type --scope-id coder --period daily --amount 25.00 --threshold 0.75`,
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := models.ParseUSD(budgetSetAmount)
		if err != nil {
			return err
		}

		db, err := openState()
		if err != nil {
			return err
		}
		defer db.Close()

		registry, err := budget.NewRegistry(db)
		if err != nil {
			return fmt.Errorf("load limits: %w", err)
		}

		limit, err := registry.Set(models.BudgetLimit{
			Name:           budgetSetName,
			ScopeType:      parseScope(budgetSetScope),
			ScopeID:        budgetSetScopeID,
			Period:         models.Period(budgetSetPeriod),
			Amount:         amount,
			Action:         models.ExceedAction(budgetSetAction),
			AlertThreshold: budgetSetThreshold,
		})
		if err != nil {
			return err
		}

		fmt.Printf("Created limit %s: %s %s %s (%s)\n",
			limit.ID, limit.ScopeType, limit.Period, limit.Amount, limit.Action)
		return nil
	},
}

var (
	budgetUpdateName      string
	budgetUpdateAmount    string
	budgetUpdateAction    string
	budgetUpdateThreshold float64
)

var budgetUpdateCmd = &cobra.Command{
	Use:   "update <limit-id>",
	Short: "Change an active budget limit",
	Long: `Change a limit's name, amount, action, or warn threshold in place.
Scope and period cannot change; create a new limit instead.

Example:
  mcc budget update 3f1c... --amount 200.00`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var u budget.LimitUpdate
		if cmd.Flags().Changed("name") {
			u.Name = &budgetUpdateName
		}
		if cmd.Flags().Changed("amount") {
			amount, err := models.ParseUSD(budgetUpdateAmount)
			if err != nil {
				return err
			}
			u.Amount = &amount
		}
		if cmd.Flags().Changed("action") {
			action := models.ExceedAction(budgetUpdateAction)
			u.Action = &action
		}
		if cmd.Flags().Changed("threshold") {
			u.AlertThreshold = &budgetUpdateThreshold
		}
		if u.Name == nil && u.Amount == nil && u.Action == nil && u.AlertThreshold == nil {
			return fmt.Errorf("nothing to update: pass --name, --amount, --action, or --threshold")
		}

		db, err := openState()
		if err != nil {
			return err
		}
		defer db.Close()

		registry, err := budget.NewRegistry(db)
		if err != nil {
			return fmt.Errorf("load limits: %w", err)
		}
		limit, err := registry.Update(args[0], u)
		if err != nil {
			return err
		}
		fmt.Printf("Updated limit %s: %s %s %s (%s)\n",
			limit.ID, limit.ScopeType, limit.Period, limit.Amount, limit.Action)
		return nil
	},
}

var budgetDeactivateCmd = &cobra.Command{
	Use:   "deactivate <limit-id>",
	Short: "Deactivate a budget limit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openState()
		if err != nil {
			return err
		}
		defer db.Close()

		registry, err := budget.NewRegistry(db)
		if err != nil {
			return fmt.Errorf("load limits: %w", err)
		}
		if err := registry.Deactivate(args[0]); err != nil {
			return err
		}
		fmt.Printf("Deactivated limit %s\n", args[0])
		return nil
	},
}

// limitSpec is one entry in a budget YAML file.
type limitSpec struct {
	Name      string  `yaml:"name"`
	Scope     string  `yaml:"scope"`
	ScopeID   string  `yaml:"scope_id"`
	Period    string  `yaml:"period"`
	Amount    string  `yaml:"amount"`
	Action    string  `yaml:"action"`
	Threshold float64 `yaml:"threshold"`
}

var budgetApplyCmd = &cobra.Command{
	Use:   "apply <file.yaml>",
	Short: "Create budget limits from a YAML file",
	Long: `Create budget limits from a YAML file containing a 'limits' list.

Example file:
  limits:
    - name: company cap
      scope: global
      period: monthly
      amount: "2000.00"
      action: block
    - scope: project
      scope_id: api-server
      period: daily
      amount: "50.00"
      action: warn
      threshold: 0.9`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read %s: %w", args[0], err)
		}

		var doc struct {
			Limits []limitSpec `yaml:"limits"`
		}
		if err := yaml.Unmarshal(content, &doc); err != nil {
			return fmt.Errorf("parse %s: %w", args[0], err)
		}
		if len(doc.Limits) == 0 {
			return fmt.Errorf("%s contains no limits", args[0])
		}

		db, err := openState()
		if err != nil {
			return err
		}
		defer db.Close()

		registry, err := budget.NewRegistry(db)
		if err != nil {
			return fmt.Errorf("load limits: %w", err)
		}

		for i, spec := range doc.Limits {
			amount, err := models.ParseUSD(spec.Amount)
			if err != nil {
				return fmt.Errorf("limit %d: %w", i+1, err)
			}
			limit, err := registry.Set(models.BudgetLimit{
				Name:           spec.Name,
				ScopeType:      parseScope(spec.Scope),
				ScopeID:        spec.ScopeID,
				Period:         models.Period(spec.Period),
				Amount:         amount,
				Action:         models.ExceedAction(spec.Action),
				AlertThreshold: spec.Threshold,
			})
			if err != nil {
				return fmt.Errorf("limit %d: %w", i+1, err)
			}
			fmt.Printf("Created limit %s: %s %s %s (%s)\n",
				limit.ID, limit.ScopeType, limit.Period, limit.Amount, limit.Action)
		}
		return nil
	},
}

// parseScope accepts both underscore and dash spellings of agent_type.
func parseScope(s string) models.ScopeType {
	if s == "agent-type" {
		return models.ScopeAgentType
	}
	return models.ScopeType(s)
}

func init() {
	budgetSetCmd.Flags().StringVar(&budgetSetName, "name", "", "Human-readable label used in alerts")
	budgetSetCmd.Flags().StringVar(&budgetSetScope, "scope", "global", "Scope: global, project, agent-type, agent")
	budgetSetCmd.Flags().StringVar(&budgetSetScopeID, "scope-id", "", "Project id, agent id, or agent type (empty for global)")
	budgetSetCmd.Flags().StringVar(&budgetSetPeriod, "period", "daily", "Window: daily, weekly, monthly")
	budgetSetCmd.Flags().StringVar(&budgetSetAmount, "amount", "", "Spend ceiling in dollars, e.g. 100.00")
	budgetSetCmd.Flags().StringVar(&budgetSetAction, "action", "block", "On exceed: block or warn")
	budgetSetCmd.Flags().Float64Var(&budgetSetThreshold, "threshold", 0, "Warn fraction (default 0.80)")
	budgetSetCmd.MarkFlagRequired("amount")

	budgetUpdateCmd.Flags().StringVar(&budgetUpdateName, "name", "", "New label")
	budgetUpdateCmd.Flags().StringVar(&budgetUpdateAmount, "amount", "", "New spend ceiling in dollars")
	budgetUpdateCmd.Flags().StringVar(&budgetUpdateAction, "action", "", "On exceed: block or warn")
	budgetUpdateCmd.Flags().Float64Var(&budgetUpdateThreshold, "threshold", 0, "Warn fraction (0,1]")

	budgetListCmd.Flags().BoolVar(&budgetListAll, "all", false, "Include deactivated limits")

	budgetCmd.AddCommand(budgetListCmd)
	budgetCmd.AddCommand(budgetSetCmd)
	budgetCmd.AddCommand(budgetUpdateCmd)
	budgetCmd.AddCommand(budgetDeactivateCmd)
	budgetCmd.AddCommand(budgetApplyCmd)
}
