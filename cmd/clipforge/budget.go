package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/clipforge/clipforge/pkg/models"
)

func newBudgetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Inspect provider spend budgets and call windows",
	}

	cmd.AddCommand(newBudgetStatusCmd())
	return cmd
}

func newBudgetStatusCmd() *cobra.Command {
	var (
		configPath string
		provider   string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show current spend against each provider budget",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger, modeAdmin)
			if err != nil {
				return err
			}
			defer a.Close()

			var statuses []models.BudgetStatus
			if provider != "" {
				statuses = a.limiter.Status(provider)
			} else {
				statuses = a.limiter.Statuses()
			}
			if len(statuses) == 0 {
				fmt.Println("No budgets configured.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tPERIOD\tKEY\tSPENT\tLIMIT\tREMAINING")
			for _, s := range statuses {
				fmt.Fprintf(w, "%s\t%s\t%s\t$%.4f\t%s\t%s\n",
					s.Provider, s.Period, s.Key, s.Spent, money(s.Limit, s.Limit), money(s.Limit, s.Remaining))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVarP(&provider, "provider", "p", "", "show a single provider")
	return cmd
}

// money formats v, or "unlimited" when limit is zero.
func money(limit, v float64) string {
	if limit == 0 {
		return "unlimited"
	}
	return fmt.Sprintf("$%.4f", v)
}
