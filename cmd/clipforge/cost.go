package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/clipforge/clipforge/pkg/config"
	"github.com/clipforge/clipforge/pkg/models"
	"github.com/clipforge/clipforge/pkg/tracker"
)

func newCostCmd() *cobra.Command {
	var (
		configPath string
		since      string
	)

	cmd := &cobra.Command{
		Use:   "cost",
		Short: "Show pipeline spend by category",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			tr, err := tracker.New(cfg.Storage.CostsPath)
			if err != nil {
				return err
			}
			defer func() { _ = tr.Close() }()

			sinceTime := beginningOfMonth()
			if since != "" {
				sinceTime, err = time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
				}
			}

			reports, err := tr.ReportByCategory(cmd.Context(), sinceTime)
			if err != nil {
				return err
			}

			fmt.Printf("Costs since %s\n\n", sinceTime.Format("2006-01-02"))
			fmt.Print(formatCostTable(reports))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD), defaults to beginning of month")
	return cmd
}

func beginningOfMonth() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func formatCostTable(reports []models.CostReport) string {
	if len(reports) == 0 {
		return "No cost data found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %6s %6s %9s %10s %10s %10s %11s\n",
		"CATEGORY", "RUNS", "HITS", "FALLBACKS", "ENHANCE", "SPEECH", "RENDER", "TOTAL")
	b.WriteString(strings.Repeat("-", 91) + "\n")

	var total float64
	for _, r := range reports {
		fmt.Fprintf(&b, "%-20s %6d %6d %9d $%9.4f $%9.4f $%9.4f $%10.4f\n",
			defaultStr(r.Category, "(text)"),
			r.Runs, r.CacheHits, r.Fallbacks,
			r.EnhanceCost, r.SpeechCost, r.RenderCost, r.TotalCost)
		total += r.TotalCost
	}
	b.WriteString(strings.Repeat("-", 91) + "\n")
	fmt.Fprintf(&b, "%79s $%10.4f\n", "TOTAL:", total)
	return b.String()
}
