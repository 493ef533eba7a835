package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newAlertsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "List the alert rules that serve evaluates",
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

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tMETRIC\tCONDITION\tTHRESHOLD\tWINDOW\tENABLED")
			for _, r := range a.alerts.Rules() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%g\t%s\t%t\n",
					r.ID, r.Metric, r.Condition, r.Threshold, r.Window, r.Enabled)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	return cmd
}
