package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/clipforge/clipforge/pkg/pipeline"
)

func newRunCmd() *cobra.Command {
	var (
		configPath string
		req        pipeline.Request
		simulate   bool
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Produce one video and print its stages and cost",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			m := modeLive
			if simulate {
				m = modeSimulate
			}
			a, err := newApp(ctx, cfg, logger, m)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.orch.Run(ctx, req)
			var rej *pipeline.RejectionError
			if errors.As(err, &rej) {
				return fmt.Errorf("run rejected: %s", rej.Reason)
			}
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			printResult(os.Stdout, res)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&req.Category, "category", "", "content category to discover, e.g. drama")
	cmd.Flags().StringVar(&req.SourceText, "text", "", "use this text instead of discovering content")
	cmd.Flags().Float64Var(&req.TargetMinutes, "minutes", 1, "target video length in minutes")
	cmd.Flags().StringVar(&req.Voice, "voice", "", "voice ID for narration")
	cmd.Flags().StringVar(&req.Background, "background", "", "background footage ID")
	cmd.Flags().BoolVar(&req.Captions, "captions", false, "burn in captions")
	cmd.Flags().IntVar(&req.Limit, "limit", 0, "discovery result-set size")
	cmd.Flags().BoolVar(&simulate, "simulate", false, "run without provider credentials; every stage falls back")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func printResult(out io.Writer, res *pipeline.Result) {
	fmt.Fprintf(out, "Title:    %s\n", defaultStr(res.Title, "(untitled)"))
	fmt.Fprintf(out, "Video:    %s\n", defaultStr(res.VideoURL, "(none)"))
	fmt.Fprintf(out, "Audio:    %s\n", defaultStr(res.AudioURL, "(none)"))
	fmt.Fprintf(out, "Length:   %s\n", time.Duration(res.DurationSeconds*float64(time.Second)).Round(time.Second))
	fmt.Fprintf(out, "Cached:   %t\n", res.CacheHit)
	fmt.Fprintf(out, "Created:  %s\n\n", humanize.Time(res.CreatedAt))

	if len(res.Stages) > 0 {
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "STAGE\tOUTCOME\tPROVIDER\tCOST\tTOOK\tREASON")
		for _, s := range res.Stages {
			fmt.Fprintf(w, "%s\t%s\t%s\t$%.4f\t%s\t%s\n",
				s.Stage, s.Kind, s.Provider, s.Cost, s.Duration.Round(time.Millisecond), s.Reason)
		}
		_ = w.Flush()
		fmt.Fprintln(out)
	}
	fmt.Fprintf(out, "Total cost: $%.4f (%d fallbacks)\n", res.Cost.Total, res.Fallbacks)
}

func defaultStr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
