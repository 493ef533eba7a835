package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/clipforge/clipforge/pkg/models"
	"github.com/clipforge/clipforge/pkg/prefetch"
	"github.com/clipforge/clipforge/pkg/providers"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the content and artifact caches",
	}

	cmd.AddCommand(newCacheStatsCmd(), newCacheClearCmd(), newCacheWarmCmd())
	return cmd
}

func newCacheStatsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show entries held in each cache",
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

			printCacheStats(a.orch.CacheStats())
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	return cmd
}

func printCacheStats(stats []models.CacheStats) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CACHE\tENTRIES\tCAPACITY\tHITS\tSTALE\tMISSES\tEVICTIONS\tHIT RATE\tMEMORY")
	for _, s := range stats {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%.1f%%\t%s\n",
			s.Name,
			humanize.Comma(s.Entries),
			humanize.Comma(int64(s.Capacity)),
			humanize.Comma(s.Hits),
			humanize.Comma(s.StaleHits),
			humanize.Comma(s.Misses),
			humanize.Comma(s.Evictions),
			s.HitRate*100,
			humanize.Bytes(uint64(s.MemoryBytes)))
	}
	_ = w.Flush()
}

func newCacheClearCmd() *cobra.Command {
	var (
		configPath  string
		expiredOnly bool
	)

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove cache entries from memory and durable storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, logger, modeAdmin)
			if err != nil {
				return err
			}
			defer a.Close()

			contentN, err := a.content.Clear(ctx, expiredOnly)
			if err != nil {
				return err
			}
			artifactN, err := a.artifacts.Clear(ctx, expiredOnly)
			if err != nil {
				return err
			}

			what := "entries"
			if expiredOnly {
				what = "expired entries"
			}
			fmt.Printf("Cleared %d content and %d artifact %s.\n", contentN, artifactN, what)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.Flags().BoolVar(&expiredOnly, "expired", false, "only remove expired entries")
	return cmd
}

func newCacheWarmCmd() *cobra.Command {
	var (
		configPath string
		priority   string
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "warm CATEGORY...",
		Short: "Fetch content for categories into the content cache",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := prefetch.ParsePriority(priority)
			if err != nil {
				return err
			}
			cfg, logger, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			a, err := newApp(ctx, cfg, logger, modeAdmin)
			if err != nil {
				return err
			}
			defer a.Close()
			a.attachDiscovery(providers.NewDiscovery(cfg.Providers.Discovery))

			a.scheduler.Warm(args, p)
			ticker := time.NewTicker(250 * time.Millisecond)
			defer ticker.Stop()
		drain:
			for len(a.scheduler.Pending()) > 0 {
				select {
				case <-ctx.Done():
					break drain
				case <-ticker.C:
					a.scheduler.Tick(ctx)
				}
			}
			a.scheduler.Wait()

			st := a.scheduler.Stats()
			fmt.Printf("Warmed %d of %d categories (%d failed, %d rate limited, %d pending).\n",
				st.Succeeded, len(args), st.Failed, st.Skipped, st.Pending)
			if st.Succeeded == 0 {
				return fmt.Errorf("no categories were warmed")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVarP(&priority, "priority", "p", "high", "job priority: high, medium or low")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "give up after this long")
	return cmd
}
