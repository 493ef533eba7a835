package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/clipforge/clipforge/pkg/metrics"
	"github.com/clipforge/clipforge/pkg/prefetch"
	"github.com/clipforge/clipforge/pkg/server"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		simulate   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API with background sweeps, prefetch and alerting",
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

			opts := server.Options{
				Listen:     cfg.Listen,
				Pipeline:   a.orch,
				Budget:     a.limiter,
				Collectors: []prometheus.Collector{metrics.NewCollector(a.sink, cfg.Metrics.Window)},
				Logger:     logger,
			}
			if a.scheduler != nil {
				opts.Prefetch = a.scheduler
				if len(cfg.Prefetch.Warm) > 0 {
					a.scheduler.Warm(cfg.Prefetch.Warm, prefetch.Medium)
				}
			}
			srv, err := server.New(opts)
			if err != nil {
				return err
			}

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.ListenAndServe(ctx) })
			g.Go(func() error { a.content.Run(ctx, cfg.Cache.SweepInterval); return nil })
			g.Go(func() error { a.artifacts.Run(ctx, cfg.Cache.SweepInterval); return nil })
			g.Go(func() error { a.sink.Run(ctx, cfg.Metrics.SweepInterval); return nil })
			g.Go(func() error { a.alerts.Run(ctx, cfg.Alerts.Interval); return nil })
			if a.scheduler != nil {
				g.Go(func() error { a.scheduler.Run(ctx); return nil })
			}

			logger.Info("clipforge started",
				"version", version,
				"simulate", simulate,
				"storage", cfg.Storage.Driver,
				"prefetch", a.scheduler != nil)
			return g.Wait()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.Flags().BoolVar(&simulate, "simulate", false, "run without provider credentials; every stage falls back")
	return cmd
}
