package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/log"

	"github.com/clipforge/clipforge/pkg/alert"
	"github.com/clipforge/clipforge/pkg/budget"
	"github.com/clipforge/clipforge/pkg/cache"
	"github.com/clipforge/clipforge/pkg/clock"
	"github.com/clipforge/clipforge/pkg/config"
	"github.com/clipforge/clipforge/pkg/metrics"
	"github.com/clipforge/clipforge/pkg/models"
	"github.com/clipforge/clipforge/pkg/pipeline"
	"github.com/clipforge/clipforge/pkg/prefetch"
	"github.com/clipforge/clipforge/pkg/pricing"
	"github.com/clipforge/clipforge/pkg/providers"
	"github.com/clipforge/clipforge/pkg/providers/httpapi"
	"github.com/clipforge/clipforge/pkg/storage"
	badgerstore "github.com/clipforge/clipforge/pkg/storage/badger"
	"github.com/clipforge/clipforge/pkg/storage/memory"
	"github.com/clipforge/clipforge/pkg/storage/sqlite"
	"github.com/clipforge/clipforge/pkg/telemetry"
	"github.com/clipforge/clipforge/pkg/tracker"
)

// mode selects which collaborators newApp builds.
type mode int

const (
	// modeAdmin builds no providers. Used by inspection commands.
	modeAdmin mode = iota
	// modeSimulate builds no providers and lets every stage fall back.
	modeSimulate
	// modeLive builds every provider and requires credentials.
	modeLive
)

// app is the fully wired process.
type app struct {
	cfg    *config.Config
	logger *log.Logger

	store     storage.Store
	sink      *metrics.Sink
	limiter   *budget.Limiter
	content   *cache.Tiered[[]models.ContentItem]
	artifacts *cache.Tiered[pipeline.Result]
	scheduler *prefetch.Scheduler
	alerts    *alert.Engine
	tracker   *tracker.SQLiteTracker
	orch      *pipeline.Orchestrator

	shutdown telemetry.Shutdown
}

func loadConfig(path string) (*config.Config, *log.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	logger, err := cfg.Log.NewLogger(os.Stderr)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newApp(ctx context.Context, cfg *config.Config, logger *log.Logger, m mode) (_ *app, err error) {
	if err := cfg.Validate(m != modeLive); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	clk := clock.Real()
	store, err := openStore(cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Driver, err)
	}
	a.store = store
	a.sink = metrics.NewSink(clk, cfg.Metrics.Retention)

	prices := pricing.NewTable(append(pricing.Default(), cfg.Pricing...))

	a.limiter = budget.New(budget.Config{
		Window:       cfg.Limits.Window,
		DefaultLimit: cfg.Limits.DefaultCalls,
		Limits:       cfg.Limits.Calls,
		Budgets:      cfg.Limits.Budgets,
	}, budget.Options{Clock: clk, Store: a.store, Sink: a.sink, Logger: logger})
	if err := a.limiter.Load(ctx); err != nil {
		return nil, fmt.Errorf("load budget ledgers: %w", err)
	}

	set, err := providers.Build(cfg.Providers, prices, m != modeLive)
	if err != nil {
		return nil, err
	}

	// The scheduler is attached after the content cache exists.
	onStale := func(key string) {
		if a.scheduler != nil {
			a.scheduler.OnStale(key)
		}
	}
	a.content, err = cache.New[[]models.ContentItem](tierConfig("content", cfg.Cache.Content), cache.Options{
		Clock: clk, Store: a.store, Sink: a.sink, Logger: logger, OnStale: onStale,
	})
	if err != nil {
		return nil, err
	}
	a.artifacts, err = cache.New[pipeline.Result](tierConfig("artifacts", cfg.Cache.Artifacts), cache.Options{
		Clock: clk, Store: a.store, Sink: a.sink, Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	for _, load := range []func(context.Context) (int, error){a.content.Load, a.artifacts.Load} {
		if _, err := load(ctx); err != nil {
			return nil, fmt.Errorf("restore cache: %w", err)
		}
	}

	if set.Reddit != nil {
		a.attachDiscovery(set.Reddit)
	}

	a.alerts = alert.New(a.sink, alert.Options{
		Cooldown:  cfg.Alerts.Cooldown,
		Retention: cfg.Alerts.Retention,
		Clock:     clk,
		Logger:    logger,
	})
	rules := cfg.Alerts.Rules
	if len(rules) == 0 {
		rules = alert.DefaultRules()
	}
	for _, r := range rules {
		if err := a.alerts.AddRule(r); err != nil {
			return nil, fmt.Errorf("%w: alert rule %q: %v", config.ErrConfiguration, r.ID, err)
		}
	}

	costsPath := cfg.Storage.CostsPath
	if cfg.Storage.Driver == "memory" {
		costsPath = ":memory:"
	}
	a.tracker, err = tracker.New(costsPath)
	if err != nil {
		return nil, err
	}

	a.shutdown, err = telemetry.Init(ctx, telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Exporter:       cfg.Telemetry.Exporter,
		SampleRatio:    cfg.Telemetry.SampleRatio,
		Writer:         os.Stderr,
	})
	if err != nil {
		return nil, err
	}

	opts := pipeline.Options{
		Enhancer:    set.Enhancer,
		Synthesizer: set.Synthesizer,
		Renderer:    set.Renderer,
		Discovery:   set.Discovery,
		Content:     a.content,
		Artifacts:   a.artifacts,
		Limiter:     a.limiter,
		Pricing:     prices,
		Sink:        a.sink,
		Alerts:      a.alerts,
		Tracker:     a.tracker,
		Clock:       clk,
		Logger:      logger,
	}
	if a.scheduler != nil {
		opts.Prefetch = a.scheduler
	}
	a.orch, err = pipeline.New(pipeline.Config{
		ArtifactTTL:    cfg.Cache.Artifacts.TTL,
		DiscoveryLimit: cfg.Prefetch.Limit,
		Providers:      providers.Names(cfg.Providers),
	}, opts)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// attachDiscovery enables background refreshes through r.
func (a *app) attachDiscovery(r *httpapi.Reddit) {
	cfg := a.cfg.Prefetch
	a.scheduler = prefetch.New(prefetch.Config{
		Interval:    cfg.Interval,
		Concurrency: cfg.Concurrency,
		Limit:       cfg.Limit,
		TTL:         a.cfg.Cache.Content.TTL,
		Timeout:     cfg.Timeout,
		OriginRPS:   cfg.OriginRPS,
		OriginBurst: cfg.OriginBurst,
		Operation:   providers.Names(a.cfg.Providers).Discovery,
	}, r, a.content, prefetch.Options{
		Clock:  clock.Real(),
		Sink:   a.sink,
		Logger: a.logger,
		Rate:   a.limiter,
	})
}

// Close releases every resource newApp opened.
func (a *app) Close() {
	if a.scheduler != nil {
		a.scheduler.Wait()
	}
	if a.content != nil {
		a.content.Close()
	}
	if a.artifacts != nil {
		a.artifacts.Close()
	}
	var errs []error
	if a.tracker != nil {
		errs = append(errs, a.tracker.Close())
	}
	if a.shutdown != nil {
		errs = append(errs, a.shutdown(context.Background()))
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("shutdown", "err", err)
	}
}

func openStore(cfg config.StorageConfig, logger *log.Logger) (storage.Store, error) {
	switch cfg.Driver {
	case "memory":
		return memory.New(), nil
	case "badger":
		return badgerstore.Open(badgerstore.Config{Path: cfg.Path, Logger: logger})
	default:
		return sqlite.New(cfg.Path)
	}
}

func tierConfig(name string, t config.TierConfig) cache.Config {
	return cache.Config{
		Name:           name,
		Capacity:       t.Capacity,
		TTL:            t.TTL,
		FreshThreshold: t.FreshThreshold,
		StaleThreshold: t.StaleThreshold,
	}
}
