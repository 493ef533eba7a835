// Package prefetch refreshes discovery results in the background before
// foreground requests need them.
package prefetch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/clipforge/clipforge/pkg/cache"
	"github.com/clipforge/clipforge/pkg/clock"
	"github.com/clipforge/clipforge/pkg/metrics"
	"github.com/clipforge/clipforge/pkg/models"
)

// Fetcher loads the current content for a category.
type Fetcher interface {
	Fetch(ctx context.Context, category string, limit int) ([]models.ContentItem, error)
}

// Writer stores refreshed results.
type Writer interface {
	Put(ctx context.Context, key string, value []models.ContentItem, ttl time.Duration)
}

// RateChecker is consulted before every origin fetch.
type RateChecker interface {
	CheckRate(operation string) bool
}

// Job is a pending refresh for one category.
type Job struct {
	Category    string    `json:"category"`
	Priority    Priority  `json:"priority"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Executed    bool      `json:"executed"`
}

// Config controls the drain loop.
type Config struct {
	// Interval is the drain tick period.
	Interval time.Duration
	// Concurrency caps jobs running at once.
	Concurrency int
	// Limit is the result-set size fetched per category.
	Limit int
	// TTL is passed to Writer.Put. Zero lets the cache choose.
	TTL time.Duration
	// Timeout bounds each fetch.
	Timeout time.Duration
	// OriginRPS throttles fetches; zero disables throttling.
	OriginRPS   float64
	OriginBurst int
	// Operation is the rate window consulted before each fetch.
	Operation string
}

// Options supplies optional collaborators.
type Options struct {
	Clock  clock.Clock
	Sink   *metrics.Sink
	Logger *log.Logger
	Rate   RateChecker
}

// Stats counts scheduler activity since start.
type Stats struct {
	Pending    int   `json:"pending"`
	InFlight   int64 `json:"in_flight"`
	Dispatched int64 `json:"dispatched"`
	Succeeded  int64 `json:"succeeded"`
	Failed     int64 `json:"failed"`
	Skipped    int64 `json:"skipped"`
}

// Scheduler keeps at most one pending job per category and drains due jobs
// on a fixed tick.
type Scheduler struct {
	cfg     Config
	fetcher Fetcher
	writer  Writer
	clock   clock.Clock
	sink    *metrics.Sink
	logger  *log.Logger
	rate    RateChecker
	origin  *rate.Limiter

	mu   sync.Mutex
	jobs map[string]*Job

	wg         sync.WaitGroup
	inFlight   atomic.Int64
	dispatched atomic.Int64
	succeeded  atomic.Int64
	failed     atomic.Int64
	skipped    atomic.Int64
}

// New creates a Scheduler that fetches with f and writes through w.
func New(cfg Config, f Fetcher, w Writer, opts Options) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Operation == "" {
		cfg.Operation = "reddit"
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	s := &Scheduler{
		cfg:     cfg,
		fetcher: f,
		writer:  w,
		clock:   opts.Clock,
		sink:    opts.Sink,
		logger:  opts.Logger.With("component", "prefetch"),
		rate:    opts.Rate,
		jobs:    make(map[string]*Job),
	}
	if cfg.OriginRPS > 0 {
		burst := cfg.OriginBurst
		if burst <= 0 {
			burst = 1
		}
		s.origin = rate.NewLimiter(rate.Limit(cfg.OriginRPS), burst)
	}
	return s
}

// Limit returns the result-set size fetched per category.
func (s *Scheduler) Limit() int { return s.cfg.Limit }

// Schedule enqueues a refresh for category. An existing pending job keeps
// its ScheduledAt and has its priority raised to the higher of the two.
func (s *Scheduler) Schedule(category string, p Priority) Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[category]; ok && !j.Executed {
		if p > j.Priority {
			j.Priority = p
		}
		return *j
	}
	j := &Job{
		Category:    category,
		Priority:    p,
		ScheduledAt: s.clock.Now().Add(p.Delay()),
	}
	s.jobs[category] = j
	return *j
}

// Warm schedules every category at priority p.
func (s *Scheduler) Warm(categories []string, p Priority) []Job {
	out := make([]Job, 0, len(categories))
	for _, c := range categories {
		out = append(out, s.Schedule(c, p))
	}
	return out
}

// OnStale adapts the scheduler to a cache stale hook for keys built by
// cache.ContentKey.
func (s *Scheduler) OnStale(key string) {
	category, _, ok := splitContentKey(key)
	if !ok {
		return
	}
	s.Schedule(category, Low)
}

// Pending returns queued jobs in dispatch order.
func (s *Scheduler) Pending() []Job {
	s.mu.Lock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	s.mu.Unlock()
	sortJobs(out)
	return out
}

// Tick dispatches due jobs, highest priority first, without exceeding the
// concurrency cap. Jobs leave the queue when dispatched. It returns the
// number dispatched.
func (s *Scheduler) Tick(ctx context.Context) int {
	slots := s.cfg.Concurrency - int(s.inFlight.Load())
	if slots <= 0 {
		return 0
	}
	now := s.clock.Now()

	s.mu.Lock()
	var due []Job
	for _, j := range s.jobs {
		if !j.ScheduledAt.After(now) {
			due = append(due, *j)
		}
	}
	sortJobs(due)
	if len(due) > slots {
		due = due[:slots]
	}
	for i := range due {
		delete(s.jobs, due[i].Category)
		due[i].Executed = true
	}
	s.mu.Unlock()

	for _, j := range due {
		s.inFlight.Add(1)
		s.dispatched.Add(1)
		s.wg.Add(1)
		go func(j Job) {
			defer s.wg.Done()
			defer s.inFlight.Add(-1)
			s.execute(ctx, j)
		}(j)
	}
	return len(due)
}

// Run drains the queue on every tick until ctx is cancelled, then waits for
// in-flight jobs.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	defer s.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.Tick(ctx)
		}
	}
}

// Wait blocks until every dispatched job has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Stats reports queue depth and outcome counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	pending := len(s.jobs)
	s.mu.Unlock()
	return Stats{
		Pending:    pending,
		InFlight:   s.inFlight.Load(),
		Dispatched: s.dispatched.Load(),
		Succeeded:  s.succeeded.Load(),
		Failed:     s.failed.Load(),
		Skipped:    s.skipped.Load(),
	}
}

// execute refreshes one category. Failures are logged and dropped; the
// next miss or stale hit schedules again.
func (s *Scheduler) execute(ctx context.Context, j Job) {
	tags := map[string]string{"category": j.Category, "priority": j.Priority.String()}

	if s.rate != nil && !s.rate.CheckRate(s.cfg.Operation) {
		s.skipped.Add(1)
		s.logger.Info("prefetch skipped: rate limited", "category", j.Category)
		return
	}
	if s.origin != nil {
		if err := s.origin.Wait(ctx); err != nil {
			s.fail(j, tags, fmt.Errorf("origin throttle: %w", err))
			return
		}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	start := time.Now()
	items, err := s.fetcher.Fetch(fetchCtx, j.Category, s.cfg.Limit)
	if err != nil {
		s.fail(j, tags, err)
		return
	}

	s.writer.Put(ctx, cache.ContentKey(j.Category, s.cfg.Limit), items, s.cfg.TTL)
	s.succeeded.Add(1)
	if s.sink != nil {
		s.sink.Record(metrics.PrefetchSuccess, 1, "count", tags)
		s.sink.Record(metrics.ProviderLatency, float64(time.Since(start).Milliseconds()), "ms",
			map[string]string{"provider": s.cfg.Operation})
	}
	s.logger.Debug("prefetched", "category", j.Category, "items", len(items))
}

func (s *Scheduler) fail(j Job, tags map[string]string, err error) {
	s.failed.Add(1)
	if s.sink != nil {
		s.sink.Record(metrics.PrefetchFailure, 1, "count", tags)
	}
	s.logger.Warn("prefetch failed", "category", j.Category, "err", err)
}

func sortJobs(jobs []Job) {
	sort.Slice(jobs, func(a, b int) bool {
		if jobs[a].Priority != jobs[b].Priority {
			return jobs[a].Priority > jobs[b].Priority
		}
		if !jobs[a].ScheduledAt.Equal(jobs[b].ScheduledAt) {
			return jobs[a].ScheduledAt.Before(jobs[b].ScheduledAt)
		}
		return jobs[a].Category < jobs[b].Category
	})
}
