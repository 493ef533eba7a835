package budget

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/clipforge/clipforge/pkg/clock"
	"github.com/clipforge/clipforge/pkg/metrics"
	"github.com/clipforge/clipforge/pkg/models"
	"github.com/clipforge/clipforge/pkg/storage"
)

// ErrBudgetExceeded is returned when a call would push spend past a limit.
var ErrBudgetExceeded = errors.New("budget exceeded")

// ErrRateLimited is returned when an operation's call window is exhausted.
var ErrRateLimited = errors.New("rate limited")

// DefaultWindow is the rate window length.
const DefaultWindow = 60 * time.Second

const ledgerPrefix = "ledger:"

// Config holds limiter settings.
type Config struct {
	// Window is the length of each operation's call window.
	Window time.Duration
	// DefaultLimit applies to operations missing from Limits. Zero means
	// unlimited.
	DefaultLimit int
	// Limits maps operation names to calls allowed per window.
	Limits map[string]int
	// Budgets lists per-provider spend caps. Providers without an entry are
	// unlimited.
	Budgets []models.ProviderBudget
}

// Options supplies the limiter's collaborators. All fields are optional.
type Options struct {
	Clock  clock.Clock
	Store  storage.Store
	Sink   *metrics.Sink
	Logger *log.Logger
}

// Decision is the outcome of a budget admission check.
type Decision struct {
	Allowed   bool                `json:"allowed"`
	Provider  string              `json:"provider"`
	Boundary  models.BudgetPeriod `json:"boundary,omitempty"`
	Reason    string              `json:"reason,omitempty"`
	Spent     float64             `json:"spent"`
	Limit     float64             `json:"limit"`
	Estimated float64             `json:"estimated"`
}

// Err returns nil for an allowed decision and an ErrBudgetExceeded wrap
// carrying the reason otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrBudgetExceeded, d.Reason)
}

type rateWindow struct {
	count   int
	start   time.Time
	blocked bool
}

type ledgerRecord struct {
	Provider  string              `json:"provider"`
	Period    models.BudgetPeriod `json:"period"`
	Key       string              `json:"key"`
	Spent     float64             `json:"spent"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// Limiter combines per-operation call windows with per-provider spend
// ledgers. It only answers admission questions and never calls providers.
type Limiter struct {
	clock  clock.Clock
	store  storage.Store
	sink   *metrics.Sink
	logger *log.Logger

	window       time.Duration
	defaultLimit int
	limits       map[string]int
	budgets      map[string]models.ProviderBudget

	rateMu  sync.Mutex
	windows map[string]*rateWindow

	ledgerMu sync.Mutex
	ledgers  map[string]float64

	// persistMu orders ledger writes so storage never goes backwards.
	persistMu sync.Mutex
}

// New creates a Limiter.
func New(cfg Config, opts Options) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	l := &Limiter{
		clock:        opts.Clock,
		store:        opts.Store,
		sink:         opts.Sink,
		logger:       opts.Logger,
		window:       cfg.Window,
		defaultLimit: cfg.DefaultLimit,
		limits:       make(map[string]int, len(cfg.Limits)),
		budgets:      make(map[string]models.ProviderBudget, len(cfg.Budgets)),
		windows:      make(map[string]*rateWindow),
		ledgers:      make(map[string]float64),
	}
	for op, n := range cfg.Limits {
		l.limits[op] = n
	}
	for _, b := range cfg.Budgets {
		l.budgets[b.Provider] = b
	}
	return l
}

// CheckRate counts one call against operation's window and reports whether
// it is allowed. Once the limit is reached the window stays blocked until
// it rolls over.
func (l *Limiter) CheckRate(operation string) bool {
	limit := l.limitFor(operation)
	now := l.clock.Now()

	l.rateMu.Lock()
	w := l.windowFor(operation, now)
	if limit > 0 && (w.blocked || w.count >= limit) {
		l.rateMu.Unlock()
		if l.sink != nil {
			l.sink.Record(metrics.RateRejected, 1, "count", map[string]string{"operation": operation})
		}
		l.logger.Debug("rate limited", "operation", operation, "limit", limit)
		return false
	}
	w.count++
	if limit > 0 && w.count >= limit {
		w.blocked = true
	}
	l.rateMu.Unlock()
	return true
}

// RateStatus reports the current window for operation without counting a
// call.
func (l *Limiter) RateStatus(operation string) models.RateStatus {
	limit := l.limitFor(operation)
	now := l.clock.Now()

	l.rateMu.Lock()
	defer l.rateMu.Unlock()
	st := models.RateStatus{Operation: operation, Limit: limit, WindowStart: now}
	if w, ok := l.windows[operation]; ok && now.Sub(w.start) <= l.window {
		st.Count = w.count
		st.WindowStart = w.start
		st.Blocked = w.blocked
	}
	st.ResetsAt = st.WindowStart.Add(l.window)
	if limit > 0 {
		st.Remaining = max(limit-st.Count, 0)
		if st.Blocked {
			st.Remaining = 0
		}
	}
	return st
}

// RateStatuses reports every configured or observed operation, sorted by
// name.
func (l *Limiter) RateStatuses() []models.RateStatus {
	names := make(map[string]struct{})
	for op := range l.limits {
		names[op] = struct{}{}
	}
	l.rateMu.Lock()
	for op := range l.windows {
		names[op] = struct{}{}
	}
	l.rateMu.Unlock()

	ops := make([]string, 0, len(names))
	for op := range names {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	out := make([]models.RateStatus, 0, len(ops))
	for _, op := range ops {
		out = append(out, l.RateStatus(op))
	}
	return out
}

// CheckBudget reports whether provider may spend estimatedCost without
// crossing its daily or monthly limit. The estimate is never recorded.
func (l *Limiter) CheckBudget(provider string, estimatedCost float64) Decision {
	d := Decision{Allowed: true, Provider: provider, Estimated: estimatedCost}
	b, ok := l.budgets[provider]
	if !ok {
		return d
	}
	now := l.clock.Now()

	l.ledgerMu.Lock()
	daily := l.ledgers[ledgerKey(provider, models.BudgetDaily, now)]
	monthly := l.ledgers[ledgerKey(provider, models.BudgetMonthly, now)]
	l.ledgerMu.Unlock()

	switch {
	case b.DailyLimit > 0 && daily+estimatedCost > b.DailyLimit:
		d.Allowed = false
		d.Boundary = models.BudgetDaily
		d.Spent, d.Limit = daily, b.DailyLimit
		d.Reason = fmt.Sprintf("%s daily limit $%.2f would be exceeded (spent $%.2f, estimated $%.2f)",
			provider, b.DailyLimit, daily, estimatedCost)
	case b.MonthlyLimit > 0 && monthly+estimatedCost > b.MonthlyLimit:
		d.Allowed = false
		d.Boundary = models.BudgetMonthly
		d.Spent, d.Limit = monthly, b.MonthlyLimit
		d.Reason = fmt.Sprintf("%s monthly limit $%.2f would be exceeded (spent $%.2f, estimated $%.2f)",
			provider, b.MonthlyLimit, monthly, estimatedCost)
	default:
		d.Spent, d.Limit = daily, b.DailyLimit
	}
	if !d.Allowed {
		l.logger.Info("budget check rejected", "provider", provider, "boundary", d.Boundary, "estimated", estimatedCost)
	}
	return d
}

// RecordSpend adds the true cost of a successful provider call to the
// current day and month ledgers and mirrors them to storage. Storage
// failures are logged, not returned.
func (l *Limiter) RecordSpend(ctx context.Context, provider string, cost float64) error {
	if cost < 0 {
		return fmt.Errorf("record spend: negative cost %v for %s", cost, provider)
	}
	now := l.clock.Now()
	dayKey := ledgerKey(provider, models.BudgetDaily, now)
	monthKey := ledgerKey(provider, models.BudgetMonthly, now)

	l.persistMu.Lock()
	l.ledgerMu.Lock()
	l.ledgers[dayKey] += cost
	l.ledgers[monthKey] += cost
	daily, monthly := l.ledgers[dayKey], l.ledgers[monthKey]
	l.ledgerMu.Unlock()

	l.persist(ctx, provider, models.BudgetDaily, now, daily)
	l.persist(ctx, provider, models.BudgetMonthly, now, monthly)
	l.persistMu.Unlock()

	if b, ok := l.budgets[provider]; ok && b.DailyLimit > 0 && l.sink != nil {
		l.sink.Record(metrics.BudgetUtilization, daily/b.DailyLimit, "ratio", map[string]string{"provider": provider})
	}
	return nil
}

// Spent returns the ledger total for provider in the current period.
func (l *Limiter) Spent(provider string, period models.BudgetPeriod) float64 {
	key := ledgerKey(provider, period, l.clock.Now())
	l.ledgerMu.Lock()
	defer l.ledgerMu.Unlock()
	return l.ledgers[key]
}

// Status returns daily and monthly spend against limits for provider.
func (l *Limiter) Status(provider string) []models.BudgetStatus {
	now := l.clock.Now()
	b := l.budgets[provider]
	out := make([]models.BudgetStatus, 0, 2)
	for _, p := range []struct {
		period models.BudgetPeriod
		limit  float64
	}{
		{models.BudgetDaily, b.DailyLimit},
		{models.BudgetMonthly, b.MonthlyLimit},
	} {
		key := periodKey(p.period, now)
		spent := l.Spent(provider, p.period)
		st := models.BudgetStatus{
			Provider: provider,
			Period:   p.period,
			Key:      key,
			Spent:    spent,
			Limit:    p.limit,
		}
		if p.limit > 0 {
			st.Remaining = max(p.limit-spent, 0)
		}
		out = append(out, st)
	}
	return out
}

// Statuses returns Status for every provider with a configured budget.
func (l *Limiter) Statuses() []models.BudgetStatus {
	providers := make([]string, 0, len(l.budgets))
	for p := range l.budgets {
		providers = append(providers, p)
	}
	sort.Strings(providers)
	var out []models.BudgetStatus
	for _, p := range providers {
		out = append(out, l.Status(p)...)
	}
	return out
}

// Load restores current-period ledgers from storage. Records for past
// periods and undecodable records are skipped.
func (l *Limiter) Load(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	items, err := l.store.List(ctx, ledgerPrefix)
	if err != nil {
		return fmt.Errorf("load ledgers: %w", err)
	}
	now := l.clock.Now()

	l.ledgerMu.Lock()
	defer l.ledgerMu.Unlock()
	for _, it := range items {
		var rec ledgerRecord
		if err := json.Unmarshal(it.Value, &rec); err != nil {
			l.logger.Warn("skipping corrupt ledger", "key", it.Key, "err", err)
			continue
		}
		if rec.Key != periodKey(rec.Period, now) {
			continue
		}
		l.ledgers[strings.TrimPrefix(it.Key, ledgerPrefix)] = rec.Spent
	}
	return nil
}

func (l *Limiter) persist(ctx context.Context, provider string, period models.BudgetPeriod, now time.Time, spent float64) {
	if l.store == nil {
		return
	}
	rec := ledgerRecord{
		Provider:  provider,
		Period:    period,
		Key:       periodKey(period, now),
		Spent:     spent,
		UpdatedAt: now,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := l.store.Set(ctx, ledgerPrefix+ledgerKey(provider, period, now), data); err != nil {
		l.logger.Warn("persist ledger failed", "provider", provider, "period", period, "err", err)
	}
}

func (l *Limiter) limitFor(operation string) int {
	if n, ok := l.limits[operation]; ok {
		return n
	}
	return l.defaultLimit
}

// windowFor returns operation's window, starting a fresh one when the
// previous window has run out. Callers hold rateMu.
func (l *Limiter) windowFor(operation string, now time.Time) *rateWindow {
	w, ok := l.windows[operation]
	if !ok || now.Sub(w.start) > l.window {
		w = &rateWindow{start: now}
		l.windows[operation] = w
	}
	return w
}

func ledgerKey(provider string, period models.BudgetPeriod, now time.Time) string {
	return provider + ":" + string(period) + ":" + periodKey(period, now)
}

func periodKey(period models.BudgetPeriod, now time.Time) string {
	now = now.UTC()
	switch period {
	case models.BudgetMonthly:
		return now.Format("2006-01")
	default: // daily
		return now.Format("2006-01-02")
	}
}
