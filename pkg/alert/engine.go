// Package alert evaluates threshold rules over rolling windows of metric
// samples and keeps a de-duplicated history of triggered alerts.
package alert

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/clipforge/clipforge/pkg/clock"
	"github.com/clipforge/clipforge/pkg/metrics"
)

// Condition compares a window mean against a rule threshold.
type Condition string

const (
	GreaterThan Condition = "gt"
	LessThan    Condition = "lt"
	Equal       Condition = "eq"
)

// Severity is derived from how far the mean deviates from the threshold.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

const (
	DefaultCooldown  = 5 * time.Minute
	DefaultRetention = 24 * time.Hour
)

// ErrInvalidRule is returned by AddRule for malformed rules.
var ErrInvalidRule = errors.New("invalid alert rule")

// Rule triggers when the mean of Metric over Window satisfies Condition.
type Rule struct {
	ID          string        `json:"id" yaml:"id"`
	Metric      string        `json:"metric" yaml:"metric"`
	Condition   Condition     `json:"condition" yaml:"condition"`
	Threshold   float64       `json:"threshold" yaml:"threshold"`
	Window      time.Duration `json:"window" yaml:"window"`
	Enabled     bool          `json:"enabled" yaml:"enabled"`
	Description string        `json:"description,omitempty" yaml:"description"`
}

// Alert is one triggered instance of a rule.
type Alert struct {
	ID          string    `json:"id"`
	RuleID      string    `json:"rule_id"`
	Metric      string    `json:"metric"`
	Severity    Severity  `json:"severity"`
	Value       float64   `json:"value"`
	Threshold   float64   `json:"threshold"`
	Message     string    `json:"message"`
	TriggeredAt time.Time `json:"triggered_at"`
}

// Options configures an Engine. Zero values select the defaults.
type Options struct {
	Cooldown  time.Duration
	Retention time.Duration
	Clock     clock.Clock
	Logger    *log.Logger
}

// Engine evaluates rules against a metrics.Sink.
type Engine struct {
	sink      *metrics.Sink
	clock     clock.Clock
	logger    *log.Logger
	cooldown  time.Duration
	retention time.Duration

	rulesMu sync.RWMutex
	rules   []Rule

	mu        sync.RWMutex
	alerts    []Alert
	lastFired map[string]time.Time
}

// New creates an Engine reading samples from sink.
func New(sink *metrics.Sink, opts Options) *Engine {
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Engine{
		sink:      sink,
		clock:     opts.Clock,
		logger:    opts.Logger,
		cooldown:  opts.Cooldown,
		retention: opts.Retention,
		lastFired: make(map[string]time.Time),
	}
}

// AddRule registers r, replacing any rule with the same ID.
func (e *Engine) AddRule(r Rule) error {
	if err := validate(r); err != nil {
		return err
	}
	e.rulesMu.Lock()
	defer e.rulesMu.Unlock()
	for i := range e.rules {
		if e.rules[i].ID == r.ID {
			e.rules[i] = r
			return nil
		}
	}
	e.rules = append(e.rules, r)
	return nil
}

// RemoveRule drops the rule with the given ID.
func (e *Engine) RemoveRule(id string) {
	e.rulesMu.Lock()
	defer e.rulesMu.Unlock()
	for i := range e.rules {
		if e.rules[i].ID == id {
			e.rules = append(e.rules[:i], e.rules[i+1:]...)
			return
		}
	}
}

// SetEnabled toggles a rule. It reports whether the rule exists.
func (e *Engine) SetEnabled(id string, enabled bool) bool {
	e.rulesMu.Lock()
	defer e.rulesMu.Unlock()
	for i := range e.rules {
		if e.rules[i].ID == id {
			e.rules[i].Enabled = enabled
			return true
		}
	}
	return false
}

// Rules returns a copy of the registered rules.
func (e *Engine) Rules() []Rule {
	e.rulesMu.RLock()
	defer e.rulesMu.RUnlock()
	return append([]Rule(nil), e.rules...)
}

// Evaluate checks every enabled rule once and returns the alerts created.
func (e *Engine) Evaluate() []Alert {
	now := e.clock.Now()
	var created []Alert
	for _, r := range e.Rules() {
		if !r.Enabled {
			continue
		}
		mean, n, ok := e.sink.Mean(r.Metric, r.Window)
		if !ok || !r.triggered(mean) {
			continue
		}

		e.mu.Lock()
		if last, fired := e.lastFired[r.ID]; fired && now.Sub(last) < e.cooldown {
			e.mu.Unlock()
			continue
		}
		a := Alert{
			ID:          uuid.NewString(),
			RuleID:      r.ID,
			Metric:      r.Metric,
			Severity:    classify(mean, r.Threshold),
			Value:       mean,
			Threshold:   r.Threshold,
			Message:     fmt.Sprintf("%s %s %g: mean %.4g over %s (%d samples)", r.Metric, r.Condition, r.Threshold, mean, r.Window, n),
			TriggeredAt: now,
		}
		e.alerts = append(e.alerts, a)
		e.lastFired[r.ID] = now
		e.mu.Unlock()

		e.logger.Warn("alert triggered", "rule", r.ID, "severity", a.Severity, "value", mean, "threshold", r.Threshold)
		created = append(created, a)
	}
	return created
}

// Alerts returns retained alerts, newest first.
func (e *Engine) Alerts() []Alert {
	e.mu.RLock()
	out := append([]Alert(nil), e.alerts...)
	e.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].TriggeredAt.After(out[j].TriggeredAt) })
	return out
}

// Sweep removes alerts older than the retention horizon.
func (e *Engine) Sweep() int {
	cutoff := e.clock.Now().Add(-e.retention)
	e.mu.Lock()
	defer e.mu.Unlock()
	kept := e.alerts[:0]
	for _, a := range e.alerts {
		if !a.TriggeredAt.Before(cutoff) {
			kept = append(kept, a)
		}
	}
	removed := len(e.alerts) - len(kept)
	e.alerts = kept
	return removed
}

// Run evaluates rules and sweeps old alerts on every tick until ctx ends.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	ticker := e.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			e.Evaluate()
			e.Sweep()
		}
	}
}

func (r Rule) triggered(mean float64) bool {
	switch r.Condition {
	case GreaterThan:
		return mean > r.Threshold
	case LessThan:
		return mean < r.Threshold
	case Equal:
		return math.Abs(mean-r.Threshold) <= 1e-9*math.Max(1, math.Abs(r.Threshold))
	}
	return false
}

// classify maps relative deviation |mean-threshold|/|threshold| to a
// severity. A zero threshold counts any non-zero mean as critical.
func classify(mean, threshold float64) Severity {
	var dev float64
	if threshold == 0 {
		if mean != 0 {
			dev = math.Inf(1)
		}
	} else {
		dev = math.Abs(mean-threshold) / math.Abs(threshold)
	}
	switch {
	case dev > 2.0:
		return SeverityCritical
	case dev > 1.0:
		return SeverityHigh
	case dev > 0.5:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func validate(r Rule) error {
	if r.ID == "" || r.Metric == "" {
		return fmt.Errorf("%w: id and metric are required", ErrInvalidRule)
	}
	switch r.Condition {
	case GreaterThan, LessThan, Equal:
	default:
		return fmt.Errorf("%w: %s: unknown condition %q", ErrInvalidRule, r.ID, r.Condition)
	}
	if r.Window <= 0 {
		return fmt.Errorf("%w: %s: window must be positive", ErrInvalidRule, r.ID)
	}
	return nil
}
