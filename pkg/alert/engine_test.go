package alert

import (
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipforge/clipforge/pkg/clock"
	"github.com/clipforge/clipforge/pkg/metrics"
)

func newTestEngine(t *testing.T) (*Engine, *metrics.Sink, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC))
	sink := metrics.NewSink(clk, 0)
	e := New(sink, Options{Clock: clk, Logger: log.New(io.Discard)})
	return e, sink, clk
}

func latencyRule() Rule {
	return Rule{
		ID:        "slow",
		Metric:    metrics.ProviderLatency,
		Condition: GreaterThan,
		Threshold: 1000,
		Window:    5 * time.Minute,
		Enabled:   true,
	}
}

func TestEvaluateTriggers(t *testing.T) {
	e, sink, _ := newTestEngine(t)
	require.NoError(t, e.AddRule(latencyRule()))

	sink.Record(metrics.ProviderLatency, 1200, "ms", nil)
	sink.Record(metrics.ProviderLatency, 1400, "ms", nil)

	created := e.Evaluate()
	require.Len(t, created, 1)
	a := created[0]
	assert.Equal(t, "slow", a.RuleID)
	assert.InDelta(t, 1300, a.Value, 1e-9)
	assert.Equal(t, SeverityLow, a.Severity)
	assert.NotEmpty(t, a.ID)
	assert.Contains(t, a.Message, metrics.ProviderLatency)
}

func TestEvaluateNoTriggerBelowThreshold(t *testing.T) {
	e, sink, _ := newTestEngine(t)
	require.NoError(t, e.AddRule(latencyRule()))
	sink.Record(metrics.ProviderLatency, 500, "ms", nil)

	assert.Empty(t, e.Evaluate())
	assert.Empty(t, e.Alerts())
}

func TestCooldownDeduplicates(t *testing.T) {
	e, sink, clk := newTestEngine(t)
	require.NoError(t, e.AddRule(latencyRule()))
	sink.Record(metrics.ProviderLatency, 5000, "ms", nil)

	require.Len(t, e.Evaluate(), 1)
	clk.Advance(time.Minute)
	sink.Record(metrics.ProviderLatency, 5000, "ms", nil)
	assert.Empty(t, e.Evaluate())
	assert.Len(t, e.Alerts(), 1)

	clk.Advance(DefaultCooldown)
	sink.Record(metrics.ProviderLatency, 5000, "ms", nil)
	assert.Len(t, e.Evaluate(), 1)
	assert.Len(t, e.Alerts(), 2)
}

func TestWindowExcludesOldSamples(t *testing.T) {
	e, sink, clk := newTestEngine(t)
	require.NoError(t, e.AddRule(latencyRule()))

	sink.Record(metrics.ProviderLatency, 9000, "ms", nil)
	clk.Advance(10 * time.Minute)
	sink.Record(metrics.ProviderLatency, 100, "ms", nil)

	assert.Empty(t, e.Evaluate())
}

func TestDisabledRuleIgnored(t *testing.T) {
	e, sink, _ := newTestEngine(t)
	require.NoError(t, e.AddRule(latencyRule()))
	require.True(t, e.SetEnabled("slow", false))
	sink.Record(metrics.ProviderLatency, 9000, "ms", nil)

	assert.Empty(t, e.Evaluate())
	assert.False(t, e.SetEnabled("missing", true))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		mean, threshold float64
		want            Severity
	}{
		{1.4, 1, SeverityLow},
		{1.6, 1, SeverityMedium},
		{2.5, 1, SeverityHigh},
		{3.5, 1, SeverityCritical},
		{0.2, 1, SeverityMedium},
		{0, 0, SeverityLow},
		{5, 0, SeverityCritical},
		{-4, -1, SeverityCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classify(tt.mean, tt.threshold), "mean=%v threshold=%v", tt.mean, tt.threshold)
	}
}

func TestConditions(t *testing.T) {
	r := Rule{Condition: LessThan, Threshold: 0.5}
	assert.True(t, r.triggered(0.4))
	assert.False(t, r.triggered(0.5))

	r.Condition = Equal
	assert.True(t, r.triggered(0.5))
	assert.False(t, r.triggered(0.51))
}

func TestAddRuleValidation(t *testing.T) {
	e, _, _ := newTestEngine(t)
	assert.ErrorIs(t, e.AddRule(Rule{ID: "x", Metric: "m", Condition: "ge", Window: time.Minute}), ErrInvalidRule)
	assert.ErrorIs(t, e.AddRule(Rule{ID: "x", Metric: "m", Condition: GreaterThan}), ErrInvalidRule)
	assert.ErrorIs(t, e.AddRule(Rule{Metric: "m", Condition: GreaterThan, Window: time.Minute}), ErrInvalidRule)

	for _, r := range DefaultRules() {
		require.NoError(t, e.AddRule(r))
	}
	assert.Len(t, e.Rules(), len(DefaultRules()))

	e.RemoveRule("slow-provider")
	assert.Len(t, e.Rules(), len(DefaultRules())-1)
}

func TestSweepDropsOldAlerts(t *testing.T) {
	e, sink, clk := newTestEngine(t)
	require.NoError(t, e.AddRule(latencyRule()))
	sink.Record(metrics.ProviderLatency, 5000, "ms", nil)
	require.Len(t, e.Evaluate(), 1)

	clk.Advance(DefaultRetention + time.Minute)
	assert.Equal(t, 1, e.Sweep())
	assert.Empty(t, e.Alerts())
}
