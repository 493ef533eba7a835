package alert

import (
	"time"

	"github.com/clipforge/clipforge/pkg/metrics"
)

// DefaultRules covers fallback rate, cache effectiveness, provider latency
// and budget consumption.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:          "high-fallback-rate",
			Metric:      metrics.StageFallback,
			Condition:   GreaterThan,
			Threshold:   0.25,
			Window:      10 * time.Minute,
			Enabled:     true,
			Description: "More than a quarter of stages fell back to local artifacts",
		},
		{
			ID:          "low-cache-hit-rate",
			Metric:      metrics.CacheHitRate,
			Condition:   LessThan,
			Threshold:   0.5,
			Window:      15 * time.Minute,
			Enabled:     true,
			Description: "Cache is serving fewer than half of lookups",
		},
		{
			ID:          "slow-provider",
			Metric:      metrics.ProviderLatency,
			Condition:   GreaterThan,
			Threshold:   10000,
			Window:      5 * time.Minute,
			Enabled:     true,
			Description: "Provider calls average over ten seconds",
		},
		{
			ID:          "budget-nearly-spent",
			Metric:      metrics.BudgetUtilization,
			Condition:   GreaterThan,
			Threshold:   0.8,
			Window:      time.Hour,
			Enabled:     true,
			Description: "Daily provider spend above 80% of its limit",
		},
	}
}
