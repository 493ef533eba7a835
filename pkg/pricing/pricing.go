// Package pricing estimates provider call costs before admission.
package pricing

import (
	"sort"

	"github.com/clipforge/clipforge/pkg/models"
)

// Table maps provider names to unit prices.
type Table struct {
	prices map[string]models.ProviderPricing
}

// Default returns list prices for the bundled providers.
func Default() []models.ProviderPricing {
	return []models.ProviderPricing{
		{Provider: "openai", PerUnit: 0.0000006, Unit: "token"},
		{Provider: "elevenlabs", PerUnit: 0.0003, Unit: "character"},
		{Provider: "shotstack", PerCall: 0.05, PerUnit: 0.004, Unit: "second"},
		{Provider: "reddit", Unit: "request"},
	}
}

// NewTable builds a Table. Later entries override earlier ones.
func NewTable(prices []models.ProviderPricing) *Table {
	t := &Table{prices: make(map[string]models.ProviderPricing, len(prices))}
	for _, p := range prices {
		t.prices[p.Provider] = p
	}
	return t
}

// Estimate returns PerCall + PerUnit*units for provider, or zero when the
// provider has no price.
func (t *Table) Estimate(provider string, units float64) float64 {
	if t == nil {
		return 0
	}
	p, ok := t.prices[provider]
	if !ok {
		return 0
	}
	if units < 0 {
		units = 0
	}
	return p.PerCall + p.PerUnit*units
}

// Lookup returns the pricing for provider.
func (t *Table) Lookup(provider string) (models.ProviderPricing, bool) {
	if t == nil {
		return models.ProviderPricing{}, false
	}
	p, ok := t.prices[provider]
	return p, ok
}

// All returns every price, sorted by provider.
func (t *Table) All() []models.ProviderPricing {
	out := make([]models.ProviderPricing, 0, len(t.prices))
	for _, p := range t.prices {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}
