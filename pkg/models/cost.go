package models

import "time"

// ProviderPricing defines unit prices used to estimate a call before it is
// admitted. Units depend on the provider: tokens for text, characters for
// speech and seconds for rendering.
type ProviderPricing struct {
	Provider string  `json:"provider" yaml:"provider"`
	PerCall  float64 `json:"per_call" yaml:"per_call"`
	PerUnit  float64 `json:"per_unit" yaml:"per_unit"`
	Unit     string  `json:"unit" yaml:"unit"`
}

// CostRecord is one completed pipeline run as stored by the tracker.
type CostRecord struct {
	ID          int64     `json:"id"`
	RequestID   string    `json:"request_id"`
	Category    string    `json:"category"`
	EnhanceCost float64   `json:"enhance_cost"`
	SpeechCost  float64   `json:"speech_cost"`
	RenderCost  float64   `json:"render_cost"`
	TotalCost   float64   `json:"total_cost"`
	CacheHit    bool      `json:"cache_hit"`
	Fallbacks   int       `json:"fallbacks"`
	CreatedAt   time.Time `json:"created_at"`
}

// CostReport is an aggregated cost row grouped by category.
type CostReport struct {
	Category    string  `json:"category"`
	Runs        int     `json:"runs"`
	CacheHits   int     `json:"cache_hits"`
	Fallbacks   int     `json:"fallbacks"`
	EnhanceCost float64 `json:"enhance_cost"`
	SpeechCost  float64 `json:"speech_cost"`
	RenderCost  float64 `json:"render_cost"`
	TotalCost   float64 `json:"total_cost"`
}
