package models

import "time"

// BudgetPeriod defines the time window for a spend limit.
type BudgetPeriod string

const (
	BudgetDaily   BudgetPeriod = "daily"
	BudgetMonthly BudgetPeriod = "monthly"
)

// ProviderBudget defines the spend caps for one provider, in USD.
// A zero limit means unlimited.
type ProviderBudget struct {
	Provider     string  `json:"provider" yaml:"provider"`
	DailyLimit   float64 `json:"daily_limit" yaml:"daily_limit"`
	MonthlyLimit float64 `json:"monthly_limit" yaml:"monthly_limit"`
}

// BudgetStatus shows current spend against one period's limit.
type BudgetStatus struct {
	Provider  string       `json:"provider"`
	Period    BudgetPeriod `json:"period"`
	Key       string       `json:"key"`
	Spent     float64      `json:"spent"`
	Limit     float64      `json:"limit"`
	Remaining float64      `json:"remaining"`
}

// RateStatus is a snapshot of one operation's call window.
type RateStatus struct {
	Operation   string    `json:"operation"`
	Count       int       `json:"count"`
	Limit       int       `json:"limit"`
	Remaining   int       `json:"remaining"`
	WindowStart time.Time `json:"window_start"`
	ResetsAt    time.Time `json:"resets_at"`
	Blocked     bool      `json:"blocked"`
}
